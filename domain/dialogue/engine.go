// Package dialogue implements the Dialogue Engine: Standard, Debate, and
// Council modes, driven as a loop over an explicit state struct rather than
// recursive coroutines.
package dialogue

import (
	"context"
	"time"

	"github.com/dlorp/synapse-engine-sub002/domain/eventbus"
	"github.com/dlorp/synapse-engine-sub002/domain/modelclient"
	"github.com/dlorp/synapse-engine-sub002/domain/query"
	qerrors "github.com/dlorp/synapse-engine-sub002/infrastructure/errors"
	"github.com/dlorp/synapse-engine-sub002/infrastructure/logging"
)

const (
	defaultMaxTurns                = 6
	defaultModeratorCheckFrequency = 2
	defaultMaxInterjections        = 3
)

// TokenStream is the narrow streaming surface the Dialogue Engine consumes;
// *modelclient.TokenStream satisfies it structurally.
type TokenStream interface {
	Next(ctx context.Context) (modelclient.Token, error)
}

// ModelClient is the narrow generation surface the Dialogue Engine needs
// from a Model Client.
type ModelClient interface {
	Generate(ctx context.Context, params modelclient.Params) (TokenStream, error)
}

// ClientProvider resolves a model id to a live Model Client, letting the
// Dialogue Engine stay agnostic of how the Router reserved it.
type ClientProvider interface {
	Client(modelID string) (ModelClient, error)
}

// Config carries the per-dialogue parameters resolved by the caller
// (Query Coordinator) before dispatch: which models play which role, the
// shared query and retrieved context, and the moderator cadence.
type Config struct {
	Mode        query.Mode
	QueryID     string
	QueryText   string
	Context     string
	MaxTokens   int
	Temperature float64

	ModelID string // Standard mode: the single model to use

	ProModelID       string // Debate/Council: PRO side
	ConModelID       string // Debate/Council: CON side
	ModeratorModelID string // Council only; empty disables moderation

	MaxTurns                int // T, default 6
	ModeratorCheckFrequency int // K, default 2, range [1,10]
	MaxInterjections        int // M, default 3
}

func (c Config) maxTurns() int {
	if c.MaxTurns > 0 {
		return c.MaxTurns
	}
	return defaultMaxTurns
}

func (c Config) moderatorCheckFrequency() int {
	if c.ModeratorCheckFrequency > 0 {
		return c.ModeratorCheckFrequency
	}
	return defaultModeratorCheckFrequency
}

func (c Config) maxInterjections() int {
	if c.MaxInterjections > 0 {
		return c.MaxInterjections
	}
	return defaultMaxInterjections
}

// Engine orchestrates one dialogue at a time on the calling goroutine;
// in-flight Turns live on its stack until the Result is produced.
type Engine struct {
	clients ClientProvider
	bus     *eventbus.Bus
	logger  *logging.Logger
}

// New constructs a Dialogue Engine over a client provider and the shared
// Event Bus.
func New(clients ClientProvider, bus *eventbus.Bus, logger *logging.Logger) *Engine {
	return &Engine{clients: clients, bus: bus, logger: logger}
}

// Run dispatches cfg to the mode-appropriate loop.
func (e *Engine) Run(ctx context.Context, cfg Config) (Result, error) {
	switch cfg.Mode {
	case query.ModeStandard, query.ModeAuto, "":
		return e.runStandard(ctx, cfg)
	case query.ModeDebate:
		return e.runDebate(ctx, cfg, false)
	case query.ModeCouncil:
		return e.runDebate(ctx, cfg, true)
	default:
		return Result{}, qerrors.Validation("mode", "unsupported dialogue mode")
	}
}

func (e *Engine) runStandard(ctx context.Context, cfg Config) (Result, error) {
	client, err := e.clients.Client(cfg.ModelID)
	if err != nil {
		return Result{}, err
	}

	prompt := buildTurnPrompt(PersonaAssistant, cfg.QueryText, nil, cfg.Context, true)
	content, tokens, err := e.generateTurn(ctx, client, prompt, cfg)
	if err != nil {
		return Result{}, err
	}

	turn := e.appendTurn(ctx, cfg, 1, cfg.ModelID, PersonaAssistant, content, tokens)
	return Result{Turns: []Turn{turn}, Completed: true}, nil
}

// runDebate drives Debate and Council: PRO-first strict alternation up to
// T turns, with an optional moderator check every K rounds (a round being
// one PRO+CON pair) when moderated is true.
func (e *Engine) runDebate(ctx context.Context, cfg Config, moderated bool) (Result, error) {
	if cfg.ProModelID == cfg.ConModelID {
		// A model must never be labeled as its own opposite persona.
		return Result{}, qerrors.Validation("models", "PRO and CON must be distinct models")
	}

	maxTurns := cfg.maxTurns()
	if maxTurns == 0 {
		return Result{Completed: true}, nil
	}

	var (
		transcript    []Turn
		interjections int
		rounds        int
		seenFirstTurn = map[Persona]bool{}
	)

	completed := false

	for i := 0; i < maxTurns; i++ {
		if err := ctx.Err(); err != nil {
			break
		}

		persona := PersonaPRO
		if i%2 == 1 {
			persona = PersonaCON
		}
		modelID := cfg.ProModelID
		if persona == PersonaCON {
			modelID = cfg.ConModelID
		}

		client, err := e.clients.Client(modelID)
		if err != nil {
			break // debater failure that cannot be re-selected: stop, partial transcript
		}

		includeContext := !seenFirstTurn[persona]
		prompt := buildTurnPrompt(persona, cfg.QueryText, transcript, cfg.Context, includeContext)

		content, tokens, err := e.generateTurn(ctx, client, prompt, cfg)
		if err != nil {
			break
		}
		seenFirstTurn[persona] = true

		turn := e.appendTurn(ctx, cfg, len(transcript)+1, modelID, persona, content, tokens)
		transcript = append(transcript, turn)

		if persona == PersonaCON {
			rounds++
		}

		if moderated && cfg.ModeratorModelID != "" && persona == PersonaCON &&
			rounds%cfg.moderatorCheckFrequency() == 0 && interjections < cfg.maxInterjections() {
			interjected, turn := e.runModeratorCheck(ctx, cfg, transcript, len(transcript)+1)
			if interjected {
				transcript = append(transcript, turn)
				interjections++
			}
		}

		if i == maxTurns-1 {
			completed = true
			break
		}
	}

	result := Result{
		Turns:             transcript,
		Completed:         completed,
		InterjectionCount: interjections,
	}

	if completed && moderated && cfg.ModeratorModelID != "" {
		result.Analysis = e.runPostHocAnalysis(ctx, cfg, transcript)
	}

	return result, nil
}

// runModeratorCheck builds the probe prompt over the last K*2 transcript
// turns, calls the moderator model, and parses its verdict. Moderator
// errors are logged and treated as non-fatal — the debate continues with
// no interjection.
func (e *Engine) runModeratorCheck(ctx context.Context, cfg Config, transcript []Turn, nextSeq int) (bool, Turn) {
	windowSize := 2 * cfg.moderatorCheckFrequency()
	start := 0
	if len(transcript) > windowSize {
		start = len(transcript) - windowSize
	}
	window := transcript[start:]

	client, err := e.clients.Client(cfg.ModeratorModelID)
	if err != nil {
		e.logModeratorError(ctx, cfg, err)
		return false, Turn{}
	}

	prompt := buildModeratorPrompt(cfg.QueryText, window)
	content, _, err := e.generateTurn(ctx, client, prompt, cfg)
	if err != nil {
		e.logModeratorError(ctx, cfg, err)
		return false, Turn{}
	}

	verdict := parseModeratorResponse(content)
	if !verdict.interject {
		return false, Turn{}
	}

	turn := Turn{
		Seq:        nextSeq,
		Speaker:    string(PersonaModerator),
		Persona:    PersonaModerator,
		Content:    verdict.guidance,
		Timestamp:  time.Now(),
		TokensUsed: 0,
	}
	e.publish(cfg, query.EventModeratorInterject, turn)
	return true, turn
}

// runPostHocAnalysis asks the moderator model to summarize the concluded
// transcript; a failure here is non-fatal and simply leaves Analysis empty.
func (e *Engine) runPostHocAnalysis(ctx context.Context, cfg Config, transcript []Turn) string {
	client, err := e.clients.Client(cfg.ModeratorModelID)
	if err != nil {
		e.logModeratorError(ctx, cfg, err)
		return ""
	}

	prompt := buildAnalysisPrompt(cfg.QueryText, transcript)
	content, _, err := e.generateTurn(ctx, client, prompt, cfg)
	if err != nil {
		e.logModeratorError(ctx, cfg, err)
		return ""
	}
	return extractModeratorContent(content)
}

// generateTurn drives a Model Client's stream to completion, concatenating
// token text and tracking the completion-token usage from the final chunk.
func (e *Engine) generateTurn(ctx context.Context, client ModelClient, prompt string, cfg Config) (string, int, error) {
	stream, err := client.Generate(ctx, modelclient.Params{
		Prompt:      prompt,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return "", 0, err
	}

	var content string
	var tokens int
	for {
		tok, err := stream.Next(ctx)
		if err != nil {
			if tok.Done {
				break
			}
			return content, tokens, err
		}
		content += tok.Text
		if tok.Usage.CompletionTokens > 0 {
			tokens = tok.Usage.CompletionTokens
		}
		if tok.Done {
			break
		}
	}
	return content, tokens, nil
}

func (e *Engine) appendTurn(ctx context.Context, cfg Config, seq int, speaker string, persona Persona, content string, tokens int) Turn {
	turn := Turn{
		Seq:        seq,
		Speaker:    speaker,
		Persona:    persona,
		Content:    content,
		Timestamp:  time.Now(),
		TokensUsed: tokens,
	}
	if e.logger != nil {
		e.logger.LogDialogueTurn(ctx, cfg.QueryID, seq, speaker, string(persona), tokens)
	}
	e.publish(cfg, query.EventDialogueTurn, turn)
	return turn
}

func (e *Engine) publish(cfg Config, kind query.EventKind, turn Turn) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(query.NewEvent(kind, cfg.QueryID, map[string]interface{}{
		"seq":        turn.Seq,
		"speaker":    turn.Speaker,
		"persona":    string(turn.Persona),
		"tokensUsed": turn.TokensUsed,
	}))
}

func (e *Engine) logModeratorError(ctx context.Context, cfg Config, err error) {
	if e.logger == nil {
		return
	}
	e.logger.Warn(ctx, "moderator call failed, continuing without interjection", map[string]interface{}{
		"query_id": cfg.QueryID,
		"error":    err.Error(),
	})
}
