// Package query defines the shared request, event, and tier vocabulary used
// across the control plane: the Query Request boundary type, the closed
// Event vocabulary the Event Bus carries, and the Tier enum the Router and
// Fleet Manager both key off of.
package query

import (
	"encoding/json"
	"strings"

	qerrors "github.com/dlorp/synapse-engine-sub002/infrastructure/errors"
)

// Mode selects how the Coordinator dispatches a query.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeStandard Mode = "standard"
	ModeDebate   Mode = "debate"
	ModeCouncil  Mode = "council"
)

// Tier is a quality/latency band of models.
type Tier string

const (
	TierFAST     Tier = "FAST"
	TierBALANCED Tier = "BALANCED"
	TierPOWERFUL Tier = "POWERFUL"
	TierUNKNOWN  Tier = "UNKNOWN"
)

// ModeParams carries the optional per-mode parameters that only apply to
// debate/council requests.
type ModeParams struct {
	MaxTurns                int    `json:"maxTurns"`
	ModeratorCheckFrequency int    `json:"moderatorCheckFrequency"`
	ModeratorModelID        string `json:"moderatorModelId"`
	WebSearch               bool   `json:"webSearch"`
}

// Request is the normalized, immutable-once-accepted Query Request.
type Request struct {
	Text         string     `json:"text"`
	Mode         Mode       `json:"mode"`
	UseContext   bool       `json:"useContext"`
	MaxTokens    int        `json:"maxTokens"`
	Temperature  float64    `json:"temperature"`
	TierOverride Tier       `json:"tierOverride,omitempty"`
	Models       []string   `json:"models,omitempty"`
	Params       ModeParams `json:"params,omitempty"`
}

// aliasRequest mirrors Request but with snake_case tags, used only to decode
// the alternate wire form before folding both into the canonical Request.
type aliasRequest struct {
	Text                    *string  `json:"text"`
	Mode                    *Mode    `json:"mode"`
	UseContext              *bool    `json:"use_context"`
	MaxTokens               *int     `json:"max_tokens"`
	Temperature             *float64 `json:"temperature"`
	TierOverride            *Tier    `json:"tier_override"`
	Models                  []string `json:"models"`
	MaxTurns                *int     `json:"max_turns"`
	ModeratorCheckFrequency *int     `json:"moderator_check_frequency"`
	ModeratorModelID        *string  `json:"moderator_model_id"`
	WebSearch               *bool    `json:"web_search"`
}

// camelRequest mirrors Request's camelCase fields as pointers so we can tell
// "absent" from "zero value" while decoding.
type camelRequest struct {
	Text                    *string  `json:"text"`
	Mode                    *Mode    `json:"mode"`
	UseContext              *bool    `json:"useContext"`
	MaxTokens               *int     `json:"maxTokens"`
	Temperature             *float64 `json:"temperature"`
	TierOverride            *Tier    `json:"tierOverride"`
	Models                  []string `json:"models"`
	MaxTurns                *int     `json:"maxTurns"`
	ModeratorCheckFrequency *int     `json:"moderatorCheckFrequency"`
	ModeratorModelID        *string  `json:"moderatorModelId"`
	WebSearch               *bool    `json:"webSearch"`
}

// UnmarshalJSON accepts either camelCase or snake_case field names per
// field, never both populated for the same logical field — camelCase wins
// when both are present, matching the canonical-on-the-way-out convention.
func (r *Request) UnmarshalJSON(data []byte) error {
	var camel camelRequest
	if err := json.Unmarshal(data, &camel); err != nil {
		return err
	}
	var snake aliasRequest
	if err := json.Unmarshal(data, &snake); err != nil {
		return err
	}

	*r = Request{}

	r.Text = firstString(camel.Text, snake.Text)
	r.Mode = firstMode(camel.Mode, snake.Mode)
	r.UseContext = firstBool(camel.UseContext, snake.UseContext)
	r.MaxTokens = firstInt(camel.MaxTokens, snake.MaxTokens)
	r.Temperature = firstFloat(camel.Temperature, snake.Temperature)
	r.TierOverride = firstTier(camel.TierOverride, snake.TierOverride)
	if len(camel.Models) > 0 {
		r.Models = camel.Models
	} else {
		r.Models = snake.Models
	}

	r.Params = ModeParams{
		MaxTurns:                firstInt(camel.MaxTurns, snake.MaxTurns),
		ModeratorCheckFrequency: firstInt(camel.ModeratorCheckFrequency, snake.ModeratorCheckFrequency),
		ModeratorModelID:        firstString(camel.ModeratorModelID, snake.ModeratorModelID),
		WebSearch:               firstBool(camel.WebSearch, snake.WebSearch),
	}

	if r.Mode == "" {
		r.Mode = ModeAuto
	}

	return nil
}

func firstString(a, b *string) string {
	if a != nil {
		return *a
	}
	if b != nil {
		return *b
	}
	return ""
}

func firstMode(a, b *Mode) Mode {
	if a != nil {
		return *a
	}
	if b != nil {
		return *b
	}
	return ""
}

func firstTier(a, b *Tier) Tier {
	if a != nil {
		return *a
	}
	if b != nil {
		return *b
	}
	return ""
}

func firstBool(a, b *bool) bool {
	if a != nil {
		return *a
	}
	if b != nil {
		return *b
	}
	return false
}

func firstInt(a, b *int) int {
	if a != nil {
		return *a
	}
	if b != nil {
		return *b
	}
	return 0
}

func firstFloat(a, b *float64) float64 {
	if a != nil {
		return *a
	}
	if b != nil {
		return *b
	}
	return 0
}

// Validate enforces the boundary invariants from the Query Request
// contract: temperature in [0,2], max-tokens positive, moderator check
// frequency in [1,10] when the field is set (non-zero); values outside that
// range are rejected.
func (r *Request) Validate() *qerrors.QueryError {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return qerrors.Validation("text", "must not be empty")
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return qerrors.Validation("temperature", "must be in [0,2]")
	}
	if r.MaxTokens < 1 {
		return qerrors.Validation("maxTokens", "must be >= 1")
	}
	switch r.Mode {
	case ModeAuto, ModeStandard, ModeDebate, ModeCouncil:
	default:
		return qerrors.Validation("mode", "must be one of auto, standard, debate, council")
	}
	if r.Params.ModeratorCheckFrequency != 0 {
		if r.Params.ModeratorCheckFrequency < 1 || r.Params.ModeratorCheckFrequency > 10 {
			return qerrors.Validation("moderatorCheckFrequency", "must be in [1,10]")
		}
	}
	return nil
}
