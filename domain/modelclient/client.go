// Package modelclient implements the Model Client: one logical HTTP
// connection to a single external, llama.cpp-style model server exposing a
// newline-delimited-JSON streaming completion endpoint.
package modelclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dlorp/synapse-engine-sub002/domain/fleet"
	qerrors "github.com/dlorp/synapse-engine-sub002/infrastructure/errors"
	"github.com/dlorp/synapse-engine-sub002/infrastructure/resilience"
)

// Params are the generation parameters passed to generate().
type Params struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Token is one unit of a generated token stream.
type Token struct {
	Text    string
	Done    bool
	Usage   Usage
}

// Usage reports token accounting, populated on the final Token.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Config controls one Client's HTTP endpoint and resilience policy.
type Config struct {
	BaseURL        string
	HealthPath     string
	CompletionPath string
	HealthTimeout  time.Duration
	DialTimeout    time.Duration
	Breaker        resilience.Config
	Retry          resilience.RetryConfig
}

// DefaultConfig returns sane per-instance timeouts; BaseURL must still be
// set by the caller.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		HealthPath:     "/health",
		CompletionPath: "/completion",
		HealthTimeout:  2 * time.Second,
		DialTimeout:    5 * time.Second,
		Breaker:        resilience.DefaultConfig(),
		Retry:          resilience.DefaultRetryConfig(),
	}
}

// Client is one Model Client instance. A circuit breaker wraps the initial
// connection attempt only; once a stream has started, a broken stream
// surfaces as ModelFatal and is never retried transparently.
type Client struct {
	modelID string
	cfg     Config
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

// New constructs a Client for one model server.
func New(modelID string, cfg Config) *Client {
	return &Client{
		modelID: modelID,
		cfg:     cfg,
		http:    &http.Client{Timeout: 0},
		breaker: resilience.New(cfg.Breaker),
	}
}

// Health performs a cheap liveness probe with a short timeout, satisfying
// the fleet.ModelClient interface so the Fleet Manager's health loop can
// drive this client directly.
func (c *Client) Health(ctx context.Context) (fleet.ClientHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.HealthPath, nil)
	if err != nil {
		return fleet.ClientHealth{}, qerrors.ModelTransientErr(c.modelID, err)
	}

	var httpResp *http.Response
	err = c.breaker.Execute(ctx, func() error {
		var doErr error
		httpResp, doErr = c.http.Do(req)
		return doErr
	})
	if err != nil {
		return fleet.ClientHealth{}, qerrors.ModelTransientErr(c.modelID, err)
	}
	defer httpResp.Body.Close()

	latency := float64(time.Since(start).Milliseconds())

	var body struct {
		TokensPerSecond float64 `json:"tokens_per_second"`
		VRAMGigabytes   float64 `json:"vram_gb"`
	}
	_ = json.NewDecoder(httpResp.Body).Decode(&body)

	if httpResp.StatusCode >= 500 {
		return fleet.ClientHealth{}, qerrors.ModelTransientErr(c.modelID, fmt.Errorf("health check status %d", httpResp.StatusCode))
	}

	return fleet.ClientHealth{
		LatencyMS:       latency,
		TokensPerSecond: body.TokensPerSecond,
		VRAMGigabytes:   body.VRAMGigabytes,
	}, nil
}

// TokenStream is a lazy, finite, non-restartable sequence of Tokens.
type TokenStream struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
	modelID string
	done    bool
}

// Next advances the stream. The chunk carrying the server's stop flag is
// returned as a Token with Done set and a nil error; every call after that,
// or after the body ends, returns a Done Token with io.EOF. Any mid-stream
// protocol or connection failure returns a ModelFatal QueryError —
// mid-stream errors are never retried by the client itself.
func (s *TokenStream) Next(ctx context.Context) (Token, error) {
	if s.done {
		return Token{Done: true}, io.EOF
	}

	select {
	case <-ctx.Done():
		s.body.Close()
		return Token{}, qerrors.CancelledErr()
	default:
	}

	if !s.scanner.Scan() {
		s.done = true
		if err := s.scanner.Err(); err != nil {
			return Token{}, qerrors.ModelFatalErr(s.modelID, err)
		}
		return Token{Done: true}, io.EOF
	}

	var chunk struct {
		Content string `json:"content"`
		Stop    bool   `json:"stop"`
		Usage   struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(s.scanner.Bytes(), &chunk); err != nil {
		return Token{}, qerrors.ModelFatalErr(s.modelID, fmt.Errorf("decode stream chunk: %w", err))
	}

	if chunk.Stop {
		s.done = true
	}

	return Token{
		Text: chunk.Content,
		Done: chunk.Stop,
		Usage: Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
		},
	}, nil
}

// Cancel closes the underlying response body, which unblocks Next's
// scanner goroutine within a bounded grace period.
func (s *TokenStream) Cancel() error {
	s.done = true
	return s.body.Close()
}

// Generate starts a streaming completion call. The initial connection
// attempt (dial/connection-refused/timeout-before-first-byte) is retried
// with exponential backoff via infrastructure/resilience.Retry; once
// streaming has begun, errors are never retried transparently.
func (c *Client) Generate(ctx context.Context, params Params) (*TokenStream, error) {
	body, err := json.Marshal(map[string]interface{}{
		"prompt":      params.Prompt,
		"max_tokens":  params.MaxTokens,
		"temperature": params.Temperature,
		"stream":      true,
	})
	if err != nil {
		return nil, qerrors.Internal("marshal generate request: " + err.Error())
	}

	var resp *http.Response
	connectErr := resilience.Retry(ctx, c.cfg.Retry, func() error {
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(dialCtx, http.MethodPost, c.cfg.BaseURL+c.cfg.CompletionPath, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		return c.breaker.Execute(ctx, func() error {
			var doErr error
			resp, doErr = c.http.Do(req)
			return doErr
		})
	})
	if connectErr != nil {
		return nil, qerrors.ModelTransientErr(c.modelID, connectErr)
	}

	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, qerrors.ModelFatalErr(c.modelID, fmt.Errorf("generate returned status %d", resp.StatusCode))
	}

	return &TokenStream{
		scanner: bufio.NewScanner(resp.Body),
		body:    resp.Body,
		modelID: c.modelID,
	}, nil
}
