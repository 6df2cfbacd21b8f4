package modelclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testConfig(baseURL string) Config {
	cfg := DefaultConfig(baseURL)
	cfg.HealthTimeout = time.Second
	cfg.DialTimeout = time.Second
	cfg.Retry.MaxAttempts = 1
	return cfg
}

func TestHealthSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s, want /health", r.URL.Path)
		}
		w.Write([]byte(`{"tokens_per_second": 12.5, "vram_gb": 4.2}`))
	}))
	defer srv.Close()

	c := New("q2-a", testConfig(srv.URL))
	health, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if health.TokensPerSecond != 12.5 || health.VRAMGigabytes != 4.2 {
		t.Errorf("Health() = %+v, unexpected values", health)
	}
}

func TestHealthServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("q2-a", testConfig(srv.URL))
	_, err := c.Health(context.Background())
	if err == nil {
		t.Fatal("expected error on 500 status")
	}
}

func TestHealthConnectionRefused(t *testing.T) {
	c := New("q2-a", testConfig("http://127.0.0.1:1"))
	_, err := c.Health(context.Background())
	if err == nil {
		t.Fatal("expected error on connection refused")
	}
}

func TestGenerateStreamsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		flusher, _ := w.(http.Flusher)
		w.Write([]byte(`{"content":"hel","stop":false}` + "\n"))
		if flusher != nil {
			flusher.Flush()
		}
		w.Write([]byte(`{"content":"lo","stop":true,"usage":{"prompt_tokens":3,"completion_tokens":2}}` + "\n"))
	}))
	defer srv.Close()

	c := New("q2-a", testConfig(srv.URL))
	stream, err := c.Generate(context.Background(), Params{Prompt: "hi", MaxTokens: 16, Temperature: 0.5})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	tok, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if tok.Text != "hel" || tok.Done {
		t.Errorf("first token = %+v", tok)
	}

	tok, err = stream.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if tok.Text != "lo" || !tok.Done || tok.Usage.PromptTokens != 3 || tok.Usage.CompletionTokens != 2 {
		t.Errorf("second token = %+v", tok)
	}

	_, err = stream.Next(context.Background())
	if err != io.EOF {
		t.Errorf("expected io.EOF after stop, got %v", err)
	}
}

func TestGenerateRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New("q2-a", testConfig(srv.URL))
	_, err := c.Generate(context.Background(), Params{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error on 400 status")
	}
}

func TestTokenStreamCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":"a","stop":false}` + "\n"))
	}))
	defer srv.Close()

	c := New("q2-a", testConfig(srv.URL))
	stream, err := c.Generate(context.Background(), Params{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if err := stream.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	_, err = stream.Next(context.Background())
	if err != io.EOF {
		t.Errorf("Next() after Cancel() = %v, want io.EOF", err)
	}
}

func TestNextRespectsCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":"a","stop":false}` + "\n"))
	}))
	defer srv.Close()

	c := New("q2-a", testConfig(srv.URL))
	stream, err := c.Generate(context.Background(), Params{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = stream.Next(ctx)
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
