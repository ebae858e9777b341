package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

const completionJSON = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "forty-two"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

func newAdapter(t *testing.T, handler http.Handler) (*OpenAIGenerator, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := NewOpenAIGenerator("test-key", srv.URL+"/v1", "test-model", "reasoner", zap.NewNop())
	g.maxInterval = 10 * time.Millisecond
	return g, srv
}

func TestGenerate_Success(t *testing.T) {
	g, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionJSON))
	}))

	gen, err := g.Generate(context.Background(), "what is the answer", Options{MaxTokens: 100})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Text != "forty-two" {
		t.Fatalf("text = %q", gen.Text)
	}
	if gen.Usage.InputTokens != 12 || gen.Usage.OutputTokens != 3 {
		t.Fatalf("usage = %+v", gen.Usage)
	}
}

func TestGenerate_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int64
	g, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionJSON))
	}))

	gen, err := g.Generate(context.Background(), "retry me", Options{})
	if err != nil {
		t.Fatalf("expected recovery after retries: %v", err)
	}
	if gen.Text != "forty-two" {
		t.Fatalf("text = %q", gen.Text)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestGenerate_ClientErrorFailsFast(t *testing.T) {
	var attempts atomic.Int64
	g, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"error": {"message": "bad request"}}`, http.StatusBadRequest)
	}))

	if _, err := g.Generate(context.Background(), "bad", Options{}); err == nil {
		t.Fatal("expected error for 400")
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("client error must not retry, saw %d attempts", got)
	}
}

func TestGenerate_ContextCancellation(t *testing.T) {
	g, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(completionJSON))
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Generate(ctx, "slow", Options{}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
