package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeValidator struct {
	mu        sync.Mutex
	inFlight  int
	maxSeen   int
	available func(url string) bool
}

func (f *fakeValidator) ValidateURL(ctx context.Context, url string, timeout time.Duration) bool {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return f.available(url)
}

func TestValidateAll_MarksStatuses(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.AddBatch([]Citation{
		{URL: "https://up.example.com/a"},
		{URL: "https://down.example.com/b"},
		{URL: "https://up.example.com/c"},
	}, nil, "q1")

	v := &fakeValidator{available: func(url string) bool {
		return strings.Contains(url, "up.example.com")
	}}
	summary := r.ValidateAll(context.Background(), v, 2, time.Second)

	if summary.Total != 3 || summary.Available != 2 || summary.Unavailable != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, src := range r.GetAll() {
		want := StatusAvailable
		if strings.Contains(src.URL, "down") {
			want = StatusUnavailable
		}
		if src.Status != want {
			t.Fatalf("source %d status %s, want %s", src.ID, src.Status, want)
		}
	}
}

func TestValidateAll_BoundsConcurrency(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	var citations []Citation
	for _, p := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		citations = append(citations, Citation{URL: "https://example.com/" + p})
	}
	r.AddBatch(citations, nil, "q1")

	v := &fakeValidator{available: func(string) bool { return true }}
	r.ValidateAll(context.Background(), v, 2, time.Second)

	if v.maxSeen > 2 {
		t.Fatalf("concurrency bound violated: saw %d in flight", v.maxSeen)
	}
}

func TestValidateAll_EmptyRegistry(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	v := &fakeValidator{available: func(string) bool { return true }}
	summary := r.ValidateAll(context.Background(), v, 0, 0)
	if summary.Total != 0 || summary.Available != 0 || summary.Unavailable != 0 {
		t.Fatalf("unexpected summary for empty registry: %+v", summary)
	}
}

func TestHTTPValidator_ValidateURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasPrefix(req.URL.Path, "/gone") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hv := NewHTTPValidator(100)
	if !hv.ValidateURL(context.Background(), srv.URL+"/ok", time.Second) {
		t.Fatal("expected 200 to validate")
	}
	if hv.ValidateURL(context.Background(), srv.URL+"/gone", time.Second) {
		t.Fatal("expected 404 to fail validation")
	}
	if hv.ValidateURL(context.Background(), "http://127.0.0.1:1/unreachable", 200*time.Millisecond) {
		t.Fatal("expected connection error to fail validation")
	}
}
