package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/budget"
	"github.com/fathomlabs/fathom/internal/pricing"
	"github.com/fathomlabs/fathom/internal/sources"
	"github.com/fathomlabs/fathom/internal/verification"
)

func TestGrade(t *testing.T) {
	cases := []struct {
		verified     float64
		availability float64
		degradations int
		want         string
	}{
		{1.0, 1.0, 0, "A"},
		{1.0, 1.0, 3, "A"},  // 1.0 - 0.15 = 0.85, still A
		{0.9, 0.8, 2, "B"},  // 0.86 - 0.10 = 0.76
		{0.5, 0.5, 0, "C"},  // 0.50
		{0.5, 0.5, 2, "C"},  // 0.40 boundary
		{0.2, 0.2, 0, "D"},  // 0.20
		{0.0, 0.0, 5, "D"},
	}
	for _, tc := range cases {
		got := Grade(tc.verified, tc.availability, tc.degradations)
		if got != tc.want {
			t.Fatalf("Grade(%f, %f, %d) = %s, want %s",
				tc.verified, tc.availability, tc.degradations, got, tc.want)
		}
	}
}

func TestDisclaimers(t *testing.T) {
	got := Disclaimers([]string{"verification_skipped", "research_truncated", "custom_tag"})
	if len(got) != 3 {
		t.Fatalf("expected 3 disclaimers, got %d", len(got))
	}
	if !strings.Contains(got[0], "skipped") {
		t.Fatalf("unexpected first disclaimer: %q", got[0])
	}
	if !strings.Contains(got[2], "custom_tag") {
		t.Fatalf("unknown tags must pass through: %q", got[2])
	}
}

func TestAssemble(t *testing.T) {
	logger := zap.NewNop()
	reg := sources.NewRegistry(logger)
	reg.AddBatch([]sources.Citation{
		{URL: "https://up.example.com/a", Title: "A"},
		{URL: "https://down.example.com/b", Title: "B"},
	}, nil, "q1")
	reg.ValidateAll(context.Background(), availValidator{up: "up.example.com"}, 1, time.Second)

	claims := []verification.AtomicClaim{
		{ID: "c1", Text: "one", Type: verification.ClaimFactual, SourceIDs: []int{1}},
		{ID: "c2", Text: "two", Type: verification.ClaimFactual, SourceIDs: []int{2}},
	}
	results := []verification.Result{
		{ClaimID: "c1", Status: verification.StatusVerified, Confidence: 0.9},
		{ClaimID: "c2", Status: verification.StatusUnverifiable, Confidence: 0.0},
	}

	bm := budget.NewManager(budget.ModeStandard, pricing.LoadDefault(), logger)
	bm.AddDegradation("research_reduced")
	snap := bm.GetSnapshot()

	partial := &PartialCompletion{IsPartial: true, CoveredQuestions: 1, PlannedQuestions: 2}
	r := Assemble("run-1", "the query", "the body", claims, results, reg, snap, partial, logger)

	if r.RunID != "run-1" || r.Query != "the query" || r.Body != "the body" {
		t.Fatalf("identity fields lost: %+v", r)
	}
	if len(r.Sources) != 2 || len(r.Claims) != 2 || len(r.Results) != 2 {
		t.Fatalf("content missing: %d sources %d claims %d results",
			len(r.Sources), len(r.Claims), len(r.Results))
	}
	// verified 0.5, availability 0.5, 1 degradation: 0.5 - 0.05 = 0.45 -> C
	if r.Grade != "C" {
		t.Fatalf("expected grade C, got %s", r.Grade)
	}
	if len(r.Disclaimers) != 1 {
		t.Fatalf("expected 1 disclaimer, got %v", r.Disclaimers)
	}
	if r.Partial == nil || !r.Partial.IsPartial {
		t.Fatal("partial completion record lost")
	}
	if r.GeneratedAt.IsZero() {
		t.Fatal("generated-at not set")
	}
}

func TestAssemble_EmptyRunGradesA(t *testing.T) {
	logger := zap.NewNop()
	reg := sources.NewRegistry(logger)
	bm := budget.NewManager(budget.ModeSimple, pricing.LoadDefault(), logger)
	r := Assemble("run-2", "q", "body", nil, nil, reg, bm.GetSnapshot(), nil, logger)
	if r.Grade != "A" {
		t.Fatalf("no claims and no sources must not penalize, got %s", r.Grade)
	}
	if r.Partial != nil {
		t.Fatal("unexpected partial record")
	}
}

type availValidator struct{ up string }

func (v availValidator) ValidateURL(ctx context.Context, url string, _ time.Duration) bool {
	return strings.Contains(url, v.up)
}
