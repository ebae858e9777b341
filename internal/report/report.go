package report

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/budget"
	"github.com/fathomlabs/fathom/internal/sources"
	"github.com/fathomlabs/fathom/internal/verification"
)

// PartialCompletion records that a run finished with relaxed guarantees. It is
// derived from run state, never independently mutated.
type PartialCompletion struct {
	IsPartial               bool   `json:"is_partial"`
	CoveredQuestions        int    `json:"covered_questions"`
	PlannedQuestions        int    `json:"planned_questions"`
	VerificationLevel       string `json:"verification_level"`
	CircuitBreakerTriggered bool   `json:"circuit_breaker_triggered"`
	CircuitBreakerLevel     string `json:"circuit_breaker_level,omitempty"`
}

// Report is the graded final output of a run, with cost and degradation
// transparency embedded via the budget snapshot.
type Report struct {
	RunID       string                     `json:"run_id"`
	Query       string                     `json:"query"`
	Body        string                     `json:"body"`
	Claims      []verification.AtomicClaim `json:"claims"`
	Results     []verification.Result      `json:"results"`
	Sources     []sources.Source           `json:"sources"`
	Budget      budget.Snapshot            `json:"budget"`
	Disclaimers []string                   `json:"disclaimers"`
	Grade       string                     `json:"grade"`
	Partial     *PartialCompletion         `json:"partial,omitempty"`
	GeneratedAt time.Time                  `json:"generated_at"`
}

// disclaimerText maps degradation tags to user-visible wording.
var disclaimerText = map[string]string{
	"verification_simplified":  "Verification ran in simplified mode to stay within budget; analytical claims were not independently checked.",
	"verification_skipped":     "Verification was skipped to stay within budget; claims in this report are unverified.",
	"verification_reduced":     "Verification thoroughness was reduced partway through due to budget pressure.",
	"verification_budget_stop": "Verification stopped early when its budget was exhausted; remaining claims are unverified.",
	"research_reduced":         "Research depth was reduced to stay within budget.",
	"research_truncated":       "Not all planned research questions were answered before the budget limit.",
	"breaker_limited":          "The cost circuit breaker limited this run; coverage may be incomplete.",
	"synthesis_reduced":        "The final synthesis was shortened to stay within budget.",
}

// Disclaimers converts degradation tags into user-visible disclaimers,
// preserving tag order and passing through unknown tags verbatim.
func Disclaimers(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if text, ok := disclaimerText[tag]; ok {
			out = append(out, text)
		} else {
			out = append(out, fmt.Sprintf("Quality guarantee relaxed: %s.", tag))
		}
	}
	return out
}

// Grade summarizes report trustworthiness from the verification ratio, source
// availability ratio, and degradation count. The quality gate never fails a
// run; it only annotates.
func Grade(verifiedRatio, availabilityRatio float64, degradations int) string {
	score := 0.6*verifiedRatio + 0.4*availabilityRatio
	score -= 0.05 * float64(degradations)
	switch {
	case score >= 0.85:
		return "A"
	case score >= 0.65:
		return "B"
	case score >= 0.40:
		return "C"
	default:
		return "D"
	}
}

// Assemble builds the final report from run state and applies the quality
// gate grading.
func Assemble(runID, query, body string, claims []verification.AtomicClaim, results []verification.Result, registry *sources.Registry, snap budget.Snapshot, partial *PartialCompletion, logger *zap.Logger) *Report {
	srcs := registry.GetAll()

	verified := 0
	for _, r := range results {
		if r.Status == verification.StatusVerified || r.Status == verification.StatusPartiallyCorrect {
			verified++
		}
	}
	verifiedRatio := 1.0
	if len(results) > 0 {
		verifiedRatio = float64(verified) / float64(len(results))
	}

	available := 0
	for _, s := range srcs {
		if s.Status == sources.StatusAvailable {
			available++
		}
	}
	availabilityRatio := 1.0
	if len(srcs) > 0 {
		availabilityRatio = float64(available) / float64(len(srcs))
	}

	grade := Grade(verifiedRatio, availabilityRatio, len(snap.Degradations))
	logger.Info("Quality gate applied",
		zap.String("grade", grade),
		zap.Float64("verified_ratio", verifiedRatio),
		zap.Float64("availability_ratio", availabilityRatio),
		zap.Int("degradations", len(snap.Degradations)),
	)

	return &Report{
		RunID:       runID,
		Query:       query,
		Body:        body,
		Claims:      claims,
		Results:     results,
		Sources:     srcs,
		Budget:      snap,
		Disclaimers: Disclaimers(snap.Degradations),
		Grade:       grade,
		Partial:     partial,
		GeneratedAt: time.Now(),
	}
}
