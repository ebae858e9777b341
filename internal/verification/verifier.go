package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/budget"
	"github.com/fathomlabs/fathom/internal/metrics"
	"github.com/fathomlabs/fathom/internal/providers"
	"github.com/fathomlabs/fathom/internal/sources"
)

// Verifier runs fact-checks over atomic claims. Claims are processed strictly
// sequentially with a budget check before each item; per-item budget checks
// require serialization to avoid overshoot races.
type Verifier struct {
	checker  providers.Generator
	registry *sources.Registry
	budget   *budget.Manager
	logger   *zap.Logger
}

// NewVerifier creates a verifier bound to one run's registry and budget.
func NewVerifier(checker providers.Generator, registry *sources.Registry, bm *budget.Manager, logger *zap.Logger) *Verifier {
	return &Verifier{
		checker:  checker,
		registry: registry,
		budget:   bm,
		logger:   logger,
	}
}

// VerifyClaims fact-checks claims at the given level and returns one result
// per claim, in input order. A failed sub-call yields an unverifiable result
// for that claim, never an error for the run.
func (v *Verifier) VerifyClaims(ctx context.Context, claims []AtomicClaim, level Level) []Result {
	results := make([]Result, 0, len(claims))
	budgetStopped := false

	for _, claim := range claims {
		r := v.verifyOne(ctx, claim, level, &budgetStopped)
		metrics.ClaimsVerified.WithLabelValues(string(r.Status)).Inc()
		results = append(results, r)
	}
	return results
}

func (v *Verifier) verifyOne(ctx context.Context, claim AtomicClaim, level Level, budgetStopped *bool) Result {
	// A numerical claim with no source attribution is terminal-invalid: it is
	// rejected before any budget or provider interaction, at every level.
	if claim.Type == ClaimNumerical && len(claim.SourceIDs) == 0 {
		return Result{ClaimID: claim.ID, Status: StatusUnverifiable, Confidence: 0.0}
	}
	if level == LevelSkipped || *budgetStopped {
		return Result{ClaimID: claim.ID, Status: StatusUnverifiable, Confidence: 0.0}
	}
	// Simplified verification spends only on claims with checkable substance.
	if level == LevelSimplified && (claim.Type == ClaimAnalytical || claim.Type == ClaimSpeculative) {
		return Result{ClaimID: claim.ID, Status: StatusUnverifiable, Confidence: 0.0}
	}

	switch v.budget.CanContinue(budget.PhaseVerification) {
	case budget.Stop:
		*budgetStopped = true
		v.budget.AddDegradation("verification_budget_stop")
		return Result{ClaimID: claim.ID, Status: StatusUnverifiable, Confidence: 0.0}
	case budget.Reduce:
		v.budget.AddDegradation("verification_reduced")
	}

	gen, err := v.checker.Generate(ctx, v.buildPrompt(claim), providers.Options{
		Instructions: "You are a fact-checker. Respond with a single JSON object.",
		Temperature:  0.0,
		MaxTokens:    v.budget.MaxTokensForCall(budget.CallVerify),
	})
	v.budget.RecordUsage(budget.PhaseVerification, v.checker.Model(),
		gen.Usage.InputTokens, gen.Usage.OutputTokens, gen.Usage.CostUSD)
	if err != nil {
		// Provider exhaustion surfaces as an empty result for this claim so
		// one bad sub-call never aborts the run.
		v.logger.Warn("Claim verification call failed",
			zap.String("claim_id", claim.ID),
			zap.Error(err),
		)
		return Result{ClaimID: claim.ID, Status: StatusUnverifiable, Confidence: 0.0}
	}

	return v.parseResult(claim.ID, gen.Text)
}

func (v *Verifier) buildPrompt(claim AtomicClaim) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claim: %s\nType: %s\n", claim.Text, claim.Type)
	if claim.Value != "" {
		fmt.Fprintf(&b, "Stated value: %s %s\n", claim.Value, claim.Unit)
	}
	if len(claim.SourceIDs) > 0 {
		b.WriteString("Cited sources:\n")
		for _, id := range claim.SourceIDs {
			if src, ok := v.registry.GetByID(id); ok {
				fmt.Fprintf(&b, "- [%d] %s (%s)\n", src.ID, src.Title, src.URL)
			}
		}
	}
	b.WriteString(`Assess the claim against its sources. Respond as JSON: {"status":"verified|partially_correct|incorrect|unverifiable","confidence":0.0,"correction":""}`)
	return b.String()
}

// parseResult recovers a structured verdict from provider text. Unparseable
// output falls back to a default unverifiable verdict; data-quality errors
// are logged, never propagated.
func (v *Verifier) parseResult(claimID, text string) Result {
	var parsed struct {
		Status     string  `json:"status"`
		Confidence float64 `json:"confidence"`
		Correction string  `json:"correction"`
	}
	raw := extractJSONObject(text)
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil {
		v.logger.Debug("Unparseable fact-check output, using fallback verdict",
			zap.String("claim_id", claimID))
		return Result{ClaimID: claimID, Status: StatusUnverifiable, Confidence: 0.0}
	}

	status := ResultStatus(parsed.Status)
	switch status {
	case StatusVerified, StatusPartiallyCorrect, StatusIncorrect, StatusUnverifiable:
	default:
		status = StatusUnverifiable
	}
	conf := parsed.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return Result{ClaimID: claimID, Status: status, Confidence: conf, Correction: parsed.Correction}
}

// ApplyAvailabilityClamp caps the confidence of claims whose every referenced
// source failed URL validation. Must run only after ValidateAll completed.
func ApplyAvailabilityClamp(results []Result, claims []AtomicClaim, registry *sources.Registry) {
	byID := make(map[string]AtomicClaim, len(claims))
	for _, c := range claims {
		byID[c.ID] = c
	}
	for i := range results {
		claim, ok := byID[results[i].ClaimID]
		if !ok || len(claim.SourceIDs) == 0 {
			continue
		}
		allDown := true
		for _, id := range claim.SourceIDs {
			src, ok := registry.GetByID(id)
			if !ok || src.Status != sources.StatusUnavailable {
				allDown = false
				break
			}
		}
		if allDown && results[i].Confidence > unavailableConfidenceCap {
			results[i].Confidence = unavailableConfidenceCap
		}
	}
}

// extractJSONObject returns the first balanced {...} span in text, tolerating
// prose or code fences around it.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
