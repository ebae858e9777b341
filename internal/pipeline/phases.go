package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/budget"
	"github.com/fathomlabs/fathom/internal/events"
	"github.com/fathomlabs/fathom/internal/providers"
	"github.com/fathomlabs/fathom/internal/report"
	"github.com/fathomlabs/fathom/internal/sources"
	"github.com/fathomlabs/fathom/internal/verification"
)

// runTriage classifies the query. Unparseable classifier output falls back to
// an unambiguous classification so a flaky provider never stalls the run.
func (o *Orchestrator) runTriage(ctx context.Context, r *run) triageResult {
	r.budget.StartPhase(budget.PhaseTriage)

	prompt := fmt.Sprintf(
		"Classify this research query. Respond as JSON: "+
			`{"ambiguous":false,"clarification_questions":[],"topic":""}`+
			"\n\nQuery: %s", r.query)
	gen, err := o.providers.Reasoner.Generate(ctx, prompt, providers.Options{
		Temperature: 0.0,
		MaxTokens:   r.budget.MaxTokensForCall(budget.CallTriage),
	})
	r.budget.RecordUsage(budget.PhaseTriage, o.providers.Reasoner.Model(),
		gen.Usage.InputTokens, gen.Usage.OutputTokens, gen.Usage.CostUSD)
	if err != nil {
		o.logger.Warn("Triage call failed, treating query as unambiguous",
			zap.String("run_id", r.id), zap.Error(err))
		return triageResult{}
	}

	var t triageResult
	if raw := extractJSONObject(gen.Text); raw != "" {
		if jsonErr := json.Unmarshal([]byte(raw), &t); jsonErr == nil {
			return t
		}
	}
	o.logger.Debug("Unparseable triage output, using default classification",
		zap.String("run_id", r.id))
	return triageResult{}
}

// runPlanning decomposes the query into research sub-questions.
func (o *Orchestrator) runPlanning(ctx context.Context, r *run) {
	r.budget.StartPhase(budget.PhasePlanning)

	var b strings.Builder
	fmt.Fprintf(&b, "Break this research query into focused sub-questions. "+
		"Respond as a JSON array of strings.\n\nQuery: %s\n", r.query)
	if len(r.answers) > 0 {
		b.WriteString("Clarifications from the user:\n")
		for _, a := range r.answers {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	gen, err := o.providers.Reasoner.Generate(ctx, b.String(), providers.Options{
		Temperature: 0.2,
		MaxTokens:   r.budget.MaxTokensForCall(budget.CallPlan),
	})
	r.budget.RecordUsage(budget.PhasePlanning, o.providers.Reasoner.Model(),
		gen.Usage.InputTokens, gen.Usage.OutputTokens, gen.Usage.CostUSD)

	if err == nil {
		var questions []string
		if raw := extractJSONArrayText(gen.Text); raw != "" {
			if json.Unmarshal([]byte(raw), &questions) == nil {
				for _, q := range questions {
					if strings.TrimSpace(q) != "" {
						r.planned = append(r.planned, q)
					}
				}
			}
		}
	}
	if len(r.planned) == 0 {
		// Default-value fallback: research the query as a single question.
		o.logger.Debug("Planning yielded no sub-questions, using query directly",
			zap.String("run_id", r.id))
		r.planned = []string{r.query}
	}
}

// researchOutput is the expected shape of a search-grounded answer.
type researchOutput struct {
	Answer    string             `json:"answer"`
	Citations []sources.Citation `json:"citations"`
}

// runResearch answers each planned question. Items run strictly sequentially
// with a budget check before each one; per-item budget checks require
// serialization to avoid overshoot races.
func (o *Orchestrator) runResearch(ctx context.Context, r *run) {
	r.budget.StartPhase(budget.PhaseResearch)

	for i, question := range r.planned {
		questionID := fmt.Sprintf("q%d", i+1)

		switch r.budget.CanContinue(budget.PhaseResearch) {
		case budget.Stop:
			r.budget.AddDegradation("research_truncated")
			o.logger.Info("Research stopped by budget",
				zap.String("run_id", r.id),
				zap.Int("answered", len(r.covered)),
				zap.Int("planned", len(r.planned)),
			)
			return
		case budget.Reduce:
			r.budget.AddDegradation("research_reduced")
		}

		o.emit(r, events.TypeProgress, string(phaseResearch),
			fmt.Sprintf("researching %s", questionID))

		a := o.researchOne(ctx, r, questionID, question)
		r.covered = append(r.covered, a)
	}
}

// researchOne performs one search-grounded call. A failed sub-call is
// recorded as an empty answer so it never aborts the run.
func (o *Orchestrator) researchOne(ctx context.Context, r *run, questionID, question string) answer {
	prompt := fmt.Sprintf(
		"Answer with current, well-sourced information. Respond as JSON: "+
			`{"answer":"...","citations":[{"url":"...","title":"...","date":""}]}`+
			"\n\nQuestion: %s", question)
	gen, err := o.providers.Researcher.Generate(ctx, prompt, providers.Options{
		Temperature: 0.3,
		MaxTokens:   r.budget.MaxTokensForCall(budget.CallResearch),
	})
	// Search-grounded calls may carry a dynamically billed direct cost.
	r.budget.RecordUsage(budget.PhaseResearch, o.providers.Researcher.Model(),
		gen.Usage.InputTokens, gen.Usage.OutputTokens, gen.Usage.CostUSD)
	if err != nil {
		o.logger.Warn("Research sub-call failed",
			zap.String("run_id", r.id),
			zap.String("question_id", questionID),
			zap.Error(err),
		)
		return answer{QuestionID: questionID, Question: question, Empty: true}
	}

	var out researchOutput
	if raw := extractJSONObject(gen.Text); raw != "" {
		_ = json.Unmarshal([]byte(raw), &out)
	}
	if out.Answer == "" {
		// Degraded but usable: treat the whole response as the answer text.
		out.Answer = gen.Text
	}

	idMap := r.registry.AddBatch(out.Citations, nil, questionID)
	seen := make(map[int]bool, len(idMap))
	ids := make([]int, 0, len(idMap))
	for _, id := range idMap {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return answer{
		QuestionID: questionID,
		Question:   question,
		Text:       out.Answer,
		SourceIDs:  ids,
	}
}

// runVerification selects the verification level in two passes and
// fact-checks the decomposed claims. The first selection runs before
// decomposition with zero claims and stays conservative; the second re-runs
// with the real claim count.
func (o *Orchestrator) runVerification(ctx context.Context, r *run) {
	r.budget.StartPhase(budget.PhaseVerification)

	perClaim := o.prices.EstimateCallCost(o.providers.FactChecker.Model(), 400, 150)
	mode := r.budget.Mode()

	first := verification.SelectLevel(mode, o.budgetView(r), perClaim, 0, r.opts.Selector)
	if first == verification.LevelSkipped {
		r.level = verification.LevelSkipped
		r.budget.AddDegradation("verification_skipped")
		return
	}

	r.claims = o.decomposeClaims(ctx, r)
	if len(r.claims) == 0 {
		r.level = first
		return
	}

	r.level = verification.SelectLevel(mode, o.budgetView(r), perClaim, len(r.claims), r.opts.Selector)
	switch {
	case r.level == verification.LevelSkipped:
		r.budget.AddDegradation("verification_skipped")
	case r.level < verification.BaseLevel(mode):
		r.budget.AddDegradation("verification_simplified")
	}

	verifier := verification.NewVerifier(o.providers.FactChecker, r.registry, r.budget, o.logger)
	r.results = verifier.VerifyClaims(ctx, r.claims, r.level)
}

func (o *Orchestrator) budgetView(r *run) verification.BudgetView {
	return verification.BudgetView{
		Decision:         r.budget.CanContinue(budget.PhaseVerification),
		RemainingRatio:   r.budget.RemainingBudgetRatio(),
		RemainingCostUSD: r.budget.RemainingCostUSD(),
	}
}

// decomposeClaims extracts atomic claims from the research answers.
func (o *Orchestrator) decomposeClaims(ctx context.Context, r *run) []verification.AtomicClaim {
	var b strings.Builder
	b.WriteString("Extract atomic, checkable claims from these research answers. " +
		"Respond as a JSON array: " +
		`[{"text":"...","type":"factual|numerical|analytical|speculative","value":"","unit":"","source_ids":[1]}]` + "\n")
	for _, a := range r.covered {
		if a.Empty {
			continue
		}
		fmt.Fprintf(&b, "\n[%s] %s\nSources: %v\n", a.QuestionID, a.Text, a.SourceIDs)
	}

	gen, err := o.providers.Reasoner.Generate(ctx, b.String(), providers.Options{
		Temperature: 0.0,
		MaxTokens:   r.budget.MaxTokensForCall(budget.CallVerify),
	})
	r.budget.RecordUsage(budget.PhaseVerification, o.providers.Reasoner.Model(),
		gen.Usage.InputTokens, gen.Usage.OutputTokens, gen.Usage.CostUSD)
	if err != nil {
		o.logger.Warn("Claim decomposition failed",
			zap.String("run_id", r.id), zap.Error(err))
		return nil
	}

	claims := verification.ParseClaims(gen.Text, r.registry.GetCount())
	if claims == nil {
		o.logger.Debug("Unparseable decomposition output",
			zap.String("run_id", r.id))
	}
	return claims
}

// runSourceValidation probes every registered source, then clamps confidence
// for claims whose every source is unavailable.
func (o *Orchestrator) runSourceValidation(ctx context.Context, r *run) {
	conc := r.opts.ValidateConcurrency
	if conc <= 0 {
		conc = sources.DefaultValidateConcurrency
	}
	timeout := r.opts.ValidateTimeout
	if timeout <= 0 {
		timeout = sources.DefaultValidateTimeout
	}

	summary := r.registry.ValidateAll(ctx, o.validator, conc, timeout)
	verification.ApplyAvailabilityClamp(r.results, r.claims, r.registry)

	o.emit(r, events.TypeProgress, string(phaseSourceValidation),
		fmt.Sprintf("validated %d sources, %d available", summary.Total, summary.Available))
}

// runOutput synthesizes the report body. Synthesis is source-masked: when
// verification ran, only verified claims and their citation set reach the
// synthesizer, never raw unverified research text.
func (o *Orchestrator) runOutput(ctx context.Context, r *run) string {
	r.budget.StartPhase(budget.PhaseOutput)

	switch r.budget.CanContinue(budget.PhaseOutput) {
	case budget.Stop:
		r.budget.AddDegradation("synthesis_reduced")
		return o.fallbackBody(r)
	case budget.Reduce:
		r.budget.AddDegradation("synthesis_reduced")
	}

	gen, err := o.providers.Reasoner.Generate(ctx, o.synthesisPrompt(r), providers.Options{
		Temperature: 0.4,
		MaxTokens:   r.budget.MaxTokensForCall(budget.CallSynthesis),
	})
	r.budget.RecordUsage(budget.PhaseOutput, o.providers.Reasoner.Model(),
		gen.Usage.InputTokens, gen.Usage.OutputTokens, gen.Usage.CostUSD)
	if err != nil || strings.TrimSpace(gen.Text) == "" {
		o.logger.Warn("Synthesis failed, assembling fallback body",
			zap.String("run_id", r.id), zap.Error(err))
		return o.fallbackBody(r)
	}
	return gen.Text
}

func (o *Orchestrator) synthesisPrompt(r *run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a research report answering: %s\n", r.query)

	if r.level > verification.LevelSkipped && len(r.results) > 0 {
		byID := make(map[string]verification.Result, len(r.results))
		for _, res := range r.results {
			byID[res.ClaimID] = res
		}
		b.WriteString("\nUse only these verified findings, citing sources as [N]:\n")
		for _, c := range r.claims {
			res, ok := byID[c.ID]
			if !ok || (res.Status != verification.StatusVerified && res.Status != verification.StatusPartiallyCorrect) {
				continue
			}
			fmt.Fprintf(&b, "- %s (confidence %.2f, sources %v)\n", c.Text, res.Confidence, c.SourceIDs)
			if res.Correction != "" {
				fmt.Fprintf(&b, "  correction: %s\n", res.Correction)
			}
		}
	} else {
		b.WriteString("\nFindings (unverified):\n")
		for _, a := range r.covered {
			if !a.Empty {
				fmt.Fprintf(&b, "- %s: %s\n", a.Question, a.Text)
			}
		}
	}

	b.WriteString("\nSources:\n")
	for _, s := range r.registry.GetAll() {
		fmt.Fprintf(&b, "[%d] %s (%s)\n", s.ID, s.Title, s.URL)
	}
	return b.String()
}

// fallbackBody builds a minimal report body locally when synthesis cannot run.
func (o *Orchestrator) fallbackBody(r *run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research summary for: %s\n\n", r.query)
	for _, a := range r.covered {
		if !a.Empty {
			fmt.Fprintf(&b, "%s\n%s\n\n", a.Question, a.Text)
		}
	}
	return b.String()
}

// runQualityGate derives the partial-completion record and assembles the
// graded report. Partial results are always preferred over failure.
func (o *Orchestrator) runQualityGate(r *run, body string) *report.Report {
	breakerState := r.budget.Breaker().Snapshot()
	if breakerState.Triggered {
		r.budget.AddDegradation("breaker_limited")
	}

	covered := countAnswered(r.covered)
	var partial *report.PartialCompletion
	if covered < len(r.planned) || r.level < verification.LevelFull || breakerState.Triggered {
		partial = &report.PartialCompletion{
			IsPartial:               true,
			CoveredQuestions:        covered,
			PlannedQuestions:        len(r.planned),
			VerificationLevel:       r.level.String(),
			CircuitBreakerTriggered: breakerState.Triggered,
		}
		if breakerState.Triggered {
			partial.CircuitBreakerLevel = breakerState.Level
		}
	}

	return report.Assemble(r.id, r.query, body, r.claims, r.results,
		r.registry, r.budget.GetSnapshot(), partial, o.logger)
}

// JSON extraction helpers shared by phase parsers.

func extractJSONObject(text string) string {
	return extractBalanced(text, '{', '}')
}

func extractJSONArrayText(text string) string {
	return extractBalanced(text, '[', ']')
}

func extractBalanced(text string, open, closing byte) string {
	start := strings.IndexByte(text, open)
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
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
