package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/budget"
	"github.com/fathomlabs/fathom/internal/events"
	"github.com/fathomlabs/fathom/internal/metrics"
	"github.com/fathomlabs/fathom/internal/pricing"
	"github.com/fathomlabs/fathom/internal/providers"
	"github.com/fathomlabs/fathom/internal/sources"
	"github.com/fathomlabs/fathom/internal/verification"
)

// Orchestrator sequences the research pipeline for one run at a time. The
// budget manager and source registry are created inside Execute and discarded
// at run end; they are never pooled or shared across runs.
type Orchestrator struct {
	providers providers.Set
	prices    *pricing.Table
	validator sources.Validator
	stream    *events.Stream
	logger    *zap.Logger

	aborted atomic.Bool
}

// New creates an orchestrator. The event stream may be nil when no consumer
// wants progress events.
func New(set providers.Set, prices *pricing.Table, validator sources.Validator, stream *events.Stream, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		providers: set,
		prices:    prices,
		validator: validator,
		stream:    stream,
		logger:    logger,
	}
}

// Abort requests cancellation. The flag is checked at the start of each
// phase; the run unwinds without starting further external calls but already
// recorded usage stands.
func (o *Orchestrator) Abort() {
	o.aborted.Store(true)
}

// run carries the per-run mutable state through the phase sequence.
type run struct {
	id       string
	query    string
	userID   string
	opts     Options
	answers  []string // clarification answers from the caller
	budget   *budget.Manager
	registry *sources.Registry

	lastPhase phase
	planned   []string
	covered   []answer
	claims    []verification.AtomicClaim
	results   []verification.Result
	level     verification.Level
}

// Execute runs the full pipeline for a query. It always returns a well-formed
// RunResult; unexpected panics inside phases are converted into a terminal
// failed result with a billing rollback signal.
func (o *Orchestrator) Execute(ctx context.Context, query, userID string, opts Options, clarificationAnswers []string) (result RunResult) {
	if opts.Mode == "" {
		opts.Mode = budget.ModeStandard
	}
	if opts.Selector == (verification.SelectorConfig{}) {
		opts.Selector = verification.DefaultSelectorConfig()
	}

	r := &run{
		id:       uuid.New().String(),
		query:    query,
		userID:   userID,
		opts:     opts,
		answers:  clarificationAnswers,
		budget:   budget.NewManagerWithOptions(opts.Mode, o.prices, o.logger, opts.Budget),
		registry: sources.NewRegistry(o.logger),
	}

	started := time.Now()
	metrics.RunsStarted.WithLabelValues(string(opts.Mode)).Inc()
	o.logger.Info("Run started",
		zap.String("run_id", r.id),
		zap.String("mode", string(opts.Mode)),
		zap.String("user_id", userID),
	)

	defer func() {
		if rec := recover(); rec != nil {
			// Usage already recorded is non-reversible; fold the panic into a
			// terminal failed result and tell billing to roll back its hold.
			o.logger.Error("Run panicked",
				zap.String("run_id", r.id),
				zap.Any("panic", rec),
			)
			result = RunResult{
				RunID:           r.id,
				Status:          StatusFailed,
				Error:           fmt.Sprintf("internal error: %v", rec),
				ErrorCode:       "invariant_violation",
				BillingRollback: true,
				Budget:          r.budget.GetSnapshot(),
			}
			o.emit(r, events.TypeError, "", result.Error)
		}
		metrics.RunsCompleted.WithLabelValues(string(opts.Mode), string(result.Status)).Inc()
		metrics.RunDuration.WithLabelValues(string(opts.Mode)).Observe(time.Since(started).Seconds())
	}()

	return o.execute(ctx, r)
}

func (o *Orchestrator) execute(ctx context.Context, r *run) RunResult {
	// Triage
	if res, done := o.enterPhase(r, phaseTriage); done {
		return res
	}
	triage := o.runTriage(ctx, r)

	// Clarification: a conditional branch, not a loop. The run suspends and a
	// fresh execution must carry the answers.
	if res, done := o.enterPhase(r, phaseClarification); done {
		return res
	}
	if triage.Ambiguous && len(r.answers) == 0 {
		o.emit(r, events.TypeClarificationNeeded, string(phaseClarification), "query is ambiguous")
		return RunResult{
			RunID:                  r.id,
			Status:                 StatusClarificationNeeded,
			ClarificationQuestions: triage.ClarificationQuestions,
			Budget:                 r.budget.GetSnapshot(),
		}
	}

	// Planning
	if res, done := o.enterPhase(r, phasePlanning); done {
		return res
	}
	o.runPlanning(ctx, r)

	// Research
	if res, done := o.enterPhase(r, phaseResearch); done {
		return res
	}
	o.runResearch(ctx, r)

	if countAnswered(r.covered) == 0 {
		// Nothing to report on; this is the one non-panic hard failure.
		o.emit(r, events.TypeError, string(phaseResearch), "no research questions answered")
		return RunResult{
			RunID:           r.id,
			Status:          StatusFailed,
			Error:           "research produced no answers",
			ErrorCode:       "no_research_results",
			BillingRollback: true,
			Budget:          r.budget.GetSnapshot(),
		}
	}

	// Verification
	if res, done := o.enterPhase(r, phaseVerification); done {
		return res
	}
	o.runVerification(ctx, r)

	// Source validation: mandatory gate before any claim is excluded on
	// availability grounds.
	if res, done := o.enterPhase(r, phaseSourceValidation); done {
		return res
	}
	o.runSourceValidation(ctx, r)

	// Output
	if res, done := o.enterPhase(r, phaseOutput); done {
		return res
	}
	body := o.runOutput(ctx, r)

	// Quality gate
	if res, done := o.enterPhase(r, phaseQualityGate); done {
		return res
	}
	rep := o.runQualityGate(r, body)

	o.emit(r, events.TypeCompleted, string(phaseQualityGate), "run completed")
	o.logger.Info("Run completed",
		zap.String("run_id", r.id),
		zap.String("grade", rep.Grade),
		zap.Bool("partial", rep.Partial != nil),
	)
	return RunResult{
		RunID:  r.id,
		Status: StatusCompleted,
		Report: rep,
		Budget: r.budget.GetSnapshot(),
	}
}

// enterPhase validates the transition, checks the abort flag, and emits a
// progress event. A true second return means the run ends here with the given
// result.
func (o *Orchestrator) enterPhase(r *run, next phase) (RunResult, bool) {
	if err := checkTransition(r.lastPhase, next); err != nil {
		panic(err) // programming error; caught by the Execute recover
	}
	r.lastPhase = next

	if o.aborted.Load() {
		o.logger.Info("Run aborted",
			zap.String("run_id", r.id),
			zap.String("phase", string(next)),
		)
		o.emit(r, events.TypeError, string(next), "run aborted")
		return RunResult{
			RunID:           r.id,
			Status:          StatusFailed,
			Error:           "run aborted",
			ErrorCode:       "aborted",
			BillingRollback: true,
			Budget:          r.budget.GetSnapshot(),
		}, true
	}

	o.emit(r, events.TypeProgress, string(next), "")
	return RunResult{}, false
}

// checkTransition enforces forward-only phase order.
func checkTransition(from, to phase) error {
	toIdx := phaseIndex(to)
	if toIdx < 0 {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, to)
	}
	if from == "" {
		if toIdx != 0 {
			return fmt.Errorf("%w: run must start at %q", ErrInvalidTransition, pipelinePhases[0])
		}
		return nil
	}
	if toIdx != phaseIndex(from)+1 {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	return nil
}

func phaseIndex(p phase) int {
	for i, q := range pipelinePhases {
		if q == p {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) emit(r *run, t events.Type, phaseName, message string) {
	if o.stream == nil {
		return
	}
	o.stream.Publish(events.Event{
		RunID:   r.id,
		Type:    t,
		Phase:   phaseName,
		Message: message,
	})
}

func countAnswered(answers []answer) int {
	n := 0
	for _, a := range answers {
		if !a.Empty {
			n++
		}
	}
	return n
}
