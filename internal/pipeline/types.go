package pipeline

import (
	"errors"
	"time"

	"github.com/fathomlabs/fathom/internal/budget"
	"github.com/fathomlabs/fathom/internal/report"
	"github.com/fathomlabs/fathom/internal/verification"
)

// Status is the terminal state of one Execute invocation.
type Status string

const (
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
	StatusClarificationNeeded Status = "clarification_needed"
)

// RunResult is the well-formed terminal outcome of a run. Execute never lets
// an error or panic escape; failures are folded into this structure.
type RunResult struct {
	RunID                  string          `json:"run_id"`
	Status                 Status          `json:"status"`
	Report                 *report.Report  `json:"report,omitempty"`
	ClarificationQuestions []string        `json:"clarification_questions,omitempty"`
	Error                  string          `json:"error,omitempty"`
	ErrorCode              string          `json:"error_code,omitempty"`
	// BillingRollback signals the caller-side billing collaborator to roll
	// back any hold it opened for this run instead of committing it.
	BillingRollback bool            `json:"billing_rollback,omitempty"`
	Budget          budget.Snapshot `json:"budget"`
}

// Options configure one run.
type Options struct {
	Mode                budget.Mode
	Budget              budget.Options
	Selector            verification.SelectorConfig
	ValidateConcurrency int
	ValidateTimeout     time.Duration
}

// ErrInvalidTransition marks a programming error in phase sequencing. It is
// fatal: the run aborts with error code "invariant_violation".
var ErrInvalidTransition = errors.New("invalid phase transition")

// phase is an internal pipeline stage, a superset of the budget phases (the
// non-spending stages do not appear in the budget allocation table).
type phase string

const (
	phaseTriage           phase = "triage"
	phaseClarification    phase = "clarification"
	phasePlanning         phase = "planning"
	phaseResearch         phase = "research"
	phaseVerification     phase = "verification"
	phaseSourceValidation phase = "source_validation"
	phaseOutput           phase = "output"
	phaseQualityGate      phase = "quality_gate"
)

// pipelinePhases is the canonical order; transitions must follow it.
var pipelinePhases = []phase{
	phaseTriage, phaseClarification, phasePlanning, phaseResearch,
	phaseVerification, phaseSourceValidation, phaseOutput, phaseQualityGate,
}

// answer is one research sub-question's outcome.
type answer struct {
	QuestionID string
	Question   string
	Text       string
	SourceIDs  []int
	Empty      bool
}

// triageResult is the parsed classifier output.
type triageResult struct {
	Ambiguous              bool     `json:"ambiguous"`
	ClarificationQuestions []string `json:"clarification_questions"`
	Topic                  string   `json:"topic"`
}
