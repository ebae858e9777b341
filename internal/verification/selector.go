package verification

import (
	"github.com/fathomlabs/fathom/internal/budget"
	"github.com/fathomlabs/fathom/internal/metrics"
)

// Level is the thoroughness tier of the verification phase.
type Level int

const (
	LevelSkipped Level = iota
	LevelSimplified
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelSkipped:
		return "skipped"
	case LevelSimplified:
		return "simplified"
	case LevelFull:
		return "full"
	default:
		return "unknown"
	}
}

// BudgetView is the slice of budget state the selector depends on, extracted
// so SelectLevel stays a pure function.
type BudgetView struct {
	Decision         budget.Decision // CanContinue("verification")
	RemainingRatio   float64         // fraction of binding budget dimension left
	RemainingCostUSD float64
}

// SelectorConfig tunes the adaptive elevation pass.
type SelectorConfig struct {
	// ElevationMinRemaining is the remaining-budget ratio required before the
	// selector considers raising the level back up.
	ElevationMinRemaining float64
	// ElevationCostMultiple is how many times the estimated cost of the
	// higher level must fit in the remaining cost allowance.
	ElevationCostMultiple float64
}

// DefaultSelectorConfig matches the stock 35% / 2x thresholds.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		ElevationMinRemaining: 0.35,
		ElevationCostMultiple: 2.0,
	}
}

// BaseLevel returns the level a mode starts from before budget adjustment.
func BaseLevel(mode budget.Mode) Level {
	if mode == budget.ModeSimple {
		return LevelSimplified
	}
	return LevelFull
}

// maxLevelForMode caps elevation: simple mode never reaches full, preserving
// its cost ceiling regardless of headroom.
func maxLevelForMode(mode budget.Mode) Level {
	if mode == budget.ModeSimple {
		return LevelSimplified
	}
	return LevelFull
}

// SelectLevel picks the verification level in two passes. The lowering pass
// applies the budget decision (reduce caps at simplified, stop skips); the
// elevation pass may then raise the result by exactly one step when enough
// budget remains to comfortably cover the higher level for the outstanding
// claim count. The two passes exist because claim count is unknown until
// after decomposition: the pre-decomposition call sees outstandingClaims=0
// and stays conservative, the post-decomposition call re-runs with real
// counts.
func SelectLevel(mode budget.Mode, view BudgetView, perClaimCostEstimate float64, outstandingClaims int, cfg SelectorConfig) Level {
	level := BaseLevel(mode)

	// Lowering pass: the budget decision only ever lowers.
	switch view.Decision {
	case budget.Stop:
		level = LevelSkipped
	case budget.Reduce:
		if level > LevelSimplified {
			level = LevelSimplified
		}
	}

	// Elevation pass: at most one step back up, and only with real headroom.
	if level < maxLevelForMode(mode) && outstandingClaims > 0 {
		estimated := perClaimCostEstimate * float64(outstandingClaims)
		if view.RemainingRatio > cfg.ElevationMinRemaining &&
			view.RemainingCostUSD >= cfg.ElevationCostMultiple*estimated {
			level++
		}
	}

	metrics.VerificationLevelSelected.WithLabelValues(string(mode), level.String()).Inc()
	return level
}
