package circuitbreaker

import (
	"sync"

	"go.uber.org/zap"
)

// Level represents the breaker escalation level. Within one run a breaker only
// ever moves to a higher level; it never resets or cools down.
type Level int

const (
	LevelNone Level = iota
	LevelWarning
	LevelCritical
	LevelStop
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Config holds the spend-percentage thresholds for each level.
type Config struct {
	WarningPct  float64 // spend ratio that triggers warning
	CriticalPct float64 // spend ratio that triggers critical
	StopPct     float64 // spend ratio that triggers stop
	// OnLevelChange is invoked after each escalation, outside the lock.
	OnLevelChange func(from, to Level, spendPct float64)
}

// DefaultConfig returns the stock 70/85/93% thresholds.
func DefaultConfig() Config {
	return Config{
		WarningPct:  0.70,
		CriticalPct: 0.85,
		StopPct:     0.93,
	}
}

// Breaker escalates through warning/critical/stop as cumulative spend crosses
// the configured percentage thresholds. It is owned by a single run and is
// evaluated on every usage record.
type Breaker struct {
	config Config
	logger *zap.Logger

	mu             sync.RWMutex
	level          Level
	triggered      bool
	triggeredAtPct float64
}

// State is a snapshot of the breaker for reporting.
type State struct {
	Triggered      bool    `json:"triggered"`
	Level          string  `json:"level"`
	TriggeredAtPct float64 `json:"triggered_at_pct"`
}

// New creates a breaker starting at LevelNone.
func New(config Config, logger *zap.Logger) *Breaker {
	if config.WarningPct <= 0 {
		config.WarningPct = DefaultConfig().WarningPct
	}
	if config.CriticalPct <= 0 {
		config.CriticalPct = DefaultConfig().CriticalPct
	}
	if config.StopPct <= 0 {
		config.StopPct = DefaultConfig().StopPct
	}
	return &Breaker{
		config: config,
		logger: logger,
		level:  LevelNone,
	}
}

// Observe evaluates the spend ratio and escalates the level if a threshold was
// crossed. The level is monotone: Observe never lowers it, even if the ratio
// argument regresses. TriggeredAtPct is frozen at the ratio seen on the
// transition that first reached the current level.
func (b *Breaker) Observe(spendPct float64) Level {
	target := b.levelFor(spendPct)

	b.mu.Lock()
	if target <= b.level {
		level := b.level
		b.mu.Unlock()
		return level
	}
	prev := b.level
	b.level = target
	b.triggered = true
	b.triggeredAtPct = spendPct
	b.mu.Unlock()

	b.logger.Info("Circuit breaker escalated",
		zap.String("from", prev.String()),
		zap.String("to", target.String()),
		zap.Float64("spend_pct", spendPct),
	)
	recordTransition(prev, target)
	if b.config.OnLevelChange != nil {
		b.config.OnLevelChange(prev, target, spendPct)
	}
	return target
}

// Level returns the current escalation level.
func (b *Breaker) Level() Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.level
}

// Snapshot returns the reportable breaker state.
func (b *Breaker) Snapshot() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return State{
		Triggered:      b.triggered,
		Level:          b.level.String(),
		TriggeredAtPct: b.triggeredAtPct,
	}
}

func (b *Breaker) levelFor(spendPct float64) Level {
	switch {
	case spendPct >= b.config.StopPct:
		return LevelStop
	case spendPct >= b.config.CriticalPct:
		return LevelCritical
	case spendPct >= b.config.WarningPct:
		return LevelWarning
	default:
		return LevelNone
	}
}
