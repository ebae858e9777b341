package budget

import (
	"sync"

	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/circuitbreaker"
	"github.com/fathomlabs/fathom/internal/metrics"
	"github.com/fathomlabs/fathom/internal/pricing"
)

// Mode selects the research tier and with it the global limits and phase split.
type Mode string

const (
	ModeSimple   Mode = "simple"
	ModeStandard Mode = "standard"
	ModeDeep     Mode = "deep"
)

// Phase is one ordered stage of the pipeline that consumes budget.
type Phase string

const (
	PhaseTriage       Phase = "triage"
	PhasePlanning     Phase = "planning"
	PhaseResearch     Phase = "research"
	PhaseVerification Phase = "verification"
	PhaseOutput       Phase = "output"
)

// phaseOrder defines the forward-only bonus transfer chain.
var phaseOrder = []Phase{PhaseTriage, PhasePlanning, PhaseResearch, PhaseVerification, PhaseOutput}

// Decision is the budget manager's answer to "may this phase keep going".
type Decision int

const (
	Proceed Decision = iota
	Reduce
	Stop
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Reduce:
		return "reduce"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// CallType categorizes generation calls for static output-token caps.
type CallType string

const (
	CallTriage    CallType = "triage"
	CallPlan      CallType = "plan"
	CallResearch  CallType = "research"
	CallVerify    CallType = "verify"
	CallSynthesis CallType = "synthesis"
)

var staticCallCaps = map[CallType]int{
	CallTriage:    800,
	CallPlan:      2000,
	CallResearch:  4000,
	CallVerify:    1200,
	CallSynthesis: 6000,
}

const (
	// minCallTokens guarantees a call is never starved to zero.
	minCallTokens = 100
	// phaseOvershootFactor is the hard ceiling on phase spend relative to its
	// effective budget.
	phaseOvershootFactor = 1.30
	// phaseReduceFactor is the soft ceiling past which work degrades.
	phaseReduceFactor = 0.60
)

// Limits are the fixed global ceilings for one run.
type Limits struct {
	MaxTokens  int     `json:"max_tokens"`
	MaxCostUSD float64 `json:"max_cost_usd"`
}

// LimitsForMode returns the stock limits for a research mode.
func LimitsForMode(mode Mode) Limits {
	switch mode {
	case ModeSimple:
		return Limits{MaxTokens: 30000, MaxCostUSD: 0.15}
	case ModeDeep:
		return Limits{MaxTokens: 500000, MaxCostUSD: 2.50}
	default:
		return Limits{MaxTokens: 200000, MaxCostUSD: 1.00}
	}
}

// AllocationsForMode returns the percentage split of the global budget across
// phases for a mode. Percentages sum to 100.
func AllocationsForMode(mode Mode) map[Phase]float64 {
	switch mode {
	case ModeSimple:
		return map[Phase]float64{
			PhaseTriage: 5, PhasePlanning: 15, PhaseResearch: 60,
			PhaseVerification: 10, PhaseOutput: 10,
		}
	case ModeDeep:
		return map[Phase]float64{
			PhaseTriage: 1, PhasePlanning: 8, PhaseResearch: 52,
			PhaseVerification: 33, PhaseOutput: 6,
		}
	default:
		return map[Phase]float64{
			PhaseTriage: 2, PhasePlanning: 10, PhaseResearch: 55,
			PhaseVerification: 25, PhaseOutput: 8,
		}
	}
}

// PhaseUsage is the cumulative spend of one phase. It never decreases.
type PhaseUsage struct {
	Tokens  int     `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
	Calls   int     `json:"calls"`
}

// PhaseBonus is unspent allocation transferred forward from the preceding
// phase. Additive only.
type PhaseBonus struct {
	Tokens  int     `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
}

// Manager owns the token/cost budget for exactly one pipeline run. It is
// created by the orchestrator, consulted by every phase, and discarded at run
// end. Budget exhaustion is communicated through CanContinue, never as an
// error.
type Manager struct {
	mode        Mode
	limits      Limits
	allocations map[Phase]float64
	prices      *pricing.Table
	breaker     *circuitbreaker.Breaker
	logger      *zap.Logger

	mu           sync.RWMutex
	usage        map[Phase]*PhaseUsage
	bonus        map[Phase]*PhaseBonus
	transferred  map[Phase]bool
	currentPhase Phase
	totalTokens  int
	totalCost    float64
	degradations []string
}

// Options configure a Manager beyond the mode defaults.
type Options struct {
	Limits      *Limits           // override mode limits
	Allocations map[Phase]float64 // override mode split
	Breaker     circuitbreaker.Config
}

// NewManager creates a budget manager for one run.
func NewManager(mode Mode, prices *pricing.Table, logger *zap.Logger) *Manager {
	return NewManagerWithOptions(mode, prices, logger, Options{Breaker: circuitbreaker.DefaultConfig()})
}

// NewManagerWithOptions creates a budget manager applying option overrides.
func NewManagerWithOptions(mode Mode, prices *pricing.Table, logger *zap.Logger, opts Options) *Manager {
	limits := LimitsForMode(mode)
	if opts.Limits != nil {
		limits = *opts.Limits
	}
	allocations := AllocationsForMode(mode)
	if opts.Allocations != nil {
		allocations = opts.Allocations
	}
	m := &Manager{
		mode:        mode,
		limits:      limits,
		allocations: allocations,
		prices:      prices,
		breaker:     circuitbreaker.New(opts.Breaker, logger),
		logger:      logger,
		usage:       make(map[Phase]*PhaseUsage),
		bonus:       make(map[Phase]*PhaseBonus),
		transferred: make(map[Phase]bool),
	}
	for _, p := range phaseOrder {
		m.usage[p] = &PhaseUsage{}
		m.bonus[p] = &PhaseBonus{}
	}
	return m
}

// StartPhase marks a phase as active and, exactly once per transition,
// transfers the immediately preceding phase's unused allocation forward as
// bonus. Transfer is one-directional; a later phase never gives back.
func (m *Manager) StartPhase(phase Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.currentPhase = phase
	if m.transferred[phase] {
		return
	}
	m.transferred[phase] = true

	prev, ok := precedingPhase(phase)
	if !ok {
		return
	}
	prevTokens, prevCost := m.effectiveBudgetLocked(prev)
	prevUsage := m.usage[prev]

	bonus := m.bonus[phase]
	if unspent := prevTokens - prevUsage.Tokens; unspent > 0 {
		bonus.Tokens += unspent
	}
	if unspent := prevCost - prevUsage.CostUSD; unspent > 0 {
		bonus.CostUSD += unspent
	}

	m.logger.Debug("Phase started",
		zap.String("phase", string(phase)),
		zap.Int("bonus_tokens", bonus.Tokens),
		zap.Float64("bonus_cost_usd", bonus.CostUSD),
	)
}

// RecordUsage records actual spend for a phase. directCost, when positive,
// overrides the price-table computation (used for dynamically billed
// search-grounded calls). The circuit breaker is evaluated on every record.
func (m *Manager) RecordUsage(phase Phase, model string, inputTokens, outputTokens int, directCost float64) {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	tokens := inputTokens + outputTokens
	cost := directCost
	if cost <= 0 {
		cost = m.prices.CostForSplit(model, inputTokens, outputTokens)
	}

	const maxInt = int(^uint(0) >> 1)

	m.mu.Lock()
	u, ok := m.usage[phase]
	if !ok {
		u = &PhaseUsage{}
		m.usage[phase] = u
	}
	if u.Tokens > maxInt-tokens || m.totalTokens > maxInt-tokens {
		// Clamp instead of erroring; exhaustion is signaled via CanContinue.
		tokens = 0
		m.logger.Warn("Token counter clamped at overflow", zap.String("phase", string(phase)))
	}
	u.Tokens += tokens
	u.CostUSD += cost
	u.Calls++
	m.totalTokens += tokens
	m.totalCost += cost
	spendPct := m.spendRatioLocked()
	m.mu.Unlock()

	metrics.PhaseTokensUsed.WithLabelValues(string(phase)).Observe(float64(tokens))
	metrics.PhaseCostUSD.WithLabelValues(string(phase)).Observe(cost)

	m.breaker.Observe(spendPct)
}

// CanContinue applies the decision ladder for a phase; first match wins.
func (m *Manager) CanContinue(phase Phase) Decision {
	level := m.breaker.Level()

	m.mu.RLock()
	phasePct := m.phaseSpendRatioLocked(phase)
	m.mu.RUnlock()

	var d Decision
	switch {
	case level == circuitbreaker.LevelStop:
		d = Stop
	case phasePct > phaseOvershootFactor:
		d = Stop
	case level == circuitbreaker.LevelCritical && (phase == PhaseResearch || phase == PhaseVerification):
		d = Stop
	case phasePct > phaseReduceFactor || level == circuitbreaker.LevelWarning:
		d = Reduce
	default:
		d = Proceed
	}

	metrics.BudgetDecisions.WithLabelValues(string(phase), d.String()).Inc()
	if d != Proceed {
		m.logger.Info("Budget decision",
			zap.String("phase", string(phase)),
			zap.String("decision", d.String()),
			zap.Float64("phase_spend_pct", phasePct),
			zap.String("breaker_level", level.String()),
		)
	}
	return d
}

// MaxTokensForCall returns the output-token ceiling for a call, bounded by the
// static per-call-type cap, the phase's 130% overshoot headroom, and global
// remaining tokens. Never below 100 so a call is never starved to zero.
func (m *Manager) MaxTokensForCall(callType CallType) int {
	ceiling, ok := staticCallCaps[callType]
	if !ok {
		ceiling = staticCallCaps[CallResearch]
	}

	m.mu.RLock()
	phase := m.currentPhase
	if phase == "" {
		phase = PhaseTriage
	}
	effTokens, _ := m.effectiveBudgetLocked(phase)
	phaseRemain := int(float64(effTokens)*phaseOvershootFactor) - m.usage[phase].Tokens
	globalRemain := m.limits.MaxTokens - m.totalTokens
	m.mu.RUnlock()

	n := ceiling
	if phaseRemain < n {
		n = phaseRemain
	}
	if globalRemain < n {
		n = globalRemain
	}
	if n < minCallTokens {
		n = minCallTokens
	}
	return n
}

// AddDegradation records a quality relaxation tag the orchestrator turns into
// a user-visible disclaimer.
func (m *Manager) AddDegradation(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.degradations {
		if t == tag {
			return
		}
	}
	m.degradations = append(m.degradations, tag)
}

// Degradations returns the recorded degradation tags in insertion order.
func (m *Manager) Degradations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.degradations))
	copy(out, m.degradations)
	return out
}

// TotalTokensSpent returns cumulative tokens across all phases.
func (m *Manager) TotalTokensSpent() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalTokens
}

// TotalCostSpent returns cumulative cost across all phases.
func (m *Manager) TotalCostSpent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalCost
}

// Breaker exposes the run's circuit breaker.
func (m *Manager) Breaker() *circuitbreaker.Breaker {
	return m.breaker
}

// Mode returns the run's research mode.
func (m *Manager) Mode() Mode {
	return m.mode
}

// RemainingBudgetRatio returns the fraction of the binding budget dimension
// still unspent, in [0, 1].
func (m *Manager) RemainingBudgetRatio() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := 1.0 - m.spendRatioLocked()
	if r < 0 {
		return 0
	}
	return r
}

// RemainingCostUSD returns the global unspent cost allowance.
func (m *Manager) RemainingCostUSD() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.limits.MaxCostUSD - m.totalCost
	if r < 0 {
		return 0
	}
	return r
}

// EffectiveBudget returns a phase's allocation plus transferred bonus.
func (m *Manager) EffectiveBudget(phase Phase) (tokens int, costUSD float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effectiveBudgetLocked(phase)
}

// PhaseSpend returns a copy of a phase's cumulative usage.
func (m *Manager) PhaseSpend(phase Phase) PhaseUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.usage[phase]; ok {
		return *u
	}
	return PhaseUsage{}
}

// Locked helpers. Callers hold m.mu.

func (m *Manager) effectiveBudgetLocked(phase Phase) (int, float64) {
	pct := m.allocations[phase]
	b := m.bonus[phase]
	tokens := int(float64(m.limits.MaxTokens)*pct/100.0) + b.Tokens
	cost := m.limits.MaxCostUSD*pct/100.0 + b.CostUSD
	return tokens, cost
}

// phaseSpendRatioLocked returns spend over effective budget, taking whichever
// of tokens or cost is proportionally larger.
func (m *Manager) phaseSpendRatioLocked(phase Phase) float64 {
	effTokens, effCost := m.effectiveBudgetLocked(phase)
	u := m.usage[phase]
	var tokenPct, costPct float64
	if effTokens > 0 {
		tokenPct = float64(u.Tokens) / float64(effTokens)
	}
	if effCost > 0 {
		costPct = u.CostUSD / effCost
	}
	if tokenPct > costPct {
		return tokenPct
	}
	return costPct
}

func (m *Manager) spendRatioLocked() float64 {
	var tokenPct, costPct float64
	if m.limits.MaxTokens > 0 {
		tokenPct = float64(m.totalTokens) / float64(m.limits.MaxTokens)
	}
	if m.limits.MaxCostUSD > 0 {
		costPct = m.totalCost / m.limits.MaxCostUSD
	}
	if tokenPct > costPct {
		return tokenPct
	}
	return costPct
}

func precedingPhase(phase Phase) (Phase, bool) {
	for i, p := range phaseOrder {
		if p == phase && i > 0 {
			return phaseOrder[i-1], true
		}
	}
	return "", false
}
