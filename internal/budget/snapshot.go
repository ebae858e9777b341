package budget

import (
	"github.com/fathomlabs/fathom/internal/circuitbreaker"
)

// PhaseSnapshot is the reported state of one phase.
type PhaseSnapshot struct {
	Usage           PhaseUsage `json:"usage"`
	Bonus           PhaseBonus `json:"bonus"`
	AllocatedPct    float64    `json:"allocated_pct"`
	EffectiveTokens int        `json:"effective_tokens"`
	EffectiveCost   float64    `json:"effective_cost_usd"`
}

// Snapshot is a serializable view of the budget state, embedded in the final
// report for cost transparency and consumed by the billing collaborator.
type Snapshot struct {
	Mode           Mode                    `json:"mode"`
	Limits         Limits                  `json:"limits"`
	Phases         map[Phase]PhaseSnapshot `json:"phases"`
	TotalTokens    int                     `json:"total_tokens"`
	TotalCostUSD   float64                 `json:"total_cost_usd"`
	SpendRatio     float64                 `json:"spend_ratio"`
	CircuitBreaker circuitbreaker.State    `json:"circuit_breaker"`
	Degradations   []string                `json:"degradations"`
}

// GetSnapshot assembles the current budget state.
func (m *Manager) GetSnapshot() Snapshot {
	m.mu.RLock()
	phases := make(map[Phase]PhaseSnapshot, len(phaseOrder))
	for _, p := range phaseOrder {
		effTokens, effCost := m.effectiveBudgetLocked(p)
		phases[p] = PhaseSnapshot{
			Usage:           *m.usage[p],
			Bonus:           *m.bonus[p],
			AllocatedPct:    m.allocations[p],
			EffectiveTokens: effTokens,
			EffectiveCost:   effCost,
		}
	}
	snap := Snapshot{
		Mode:         m.mode,
		Limits:       m.limits,
		Phases:       phases,
		TotalTokens:  m.totalTokens,
		TotalCostUSD: m.totalCost,
		SpendRatio:   m.spendRatioLocked(),
		Degradations: append([]string(nil), m.degradations...),
	}
	m.mu.RUnlock()

	snap.CircuitBreaker = m.breaker.Snapshot()
	return snap
}
