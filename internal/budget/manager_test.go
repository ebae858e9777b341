package budget

import (
	"testing"

	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/pricing"
)

func newTestManager(t *testing.T, mode Mode) *Manager {
	t.Helper()
	return NewManager(mode, pricing.LoadDefault(), zap.NewNop())
}

func TestRecordUsage_TotalsNeverDecrease(t *testing.T) {
	m := newTestManager(t, ModeStandard)
	m.StartPhase(PhaseTriage)

	prevTokens := 0
	prevCost := 0.0
	for i := 0; i < 50; i++ {
		m.RecordUsage(PhaseTriage, "gpt-4o-mini", 100, 50, 0)
		if m.TotalTokensSpent() < prevTokens {
			t.Fatalf("total tokens decreased: %d -> %d", prevTokens, m.TotalTokensSpent())
		}
		if m.TotalCostSpent() < prevCost {
			t.Fatalf("total cost decreased: %f -> %f", prevCost, m.TotalCostSpent())
		}
		prevTokens = m.TotalTokensSpent()
		prevCost = m.TotalCostSpent()
	}
}

func TestStartPhase_TransfersUnspentAllocationOnce(t *testing.T) {
	m := newTestManager(t, ModeStandard)

	m.StartPhase(PhaseTriage)
	triageTokens, _ := m.EffectiveBudget(PhaseTriage)
	// Spend half of triage, leave the rest for transfer.
	m.RecordUsage(PhaseTriage, "", triageTokens/2, 0, 0.001)

	m.StartPhase(PhasePlanning)
	planTokens, _ := m.EffectiveBudget(PhasePlanning)
	basePlan := int(float64(LimitsForMode(ModeStandard).MaxTokens) * AllocationsForMode(ModeStandard)[PhasePlanning] / 100.0)

	wantBonus := triageTokens - triageTokens/2
	if planTokens != basePlan+wantBonus {
		t.Fatalf("expected planning effective %d, got %d", basePlan+wantBonus, planTokens)
	}

	// A second StartPhase for the same phase must not transfer again.
	m.StartPhase(PhasePlanning)
	again, _ := m.EffectiveBudget(PhasePlanning)
	if again != planTokens {
		t.Fatalf("bonus transferred twice: %d -> %d", planTokens, again)
	}
}

func TestStartPhase_NoTransferWhenPreviousOverspent(t *testing.T) {
	m := newTestManager(t, ModeStandard)
	m.StartPhase(PhaseTriage)
	triageTokens, _ := m.EffectiveBudget(PhaseTriage)
	m.RecordUsage(PhaseTriage, "", triageTokens*2, 0, 0.001)

	m.StartPhase(PhasePlanning)
	planTokens, _ := m.EffectiveBudget(PhasePlanning)
	basePlan := int(float64(LimitsForMode(ModeStandard).MaxTokens) * AllocationsForMode(ModeStandard)[PhasePlanning] / 100.0)
	if planTokens != basePlan {
		t.Fatalf("overspent phase must not transfer negative bonus: base %d, got %d", basePlan, planTokens)
	}
}

// Scenario from the standard tier: research at 90% of allocation degrades,
// past 130% it stops.
func TestCanContinue_StandardResearchScenario(t *testing.T) {
	limits := Limits{MaxTokens: 200000, MaxCostUSD: 1.00}
	m := NewManagerWithOptions(ModeStandard, pricing.LoadDefault(), zap.NewNop(), Options{Limits: &limits})

	m.StartPhase(PhaseTriage)
	m.StartPhase(PhasePlanning)
	m.StartPhase(PhaseResearch)

	if d := m.CanContinue(PhaseResearch); d != Proceed {
		t.Fatalf("expected proceed with no spend, got %s", d)
	}

	effTokens, _ := m.EffectiveBudget(PhaseResearch)
	m.RecordUsage(PhaseResearch, "", int(float64(effTokens)*0.9), 0, 0.001)
	if d := m.CanContinue(PhaseResearch); d != Reduce {
		t.Fatalf("expected reduce at 90%% of allocation, got %s", d)
	}

	m.RecordUsage(PhaseResearch, "", int(float64(effTokens)*0.45), 0, 0.001)
	if d := m.CanContinue(PhaseResearch); d != Stop {
		t.Fatalf("expected stop past 130%% of allocation, got %s", d)
	}
}

func TestCanContinue_BreakerCriticalStopsResearchOnly(t *testing.T) {
	limits := Limits{MaxTokens: 10000, MaxCostUSD: 100}
	m := NewManagerWithOptions(ModeStandard, pricing.LoadDefault(), zap.NewNop(), Options{Limits: &limits})
	m.StartPhase(PhaseTriage)

	// 88% of global tokens: breaker critical, but spread thin per phase.
	m.RecordUsage(PhaseOutput, "", 8800, 0, 0.001)

	if lvl := m.Breaker().Level().String(); lvl != "critical" {
		t.Fatalf("expected critical breaker, got %s", lvl)
	}
	if d := m.CanContinue(PhaseResearch); d != Stop {
		t.Fatalf("critical breaker must stop research, got %s", d)
	}
	if d := m.CanContinue(PhaseVerification); d != Stop {
		t.Fatalf("critical breaker must stop verification, got %s", d)
	}
	// Output has overspent its own allocation here, so only assert triage,
	// which has no spend of its own.
	if d := m.CanContinue(PhaseTriage); d == Stop {
		t.Fatalf("critical breaker must not stop triage, got %s", d)
	}
}

func TestCanContinue_WarningBreakerReduces(t *testing.T) {
	limits := Limits{MaxTokens: 10000, MaxCostUSD: 100}
	m := NewManagerWithOptions(ModeStandard, pricing.LoadDefault(), zap.NewNop(), Options{Limits: &limits})
	m.StartPhase(PhaseTriage)

	m.RecordUsage(PhaseOutput, "", 7500, 0, 0.001)
	if lvl := m.Breaker().Level().String(); lvl != "warning" {
		t.Fatalf("expected warning breaker, got %s", lvl)
	}
	if d := m.CanContinue(PhaseTriage); d != Reduce {
		t.Fatalf("warning breaker must reduce, got %s", d)
	}
}

func TestMaxTokensForCall_FloorAndCaps(t *testing.T) {
	limits := Limits{MaxTokens: 1000, MaxCostUSD: 10}
	m := NewManagerWithOptions(ModeStandard, pricing.LoadDefault(), zap.NewNop(), Options{Limits: &limits})
	m.StartPhase(PhaseResearch)

	// Exhaust well past the global budget: the floor still applies.
	m.RecordUsage(PhaseResearch, "", 5000, 0, 0.001)
	if got := m.MaxTokensForCall(CallResearch); got != 100 {
		t.Fatalf("expected floor of 100 tokens, got %d", got)
	}

	big := Limits{MaxTokens: 10_000_000, MaxCostUSD: 1000}
	m2 := NewManagerWithOptions(ModeStandard, pricing.LoadDefault(), zap.NewNop(), Options{Limits: &big})
	m2.StartPhase(PhaseResearch)
	if got := m2.MaxTokensForCall(CallResearch); got != staticCallCaps[CallResearch] {
		t.Fatalf("expected static cap %d, got %d", staticCallCaps[CallResearch], got)
	}
}

func TestRecordUsage_DirectCostOverridesPriceTable(t *testing.T) {
	m := newTestManager(t, ModeStandard)
	m.StartPhase(PhaseResearch)
	m.RecordUsage(PhaseResearch, "unknown-model", 1000, 1000, 0.25)
	if got := m.TotalCostSpent(); got != 0.25 {
		t.Fatalf("expected direct cost 0.25, got %f", got)
	}
}

func TestAddDegradation_Deduplicates(t *testing.T) {
	m := newTestManager(t, ModeStandard)
	m.AddDegradation("research_reduced")
	m.AddDegradation("research_reduced")
	m.AddDegradation("verification_skipped")
	got := m.Degradations()
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct tags, got %v", got)
	}
	if got[0] != "research_reduced" || got[1] != "verification_skipped" {
		t.Fatalf("tags out of order: %v", got)
	}
}

func TestGetSnapshot_ReflectsState(t *testing.T) {
	m := newTestManager(t, ModeDeep)
	m.StartPhase(PhaseTriage)
	m.RecordUsage(PhaseTriage, "", 500, 100, 0.01)
	m.AddDegradation("research_reduced")

	snap := m.GetSnapshot()
	if snap.Mode != ModeDeep {
		t.Fatalf("expected mode deep, got %s", snap.Mode)
	}
	if snap.TotalTokens != 600 {
		t.Fatalf("expected 600 tokens, got %d", snap.TotalTokens)
	}
	if snap.Phases[PhaseTriage].Usage.Calls != 1 {
		t.Fatalf("expected 1 call in triage, got %d", snap.Phases[PhaseTriage].Usage.Calls)
	}
	if len(snap.Degradations) != 1 {
		t.Fatalf("expected degradation in snapshot, got %v", snap.Degradations)
	}
	if snap.Phases[PhaseResearch].AllocatedPct != 52 {
		t.Fatalf("expected deep research allocation 52, got %f", snap.Phases[PhaseResearch].AllocatedPct)
	}
}
