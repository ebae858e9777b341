package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_runs_started_total",
			Help: "Total number of research runs started",
		},
		[]string{"mode"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_runs_completed_total",
			Help: "Total number of research runs completed",
		},
		[]string{"mode", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fathom_run_duration_seconds",
			Help:    "Research run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// Phase metrics
	PhaseTokensUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fathom_phase_tokens_used",
			Help:    "Tokens consumed per pipeline phase",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
		},
		[]string{"phase"},
	)

	PhaseCostUSD = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fathom_phase_cost_usd",
			Help:    "Cost in USD per pipeline phase",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"phase"},
	)

	BudgetDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_budget_decisions_total",
			Help: "CanContinue decisions returned by the budget manager",
		},
		[]string{"phase", "decision"},
	)

	// Circuit breaker metrics
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_circuit_breaker_transitions_total",
			Help: "Circuit breaker level transitions",
		},
		[]string{"from", "to"},
	)

	// Source registry metrics
	SourcesRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_sources_registered_total",
			Help: "Total sources added to the registry",
		},
	)

	SourceDedupHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_source_dedup_hits_total",
			Help: "Citations deduplicated against an existing source",
		},
	)

	SourceValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_source_validations_total",
			Help: "URL validation probe outcomes",
		},
		[]string{"outcome"},
	)

	// Verification metrics
	ClaimsVerified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_claims_verified_total",
			Help: "Claim verification outcomes",
		},
		[]string{"status"},
	)

	VerificationLevelSelected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_verification_level_selected_total",
			Help: "Verification level chosen per run",
		},
		[]string{"mode", "level"},
	)

	// Pricing metrics
	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_pricing_fallbacks_total",
			Help: "Cost computations that fell back to the default price",
		},
		[]string{"reason"},
	)

	// Provider metrics
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_provider_calls_total",
			Help: "External generation calls by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fathom_provider_call_duration_ms",
			Help:    "Provider call duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"role"},
	)
)
