package circuitbreaker

import (
	"github.com/fathomlabs/fathom/internal/metrics"
)

func recordTransition(from, to Level) {
	metrics.BreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
}
