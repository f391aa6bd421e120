package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
)

// LedgerMetrics is optional; a nil *LedgerMetrics records nothing.
type LedgerMetrics struct {
	operations     *prometheus.CounterVec
	lockWait       prometheus.Histogram
	unitsConfirmed prometheus.Counter
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farm",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by outcome code.",
		}, []string{"op", "outcome"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "farm",
			Subsystem: "ledger",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a listing lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2},
		}),
		unitsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "farm",
			Subsystem: "ledger",
			Name:      "units_confirmed_total",
			Help:      "Stock units removed by confirmed orders.",
		}),
	}
	reg.MustRegister(m.operations, m.lockWait, m.unitsConfirmed)
	return m
}

func (m *LedgerMetrics) recordOperation(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(domain.CodeOf(err))
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *LedgerMetrics) observeLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

func (m *LedgerMetrics) addUnitsConfirmed(n int) {
	if m == nil {
		return
	}
	m.unitsConfirmed.Add(float64(n))
}
