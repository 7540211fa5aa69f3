package ledger

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"provenance/go-backend/internal/domains/contracts"
)

const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// Metrics counts ledger operations by outcome. A nil *Metrics is a no-op.
type Metrics struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the ledger collectors on reg. A nil reg falls back to
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Registry and content graph operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "provenance",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Time spent in ledger mutations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.ops, m.duration)
	return m
}

func (m *Metrics) observe(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	switch {
	case err == nil:
	case errors.Is(err, contracts.ErrRegistryRejected):
		outcome = outcomeRejected
	default:
		outcome = outcomeError
	}
	m.ops.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}
