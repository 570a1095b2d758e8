package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clipmeter"

// HistogramBuckets are latency buckets in milliseconds. Render submissions can
// take tens of seconds, so the tail is long.
var HistogramBuckets = []float64{
	25, 50, 75, 100, 150, 200, 300, 400, 500,
	750, 1000, 1500, 2000,
	3000, 5000, 7500, 10000, 15000,
	30000, 60000, 120000,
}

var (
	EntitlementDecisionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entitlement_decisions_total",
		Help:      "Entitlement decisions partitioned by outcome and funding channel.",
	}, []string{"outcome", "channel"})

	LedgerOperationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_operations_total",
		Help:      "Credit ledger operations partitioned by kind and result.",
	}, []string{"kind", "result"})

	BusinessProcessDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "process_duration_ms",
		Help:      "Latency of business steps in milliseconds.",
		Buckets:   HistogramBuckets,
	}, []string{"type", "subtype"})
)

func init() {
	prometheus.MustRegister(EntitlementDecisionTotal, LedgerOperationTotal, BusinessProcessDuration)
}

// ObserveProcess records the latency of a named business step.
func ObserveProcess(typ, subtype string, start time.Time) {
	BusinessProcessDuration.WithLabelValues(typ, subtype).Observe(MillisecondsSince(start))
}

// MillisecondsSince returns the elapsed time since start in fractional milliseconds.
func MillisecondsSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
