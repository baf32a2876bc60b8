package metrics

import (
	"time"

	"github.com/Layr-Labs/eigensdk-go/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MetricsGenerator interface {
	metrics.Metrics

	// status is "ok" or "error"
	IncUserOperationSent(version, status string)
	IncBundlerRequestFailure(method string)
	IncDropAndReplace()

	ObserveWaitAttempts(attempts int)
	ObserveWaitDuration(d time.Duration)
}

// AAMetrics contains the counters incremented by the smart account client.
type AAMetrics struct {
	metrics.Metrics

	numUserOpSent       *prometheus.CounterVec
	numBundlerFailures  *prometheus.CounterVec
	numDropAndReplace   prometheus.Counter
	receiptWaitAttempts prometheus.Histogram
	receiptWaitSeconds  prometheus.Histogram
}

const aaNamespace = "ap_aa"

// NewAAMetrics registers the collectors with reg. A nil reg keeps them
// unregistered, which is what tests and one-shot CLI commands want.
func NewAAMetrics(eigenMetrics metrics.Metrics, reg prometheus.Registerer) *AAMetrics {
	return &AAMetrics{
		Metrics: eigenMetrics,

		numUserOpSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: aaNamespace,
				Name:      "num_user_operations_sent_total",
				Help:      "The number of user operations submitted to the bundler",
			}, []string{"version", "status"}),

		numBundlerFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: aaNamespace,
				Name:      "num_bundler_failures_total",
				Help:      "The number of bundler JSON-RPC calls that returned an error",
			}, []string{"method"}),

		numDropAndReplace: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: aaNamespace,
				Name:      "num_drop_and_replace_total",
				Help:      "The number of user operations resubmitted with bumped fees",
			}),

		receiptWaitAttempts: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: aaNamespace,
				Name:      "receipt_wait_attempts",
				Help:      "The number of receipt polls needed before a user operation was mined",
				Buckets:   []float64{1, 2, 3, 5, 8, 13},
			}),

		receiptWaitSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: aaNamespace,
				Name:      "receipt_wait_seconds",
				Help:      "Time from the first receipt poll until a user operation was mined",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
			}),
	}
}

// NewNoopMetrics returns unregistered collectors on top of the eigensdk no-op
// metrics.
func NewNoopMetrics() *AAMetrics {
	return NewAAMetrics(metrics.NewNoopMetrics(), nil)
}

func (m *AAMetrics) IncUserOperationSent(version, status string) {
	m.numUserOpSent.WithLabelValues(version, status).Inc()
}

func (m *AAMetrics) IncBundlerRequestFailure(method string) {
	m.numBundlerFailures.WithLabelValues(method).Inc()
}

func (m *AAMetrics) IncDropAndReplace() {
	m.numDropAndReplace.Inc()
}

func (m *AAMetrics) ObserveWaitAttempts(attempts int) {
	m.receiptWaitAttempts.Observe(float64(attempts))
}

func (m *AAMetrics) ObserveWaitDuration(d time.Duration) {
	m.receiptWaitSeconds.Observe(d.Seconds())
}
