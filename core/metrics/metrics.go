package metrics

import (
	"fmt"
	"time"

	"github.com/ajaxbridge/ajaxbridge/consts"
	"github.com/ajaxbridge/ajaxbridge/core/ajax"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

// Transport results, as reported by RequestCompleted.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultTimeout  = "timeout"
	ResultCacheHit = "cache_hit"
)

type Metrics interface {
	RequestCompleted(result string, elapsed time.Duration)
	SubmissionRejected()
	QueueDepth(n int)
	Classified(kind ajax.Kind)
}

type prometheusMetrics struct {
	requests   *prometheus.CounterVec
	duration   prometheus.Histogram
	rejected   prometheus.Counter
	queueDepth prometheus.Gauge
	classified *prometheus.CounterVec
}

// NewPrometheusInstance creates the collectors and registers them with reg.
func NewPrometheusInstance(reg prometheus.Registerer) (Metrics, error) {
	m := &prometheusMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: consts.MetricsNamespace,
			Name:      "requests_total",
			Help:      "Dispatched requests by transport result",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: consts.MetricsNamespace,
			Name:      "transport_duration_seconds",
			Help:      "Time spent in the HTTP transport",
			Buckets:   prometheus.DefBuckets,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: consts.MetricsNamespace,
			Name:      "rejected_submissions_total",
			Help:      "Requests the dispatcher refused because its queue was full or closed",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: consts.MetricsNamespace,
			Name:      "queue_depth",
			Help:      "Requests waiting for a worker",
		}),
		classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: consts.MetricsNamespace,
			Name:      "results_total",
			Help:      "Delivered request results by kind",
		}, []string{"kind"}),
	}

	var errs *multierror.Error
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.rejected, m.queueDepth, m.classified} {
		if err := reg.Register(c); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	return m, nil
}

func (m *prometheusMetrics) RequestCompleted(result string, elapsed time.Duration) {
	m.requests.WithLabelValues(result).Inc()
	if result != ResultCacheHit {
		m.duration.Observe(elapsed.Seconds())
	}
}

func (m *prometheusMetrics) SubmissionRejected() {
	m.rejected.Inc()
}

func (m *prometheusMetrics) QueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *prometheusMetrics) Classified(kind ajax.Kind) {
	m.classified.WithLabelValues(kind.String()).Inc()
}

type noopMetrics struct{}

func NewNoopInstance() Metrics {
	return noopMetrics{}
}

func (noopMetrics) RequestCompleted(string, time.Duration) {}
func (noopMetrics) SubmissionRejected()                    {}
func (noopMetrics) QueueDepth(int)                         {}
func (noopMetrics) Classified(ajax.Kind)                   {}
