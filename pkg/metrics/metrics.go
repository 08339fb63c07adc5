package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for one action run. There is no
// scrape endpoint in an action; the registry is gathered at the end of the
// run and embedded in the JSON report.
type Metrics struct {
	registry *prometheus.Registry

	APIRequestsTotal   *prometheus.CounterVec
	APIErrorsTotal     *prometheus.CounterVec
	RetryAttemptsTotal *prometheus.CounterVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	ControlsEvaluated  *prometheus.CounterVec
	LLMRequestsTotal   *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

const namespace = "auditlane"

// NewMetrics creates and registers all instruments on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Outbound API requests by endpoint namespace and outcome",
		}, []string{"endpoint", "outcome"}),
		APIErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_errors_total",
			Help:      "Classified API failures by taxonomy code",
		}, []string{"code"}),
		RetryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Retry attempts by endpoint namespace",
		}, []string{"endpoint"}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Response cache hits",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Response cache misses",
		}),
		ControlsEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controls_evaluated_total",
			Help:      "Compliance controls evaluated by framework and status",
		}, []string{"framework", "status"}),
		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM analysis requests by outcome",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Outbound request latency by endpoint namespace",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}

	registry.MustRegister(
		m.APIRequestsTotal,
		m.APIErrorsTotal,
		m.RetryAttemptsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ControlsEvaluated,
		m.LLMRequestsTotal,
		m.RequestDuration,
	)
	return m
}

// Snapshot gathers every counter into a flat map for the run report.
// Histogram series are reported as their sample counts.
func (m *Metrics) Snapshot() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			key := family.GetName()
			if labels := metric.GetLabel(); len(labels) > 0 {
				pairs := make([]string, 0, len(labels))
				for _, label := range labels {
					pairs = append(pairs, fmt.Sprintf("%s=%s", label.GetName(), label.GetValue()))
				}
				sort.Strings(pairs)
				key += "{" + strings.Join(pairs, ",") + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[key] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				out[key] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
