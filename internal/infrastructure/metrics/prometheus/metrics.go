package prometheusmetrics

import (
	"net/http"
	"time"

	"github.com/hero-dungeon/dungeond/internal/core/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dungeond"

type Metrics interface {
	ports.Metrics
	Handler() http.Handler
}

type metrics struct {
	registry      *prometheus.Registry
	attempts      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	oracleLatency *prometheus.HistogramVec
	chainEvents   *prometheus.CounterVec
	ignored       *prometheus.CounterVec
}

// NewMetrics registers the collectors on a dedicated registry along with
// the go runtime and process ones.
func NewMetrics() Metrics {
	registry := prometheus.NewRegistry()
	m := &metrics{
		registry: registry,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Ended dungeon attempts by result.",
		}, []string{"result"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each stage of a dungeon attempt.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_fetch_seconds",
			Help:      "Latency of price update fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		chainEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_events_total",
			Help:      "Contract events received by type.",
		}, []string{"type"}),
		ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_events_ignored_total",
			Help:      "Contract events not matching the attempt in flight.",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.attempts, m.stageDuration, m.oracleLatency, m.chainEvents, m.ignored,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *metrics) AttemptEnded(result string) {
	m.attempts.WithLabelValues(result).Inc()
}

func (m *metrics) StageCompleted(stage string, elapsed time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *metrics) OracleFetched(elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.oracleLatency.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (m *metrics) ChainEventReceived(name string) {
	m.chainEvents.WithLabelValues(name).Inc()
}

func (m *metrics) ChainEventIgnored(reason string) {
	m.ignored.WithLabelValues(reason).Inc()
}
