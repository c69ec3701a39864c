package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "thalamus"

var (
	Registry = prometheus.NewRegistry()

	DiscoveryRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_runs_total",
			Help:      "Discovery strategy runs by outcome.",
		},
		[]string{"strategy", "result"},
	)

	Probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Remote probes issued by discovery strategies.",
		},
		[]string{"strategy", "result"},
	)

	KnownNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "known_nodes",
		Help:      "Nodes in the registry, online or not.",
	})

	OnlineNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "online_nodes",
		Help:      "Nodes currently flagged online.",
	})

	BenchmarkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "benchmark_axis_seconds",
			Help:      "Latency of capability benchmark probes.",
			// 50ms .. ~7min
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"axis"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and node id).",
		},
		[]string{"version", "node_id"},
	)
)

func init() {
	Registry.MustRegister(DiscoveryRuns, Probes, KnownNodes, OnlineNodes,
		BenchmarkDuration, RequestsTotal, RequestDuration, buildInfo)
}

// MetricsHandler exposes the private registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo is called once at startup.
func SetBuildInfo(version, nodeID string) {
	buildInfo.WithLabelValues(version, nodeID).Set(1)
}

// Outcome maps an error to a result label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps next to record request metrics under op.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
