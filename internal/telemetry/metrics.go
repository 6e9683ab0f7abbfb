package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "namebroker",
			Name:      "registrations_total",
			Help:      "Local registration attempts by outcome.",
		},
		[]string{"outcome"},
	)

	DirectoryEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "namebroker",
			Name:      "directory_entries",
			Help:      "Known names by origin and reachability.",
		},
		[]string{"origin", "state"},
	)

	LearnedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "namebroker",
			Name:      "learned_events_total",
			Help:      "Learned add/remove events applied from coalesced batches.",
		},
		[]string{"kind"},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "namebroker",
			Name:      "coalesced_batch_size",
			Help:      "Number of learned events flushed per scheduling pass.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	HistoryVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "namebroker",
			Name:      "history_version",
			Help:      "Latest published history version.",
		},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "namebroker",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "namebroker",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "namebroker",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and commit).",
		},
		[]string{"version", "commit"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "namebroker",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		RegistrationsTotal,
		DirectoryEntries,
		LearnedEventsTotal,
		BatchSize,
		HistoryVersion,
		RequestsTotal,
		RequestDuration,
		buildInfo,
		uptime,
	)
}

// MetricsHandler exposes the registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the instrumentation.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Instrument wraps next to record request count and latency under op.
func Instrument(op string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			class := strconv.Itoa(sw.status/100) + "xx"
			RequestsTotal.WithLabelValues(op, class).Inc()
			RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		})
	}
}
