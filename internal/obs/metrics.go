package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	votesCastTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "votes_cast_total",
		Help: "Total number of votes durably recorded.",
	})

	votesRevertedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "votes_reverted_total",
		Help: "Total number of votes removed via the compensating revert path.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
		votesCastTotal, votesRevertedTotal)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// VoteCast increments the durable vote counter.
func VoteCast() { votesCastTotal.Inc() }

// VoteReverted increments the compensating-revert counter.
func VoteReverted() { votesRevertedTotal.Inc() }

// CanonicalPath collapses identifier segments so the path label stays at a
// fixed cardinality.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 3 && parts[0] == "v1" {
		switch parts[1] {
		case "sessions":
			parts[2] = ":id"
		case "users":
			if parts[2] != "resolve" {
				parts[2] = ":wallet"
			}
		case "notifications":
			if parts[2] != "respond" {
				if len(parts) == 4 && parts[3] == "read" {
					parts[2] = ":id"
				} else {
					parts[2] = ":wallet"
				}
			}
		}
	}
	return "/" + strings.Join(parts, "/")
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
