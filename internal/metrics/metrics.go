// Package metrics exposes Prometheus collectors for the extraction pipeline
// and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventposter"

// Port names used as the "port" label.
const (
	PortText  = "text"
	PortField = "field"
)

// Fallback reasons used as the "reason" label.
const (
	FallbackPortError    = "port_error"
	FallbackInsufficient = "insufficient"
)

var (
	extractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Completed extractions by final route and result (success, error)",
		},
		[]string{"route", "result"},
	)

	fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Fallbacks from the text route to the vision route by reason",
		},
		[]string{"reason"},
	)

	portReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "port_requests_total",
			Help:      "External port calls by port, provider and result",
		},
		[]string{"port", "provider", "result"},
	)

	portLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "port_duration_seconds",
			Help:      "Duration of external port calls by port and provider",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"port", "provider"},
	)

	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by method, path and status",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

var initOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(extractions, fallbacks, portReqs, portLatency, httpLatency)
	})
}

// Handler returns the http.Handler for /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// ObserveExtraction counts a finished extraction.
func ObserveExtraction(route string, ok bool) {
	extractions.WithLabelValues(route, resultLabel(ok)).Inc()
}

// IncFallback counts a fallback to the vision route.
func IncFallback(reason string) { fallbacks.WithLabelValues(reason).Inc() }

// ObservePort records one external port call.
func ObservePort(port, provider string, ok bool, dur time.Duration) {
	portReqs.WithLabelValues(port, provider, resultLabel(ok)).Inc()
	portLatency.WithLabelValues(port, provider).Observe(dur.Seconds())
}

// ObserveHTTP records one served HTTP request.
func ObserveHTTP(method, path string, status int, dur time.Duration) {
	httpLatency.WithLabelValues(method, path, strconv.Itoa(status)).Observe(dur.Seconds())
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
