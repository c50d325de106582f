package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"handler", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms..~10s
		},
		[]string{"handler", "method"},
	)
	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "http_rate_limited_total", Help: "Requests rejected by the rate limiter."},
	)

	// Letters
	LetterOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "letter_operations_total", Help: "Letter operation outcomes."},
		[]string{"op", "result"}, // submit|retrieve|reply x ok|invalid|too_large|conflict|not_found|expired|error
	)

	// Sweeper
	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "letter_sweep_runs_total", Help: "Sweep runs by result."},
		[]string{"result"}, // ok | error
	)
	SweepRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "letter_sweep_removed_total", Help: "Expired letters removed by sweeps."},
	)
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "letter_sweep_duration_seconds",
			Help:    "Sweep latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms..~8s
		},
	)
)

var registerOnce sync.Once

// MustRegister adds our collectors to the default registry, which already
// carries the Go and process collectors. Safe to call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequests, HTTPDuration, RateLimited,
			LetterOps,
			SweepRuns, SweepRemoved, SweepDuration,
		)
	})
}
