// Package metrics holds the prometheus collectors for the service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attendance_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	panicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_panics_total",
		Help: "Total panics recovered by the web layer.",
	})

	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_submissions_total",
		Help: "Total attendance entries submitted to the ledger by outcome.",
	}, []string{"outcome"})

	stampAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_stamp_attempts",
		Help:    "Nonce attempts needed to stamp a record.",
		Buckets: prometheus.ExponentialBuckets(16, 4, 10),
	})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_persist_failures_total",
		Help: "Total audit store writes that failed after a successful ledger write.",
	})
)

// RecordRequest records a completed HTTP request.
func RecordRequest(method, path string, status int, d time.Duration) {
	requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordPanic records a recovered panic.
func RecordPanic() {
	panicsTotal.Inc()
}

// RecordSubmission records the outcome of a single attendance entry.
func RecordSubmission(success bool) {
	if success {
		submissionsTotal.WithLabelValues("success").Inc()
		return
	}
	submissionsTotal.WithLabelValues("failure").Inc()
}

// RecordStamp records the number of attempts a stamp took.
func RecordStamp(attempts uint64) {
	stampAttempts.Observe(float64(attempts))
}

// RecordPersistFailure records an audit store write that was lost.
func RecordPersistFailure() {
	persistFailures.Inc()
}
