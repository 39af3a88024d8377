// Package monitoring provides metrics and tracing for the client and the
// local job API emulator.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Client metrics
	clientRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoeditor_client_requests_total",
			Help: "Total number of requests sent to the job API",
		},
		[]string{"endpoint", "outcome"},
	)

	clientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoeditor_client_request_duration_seconds",
			Help:    "Duration of job API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	pollAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoeditor_poll_attempts_total",
			Help: "Status poll attempts by outcome",
		},
		[]string{"outcome"},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoeditor_submissions_total",
			Help: "Upload submissions by outcome",
		},
		[]string{"outcome"},
	)

	// Emulator metrics
	emulatorJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoeditor_emulator_jobs_total",
			Help: "Jobs finished by the local emulator, by final status",
		},
		[]string{"status"},
	)

	emulatorQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autoeditor_emulator_queue_size",
			Help: "Current number of queued emulator jobs",
		},
	)

	emulatorHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoeditor_emulator_http_requests_total",
			Help: "HTTP requests served by the local emulator",
		},
		[]string{"method", "route", "code"},
	)
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// RecordClientRequest records one job API round trip.
func RecordClientRequest(endpoint, outcome string, duration time.Duration) {
	clientRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	clientRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func RecordPoll(outcome string) {
	pollAttemptsTotal.WithLabelValues(outcome).Inc()
}

func RecordSubmission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

func RecordEmulatorJob(status string) {
	emulatorJobsTotal.WithLabelValues(status).Inc()
}

func UpdateEmulatorQueueSize(size int) {
	emulatorQueueSize.Set(float64(size))
}

func RecordEmulatorRequest(method, route string, code int) {
	emulatorHTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
