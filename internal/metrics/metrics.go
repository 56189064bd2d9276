// Package metrics exposes Prometheus collectors for the consensus engine,
// rate limiter, scheduler, and webhook dispatcher, adapted from the
// corpus's metrics registry (same registry-plus-HandlerFor shape, narrowed
// to this service's own subsystems).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the service's Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "provenance",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	consensusDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "provenance",
			Subsystem: "consensus",
			Name:      "score_duration_seconds",
			Help:      "Duration of consensus scoring calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"outcome"},
	)

	consensusProviderVotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "consensus",
			Name:      "provider_votes_total",
			Help:      "Total per-provider votes grouped by status.",
		},
		[]string{"provider", "status"},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total requests rejected by the rate limiter.",
		},
		[]string{"bucket", "reason"},
	)

	schedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Total scheduled job runs grouped by outcome.",
		},
		[]string{"handle", "outcome"},
	)

	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Total webhook delivery attempts grouped by outcome.",
		},
		[]string{"outcome"},
	)

	webhookDeadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "webhook",
			Name:      "dead_lettered_total",
			Help:      "Total webhook items moved to the dead-letter log.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		consensusDuration,
		consensusProviderVotes,
		rateLimitRejections,
		schedulerRuns,
		webhookDeliveries,
		webhookDeadLettered,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with per-request HTTP metrics.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// RecordConsensusScore records the latency and outcome of one Score call.
func RecordConsensusScore(outcome string, duration time.Duration) {
	consensusDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordProviderVote records one provider's terminal status for a call.
func RecordProviderVote(provider, status string) {
	consensusProviderVotes.WithLabelValues(provider, status).Inc()
}

// RecordRateLimitRejection records a rejected request.
func RecordRateLimitRejection(bucket, reason string) {
	rateLimitRejections.WithLabelValues(bucket, reason).Inc()
}

// RecordSchedulerRun records one scheduled job run's outcome.
func RecordSchedulerRun(handle, outcome string) {
	schedulerRuns.WithLabelValues(handle, outcome).Inc()
}

// RecordWebhookDelivery records one delivery attempt's outcome.
func RecordWebhookDelivery(outcome string) {
	webhookDeliveries.WithLabelValues(outcome).Inc()
}

// RecordWebhookDeadLetter increments the dead-letter counter.
func RecordWebhookDeadLetter() {
	webhookDeadLettered.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
