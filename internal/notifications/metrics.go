package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Dharshni15/job/internal/domain"
)

const namespace = "jobportal"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "queue_size",
			Help:      "Number of delivery jobs by status",
		},
		[]string{"status"},
	)

	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "jobs_processed_total",
			Help:      "Delivery jobs processed by outcome",
		},
		[]string{"category", "outcome"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "send_duration_seconds",
			Help:      "Time spent in the outbound transport call",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"category"},
	)

	notificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "created_total",
			Help:      "Notifications created by category",
		},
		[]string{"category"},
	)

	digestJobsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "digest",
			Name:      "jobs_created_total",
			Help:      "Digest delivery jobs created by schedule",
		},
		[]string{"schedule"},
	)

	renderFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "render_fallbacks_total",
			Help:      "Deliveries that used the generated fallback body",
		},
	)
)

// Processing outcomes recorded on jobsProcessed.
const (
	outcomeSent      = "sent"
	outcomeFailed    = "failed"
	outcomeRetry     = "retry"
	outcomeCancelled = "cancelled"
	outcomeDeferred  = "deferred"
	outcomeLostRace  = "lost_race"
)

func recordJobProcessed(cat domain.Category, outcome string) {
	jobsProcessed.WithLabelValues(string(cat), outcome).Inc()
}

func recordSendDuration(cat domain.Category, d time.Duration) {
	sendDuration.WithLabelValues(string(cat)).Observe(d.Seconds())
}

func recordNotificationCreated(cat domain.Category) {
	notificationsCreated.WithLabelValues(string(cat)).Inc()
}

func recordDigestJobCreated(schedule string) {
	digestJobsCreated.WithLabelValues(schedule).Inc()
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *domain.QueueStats) {
	queueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	queueSize.WithLabelValues("processing").Set(float64(stats.Processing))
	queueSize.WithLabelValues("sent").Set(float64(stats.Sent))
	queueSize.WithLabelValues("failed").Set(float64(stats.Failed))
	queueSize.WithLabelValues("cancelled").Set(float64(stats.Cancelled))
}
