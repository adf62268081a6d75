package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// search sync
	ProcessedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sync_processed_total", Help: "Total processed outbox events"},
	)
	FailedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sync_failed_total", Help: "Total failed outbox events"},
	)
	DLQEvents = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dlq_total", Help: "Total outbox events and notifications inserted into DLQ"},
	)

	// enrollment pipeline
	EnrollmentsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "enrollments_submitted_total", Help: "Enrollments submitted by role"},
		[]string{"role"},
	)
	EnrollmentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "enrollment_transitions_total", Help: "Enrollment state transitions by role and target state"},
		[]string{"role", "state"},
	)
	ScoresRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scores_recorded_total", Help: "Rubric scores recorded or overwritten"},
	)

	// notifications
	NotificationsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifications_enqueued_total", Help: "Notifications enqueued by kind"},
		[]string{"kind"},
	)
	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifications_sent_total", Help: "Notifications delivered by channel"},
		[]string{"channel"},
	)
	NotificationsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifications_failed_total", Help: "Failed delivery attempts by channel"},
		[]string{"channel"},
	)

	// lifecycle
	EventsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "events_purged_total", Help: "Soft-cancelled events purged after the grace window"},
	)
	EventsArchived = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "events_archived_total", Help: "Events archived"},
	)
	EventsFinalized = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "events_finalized_total", Help: "Events finalized after their end date"},
	)
)

func Register() {
	prometheus.MustRegister(
		ProcessedEvents, FailedEvents, DLQEvents,
		EnrollmentsSubmitted, EnrollmentTransitions, ScoresRecorded,
		NotificationsEnqueued, NotificationsSent, NotificationsFailed,
		EventsPurged, EventsArchived, EventsFinalized,
	)
}
