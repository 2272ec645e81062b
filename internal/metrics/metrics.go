package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Process-wide collectors. The daemon is single-instance, so package-level
// counters registered against the default registry are sufficient.
var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holod_events_published_total",
		Help: "Events published on the in-process bus, by channel.",
	}, []string{"channel"})

	SubscriberPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holod_subscriber_panics_total",
		Help: "Subscriber callbacks that panicked during delivery, by channel.",
	}, []string{"channel"})

	TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "holod_background_tasks_submitted_total",
		Help: "Tasks accepted by the background runner.",
	})

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holod_background_tasks_completed_total",
		Help: "Tasks finished by the background runner, by outcome.",
	}, []string{"outcome"})

	ArchiveAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holod_archive_attempts_total",
		Help: "Archive attempts, by service and outcome.",
	}, []string{"service", "outcome"})

	LinkProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holod_link_probes_total",
		Help: "Link health probes, by resulting status.",
	}, []string{"status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holod_http_requests_total",
		Help: "API requests served, by route family and status class.",
	}, []string{"route", "class"})
)

// Handler exposes the default registry for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
