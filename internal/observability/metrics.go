package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "nurse_dispatch", Name: "transitions_total", Help: "Accepted request transitions by action"},
		[]string{"action"},
	)
	TransitionConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "nurse_dispatch", Name: "transition_conflicts_total", Help: "Optimistic-concurrency conflicts observed by the engine"})

	LocationReports = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "nurse_dispatch", Name: "location_reports_total", Help: "Nurse location reports by outcome"},
		[]string{"outcome"},
	)
	NursesReporting = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "nurse_dispatch", Name: "nurses_reporting", Help: "Nurses that have reported a location"})

	MatchQueries = promauto.NewCounter(prometheus.CounterOpts{Namespace: "nurse_dispatch", Name: "match_queries_total", Help: "Candidate lookups served"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "nurse_dispatch", Name: "notifications_dropped_total", Help: "Events dropped because the notification buffer was full"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "nurse_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nurse_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
