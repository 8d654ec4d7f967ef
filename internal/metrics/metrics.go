// Package metrics holds the Prometheus collectors for the detention core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry served at /metrics.
	Registry = prometheus.NewRegistry()

	// SessionTransitions counts session lifecycle transitions by kind.
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "detention_session_transitions_total", Help: "Session transitions by kind (start, end, reset)."},
		[]string{"kind"},
	)

	// CapturedEntries counts queued evidence entries by type.
	CapturedEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "detention_captured_entries_total", Help: "GPS points and photos appended to the offline queue."},
		[]string{"type"},
	)

	// SyncRuns counts sync attempts by outcome (ok, error, skipped).
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "detention_sync_runs_total", Help: "Offline queue sync attempts by outcome."},
		[]string{"outcome"},
	)

	// SyncDuration records the duration of sync runs in seconds.
	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "detention_sync_duration_seconds", Help: "Offline queue sync duration in seconds.", Buckets: prometheus.DefBuckets},
	)

	// GeofenceEvents counts geofence crossings by kind (enter, exit).
	GeofenceEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "detention_geofence_events_total", Help: "Geofence boundary crossings."},
		[]string{"kind"},
	)

	// LocationFailures counts failed location fetches.
	LocationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "detention_location_failures_total", Help: "Failed location fetches."},
	)

	// RemoteCalls counts event store calls by operation and outcome.
	RemoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "detention_remote_calls_total", Help: "Remote event store calls."},
		[]string{"op", "outcome"},
	)

	// NotificationsScheduled counts scheduled and fired reminders.
	NotificationsScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "detention_notifications_total", Help: "Reminder notifications by state (scheduled, fired, cancelled)."},
		[]string{"state"},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on Registry. Safe to call twice.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(
			SessionTransitions,
			CapturedEntries,
			SyncRuns,
			SyncDuration,
			GeofenceEvents,
			LocationFailures,
			RemoteCalls,
			NotificationsScheduled,
		)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Outcome maps an error to the "ok"/"error" label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
