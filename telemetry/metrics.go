// Package telemetry provides Prometheus metrics and OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CyclesRun     *prometheus.CounterVec // loop=stream_check|team_sync
	CyclesSkipped *prometheus.CounterVec
	CyclesAborted *prometheus.CounterVec
	Probes        *prometheus.CounterVec // platform, outcome=live|offline|error

	AnnouncementsCreated prometheus.Counter
	AnnouncementsEdited  prometheus.Counter
	AnnouncementsDeleted prometheus.Counter
	RoleAdds             prometheus.Counter
	RoleRemoves          prometheus.Counter
	ConfigRepairs        prometheus.Counter
	DeliveryFailures     prometheus.Counter

	// Histograms (seconds)
	CycleDuration *prometheus.HistogramVec

	// Gauges
	LiveStreamsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CyclesRun = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamwatch_cycles_run_total", Help: "Reconciliation cycles started"}, []string{"loop"})
		CyclesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamwatch_cycles_skipped_total", Help: "Ticks skipped because the previous cycle was still running"}, []string{"loop"})
		CyclesAborted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamwatch_cycles_aborted_total", Help: "Cycles aborted by a fatal error (e.g., datastore unreachable)"}, []string{"loop"})
		Probes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamwatch_probes_total", Help: "Live-status probes by platform and outcome"}, []string{"platform", "outcome"})
		AnnouncementsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_announcements_created_total", Help: "Announcement messages posted"})
		AnnouncementsEdited = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_announcements_edited_total", Help: "Announcement messages edited in place"})
		AnnouncementsDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_announcements_deleted_total", Help: "Announcement messages deleted"})
		RoleAdds = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_role_adds_total", Help: "Live-role assignments"})
		RoleRemoves = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_role_removes_total", Help: "Live-role removals"})
		ConfigRepairs = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_config_repairs_total", Help: "Stale role/channel/message references self-healed"})
		DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_delivery_failures_total", Help: "Chat-platform writes rejected (retried next cycle)"})
		CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "streamwatch_cycle_duration_seconds", Help: "Reconciliation cycle wall time", Buckets: prometheus.DefBuckets}, []string{"loop"})
		LiveStreamsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streamwatch_live_streams", Help: "Streamers currently observed live"})
	})
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the cycle correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with the corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
