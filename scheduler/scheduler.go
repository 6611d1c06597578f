// Package scheduler drives the two recurring control loops: the stream-check
// cycle and the slower team-roster cycle. Each loop has its own re-entrancy
// guard; a tick that fires while the previous cycle for that loop is still
// executing is skipped entirely and logged.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/streamwatch/db"
	"github.com/onnwee/streamwatch/platform"
	"github.com/onnwee/streamwatch/telemetry"
)

// Snapshotter produces the immutable read-phase snapshot for one cycle.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*db.Snapshot, error)
}

// Prober fans the cycle's distinct streamers out to platform adapters.
type Prober interface {
	Run(ctx context.Context, refs []platform.Ref) map[int64]platform.LiveStatus
}

// Reconciler converges one aspect of downstream state against fresh statuses.
type Reconciler interface {
	Reconcile(ctx context.Context, snap *db.Snapshot, live map[int64]platform.LiveStatus)
}

// TeamSyncer reconciles tracked team rosters into the subscription table.
type TeamSyncer interface {
	Sync(ctx context.Context) error
}

type Scheduler struct {
	store     Snapshotter
	prober    Prober
	announcer Reconciler
	roles     Reconciler
	teams     TeamSyncer

	streamInterval time.Duration
	teamInterval   time.Duration

	streamBusy atomic.Bool
	teamBusy   atomic.Bool
}

func New(store Snapshotter, prober Prober, announcer, roles Reconciler, teams TeamSyncer, streamInterval, teamInterval time.Duration) *Scheduler {
	return &Scheduler{
		store:          store,
		prober:         prober,
		announcer:      announcer,
		roles:          roles,
		teams:          teams,
		streamInterval: streamInterval,
		teamInterval:   teamInterval,
	}
}

// Run starts both loops and blocks until ctx is canceled. An in-flight cycle
// finishes; there is no user-facing cancellation beyond process shutdown.
// The team loop is skipped entirely when no syncer is configured.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.loop(ctx, "stream_check", s.streamInterval, s.RunStreamCycle)
	}()
	if s.teams != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, "team_sync", s.teamInterval, s.RunTeamCycle)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, cycle func(ctx context.Context)) {
	slog.Info("loop started", slog.String("loop", name), slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("loop stopped", slog.String("loop", name))
			return
		case <-ticker.C:
			cycle(ctx)
		}
	}
}

// RunStreamCycle executes one stream-check reconciliation cycle: read phase
// (snapshot), probe phase, then announcement and role reconciliation against
// the same snapshot and live map.
func (s *Scheduler) RunStreamCycle(ctx context.Context) {
	if !s.streamBusy.CompareAndSwap(false, true) {
		slog.Warn("stream check tick skipped: previous cycle still running")
		if telemetry.CyclesSkipped != nil {
			telemetry.CyclesSkipped.WithLabelValues("stream_check").Inc()
		}
		return
	}
	defer s.streamBusy.Store(false)

	corr := uuid.NewString()[:8]
	ctx = telemetry.WithCorrelation(ctx, corr)
	ctx, span := telemetry.StartSpan(ctx, "streamwatch/scheduler", "stream_check_cycle")
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx)
	start := time.Now()
	if telemetry.CyclesRun != nil {
		telemetry.CyclesRun.WithLabelValues("stream_check").Inc()
	}

	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		// datastore unreachable: abort the whole cycle, next tick retries
		log.Error("cycle aborted: snapshot failed", slog.Any("err", err))
		telemetry.RecordError(span, err)
		if telemetry.CyclesAborted != nil {
			telemetry.CyclesAborted.WithLabelValues("stream_check").Inc()
		}
		return
	}

	refs := make([]platform.Ref, 0, len(snap.Subscriptions))
	for _, sub := range snap.Subscriptions {
		refs = append(refs, platform.Ref{
			StreamerID:  sub.StreamerID,
			Platform:    platform.Name(sub.Streamer.Platform),
			ExternalID:  sub.Streamer.ExternalID,
			DisplayName: sub.Streamer.DisplayName,
			AvatarURL:   sub.Streamer.AvatarURL,
		})
	}
	pctx, probeSpan := telemetry.StartSpan(ctx, "streamwatch/scheduler", "probe_phase")
	live := s.prober.Run(pctx, refs)
	probeSpan.End()

	liveCount := 0
	for _, st := range live {
		if st.IsLive {
			liveCount++
		}
	}
	if telemetry.LiveStreamsGauge != nil {
		telemetry.LiveStreamsGauge.Set(float64(liveCount))
	}
	span.SetAttributes(
		attribute.Int("subscriptions", len(snap.Subscriptions)),
		attribute.Int("streamers_probed", len(live)),
		attribute.Int("streamers_live", liveCount),
	)

	actx, annSpan := telemetry.StartSpan(ctx, "streamwatch/scheduler", "announce_phase")
	s.announcer.Reconcile(actx, snap, live)
	annSpan.End()

	rctx, roleSpan := telemetry.StartSpan(ctx, "streamwatch/scheduler", "role_phase")
	s.roles.Reconcile(rctx, snap, live)
	roleSpan.End()

	d := time.Since(start)
	if telemetry.CycleDuration != nil {
		telemetry.CycleDuration.WithLabelValues("stream_check").Observe(d.Seconds())
	}
	log.Debug("stream check cycle complete",
		slog.Duration("took", d),
		slog.Int("subscriptions", len(snap.Subscriptions)),
		slog.Int("live", liveCount))
}

// RunTeamCycle executes one team-roster synchronization cycle.
func (s *Scheduler) RunTeamCycle(ctx context.Context) {
	if !s.teamBusy.CompareAndSwap(false, true) {
		slog.Warn("team sync tick skipped: previous cycle still running")
		if telemetry.CyclesSkipped != nil {
			telemetry.CyclesSkipped.WithLabelValues("team_sync").Inc()
		}
		return
	}
	defer s.teamBusy.Store(false)

	ctx = telemetry.WithCorrelation(ctx, uuid.NewString()[:8])
	ctx, span := telemetry.StartSpan(ctx, "streamwatch/scheduler", "team_sync_cycle")
	defer span.End()
	start := time.Now()
	if telemetry.CyclesRun != nil {
		telemetry.CyclesRun.WithLabelValues("team_sync").Inc()
	}

	if err := s.teams.Sync(ctx); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("team sync cycle aborted", slog.Any("err", err))
		telemetry.RecordError(span, err)
		if telemetry.CyclesAborted != nil {
			telemetry.CyclesAborted.WithLabelValues("team_sync").Inc()
		}
		return
	}
	if telemetry.CycleDuration != nil {
		telemetry.CycleDuration.WithLabelValues("team_sync").Observe(time.Since(start).Seconds())
	}
}
