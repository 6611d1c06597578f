// Package probe fans one reconciliation cycle's distinct streamers out to
// their platform adapters and classifies failures. A probe that errors
// contributes "not live" and a warning; it never aborts sibling probes or the
// cycle.
package probe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/streamwatch/platform"
	"github.com/onnwee/streamwatch/telemetry"
)

// ProfileStore receives incidental profile refreshes observed by probes.
type ProfileStore interface {
	UpdateStreamerProfile(ctx context.Context, id int64, displayName, avatarURL string) error
}

// Orchestrator runs probes with bounded per-probe timeouts and owns the
// cycle-scoped browser resource.
type Orchestrator struct {
	registry *platform.Registry
	store    ProfileStore
	timeout  time.Duration
	// launchBrowser may be nil, disabling browser-backed adapters.
	launchBrowser func(ctx context.Context) (*platform.Browser, error)
}

func New(registry *platform.Registry, store ProfileStore, timeout time.Duration, launchBrowser func(ctx context.Context) (*platform.Browser, error)) *Orchestrator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Orchestrator{registry: registry, store: store, timeout: timeout, launchBrowser: launchBrowser}
}

// Run probes every distinct streamer in refs concurrently and returns a map
// of streamer id to live status. Streamers referenced more than once (several
// guilds tracking the same creator) are probed exactly once. The shared
// browser is launched only if a needed adapter asks for it and is released
// before Run returns, even if a probe panics.
func (o *Orchestrator) Run(ctx context.Context, refs []platform.Ref) map[int64]platform.LiveStatus {
	distinct := make([]platform.Ref, 0, len(refs))
	seen := make(map[int64]bool, len(refs))
	for _, r := range refs {
		if seen[r.StreamerID] {
			continue
		}
		seen[r.StreamerID] = true
		distinct = append(distinct, r)
	}

	sess := platform.NewSession(o.launchBrowser)
	defer sess.Close()

	results := make(map[int64]platform.LiveStatus, len(distinct))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, ref := range distinct {
		adapter, err := o.registry.Get(ref.Platform)
		if err != nil {
			slog.Warn("no adapter for platform", slog.String("platform", string(ref.Platform)), slog.String("streamer", ref.ExternalID))
			mu.Lock()
			results[ref.StreamerID] = platform.LiveStatus{}
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(ref platform.Ref, adapter platform.Adapter) {
			defer wg.Done()
			st := o.probeOne(ctx, ref, adapter, sess)
			mu.Lock()
			results[ref.StreamerID] = st
			mu.Unlock()
		}(ref, adapter)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) probeOne(ctx context.Context, ref platform.Ref, adapter platform.Adapter, sess *platform.Session) (st platform.LiveStatus) {
	// A panicking adapter must not take the cycle (or the browser) with it.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("probe panicked", slog.String("platform", string(ref.Platform)), slog.String("streamer", ref.ExternalID), slog.Any("panic", r))
			st = platform.LiveStatus{}
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	st, err := adapter.Probe(pctx, ref, sess)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("probe failed",
			slog.String("platform", string(ref.Platform)),
			slog.String("streamer", ref.ExternalID),
			slog.Any("err", err))
		if telemetry.Probes != nil {
			telemetry.Probes.WithLabelValues(string(ref.Platform), "error").Inc()
		}
		return platform.LiveStatus{}
	}
	outcome := "offline"
	if st.IsLive {
		outcome = "live"
	}
	if telemetry.Probes != nil {
		telemetry.Probes.WithLabelValues(string(ref.Platform), outcome).Inc()
	}

	// Incidental cache refresh: never blocks or fails the live determination.
	newName := st.DisplayName
	if newName == ref.DisplayName {
		newName = ""
	}
	newAvatar := st.ProfileImageURL
	if newAvatar == ref.AvatarURL {
		newAvatar = ""
	}
	if newName != "" || newAvatar != "" {
		if uerr := o.store.UpdateStreamerProfile(ctx, ref.StreamerID, newName, newAvatar); uerr != nil {
			slog.Debug("profile refresh failed", slog.String("streamer", ref.ExternalID), slog.Any("err", uerr))
		}
	}
	return st
}
