// Package platform defines the probe contract shared by all streaming-platform
// adapters and the registry that dispatches on platform name. Each adapter
// turns a streamer reference into a LiveStatus; failures are classified by the
// orchestrator, never thrown past the adapter boundary.
package platform

import (
	"context"
	"fmt"
	"sync"
)

// Name identifies a supported streaming platform.
type Name string

const (
	Twitch  Name = "twitch"
	Kick    Name = "kick"
	YouTube Name = "youtube"
	TikTok  Name = "tiktok"
)

// Ref identifies one streamer to probe, carrying the cached profile fields so
// adapters and the orchestrator can detect drift without a store read.
type Ref struct {
	StreamerID  int64
	Platform    Name
	ExternalID  string
	DisplayName string
	AvatarURL   string
}

// LiveStatus is the ephemeral result of one probe. It is produced fresh each
// cycle, consumed within the cycle, and discarded.
type LiveStatus struct {
	IsLive          bool
	Title           string
	Game            string
	ViewerCount     int
	ThumbnailURL    string
	URL             string
	ProfileImageURL string
	DisplayName     string
}

// Adapter is the per-platform probe implementation.
type Adapter interface {
	Platform() Name
	// NeedsBrowser reports whether probes dispatch through the shared
	// headless-browser resource.
	NeedsBrowser() bool
	// Probe returns the streamer's current live status. It must respect the
	// context deadline and never block past it.
	Probe(ctx context.Context, ref Ref, sess *Session) (LiveStatus, error)
}

// TeamMember is one entry of a platform team's canonical roster.
type TeamMember struct {
	ID          string
	Login       string
	DisplayName string
}

// Registry maps platform names to adapters, registered once at startup.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Name]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Name]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
}

func (r *Registry) Get(name Name) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown platform: %s", name)
	}
	return a, nil
}

// Names returns the registered platform names.
func (r *Registry) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Name, 0, len(r.adapters))
	for n := range r.adapters {
		out = append(out, n)
	}
	return out
}

// Session holds the resources shared by all probes within one cycle. The
// browser is launched lazily on the first probe that needs it and must be
// released by the owner at cycle end via Close, regardless of probe outcomes.
type Session struct {
	mu      sync.Mutex
	launch  func(ctx context.Context) (*Browser, error)
	browser *Browser
	err     error
}

// NewSession returns a cycle-scoped resource handle. launch may be nil, in
// which case Browser returns an error and browser-backed probes degrade.
func NewSession(launch func(ctx context.Context) (*Browser, error)) *Session {
	return &Session{launch: launch}
}

// Browser returns the shared headless browser, launching it on first use.
// A failed launch is cached so every probe in the cycle fails fast.
func (s *Session) Browser(ctx context.Context) (*Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser != nil || s.err != nil {
		return s.browser, s.err
	}
	if s.launch == nil {
		s.err = fmt.Errorf("browser probes disabled")
		return nil, s.err
	}
	s.browser, s.err = s.launch(ctx)
	return s.browser, s.err
}

// Close releases the browser if it was launched. Safe to call when no probe
// needed it.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	s.err = nil
}
