package announce

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/streamwatch/db"
	"github.com/onnwee/streamwatch/platform"
	"github.com/onnwee/streamwatch/testutil"
)

type fakeAnnStore struct {
	created   []db.Announcement
	deleted   []int64
	updated   []int64
	replaced  map[int64]string
	createErr error
}

func (s *fakeAnnStore) CreateAnnouncement(_ context.Context, a db.Announcement, _ int64) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, a)
	return nil
}

func (s *fakeAnnStore) DeleteAnnouncement(_ context.Context, subscriptionID int64) error {
	s.deleted = append(s.deleted, subscriptionID)
	return nil
}

func (s *fakeAnnStore) UpdateAnnouncementContent(_ context.Context, subscriptionID int64, _, _ string, _ int, _ string) error {
	s.updated = append(s.updated, subscriptionID)
	return nil
}

func (s *fakeAnnStore) ReplaceAnnouncementMessage(_ context.Context, subscriptionID int64, messageID string) error {
	if s.replaced == nil {
		s.replaced = make(map[int64]string)
	}
	s.replaced[subscriptionID] = messageID
	return nil
}

func (s *fakeAnnStore) writeCount() int {
	return len(s.created) + len(s.deleted) + len(s.updated) + len(s.replaced)
}

func sub(id, streamerID int64, guildID, channelID string) db.SubscriptionView {
	return db.SubscriptionView{
		Subscription: db.Subscription{ID: id, GuildID: guildID, StreamerID: streamerID, ChannelID: channelID},
		Streamer:     db.Streamer{ID: streamerID, Platform: "twitch", ExternalID: "alpha", DisplayName: "Alpha"},
	}
}

func snapshot(subs []db.SubscriptionView, anns map[int64]db.Announcement) *db.Snapshot {
	if anns == nil {
		anns = map[int64]db.Announcement{}
	}
	return &db.Snapshot{
		Subscriptions: subs,
		GuildConfigs:  map[string]db.GuildConfig{},
		Announcements: anns,
	}
}

func TestReconcile_PostsWhenStreamGoesLive(t *testing.T) {
	store := &fakeAnnStore{}
	gw := testutil.NewFakeGateway()
	r := New(store, gw)

	snap := snapshot([]db.SubscriptionView{sub(1, 10, "g1", "c1")}, nil)
	live := map[int64]platform.LiveStatus{10: {IsLive: true, Title: "First stream", Game: "Chess", ViewerCount: 5, URL: "https://www.twitch.tv/alpha"}}

	r.Reconcile(context.Background(), snap, live)

	if len(store.created) != 1 {
		t.Fatalf("created %d announcements, want 1", len(store.created))
	}
	a := store.created[0]
	if a.SubscriptionID != 1 || a.ChannelID != "c1" || a.Title != "First stream" {
		t.Errorf("unexpected announcement row: %+v", a)
	}
	if _, ok := gw.Messages["c1/"+a.MessageID]; !ok {
		t.Error("announcement message not present in channel")
	}
}

func TestReconcile_RepeatCycleIsIdempotent(t *testing.T) {
	store := &fakeAnnStore{}
	gw := testutil.NewFakeGateway()
	gw.SetMessage("c1", "m1", "Alpha is now live: First stream")
	r := New(store, gw)

	snap := snapshot(
		[]db.SubscriptionView{sub(1, 10, "g1", "c1")},
		map[int64]db.Announcement{1: {SubscriptionID: 1, MessageID: "m1", ChannelID: "c1", Title: "First stream", Game: "Chess", ViewerCount: 5}},
	)
	live := map[int64]platform.LiveStatus{10: {IsLive: true, Title: "First stream", Game: "Chess", ViewerCount: 5}}

	r.Reconcile(context.Background(), snap, live)

	if gw.WriteCount() != 0 {
		t.Errorf("expected zero chat writes on converged state, got %d: %v", gw.WriteCount(), gw.Calls)
	}
	if store.writeCount() != 0 {
		t.Errorf("expected zero store writes on converged state, got %d", store.writeCount())
	}
}

func TestReconcile_RemovesWhenStreamEnds(t *testing.T) {
	store := &fakeAnnStore{}
	gw := testutil.NewFakeGateway()
	gw.SetMessage("c1", "m1", "live msg")
	r := New(store, gw)

	snap := snapshot(
		[]db.SubscriptionView{sub(1, 10, "g1", "c1")},
		map[int64]db.Announcement{1: {SubscriptionID: 1, MessageID: "m1", ChannelID: "c1"}},
	)

	r.Reconcile(context.Background(), snap, map[int64]platform.LiveStatus{10: {IsLive: false}})

	if _, ok := gw.Messages["c1/m1"]; ok {
		t.Error("announcement message should be deleted when stream ends")
	}
	if len(store.deleted) != 1 || store.deleted[0] != 1 {
		t.Errorf("deleted rows = %v, want [1]", store.deleted)
	}
}

func TestReconcile_EditsOnMetadataChange(t *testing.T) {
	store := &fakeAnnStore{}
	gw := testutil.NewFakeGateway()
	gw.SetMessage("c1", "m1", "old content")
	r := New(store, gw)

	snap := snapshot(
		[]db.SubscriptionView{sub(1, 10, "g1", "c1")},
		map[int64]db.Announcement{1: {SubscriptionID: 1, MessageID: "m1", ChannelID: "c1", Title: "Old title", Game: "Chess", ViewerCount: 5}},
	)
	live := map[int64]platform.LiveStatus{10: {IsLive: true, Title: "New title", Game: "Chess", ViewerCount: 9}}

	r.Reconcile(context.Background(), snap, live)

	if got := gw.Messages["c1/m1"]; got == "old content" {
		t.Error("message content should be edited on metadata change")
	}
	if len(store.updated) != 1 {
		t.Errorf("updated rows = %v, want one update", store.updated)
	}
	if len(store.created) != 0 {
		t.Error("metadata change must not create a second announcement")
	}
}

func TestReconcile_RepostsAfterOutOfBandDelete(t *testing.T) {
	store := &fakeAnnStore{}
	gw := testutil.NewFakeGateway() // m1 never seeded: deleted out-of-band
	r := New(store, gw)

	snap := snapshot(
		[]db.SubscriptionView{sub(1, 10, "g1", "c1")},
		map[int64]db.Announcement{1: {SubscriptionID: 1, MessageID: "m1", ChannelID: "c1", Title: "Old", Game: "Chess", ViewerCount: 1}},
	)
	live := map[int64]platform.LiveStatus{10: {IsLive: true, Title: "Still going", Game: "Chess", ViewerCount: 3}}

	r.Reconcile(context.Background(), snap, live)

	newID, ok := store.replaced[1]
	if !ok {
		t.Fatal("expected message pointer replacement after repost")
	}
	if _, ok := gw.Messages["c1/"+newID]; !ok {
		t.Error("reposted message not found in channel")
	}
	if len(store.created) != 0 {
		t.Error("repost must reuse the existing row, not create a new one")
	}
}

func TestReconcile_PurgesOrphanedAnnouncement(t *testing.T) {
	store := &fakeAnnStore{}
	gw := testutil.NewFakeGateway()
	gw.SetMessage("c1", "m9", "stale")
	r := New(store, gw)

	// announcement for subscription 99 which is no longer in the snapshot
	snap := snapshot(nil, map[int64]db.Announcement{99: {SubscriptionID: 99, MessageID: "m9", ChannelID: "c1"}})

	r.Reconcile(context.Background(), snap, nil)

	if _, ok := gw.Messages["c1/m9"]; ok {
		t.Error("orphaned announcement message should be deleted")
	}
	if len(store.deleted) != 1 || store.deleted[0] != 99 {
		t.Errorf("deleted rows = %v, want [99]", store.deleted)
	}
}

func TestReconcile_MovesAnnouncementWhenChannelChanges(t *testing.T) {
	store := &fakeAnnStore{}
	gw := testutil.NewFakeGateway()
	gw.SetMessage("old-chan", "m1", "live msg")
	r := New(store, gw)

	snap := snapshot(
		[]db.SubscriptionView{sub(1, 10, "g1", "new-chan")},
		map[int64]db.Announcement{1: {SubscriptionID: 1, MessageID: "m1", ChannelID: "old-chan", Title: "T"}},
	)
	live := map[int64]platform.LiveStatus{10: {IsLive: true, Title: "T"}}

	r.Reconcile(context.Background(), snap, live)

	if _, ok := gw.Messages["old-chan/m1"]; ok {
		t.Error("old message should be deleted on channel move")
	}
	if len(store.created) != 1 || store.created[0].ChannelID != "new-chan" {
		t.Errorf("expected announcement recreated in new channel, got %+v", store.created)
	}
}

func TestReconcile_DefaultChannelFallback(t *testing.T) {
	store := &fakeAnnStore{}
	gw := testutil.NewFakeGateway()
	r := New(store, gw)

	snap := snapshot([]db.SubscriptionView{sub(1, 10, "g1", "")}, nil)
	snap.GuildConfigs["g1"] = db.GuildConfig{GuildID: "g1", DefaultChannelID: "default-chan"}
	live := map[int64]platform.LiveStatus{10: {IsLive: true, Title: "T"}}

	r.Reconcile(context.Background(), snap, live)

	if len(store.created) != 1 || store.created[0].ChannelID != "default-chan" {
		t.Errorf("expected announcement in guild default channel, got %+v", store.created)
	}
}

func TestReconcile_NoChannelConfiguredSkips(t *testing.T) {
	store := &fakeAnnStore{}
	gw := testutil.NewFakeGateway()
	r := New(store, gw)

	snap := snapshot([]db.SubscriptionView{sub(1, 10, "g1", "")}, nil)
	live := map[int64]platform.LiveStatus{10: {IsLive: true, Title: "T"}}

	r.Reconcile(context.Background(), snap, live)

	if gw.WriteCount() != 0 || store.writeCount() != 0 {
		t.Error("no target channel: nothing should be written")
	}
}

func TestReconcile_UnsetChannelRemovesExistingAnnouncement(t *testing.T) {
	store := &fakeAnnStore{}
	gw := testutil.NewFakeGateway()
	gw.SetMessage("c1", "m1", "Alpha is now live: T")
	r := New(store, gw)

	// default channel was unset after the announcement was posted
	snap := snapshot(
		[]db.SubscriptionView{sub(1, 10, "g1", "")},
		map[int64]db.Announcement{1: {SubscriptionID: 1, MessageID: "m1", ChannelID: "c1", Title: "T"}},
	)
	live := map[int64]platform.LiveStatus{10: {IsLive: true, Title: "T"}}

	r.Reconcile(context.Background(), snap, live)

	if len(store.deleted) != 1 || store.deleted[0] != 1 {
		t.Errorf("deleted = %v, want [1]", store.deleted)
	}
	if _, ok := gw.Messages["c1/m1"]; ok {
		t.Error("stale announcement message should be deleted")
	}
}

func TestReconcile_SendFailureLeavesStateForRetry(t *testing.T) {
	store := &fakeAnnStore{}
	gw := testutil.NewFakeGateway()
	gw.Errs["send"] = errors.New("rate limited")
	r := New(store, gw)

	snap := snapshot([]db.SubscriptionView{sub(1, 10, "g1", "c1")}, nil)
	live := map[int64]platform.LiveStatus{10: {IsLive: true, Title: "T"}}

	r.Reconcile(context.Background(), snap, live)

	if len(store.created) != 0 {
		t.Error("failed send must not record an announcement row")
	}
}

func TestRender(t *testing.T) {
	s := sub(1, 10, "g1", "c1")

	got := Render(s, "Speedrun", "Celeste", 42, "https://www.twitch.tv/alpha")
	want := "Alpha is now live: Speedrun\nPlaying: Celeste (42 viewers)\nhttps://www.twitch.tv/alpha"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}

	s.Nickname = "The GOAT"
	s.MessageOverride = "{name} playing {game}: {title} ({viewers}) {url}"
	got = Render(s, "Speedrun", "Celeste", 42, "u")
	want = "The GOAT playing Celeste: Speedrun (42) u"
	if got != want {
		t.Errorf("Render() override = %q, want %q", got, want)
	}
}
