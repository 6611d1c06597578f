package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/streamwatch/db"
	"github.com/onnwee/streamwatch/platform"
	"github.com/onnwee/streamwatch/testutil"
)

type fakeRoleStore struct {
	clearedGuilds []string
	clearedTeams  []int64
}

func (s *fakeRoleStore) ClearGuildLiveRole(_ context.Context, guildID string) error {
	s.clearedGuilds = append(s.clearedGuilds, guildID)
	return nil
}

func (s *fakeRoleStore) ClearTeamLiveRole(_ context.Context, teamID int64) error {
	s.clearedTeams = append(s.clearedTeams, teamID)
	return nil
}

func linkedSub(id, streamerID int64, guildID, channelID, discordUserID string) db.SubscriptionView {
	return db.SubscriptionView{
		Subscription: db.Subscription{ID: id, GuildID: guildID, StreamerID: streamerID, ChannelID: channelID},
		Streamer:     db.Streamer{ID: streamerID, Platform: "twitch", ExternalID: "alpha", DiscordUserID: discordUserID},
	}
}

func TestReconcile_AddsLiveRole(t *testing.T) {
	gw := testutil.NewFakeGateway()
	gw.SetRole("g1", "live-role")
	store := &fakeRoleStore{}
	r := New(store, gw)

	snap := &db.Snapshot{
		Subscriptions: []db.SubscriptionView{linkedSub(1, 10, "g1", "c1", "user1")},
		GuildConfigs:  map[string]db.GuildConfig{"g1": {GuildID: "g1", LiveRoleID: "live-role"}},
	}

	r.Reconcile(context.Background(), snap, map[int64]platform.LiveStatus{10: {IsLive: true}})

	if !gw.MemberRoleSets["g1/user1"]["live-role"] {
		t.Error("live role should be assigned to linked user")
	}
}

func TestReconcile_RemovesRoleWhenOffline(t *testing.T) {
	gw := testutil.NewFakeGateway()
	gw.SetRole("g1", "live-role")
	gw.MemberRoleSets["g1/user1"] = map[string]bool{"live-role": true}
	store := &fakeRoleStore{}
	r := New(store, gw)

	snap := &db.Snapshot{
		Subscriptions: []db.SubscriptionView{linkedSub(1, 10, "g1", "c1", "user1")},
		GuildConfigs:  map[string]db.GuildConfig{"g1": {GuildID: "g1", LiveRoleID: "live-role"}},
	}

	r.Reconcile(context.Background(), snap, map[int64]platform.LiveStatus{10: {IsLive: false}})

	if gw.MemberRoleSets["g1/user1"]["live-role"] {
		t.Error("live role should be removed when the streamer is offline")
	}
}

func TestReconcile_NeverTouchesUnmanagedRoles(t *testing.T) {
	gw := testutil.NewFakeGateway()
	gw.SetRole("g1", "live-role")
	gw.SetRole("g1", "moderator")
	gw.MemberRoleSets["g1/user1"] = map[string]bool{"moderator": true}
	store := &fakeRoleStore{}
	r := New(store, gw)

	snap := &db.Snapshot{
		Subscriptions: []db.SubscriptionView{linkedSub(1, 10, "g1", "c1", "user1")},
		GuildConfigs:  map[string]db.GuildConfig{"g1": {GuildID: "g1", LiveRoleID: "live-role"}},
	}

	r.Reconcile(context.Background(), snap, map[int64]platform.LiveStatus{10: {IsLive: false}})

	if !gw.MemberRoleSets["g1/user1"]["moderator"] {
		t.Error("unmanaged role must never be removed")
	}
	if gw.WriteCount() != 0 {
		t.Errorf("expected no role writes, got %v", gw.Calls)
	}
}

func TestReconcile_RepeatCycleIsIdempotent(t *testing.T) {
	gw := testutil.NewFakeGateway()
	gw.SetRole("g1", "live-role")
	gw.MemberRoleSets["g1/user1"] = map[string]bool{"live-role": true}
	store := &fakeRoleStore{}
	r := New(store, gw)

	snap := &db.Snapshot{
		Subscriptions: []db.SubscriptionView{linkedSub(1, 10, "g1", "c1", "user1")},
		GuildConfigs:  map[string]db.GuildConfig{"g1": {GuildID: "g1", LiveRoleID: "live-role"}},
	}

	r.Reconcile(context.Background(), snap, map[int64]platform.LiveStatus{10: {IsLive: true}})

	if gw.WriteCount() != 0 {
		t.Errorf("role already present: expected no writes, got %v", gw.Calls)
	}
}

func TestReconcile_ConvergesAfterTransientAddFailure(t *testing.T) {
	gw := testutil.NewFakeGateway()
	gw.SetRole("g1", "live-role")
	gw.Errs["add_role"] = errors.New("rate limited")
	store := &fakeRoleStore{}
	r := New(store, gw)

	snap := &db.Snapshot{
		Subscriptions: []db.SubscriptionView{linkedSub(1, 10, "g1", "c1", "user1")},
		GuildConfigs:  map[string]db.GuildConfig{"g1": {GuildID: "g1", LiveRoleID: "live-role"}},
	}
	live := map[int64]platform.LiveStatus{10: {IsLive: true}}

	r.Reconcile(context.Background(), snap, live)

	if gw.MemberRoleSets["g1/user1"]["live-role"] {
		t.Fatal("role must not be assigned while the add fails")
	}
	if len(store.clearedGuilds) != 0 {
		t.Errorf("transient failure must not clear the role reference, got %v", store.clearedGuilds)
	}

	// same desired state on the next cycle, delivery recovered
	delete(gw.Errs, "add_role")
	r.Reconcile(context.Background(), snap, live)

	roles := gw.MemberRoleSets["g1/user1"]
	if !roles["live-role"] {
		t.Error("role should be assigned once delivery recovers")
	}
	if len(roles) != 1 {
		t.Errorf("member role set = %v, want exactly [live-role]", roles)
	}
}

func TestReconcile_ClearsDeadRoleReference(t *testing.T) {
	gw := testutil.NewFakeGateway() // role never created: AddRole returns not found
	store := &fakeRoleStore{}
	r := New(store, gw)

	snap := &db.Snapshot{
		Subscriptions: []db.SubscriptionView{linkedSub(1, 10, "g1", "c1", "user1")},
		GuildConfigs:  map[string]db.GuildConfig{"g1": {GuildID: "g1", LiveRoleID: "deleted-role"}},
	}

	r.Reconcile(context.Background(), snap, map[int64]platform.LiveStatus{10: {IsLive: true}})

	if len(store.clearedGuilds) != 1 || store.clearedGuilds[0] != "g1" {
		t.Errorf("clearedGuilds = %v, want [g1]", store.clearedGuilds)
	}
}

func TestReconcile_TeamRoleScopedToTeamChannel(t *testing.T) {
	gw := testutil.NewFakeGateway()
	gw.SetRole("g1", "team-role")
	store := &fakeRoleStore{}
	r := New(store, gw)

	snap := &db.Snapshot{
		Subscriptions: []db.SubscriptionView{
			linkedSub(1, 10, "g1", "team-chan", "user1"),
			linkedSub(2, 20, "g1", "other-chan", "user2"),
		},
		GuildConfigs: map[string]db.GuildConfig{},
		TeamConfigs: []db.TeamConfig{
			{ID: 5, GuildID: "g1", TeamName: "squad", ChannelID: "team-chan", LiveRoleID: "team-role"},
		},
	}
	live := map[int64]platform.LiveStatus{10: {IsLive: true}, 20: {IsLive: true}}

	r.Reconcile(context.Background(), snap, live)

	if !gw.MemberRoleSets["g1/user1"]["team-role"] {
		t.Error("team member subscribed in the team channel should get the team role")
	}
	if gw.MemberRoleSets["g1/user2"]["team-role"] {
		t.Error("streamer outside the team channel must not get the team role")
	}
}

func TestReconcile_ClearsDeadTeamRole(t *testing.T) {
	gw := testutil.NewFakeGateway()
	store := &fakeRoleStore{}
	r := New(store, gw)

	snap := &db.Snapshot{
		Subscriptions: []db.SubscriptionView{linkedSub(1, 10, "g1", "team-chan", "user1")},
		GuildConfigs:  map[string]db.GuildConfig{},
		TeamConfigs: []db.TeamConfig{
			{ID: 5, GuildID: "g1", TeamName: "squad", ChannelID: "team-chan", LiveRoleID: "gone-role"},
		},
	}

	r.Reconcile(context.Background(), snap, map[int64]platform.LiveStatus{10: {IsLive: true}})

	if len(store.clearedTeams) != 1 || store.clearedTeams[0] != 5 {
		t.Errorf("clearedTeams = %v, want [5]", store.clearedTeams)
	}
}

func TestReconcile_UnlinkedStreamersIgnored(t *testing.T) {
	gw := testutil.NewFakeGateway()
	gw.SetRole("g1", "live-role")
	store := &fakeRoleStore{}
	r := New(store, gw)

	snap := &db.Snapshot{
		Subscriptions: []db.SubscriptionView{linkedSub(1, 10, "g1", "c1", "")},
		GuildConfigs:  map[string]db.GuildConfig{"g1": {GuildID: "g1", LiveRoleID: "live-role"}},
	}

	r.Reconcile(context.Background(), snap, map[int64]platform.LiveStatus{10: {IsLive: true}})

	if gw.WriteCount() != 0 {
		t.Errorf("streamer without a Discord link: expected no writes, got %v", gw.Calls)
	}
}
