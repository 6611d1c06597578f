// Package roles converges live-role membership per (guild, linked Discord
// user). Only roles this system manages — the guild's live role plus every
// team live role in that guild — are ever added or removed; unmanaged roles
// are never touched.
package roles

import (
	"context"
	"errors"
	"log/slog"

	"github.com/onnwee/streamwatch/db"
	"github.com/onnwee/streamwatch/discord"
	"github.com/onnwee/streamwatch/platform"
	"github.com/onnwee/streamwatch/telemetry"
)

// Store is the self-heal slice: clearing dead role references so a deleted
// role is not retried every cycle.
type Store interface {
	ClearGuildLiveRole(ctx context.Context, guildID string) error
	ClearTeamLiveRole(ctx context.Context, teamID int64) error
}

// Gateway is the member/role surface of the chat platform.
type Gateway interface {
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
}

type Reconciler struct {
	store Store
	gw    Gateway
}

func New(store Store, gw Gateway) *Reconciler {
	return &Reconciler{store: store, gw: gw}
}

// roleOwner records which config row a managed role id came from, so a dead
// role can be cleared at its source.
type roleOwner struct {
	guildConfig bool
	teamID      int64
}

// Reconcile diffs desired-vs-actual managed roles for every linked user in the
// snapshot. Desired = guild live role if any tracked streamer is live, plus
// each team live role whose channel the live streamer is subscribed to.
func (r *Reconciler) Reconcile(ctx context.Context, snap *db.Snapshot, live map[int64]platform.LiveStatus) {
	log := telemetry.LoggerWithCorr(ctx)

	// managed role ids and their owners, per guild
	managed := make(map[string]map[string][]roleOwner)
	addOwner := func(guildID, roleID string, o roleOwner) {
		if roleID == "" {
			return
		}
		if managed[guildID] == nil {
			managed[guildID] = make(map[string][]roleOwner)
		}
		managed[guildID][roleID] = append(managed[guildID][roleID], o)
	}
	for _, g := range snap.GuildConfigs {
		addOwner(g.GuildID, g.LiveRoleID, roleOwner{guildConfig: true})
	}
	teamsByGuild := make(map[string][]db.TeamConfig)
	for _, t := range snap.TeamConfigs {
		addOwner(t.GuildID, t.LiveRoleID, roleOwner{teamID: t.ID})
		teamsByGuild[t.GuildID] = append(teamsByGuild[t.GuildID], t)
	}

	type userKey struct{ guildID, userID string }
	linked := make(map[userKey][]db.SubscriptionView)
	for _, sub := range snap.Subscriptions {
		if sub.Streamer.DiscordUserID == "" {
			continue
		}
		k := userKey{sub.GuildID, sub.Streamer.DiscordUserID}
		linked[k] = append(linked[k], sub)
	}

	for k, subs := range linked {
		if len(managed[k.guildID]) == 0 {
			continue
		}
		desired := make(map[string]bool)
		for _, sub := range subs {
			if !live[sub.StreamerID].IsLive {
				continue
			}
			if g, ok := snap.GuildConfigs[k.guildID]; ok && g.LiveRoleID != "" {
				desired[g.LiveRoleID] = true
			}
			// team membership = a subscription scoped to the team's channel
			for _, t := range teamsByGuild[k.guildID] {
				if t.LiveRoleID != "" && sub.ChannelID == t.ChannelID {
					desired[t.LiveRoleID] = true
				}
			}
		}

		current, err := r.gw.MemberRoles(ctx, k.guildID, k.userID)
		if err != nil {
			if errors.Is(err, discord.ErrNotFound) {
				log.Debug("linked user not in guild", slog.String("guild", k.guildID), slog.String("user", k.userID))
			} else {
				log.Warn("member role lookup failed", slog.String("guild", k.guildID), slog.String("user", k.userID), slog.Any("err", err))
			}
			continue
		}
		actual := make(map[string]bool)
		for _, roleID := range current {
			if _, ok := managed[k.guildID][roleID]; ok {
				actual[roleID] = true
			}
		}

		for roleID := range desired {
			if actual[roleID] {
				continue
			}
			r.apply(ctx, log, k.guildID, k.userID, roleID, managed[k.guildID][roleID], true)
		}
		for roleID := range actual {
			if desired[roleID] {
				continue
			}
			r.apply(ctx, log, k.guildID, k.userID, roleID, managed[k.guildID][roleID], false)
		}
	}
}

func (r *Reconciler) apply(ctx context.Context, log *slog.Logger, guildID, userID, roleID string, owners []roleOwner, add bool) {
	var err error
	if add {
		err = r.gw.AddRole(ctx, guildID, userID, roleID)
	} else {
		err = r.gw.RemoveRole(ctx, guildID, userID, roleID)
	}
	switch {
	case err == nil:
		if add {
			log.Info("live role added", slog.String("guild", guildID), slog.String("user", userID), slog.String("role", roleID))
			if telemetry.RoleAdds != nil {
				telemetry.RoleAdds.Inc()
			}
		} else {
			log.Info("live role removed", slog.String("guild", guildID), slog.String("user", userID), slog.String("role", roleID))
			if telemetry.RoleRemoves != nil {
				telemetry.RoleRemoves.Inc()
			}
		}
	case errors.Is(err, discord.ErrNotFound):
		// the role no longer exists; clear every config row referencing it
		log.Warn("managed role vanished, clearing reference", slog.String("guild", guildID), slog.String("role", roleID))
		for _, o := range owners {
			var cerr error
			if o.guildConfig {
				cerr = r.store.ClearGuildLiveRole(ctx, guildID)
			} else {
				cerr = r.store.ClearTeamLiveRole(ctx, o.teamID)
			}
			if cerr != nil {
				log.Error("role reference clear failed", slog.String("guild", guildID), slog.String("role", roleID), slog.Any("err", cerr))
			} else if telemetry.ConfigRepairs != nil {
				telemetry.ConfigRepairs.Inc()
			}
		}
	default:
		log.Error("role update failed", slog.String("guild", guildID), slog.String("user", userID), slog.String("role", roleID), slog.Any("err", err))
		if telemetry.DeliveryFailures != nil {
			telemetry.DeliveryFailures.Inc()
		}
	}
}
