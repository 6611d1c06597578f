// Package startupcheck validates persisted role references and announcement
// message pointers once at boot, before the scheduler's first tick, so the
// first real cycle starts from a state the rest of the system can trust.
package startupcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/streamwatch/announce"
	"github.com/onnwee/streamwatch/db"
	"github.com/onnwee/streamwatch/discord"
	"github.com/onnwee/streamwatch/telemetry"
)

// Store is the slice of db.Store the checker uses.
type Store interface {
	Snapshot(ctx context.Context) (*db.Snapshot, error)
	ClearGuildLiveRole(ctx context.Context, guildID string) error
	ClearTeamLiveRole(ctx context.Context, teamID int64) error
	DeleteAnnouncement(ctx context.Context, subscriptionID int64) error
	ReplaceAnnouncementMessage(ctx context.Context, subscriptionID int64, messageID string) error
}

// Gateway is the chat-platform surface the checker probes.
type Gateway interface {
	ChannelExists(ctx context.Context, channelID string) error
	MessageExists(ctx context.Context, channelID, messageID string) error
	RoleExists(ctx context.Context, guildID, roleID string) error
	SendMessage(ctx context.Context, channelID, content string) (string, error)
}

type Checker struct {
	store Store
	gw    Gateway
}

func New(store Store, gw Gateway) *Checker {
	return &Checker{store: store, gw: gw}
}

// Run executes both validation passes. An unreachable datastore is fatal;
// individual chat-platform errors degrade to warnings and are left for the
// regular reconcilers to retry.
func (c *Checker) Run(ctx context.Context) error {
	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("startup snapshot: %w", err)
	}
	c.validateRoles(ctx, snap)
	c.validateAnnouncements(ctx, snap)
	return nil
}

func (c *Checker) validateRoles(ctx context.Context, snap *db.Snapshot) {
	for _, g := range snap.GuildConfigs {
		if g.LiveRoleID == "" {
			continue
		}
		err := c.gw.RoleExists(ctx, g.GuildID, g.LiveRoleID)
		switch {
		case errors.Is(err, discord.ErrNotFound):
			slog.Warn("configured live role no longer exists, clearing", slog.String("guild", g.GuildID), slog.String("role", g.LiveRoleID))
			if cerr := c.store.ClearGuildLiveRole(ctx, g.GuildID); cerr != nil {
				slog.Error("live role clear failed", slog.String("guild", g.GuildID), slog.Any("err", cerr))
			} else if telemetry.ConfigRepairs != nil {
				telemetry.ConfigRepairs.Inc()
			}
		case err != nil:
			slog.Warn("role validation skipped", slog.String("guild", g.GuildID), slog.String("role", g.LiveRoleID), slog.Any("err", err))
		}
	}
	for _, t := range snap.TeamConfigs {
		if t.LiveRoleID == "" {
			continue
		}
		err := c.gw.RoleExists(ctx, t.GuildID, t.LiveRoleID)
		switch {
		case errors.Is(err, discord.ErrNotFound):
			slog.Warn("configured team role no longer exists, clearing", slog.String("guild", t.GuildID), slog.String("team", t.TeamName), slog.String("role", t.LiveRoleID))
			if cerr := c.store.ClearTeamLiveRole(ctx, t.ID); cerr != nil {
				slog.Error("team role clear failed", slog.String("team", t.TeamName), slog.Any("err", cerr))
			} else if telemetry.ConfigRepairs != nil {
				telemetry.ConfigRepairs.Inc()
			}
		case err != nil:
			slog.Warn("team role validation skipped", slog.String("team", t.TeamName), slog.Any("err", err))
		}
	}
}

func (c *Checker) validateAnnouncements(ctx context.Context, snap *db.Snapshot) {
	subs := make(map[int64]db.SubscriptionView, len(snap.Subscriptions))
	for _, sub := range snap.Subscriptions {
		subs[sub.ID] = sub
	}
	for subID, ann := range snap.Announcements {
		err := c.gw.ChannelExists(ctx, ann.ChannelID)
		switch {
		case errors.Is(err, discord.ErrNotFound):
			// channel removed by an administrator; no repost attempted
			slog.Warn("announcement channel gone, dropping announcement", slog.Int64("subscription_id", subID), slog.String("channel", ann.ChannelID))
			if derr := c.store.DeleteAnnouncement(ctx, subID); derr != nil {
				slog.Error("announcement drop failed", slog.Int64("subscription_id", subID), slog.Any("err", derr))
			} else if telemetry.ConfigRepairs != nil {
				telemetry.ConfigRepairs.Inc()
			}
			continue
		case err != nil:
			slog.Warn("announcement channel validation skipped", slog.Int64("subscription_id", subID), slog.Any("err", err))
			continue
		}

		err = c.gw.MessageExists(ctx, ann.ChannelID, ann.MessageID)
		switch {
		case errors.Is(err, discord.ErrNotFound):
			sub, ok := subs[subID]
			if !ok {
				// owning subscription is gone too; the reconciler's orphan
				// purge handles the row
				continue
			}
			content := announce.Render(sub, ann.Title, ann.Game, ann.ViewerCount, ann.StreamURL)
			msgID, serr := c.gw.SendMessage(ctx, ann.ChannelID, content)
			if serr != nil {
				slog.Error("startup repost failed", slog.Int64("subscription_id", subID), slog.Any("err", serr))
				continue
			}
			if uerr := c.store.ReplaceAnnouncementMessage(ctx, subID, msgID); uerr != nil {
				slog.Error("startup message pointer update failed", slog.Int64("subscription_id", subID), slog.Any("err", uerr))
				continue
			}
			slog.Warn("announcement reposted at startup", slog.Int64("subscription_id", subID), slog.String("message_id", msgID))
			if telemetry.ConfigRepairs != nil {
				telemetry.ConfigRepairs.Inc()
			}
		case err != nil:
			slog.Warn("announcement message validation skipped", slog.Int64("subscription_id", subID), slog.Any("err", err))
		}
	}
}
