// Package teamsync mirrors tracked platform teams into the subscription table
// on its own, slower cadence. The syncer owns exactly the subscriptions it
// created (added_by=team-sync); manually-added rows in the same channel are
// never deleted by a roster diff.
package teamsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/streamwatch/db"
	"github.com/onnwee/streamwatch/discord"
	"github.com/onnwee/streamwatch/platform"
)

// RosterFetcher resolves a team name to its canonical member list.
type RosterFetcher interface {
	TeamMembers(ctx context.Context, teamName string) ([]platform.TeamMember, error)
}

// Store is the slice of db.Store the syncer uses.
type Store interface {
	TeamConfigs(ctx context.Context) ([]db.TeamConfig, error)
	UpsertStreamer(ctx context.Context, platform, externalID, displayName, avatarURL string) (int64, error)
	EnsureTeamSubscription(ctx context.Context, guildID string, streamerID int64, channelID string) error
	DeleteStaleTeamSubscriptions(ctx context.Context, guildID, channelID string, keepStreamerIDs []int64) ([]db.MessageRef, error)
}

// Messenger deletes announcement messages of removed roster members.
type Messenger interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

type Syncer struct {
	store  Store
	roster RosterFetcher
	msgr   Messenger
}

func New(store Store, roster RosterFetcher, msgr Messenger) *Syncer {
	return &Syncer{store: store, roster: roster, msgr: msgr}
}

// Sync reconciles every tracked team once. A roster fetch failure skips that
// team (its subscriptions are left untouched); a store failure aborts the
// cycle so the next tick retries from scratch.
func (s *Syncer) Sync(ctx context.Context) error {
	teams, err := s.store.TeamConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load team configs: %w", err)
	}
	for _, tc := range teams {
		if err := s.syncTeam(ctx, tc); err != nil {
			slog.Warn("team sync failed", slog.String("team", tc.TeamName), slog.String("guild", tc.GuildID), slog.Any("err", err))
		}
	}
	return nil
}

func (s *Syncer) syncTeam(ctx context.Context, tc db.TeamConfig) error {
	members, err := s.roster.TeamMembers(ctx, tc.TeamName)
	if err != nil {
		return fmt.Errorf("fetch roster: %w", err)
	}

	keep := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := s.store.UpsertStreamer(ctx, string(platform.Twitch), m.Login, m.DisplayName, "")
		if err != nil {
			return fmt.Errorf("upsert member %s: %w", m.Login, err)
		}
		keep = append(keep, id)
		if err := s.store.EnsureTeamSubscription(ctx, tc.GuildID, id, tc.ChannelID); err != nil {
			return fmt.Errorf("ensure subscription for %s: %w", m.Login, err)
		}
	}

	msgs, err := s.store.DeleteStaleTeamSubscriptions(ctx, tc.GuildID, tc.ChannelID, keep)
	if err != nil {
		return fmt.Errorf("remove stale members: %w", err)
	}
	for _, ref := range msgs {
		if derr := s.msgr.DeleteMessage(ctx, ref.ChannelID, ref.MessageID); derr != nil && !errors.Is(derr, discord.ErrNotFound) {
			slog.Warn("stale announcement delete failed", slog.String("message_id", ref.MessageID), slog.Any("err", derr))
		}
	}
	if len(msgs) > 0 || len(members) > 0 {
		slog.Debug("team synced", slog.String("team", tc.TeamName), slog.Int("members", len(members)), slog.Int("purged_announcements", len(msgs)))
	}
	return nil
}
