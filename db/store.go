package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Store wraps the SQL connection with the typed queries the reconcilers use.
// Mutations that must land together (announcement row + session, bulk roster
// removal) run inside a single transaction so an aborted cycle leaves no
// partial writes behind.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Snapshot loads everything one reconciliation cycle reads: subscriptions
// joined with their streamers, guild and team configuration, and the current
// announcement set.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		GuildConfigs:  make(map[string]GuildConfig),
		Announcements: make(map[int64]Announcement),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sub.id, sub.guild_id, sub.streamer_id, sub.channel_id,
		       sub.nickname, sub.avatar_override, sub.message_override, sub.added_by,
		       st.id, st.platform, st.external_id, st.display_name, st.avatar_url, st.discord_user_id
		FROM subscriptions sub
		JOIN streamers st ON st.id = sub.streamer_id`)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v SubscriptionView
		if err := rows.Scan(&v.ID, &v.GuildID, &v.StreamerID, &v.ChannelID,
			&v.Nickname, &v.AvatarOverride, &v.MessageOverride, &v.AddedBy,
			&v.Streamer.ID, &v.Streamer.Platform, &v.Streamer.ExternalID,
			&v.Streamer.DisplayName, &v.Streamer.AvatarURL, &v.Streamer.DiscordUserID); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		snap.Subscriptions = append(snap.Subscriptions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	grows, err := s.db.QueryContext(ctx, `SELECT guild_id, default_channel_id, live_role_id FROM guild_configs`)
	if err != nil {
		return nil, fmt.Errorf("load guild configs: %w", err)
	}
	defer grows.Close()
	for grows.Next() {
		var g GuildConfig
		if err := grows.Scan(&g.GuildID, &g.DefaultChannelID, &g.LiveRoleID); err != nil {
			return nil, fmt.Errorf("scan guild config: %w", err)
		}
		snap.GuildConfigs[g.GuildID] = g
	}
	if err := grows.Err(); err != nil {
		return nil, err
	}

	trows, err := s.db.QueryContext(ctx, `SELECT id, guild_id, team_name, channel_id, live_role_id FROM team_configs`)
	if err != nil {
		return nil, fmt.Errorf("load team configs: %w", err)
	}
	defer trows.Close()
	for trows.Next() {
		var t TeamConfig
		if err := trows.Scan(&t.ID, &t.GuildID, &t.TeamName, &t.ChannelID, &t.LiveRoleID); err != nil {
			return nil, fmt.Errorf("scan team config: %w", err)
		}
		snap.TeamConfigs = append(snap.TeamConfigs, t)
	}
	if err := trows.Err(); err != nil {
		return nil, err
	}

	anns, err := s.Announcements(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range anns {
		snap.Announcements[a.SubscriptionID] = a
	}
	return snap, nil
}

// TeamConfigs returns every tracked team configuration.
func (s *Store) TeamConfigs(ctx context.Context) ([]TeamConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, guild_id, team_name, channel_id, live_role_id FROM team_configs`)
	if err != nil {
		return nil, fmt.Errorf("load team configs: %w", err)
	}
	defer rows.Close()
	var out []TeamConfig
	for rows.Next() {
		var t TeamConfig
		if err := rows.Scan(&t.ID, &t.GuildID, &t.TeamName, &t.ChannelID, &t.LiveRoleID); err != nil {
			return nil, fmt.Errorf("scan team config: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Announcements returns every persisted announcement row.
func (s *Store) Announcements(ctx context.Context) ([]Announcement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subscription_id, message_id, channel_id, title, game, viewer_count, stream_url
		FROM announcements`)
	if err != nil {
		return nil, fmt.Errorf("load announcements: %w", err)
	}
	defer rows.Close()
	var out []Announcement
	for rows.Next() {
		var a Announcement
		if err := rows.Scan(&a.ID, &a.SubscriptionID, &a.MessageID, &a.ChannelID,
			&a.Title, &a.Game, &a.ViewerCount, &a.StreamURL); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertStreamer inserts or refreshes a streamer row by (platform, external_id)
// and returns its id. Display name and avatar are refreshed; the discord link
// is owned by the command layer and left untouched on conflict.
func (s *Store) UpsertStreamer(ctx context.Context, platform, externalID, displayName, avatarURL string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO streamers (platform, external_id, display_name, avatar_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (platform, external_id) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE streamers.display_name END,
			avatar_url   = CASE WHEN EXCLUDED.avatar_url <> '' THEN EXCLUDED.avatar_url ELSE streamers.avatar_url END,
			updated_at   = NOW()
		RETURNING id`,
		platform, externalID, displayName, avatarURL).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert streamer %s/%s: %w", platform, externalID, err)
	}
	return id, nil
}

// UpdateStreamerProfile refreshes cached display name / avatar after a probe
// observed a change. Best-effort from the caller's perspective.
func (s *Store) UpdateStreamerProfile(ctx context.Context, id int64, displayName, avatarURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE streamers SET
			display_name = CASE WHEN $2 <> '' THEN $2 ELSE display_name END,
			avatar_url   = CASE WHEN $3 <> '' THEN $3 ELSE avatar_url END,
			updated_at   = NOW()
		WHERE id = $1`, id, displayName, avatarURL)
	return err
}

// CreateAnnouncement inserts the announcement row and opens its stream session
// in one transaction. The unique constraint on subscription_id enforces the
// at-most-one invariant at the database level.
func (s *Store) CreateAnnouncement(ctx context.Context, a Announcement, streamerID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO announcements (subscription_id, message_id, channel_id, title, game, viewer_count, stream_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.SubscriptionID, a.MessageID, a.ChannelID, a.Title, a.Game, a.ViewerCount, a.StreamURL); err != nil {
		return fmt.Errorf("insert announcement: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stream_sessions (streamer_id, subscription_id, title, started_at)
		VALUES ($1, $2, $3, NOW())`,
		streamerID, a.SubscriptionID, a.Title); err != nil {
		return fmt.Errorf("open stream session: %w", err)
	}
	return tx.Commit()
}

// DeleteAnnouncement removes the announcement row for a subscription and
// closes its open stream session in one transaction.
func (s *Store) DeleteAnnouncement(ctx context.Context, subscriptionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM announcements WHERE subscription_id = $1`, subscriptionID); err != nil {
		return fmt.Errorf("delete announcement: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE stream_sessions SET ended_at = NOW()
		WHERE subscription_id = $1 AND ended_at IS NULL`, subscriptionID); err != nil {
		return fmt.Errorf("close stream session: %w", err)
	}
	return tx.Commit()
}

// UpdateAnnouncementContent refreshes the cached stream metadata after an
// in-place message edit. Message identity does not change here.
func (s *Store) UpdateAnnouncementContent(ctx context.Context, subscriptionID int64, title, game string, viewers int, streamURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE announcements SET title=$2, game=$3, viewer_count=$4, stream_url=$5, updated_at=NOW()
		WHERE subscription_id = $1`, subscriptionID, title, game, viewers, streamURL)
	return err
}

// ReplaceAnnouncementMessage points an existing announcement at a freshly
// posted message (self-healing repost path). The row identity is preserved so
// the at-most-one invariant holds across the repair.
func (s *Store) ReplaceAnnouncementMessage(ctx context.Context, subscriptionID int64, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE announcements SET message_id=$2, updated_at=NOW()
		WHERE subscription_id = $1`, subscriptionID, messageID)
	return err
}

// ClearGuildLiveRole drops a dead role reference so the reconciler stops
// retrying it every cycle.
func (s *Store) ClearGuildLiveRole(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE guild_configs SET live_role_id='', updated_at=NOW() WHERE guild_id=$1`, guildID)
	return err
}

// ClearTeamLiveRole drops a dead team role reference.
func (s *Store) ClearTeamLiveRole(ctx context.Context, teamID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE team_configs SET live_role_id='' WHERE id=$1`, teamID)
	return err
}

// EnsureTeamSubscription creates a team-sync subscription for (guild,
// streamer, channel) if none exists. An existing row — manual or team-sync —
// is left untouched, so a manual subscription never silently changes owner.
func (s *Store) EnsureTeamSubscription(ctx context.Context, guildID string, streamerID int64, channelID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (guild_id, streamer_id, channel_id, added_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, streamer_id, channel_id) DO NOTHING`,
		guildID, streamerID, channelID, AddedByTeamSync)
	return err
}

// DeleteStaleTeamSubscriptions removes team-sync subscriptions for the given
// (guild, channel) whose streamer is no longer in the roster, purging their
// announcements and closing their sessions in the same transaction. It returns
// the chat messages the caller should best-effort delete after commit.
// Manually-added subscriptions in the same channel are never touched.
func (s *Store) DeleteStaleTeamSubscriptions(ctx context.Context, guildID, channelID string, keepStreamerIDs []int64) ([]MessageRef, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	keep := make(map[int64]bool, len(keepStreamerIDs))
	for _, id := range keepStreamerIDs {
		keep[id] = true
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, streamer_id FROM subscriptions
		WHERE guild_id=$1 AND channel_id=$2 AND added_by=$3`,
		guildID, channelID, AddedByTeamSync)
	if err != nil {
		return nil, fmt.Errorf("select team subscriptions: %w", err)
	}
	var stale []int64
	for rows.Next() {
		var subID, streamerID int64
		if err := rows.Scan(&subID, &streamerID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan team subscription: %w", err)
		}
		if !keep[streamerID] {
			stale = append(stale, subID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, tx.Commit()
	}

	var msgs []MessageRef
	for _, subID := range stale {
		var ref MessageRef
		err := tx.QueryRowContext(ctx, `SELECT channel_id, message_id FROM announcements WHERE subscription_id=$1`, subID).
			Scan(&ref.ChannelID, &ref.MessageID)
		switch {
		case err == sql.ErrNoRows:
			// nothing announced for this subscription
		case err != nil:
			return nil, fmt.Errorf("select announcement: %w", err)
		default:
			msgs = append(msgs, ref)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM announcements WHERE subscription_id=$1`, subID); err != nil {
			return nil, fmt.Errorf("purge announcement: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE stream_sessions SET ended_at=NOW()
			WHERE subscription_id=$1 AND ended_at IS NULL`, subID); err != nil {
			return nil, fmt.Errorf("close stream session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, subID); err != nil {
			return nil, fmt.Errorf("delete subscription: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msgs, nil
}

// LiveNow returns current announcements joined with their streamers, for the
// read-only status API.
func (s *Store) LiveNow(ctx context.Context) ([]LiveEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.platform, st.external_id, st.display_name, a.title, a.game, a.viewer_count, a.stream_url, a.created_at
		FROM announcements a
		JOIN subscriptions sub ON sub.id = a.subscription_id
		JOIN streamers st ON st.id = sub.streamer_id
		ORDER BY a.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("load live entries: %w", err)
	}
	defer rows.Close()
	var out []LiveEntry
	for rows.Next() {
		var e LiveEntry
		if err := rows.Scan(&e.Platform, &e.ExternalID, &e.DisplayName, &e.Title, &e.Game, &e.ViewerCount, &e.StreamURL, &e.Since); err != nil {
			return nil, fmt.Errorf("scan live entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentSessions returns the latest stream sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.platform, st.external_id, st.display_name, ss.title, ss.started_at, ss.ended_at
		FROM stream_sessions ss
		JOIN streamers st ON st.id = ss.streamer_id
		ORDER BY ss.started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()
	var out []SessionEntry
	for rows.Next() {
		var e SessionEntry
		if err := rows.Scan(&e.Platform, &e.ExternalID, &e.DisplayName, &e.Title, &e.StartedAt, &e.EndedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
