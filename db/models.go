package db

import "time"

// Streamer is one tracked creator on one platform, unique by (platform, external_id).
// DiscordUserID, when non-empty, links the creator to a Discord account for
// live-role assignment.
type Streamer struct {
	ID            int64
	Platform      string
	ExternalID    string
	DisplayName   string
	AvatarURL     string
	DiscordUserID string
}

// Subscription is one guild's intent to track a streamer in a channel.
// ChannelID == "" means "use the guild's default channel". AddedBy records
// provenance so the team roster syncer only ever deletes rows it created.
type Subscription struct {
	ID              int64
	GuildID         string
	StreamerID      int64
	ChannelID       string
	Nickname        string
	AvatarOverride  string
	MessageOverride string
	AddedBy         string
}

const (
	AddedByManual   = "manual"
	AddedByTeamSync = "team-sync"
)

type GuildConfig struct {
	GuildID          string
	DefaultChannelID string
	LiveRoleID       string
}

// TeamConfig declares that a platform team's roster is mirrored into
// subscriptions scoped to ChannelID.
type TeamConfig struct {
	ID         int64
	GuildID    string
	TeamName   string
	ChannelID  string
	LiveRoleID string
}

// Announcement is the persisted pointer to a currently-posted live message.
// At most one exists per subscription (DB unique constraint). The cached
// stream metadata allows a repost when the message disappears out-of-band.
type Announcement struct {
	ID             int64
	SubscriptionID int64
	MessageID      string
	ChannelID      string
	Title          string
	Game           string
	ViewerCount    int
	StreamURL      string
}

// StreamSession is the append-only analytics record of one continuous live
// period: opened when an announcement is created, closed when it is deleted.
type StreamSession struct {
	ID             int64
	StreamerID     int64
	SubscriptionID int64
	Title          string
	StartedAt      time.Time
	EndedAt        *time.Time
}

// SubscriptionView joins a subscription with its streamer for cycle processing.
type SubscriptionView struct {
	Subscription
	Streamer Streamer
}

// Snapshot is the immutable read-phase product for one reconciliation cycle:
// built once, diffed against fresh live statuses, then discarded.
type Snapshot struct {
	Subscriptions []SubscriptionView
	GuildConfigs  map[string]GuildConfig
	TeamConfigs   []TeamConfig
	// Announcements is keyed by subscription id.
	Announcements map[int64]Announcement
}

// MessageRef points at one chat message, used to hand message deletions back
// to a caller after a transactional bulk delete commits.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// LiveEntry is a read-model row for the status API ("who is live right now").
type LiveEntry struct {
	Platform    string    `json:"platform"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name"`
	Title       string    `json:"title"`
	Game        string    `json:"game"`
	ViewerCount int       `json:"viewer_count"`
	StreamURL   string    `json:"stream_url"`
	Since       time.Time `json:"since"`
}

// SessionEntry is a read-model row for past session history.
type SessionEntry struct {
	Platform    string     `json:"platform"`
	ExternalID  string     `json:"external_id"`
	DisplayName string     `json:"display_name"`
	Title       string     `json:"title"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}
