// Package announce reconciles the desired announcement state (derived from
// fresh live statuses) against the persisted announcement set, issuing
// create/edit/delete actions against Discord and the store. Re-running a cycle
// with no underlying change produces zero chat-platform writes.
package announce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/onnwee/streamwatch/db"
	"github.com/onnwee/streamwatch/discord"
	"github.com/onnwee/streamwatch/platform"
	"github.com/onnwee/streamwatch/telemetry"
)

// Store is the slice of db.Store the reconciler writes through.
type Store interface {
	CreateAnnouncement(ctx context.Context, a db.Announcement, streamerID int64) error
	DeleteAnnouncement(ctx context.Context, subscriptionID int64) error
	UpdateAnnouncementContent(ctx context.Context, subscriptionID int64, title, game string, viewers int, streamURL string) error
	ReplaceAnnouncementMessage(ctx context.Context, subscriptionID int64, messageID string) error
}

// Messenger is the chat-platform slice the reconciler needs.
type Messenger interface {
	SendMessage(ctx context.Context, channelID, content string) (string, error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

type Reconciler struct {
	store Store
	msgr  Messenger
}

func New(store Store, msgr Messenger) *Reconciler {
	return &Reconciler{store: store, msgr: msgr}
}

// Reconcile walks every subscription in the snapshot, converging its
// announcement toward the fresh live status, then purges announcement rows
// whose owning subscription disappeared out-of-band. Subscription order is not
// significant; every action is independently retryable next cycle.
func (r *Reconciler) Reconcile(ctx context.Context, snap *db.Snapshot, live map[int64]platform.LiveStatus) {
	log := telemetry.LoggerWithCorr(ctx)
	touched := make(map[int64]bool, len(snap.Subscriptions))
	for _, sub := range snap.Subscriptions {
		touched[sub.ID] = true
		ann, hasAnn := snap.Announcements[sub.ID]
		r.reconcileOne(ctx, log, sub, snap.GuildConfigs, ann, hasAnn, live[sub.StreamerID])
	}

	for subID, ann := range snap.Announcements {
		if touched[subID] {
			continue
		}
		// owning subscription was deleted out from under us
		log.Warn("purging orphaned announcement", slog.Int64("subscription_id", subID), slog.String("message_id", ann.MessageID))
		r.remove(ctx, log, subID, ann)
	}
}

func (r *Reconciler) reconcileOne(ctx context.Context, log *slog.Logger, sub db.SubscriptionView, guilds map[string]db.GuildConfig, ann db.Announcement, hasAnn bool, st platform.LiveStatus) {
	channelID := sub.ChannelID
	if channelID == "" {
		channelID = guilds[sub.GuildID].DefaultChannelID
	}
	if channelID == "" {
		// no target channel configured; nothing to announce, and anything
		// previously announced is now unwanted
		if hasAnn {
			r.remove(ctx, log, sub.ID, ann)
		}
		return
	}

	switch {
	case !st.IsLive && !hasAnn:
		// converged

	case !st.IsLive && hasAnn:
		r.remove(ctx, log, sub.ID, ann)

	case st.IsLive && !hasAnn:
		r.create(ctx, log, sub, channelID, st)

	case st.IsLive && hasAnn:
		if ann.ChannelID != channelID {
			// target channel changed out from under the announcement; move it
			r.remove(ctx, log, sub.ID, ann)
			r.create(ctx, log, sub, channelID, st)
			return
		}
		if ann.Title == st.Title && ann.Game == st.Game && ann.ViewerCount == st.ViewerCount {
			return
		}
		r.edit(ctx, log, sub, channelID, ann, st)
	}
}

func (r *Reconciler) create(ctx context.Context, log *slog.Logger, sub db.SubscriptionView, channelID string, st platform.LiveStatus) {
	content := Render(sub, st.Title, st.Game, st.ViewerCount, st.URL)
	msgID, err := r.msgr.SendMessage(ctx, channelID, content)
	if err != nil {
		log.Error("announcement send failed", slog.String("channel", channelID), slog.String("streamer", sub.Streamer.ExternalID), slog.Any("err", err))
		if telemetry.DeliveryFailures != nil {
			telemetry.DeliveryFailures.Inc()
		}
		return
	}
	err = r.store.CreateAnnouncement(ctx, db.Announcement{
		SubscriptionID: sub.ID,
		MessageID:      msgID,
		ChannelID:      channelID,
		Title:          st.Title,
		Game:           st.Game,
		ViewerCount:    st.ViewerCount,
		StreamURL:      st.URL,
	}, sub.StreamerID)
	if err != nil {
		// the message is up but untracked; next cycle reposts, so take this
		// one down best-effort to avoid a duplicate
		log.Error("announcement insert failed", slog.Int64("subscription_id", sub.ID), slog.Any("err", err))
		if derr := r.msgr.DeleteMessage(ctx, channelID, msgID); derr != nil && !errors.Is(derr, discord.ErrNotFound) {
			log.Warn("orphan message cleanup failed", slog.String("message_id", msgID), slog.Any("err", derr))
		}
		return
	}
	log.Info("announcement posted", slog.String("streamer", sub.Streamer.ExternalID), slog.String("channel", channelID), slog.String("message_id", msgID))
	if telemetry.AnnouncementsCreated != nil {
		telemetry.AnnouncementsCreated.Inc()
	}
}

func (r *Reconciler) edit(ctx context.Context, log *slog.Logger, sub db.SubscriptionView, channelID string, ann db.Announcement, st platform.LiveStatus) {
	content := Render(sub, st.Title, st.Game, st.ViewerCount, st.URL)
	err := r.msgr.EditMessage(ctx, channelID, ann.MessageID, content)
	switch {
	case errors.Is(err, discord.ErrNotFound):
		// message deleted out-of-band: self-healing repost, same row
		msgID, serr := r.msgr.SendMessage(ctx, channelID, content)
		if serr != nil {
			log.Error("announcement repost failed", slog.String("channel", channelID), slog.Any("err", serr))
			if telemetry.DeliveryFailures != nil {
				telemetry.DeliveryFailures.Inc()
			}
			return
		}
		if uerr := r.store.ReplaceAnnouncementMessage(ctx, sub.ID, msgID); uerr != nil {
			log.Error("announcement message pointer update failed", slog.Int64("subscription_id", sub.ID), slog.Any("err", uerr))
			return
		}
		log.Warn("announcement reposted after out-of-band delete", slog.Int64("subscription_id", sub.ID), slog.String("message_id", msgID))
	case err != nil:
		log.Error("announcement edit failed", slog.String("message_id", ann.MessageID), slog.Any("err", err))
		if telemetry.DeliveryFailures != nil {
			telemetry.DeliveryFailures.Inc()
		}
		return
	default:
		if telemetry.AnnouncementsEdited != nil {
			telemetry.AnnouncementsEdited.Inc()
		}
	}
	if uerr := r.store.UpdateAnnouncementContent(ctx, sub.ID, st.Title, st.Game, st.ViewerCount, st.URL); uerr != nil {
		log.Error("announcement content update failed", slog.Int64("subscription_id", sub.ID), slog.Any("err", uerr))
	}
}

// remove deletes the chat message (tolerating "already gone"), then the row
// and its open session. A forbidden delete leaves the row so the next cycle
// retries.
func (r *Reconciler) remove(ctx context.Context, log *slog.Logger, subscriptionID int64, ann db.Announcement) {
	err := r.msgr.DeleteMessage(ctx, ann.ChannelID, ann.MessageID)
	if err != nil && !errors.Is(err, discord.ErrNotFound) {
		log.Error("announcement delete failed", slog.String("message_id", ann.MessageID), slog.Any("err", err))
		if telemetry.DeliveryFailures != nil {
			telemetry.DeliveryFailures.Inc()
		}
		return
	}
	if serr := r.store.DeleteAnnouncement(ctx, subscriptionID); serr != nil {
		log.Error("announcement row delete failed", slog.Int64("subscription_id", subscriptionID), slog.Any("err", serr))
		return
	}
	log.Info("announcement removed", slog.Int64("subscription_id", subscriptionID), slog.String("message_id", ann.MessageID))
	if telemetry.AnnouncementsDeleted != nil {
		telemetry.AnnouncementsDeleted.Inc()
	}
}

// Render builds the announcement message content. Presentation is deliberately
// plain; the per-subscription override supports {name}, {title}, {game},
// {viewers} and {url} placeholders.
func Render(sub db.SubscriptionView, title, game string, viewers int, url string) string {
	name := sub.Nickname
	if name == "" {
		name = sub.Streamer.DisplayName
	}
	if name == "" {
		name = sub.Streamer.ExternalID
	}
	if sub.MessageOverride != "" {
		return strings.NewReplacer(
			"{name}", name,
			"{title}", title,
			"{game}", game,
			"{viewers}", strconv.Itoa(viewers),
			"{url}", url,
		).Replace(sub.MessageOverride)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s is now live: %s", name, title)
	if game != "" {
		fmt.Fprintf(&b, "\nPlaying: %s", game)
	}
	if viewers > 0 {
		fmt.Fprintf(&b, " (%d viewers)", viewers)
	}
	if url != "" {
		fmt.Fprintf(&b, "\n%s", url)
	}
	return b.String()
}
