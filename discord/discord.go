// Package discord wraps the chat-platform operations the reconcilers need and
// maps REST failures to the two classes they care about: "not found" (already
// satisfied / self-heal trigger) and "forbidden" (logged, retried next cycle).
package discord

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

var (
	// ErrNotFound is returned when the referenced message, channel, role, or
	// member no longer exists.
	ErrNotFound = errors.New("discord: not found")
	// ErrForbidden is returned when the bot lacks permission for the operation.
	ErrForbidden = errors.New("discord: forbidden")
)

// Gateway is the chat-platform surface consumed by the reconcilers. The
// concrete implementation is Session; tests substitute fakes.
type Gateway interface {
	SendMessage(ctx context.Context, channelID, content string) (messageID string, err error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	ChannelExists(ctx context.Context, channelID string) error
	MessageExists(ctx context.Context, channelID, messageID string) error
	RoleExists(ctx context.Context, guildID, roleID string) error
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
}

// Session implements Gateway over a discordgo session.
type Session struct {
	s *discordgo.Session
}

// NewSession builds a session from a bot token. The gateway connection is not
// opened here; call Open once wiring is complete.
func NewSession(token string) (*Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	return &Session{s: s}, nil
}

func (g *Session) Open() error  { return g.s.Open() }
func (g *Session) Close() error { return g.s.Close() }

// Ready reports whether the gateway websocket has completed its handshake.
func (g *Session) Ready() bool {
	return g.s.State != nil && g.s.State.User != nil
}

func (g *Session) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	msg, err := g.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapErr(err)
	}
	return msg.ID, nil
}

func (g *Session) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	_, err := g.s.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx))
	return mapErr(err)
}

func (g *Session) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return mapErr(g.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (g *Session) ChannelExists(ctx context.Context, channelID string) error {
	_, err := g.s.Channel(channelID, discordgo.WithContext(ctx))
	return mapErr(err)
}

func (g *Session) MessageExists(ctx context.Context, channelID, messageID string) error {
	_, err := g.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	return mapErr(err)
}

func (g *Session) RoleExists(ctx context.Context, guildID, roleID string) error {
	roles, err := g.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return mapErr(err)
	}
	for _, r := range roles {
		if r.ID == roleID {
			return nil
		}
	}
	return ErrNotFound
}

func (g *Session) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	member, err := g.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return member.Roles, nil
}

func (g *Session) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return mapErr(g.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (g *Session) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return mapErr(g.s.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

// mapErr folds discordgo REST errors into the package's sentinel errors,
// keeping the original for context via errors.Join.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil {
		switch rerr.Response.StatusCode {
		case http.StatusNotFound:
			return errors.Join(ErrNotFound, err)
		case http.StatusForbidden:
			return errors.Join(ErrForbidden, err)
		}
	}
	return err
}
