package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/onnwee/streamwatch/discord"
)

// FakeGateway is an in-memory discord.Gateway for reconciler tests. State is
// mutated through the same methods the reconcilers call, and every write is
// recorded in Calls for assertions. Errs injects a persistent error per
// operation name (send, edit, delete, add_role, remove_role, member_roles).
type FakeGateway struct {
	mu sync.Mutex

	nextID          int
	Messages        map[string]string // "channelID/messageID" -> content
	MissingChannels map[string]bool
	GuildRoles      map[string]map[string]bool // guildID -> role set
	MemberRoleSets  map[string]map[string]bool // "guildID/userID" -> role set

	Errs  map[string]error
	Calls []string
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		Messages:        make(map[string]string),
		MissingChannels: make(map[string]bool),
		GuildRoles:      make(map[string]map[string]bool),
		MemberRoleSets:  make(map[string]map[string]bool),
		Errs:            make(map[string]error),
	}
}

func (f *FakeGateway) record(format string, args ...any) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

func msgKey(channelID, messageID string) string { return channelID + "/" + messageID }

func (f *FakeGateway) SendMessage(_ context.Context, channelID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["send"]; err != nil {
		return "", err
	}
	if f.MissingChannels[channelID] {
		return "", discord.ErrNotFound
	}
	f.nextID++
	id := fmt.Sprintf("m%d", f.nextID)
	f.Messages[msgKey(channelID, id)] = content
	f.record("send %s %s", channelID, id)
	return id, nil
}

func (f *FakeGateway) EditMessage(_ context.Context, channelID, messageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["edit"]; err != nil {
		return err
	}
	k := msgKey(channelID, messageID)
	if _, ok := f.Messages[k]; !ok {
		return discord.ErrNotFound
	}
	f.Messages[k] = content
	f.record("edit %s %s", channelID, messageID)
	return nil
}

func (f *FakeGateway) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["delete"]; err != nil {
		return err
	}
	k := msgKey(channelID, messageID)
	if _, ok := f.Messages[k]; !ok {
		return discord.ErrNotFound
	}
	delete(f.Messages, k)
	f.record("delete %s %s", channelID, messageID)
	return nil
}

func (f *FakeGateway) ChannelExists(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MissingChannels[channelID] {
		return discord.ErrNotFound
	}
	return nil
}

func (f *FakeGateway) MessageExists(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MissingChannels[channelID] {
		return discord.ErrNotFound
	}
	if _, ok := f.Messages[msgKey(channelID, messageID)]; !ok {
		return discord.ErrNotFound
	}
	return nil
}

func (f *FakeGateway) RoleExists(_ context.Context, guildID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.GuildRoles[guildID][roleID] {
		return discord.ErrNotFound
	}
	return nil
}

func (f *FakeGateway) MemberRoles(_ context.Context, guildID, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["member_roles"]; err != nil {
		return nil, err
	}
	roles := make([]string, 0, len(f.MemberRoleSets[guildID+"/"+userID]))
	for r := range f.MemberRoleSets[guildID+"/"+userID] {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles, nil
}

func (f *FakeGateway) AddRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["add_role"]; err != nil {
		return err
	}
	if !f.GuildRoles[guildID][roleID] {
		return discord.ErrNotFound
	}
	k := guildID + "/" + userID
	if f.MemberRoleSets[k] == nil {
		f.MemberRoleSets[k] = make(map[string]bool)
	}
	f.MemberRoleSets[k][roleID] = true
	f.record("add_role %s %s %s", guildID, userID, roleID)
	return nil
}

func (f *FakeGateway) RemoveRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["remove_role"]; err != nil {
		return err
	}
	if !f.GuildRoles[guildID][roleID] {
		return discord.ErrNotFound
	}
	delete(f.MemberRoleSets[guildID+"/"+userID], roleID)
	f.record("remove_role %s %s %s", guildID, userID, roleID)
	return nil
}

// SetRole marks a role as existing in a guild.
func (f *FakeGateway) SetRole(guildID, roleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GuildRoles[guildID] == nil {
		f.GuildRoles[guildID] = make(map[string]bool)
	}
	f.GuildRoles[guildID][roleID] = true
}

// SetMessage seeds an existing message.
func (f *FakeGateway) SetMessage(channelID, messageID, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages[msgKey(channelID, messageID)] = content
}

// WriteCount returns the number of recorded mutating calls.
func (f *FakeGateway) WriteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}
