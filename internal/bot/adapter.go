package bot

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"wherd.dev/eggbot/internal/event"
)

// directory resolves guild entities. *discordgo.State satisfies it.
type directory interface {
	Member(guildID, userID string) (*discordgo.Member, error)
	Role(guildID, roleID string) (*discordgo.Role, error)
	Channel(channelID string) (*discordgo.Channel, error)
	UserChannelPermissions(userID, channelID string) (int64, error)
}

type (
	sendFunc  func(ctx context.Context, channelID, content string) error
	reactFunc func(channelID, messageID, emoji string) error
)

// adapter turns gateway events into core events and publishes them.
type adapter struct {
	publish func(context.Context, event.Envelope) error
	limiter *userLimiter
	// prefixes mark command messages. Only commands and messages that mention
	// someone count against the rate limit.
	prefixes []string
	logger   *log.Logger
}

// ignoreAuthor reports whether events by u must not reach handlers.
func (a *adapter) ignoreAuthor(selfID string, u *discordgo.User) bool {
	if u == nil {
		return true
	}
	if u.ID == selfID {
		a.logger.Debug("Ignoring ourselves")
		return true
	}
	if u.Bot {
		a.logger.Debug("Bot author, ignoring", "user", u.ID)
		return true
	}
	return false
}

func (a *adapter) memberJoin(ctx context.Context, selfID string, m *discordgo.Member) bool {
	if m == nil || m.User == nil {
		return false
	}
	if m.User.ID == selfID {
		a.logger.Warn("Saw ourselves join, that's weird")
		return false
	}
	if m.User.Bot {
		a.logger.Info("Bot join detected, ignoring", "user", m.User.ID)
		return false
	}

	member := &event.Member{
		GuildID:     m.GuildID,
		ID:          m.User.ID,
		DisplayName: displayName(m, m.User),
		Roles:       m.Roles,
	}

	if err := a.publish(ctx, event.NewEnvelope(event.TypeMemberJoin, m.GuildID, member)); err != nil {
		a.logger.Errorf("Failed to publish member join: %v", err)
		return false
	}
	return true
}

func (a *adapter) message(ctx context.Context, selfID string, dir directory, send sendFunc, react reactFunc, m *discordgo.Message) bool {
	if m == nil || a.ignoreAuthor(selfID, m.Author) {
		return false
	}

	if a.limiter != nil && a.actionable(m) && !a.limiter.Allow(m.Author.ID) {
		if err := react(m.ChannelID, m.ID, "⏰"); err != nil {
			a.logger.Errorf("Failed to add warning reaction: %v", err)
		}
		return false
	}

	msg := convertMessage(dir, send, m)
	if err := a.publish(ctx, event.NewEnvelope(event.TypeMessage, m.GuildID, msg)); err != nil {
		a.logger.Errorf("Failed to publish message: %v", err)
		return false
	}
	return true
}

// actionable reports whether m can make a module do work.
func (a *adapter) actionable(m *discordgo.Message) bool {
	if len(m.Mentions) > 0 || len(m.MentionRoles) > 0 {
		return true
	}
	for _, p := range a.prefixes {
		if strings.HasPrefix(m.Content, p) {
			return true
		}
	}
	return false
}

func (a *adapter) disconnect(ctx context.Context) {
	if err := a.publish(ctx, event.NewEnvelope(event.TypeDisconnect, "", event.Disconnect{})); err != nil {
		a.logger.Errorf("Failed to publish disconnect: %v", err)
	}
}

func convertMessage(dir directory, send sendFunc, m *discordgo.Message) *event.Message {
	msg := &event.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Text:      m.GuildID != "",
		Content:   m.Content,
		Author: event.Member{
			GuildID:     m.GuildID,
			ID:          m.Author.ID,
			DisplayName: displayName(m.Member, m.Author),
			Bot:         m.Author.Bot,
		},
	}

	if ch, err := dir.Channel(m.ChannelID); err == nil && ch != nil {
		msg.Text = ch.Type == discordgo.ChannelTypeGuildText
	}

	if m.Member != nil {
		msg.Author.Roles = m.Member.Roles
	}
	if perms, err := dir.UserChannelPermissions(m.Author.ID, m.ChannelID); err == nil {
		msg.Author.Admin = perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageServer) != 0
	}

	for _, u := range m.Mentions {
		if u == nil {
			continue
		}
		member, _ := dir.Member(m.GuildID, u.ID)
		msg.Mentions = append(msg.Mentions, event.Mention{ID: u.ID, Name: displayName(member, u)})
	}

	for _, id := range m.MentionRoles {
		name := id
		if role, err := dir.Role(m.GuildID, id); err == nil && role != nil {
			name = role.Name
		}
		msg.RoleMentions = append(msg.RoleMentions, event.Mention{ID: id, Name: name})
	}

	guildID, channelID := m.GuildID, m.ChannelID
	msg.Reply = func(ctx context.Context, text string) error {
		return send(ctx, channelID, text)
	}
	msg.LookupMember = func(userID string) (string, bool) {
		member, err := dir.Member(guildID, userID)
		if err != nil || member == nil || member.User == nil {
			return "", false
		}
		return displayName(member, member.User), true
	}

	return msg
}

func displayName(m *discordgo.Member, u *discordgo.User) string {
	if m != nil && m.Nick != "" {
		return m.Nick
	}
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
