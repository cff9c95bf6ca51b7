package bot

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wherd.dev/eggbot/internal/event"
)

const botID = "bot-self"

var errNotFound = errors.New("not found")

type fakeDirectory struct {
	members  map[string]*discordgo.Member
	roles    map[string]*discordgo.Role
	channels map[string]*discordgo.Channel
	perms    map[string]int64
}

func (d *fakeDirectory) Member(_, userID string) (*discordgo.Member, error) {
	if m, ok := d.members[userID]; ok {
		return m, nil
	}
	return nil, errNotFound
}

func (d *fakeDirectory) Role(_, roleID string) (*discordgo.Role, error) {
	if r, ok := d.roles[roleID]; ok {
		return r, nil
	}
	return nil, errNotFound
}

func (d *fakeDirectory) Channel(channelID string) (*discordgo.Channel, error) {
	if c, ok := d.channels[channelID]; ok {
		return c, nil
	}
	return nil, errNotFound
}

func (d *fakeDirectory) UserChannelPermissions(userID, _ string) (int64, error) {
	if p, ok := d.perms[userID]; ok {
		return p, nil
	}
	return 0, errNotFound
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		members: map[string]*discordgo.Member{
			"u1": {User: &discordgo.User{ID: "u1", Username: "alice"}, Nick: "Alice"},
			"u2": {User: &discordgo.User{ID: "u2", Username: "bob", GlobalName: "Bobby"}},
		},
		roles: map[string]*discordgo.Role{
			"r1": {ID: "r1", Name: "Mods"},
		},
		channels: map[string]*discordgo.Channel{
			"text":  {ID: "text", Type: discordgo.ChannelTypeGuildText},
			"voice": {ID: "voice", Type: discordgo.ChannelTypeGuildVoice},
		},
		perms: map[string]int64{
			"admin": discordgo.PermissionAdministrator,
			"u1":    discordgo.PermissionSendMessages,
		},
	}
}

type published struct {
	envelopes []event.Envelope
}

func (p *published) publish(_ context.Context, env event.Envelope) error {
	p.envelopes = append(p.envelopes, env)
	return nil
}

func newTestAdapter(p *published, limiter *userLimiter) *adapter {
	return &adapter{publish: p.publish, limiter: limiter, prefixes: []string{"kudos!"}, logger: log.New(io.Discard)}
}

func noSend(context.Context, string, string) error { return nil }
func noReact(string, string, string) error         { return nil }

func TestAdapter_MessageFilters(t *testing.T) {
	tests := []struct {
		name   string
		author *discordgo.User
		want   bool
	}{
		{name: "member", author: &discordgo.User{ID: "u1"}, want: true},
		{name: "ourselves", author: &discordgo.User{ID: botID}},
		{name: "other bot", author: &discordgo.User{ID: "b2", Bot: true}},
		{name: "no author"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &published{}
			a := newTestAdapter(p, nil)

			m := &discordgo.Message{ID: "m", GuildID: "g", ChannelID: "text", Content: "hi", Author: tt.author}
			got := a.message(context.Background(), botID, newDirectory(), noSend, noReact, m)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, len(p.envelopes) == 1)
		})
	}
}

func TestAdapter_MessageConversion(t *testing.T) {
	p := &published{}
	a := newTestAdapter(p, nil)

	var sent []string
	type ctxKey struct{}
	send := func(ctx context.Context, channelID, content string) error {
		sent = append(sent, channelID+":"+content)
		assert.Equal(t, "handler", ctx.Value(ctxKey{}))
		return nil
	}

	m := &discordgo.Message{
		ID:           "m1",
		GuildID:      "g1",
		ChannelID:    "text",
		Content:      "<@u1> ++ <@u2> -- <@&r1> <@&r9>",
		Author:       &discordgo.User{ID: "admin", Username: "boss"},
		Member:       &discordgo.Member{Roles: []string{"r1"}},
		Mentions:     []*discordgo.User{{ID: "u1", Username: "alice"}, {ID: "u2", Username: "bob", GlobalName: "Bobby"}, {ID: "u3", Username: "carol"}},
		MentionRoles: []string{"r1", "r9"},
	}
	require.True(t, a.message(context.Background(), botID, newDirectory(), send, noReact, m))
	require.Len(t, p.envelopes, 1)

	env := p.envelopes[0]
	assert.Equal(t, event.TypeMessage, env.Type)
	assert.Equal(t, "g1", env.GuildID)

	msg, ok := env.Payload.(*event.Message)
	require.True(t, ok)
	assert.True(t, msg.Text)
	assert.Equal(t, m.Content, msg.Content)
	assert.Equal(t, event.Member{GuildID: "g1", ID: "admin", DisplayName: "boss", Admin: true, Roles: []string{"r1"}}, msg.Author)
	assert.Equal(t, []event.Mention{{ID: "u1", Name: "Alice"}, {ID: "u2", Name: "Bobby"}, {ID: "u3", Name: "carol"}}, msg.Mentions)
	assert.Equal(t, []event.Mention{{ID: "r1", Name: "Mods"}, {ID: "r9", Name: "r9"}}, msg.RoleMentions)

	require.NoError(t, msg.Reply(context.WithValue(context.Background(), ctxKey{}, "handler"), "hello"))
	assert.Equal(t, []string{"text:hello"}, sent)

	name, ok := msg.LookupMember("u1")
	assert.True(t, ok)
	assert.Equal(t, "Alice", name)
	_, ok = msg.LookupMember("gone")
	assert.False(t, ok)
}

func TestAdapter_ChannelType(t *testing.T) {
	tests := []struct {
		name      string
		guildID   string
		channelID string
		want      bool
	}{
		{name: "guild text", guildID: "g", channelID: "text", want: true},
		{name: "voice", guildID: "g", channelID: "voice"},
		{name: "unknown guild channel", guildID: "g", channelID: "other", want: true},
		{name: "direct message", channelID: "dm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &discordgo.Message{GuildID: tt.guildID, ChannelID: tt.channelID, Author: &discordgo.User{ID: "u1"}}
			msg := convertMessage(newDirectory(), noSend, m)
			assert.Equal(t, tt.want, msg.Text)
			assert.False(t, msg.Author.Admin)
		})
	}
}

func TestAdapter_RateLimited(t *testing.T) {
	tests := []struct {
		name    string
		message *discordgo.Message
		limited bool
	}{
		{name: "mention", message: &discordgo.Message{ID: "m", Mentions: []*discordgo.User{{ID: "u2"}}}, limited: true},
		{name: "role mention", message: &discordgo.Message{ID: "m", MentionRoles: []string{"r1"}}, limited: true},
		{name: "command", message: &discordgo.Message{ID: "m", Content: "kudos!board"}, limited: true},
		{name: "chatter", message: &discordgo.Message{ID: "m", Content: "good morning"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &published{}
			a := newTestAdapter(p, newUserLimiter(1, time.Hour))

			var reactions []string
			react := func(_, messageID, emoji string) error {
				reactions = append(reactions, messageID+emoji)
				return nil
			}

			m := tt.message
			m.GuildID, m.ChannelID, m.Author = "g", "text", &discordgo.User{ID: "u1"}
			assert.True(t, a.message(context.Background(), botID, newDirectory(), noSend, react, m))
			assert.Equal(t, !tt.limited, a.message(context.Background(), botID, newDirectory(), noSend, react, m))

			if tt.limited {
				assert.Len(t, p.envelopes, 1)
				assert.Equal(t, []string{"m⏰"}, reactions)
				return
			}
			assert.Len(t, p.envelopes, 2)
			assert.Empty(t, reactions)
		})
	}
}

func TestAdapter_MemberJoin(t *testing.T) {
	tests := []struct {
		name   string
		member *discordgo.Member
		want   bool
	}{
		{name: "member", member: &discordgo.Member{GuildID: "g", User: &discordgo.User{ID: "u1", Username: "alice"}, Nick: "Al"}, want: true},
		{name: "ourselves", member: &discordgo.Member{GuildID: "g", User: &discordgo.User{ID: botID}}},
		{name: "bot", member: &discordgo.Member{GuildID: "g", User: &discordgo.User{ID: "b", Bot: true}}},
		{name: "no user", member: &discordgo.Member{GuildID: "g"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &published{}
			a := newTestAdapter(p, nil)

			assert.Equal(t, tt.want, a.memberJoin(context.Background(), botID, tt.member))
			if !tt.want {
				assert.Empty(t, p.envelopes)
				return
			}

			require.Len(t, p.envelopes, 1)
			assert.Equal(t, event.TypeMemberJoin, p.envelopes[0].Type)
			assert.Equal(t, &event.Member{GuildID: "g", ID: "u1", DisplayName: "Al"}, p.envelopes[0].Payload)
		})
	}
}

func TestAdapter_Disconnect(t *testing.T) {
	p := &published{}
	newTestAdapter(p, nil).disconnect(context.Background())

	require.Len(t, p.envelopes, 1)
	assert.Equal(t, event.TypeDisconnect, p.envelopes[0].Type)
	assert.Equal(t, event.Disconnect{}, p.envelopes[0].Payload)
}

func TestAdapter_PublishFailure(t *testing.T) {
	a := &adapter{
		publish: func(context.Context, event.Envelope) error { return event.ErrLoopStopped },
		logger:  log.New(io.Discard),
	}

	m := &discordgo.Message{GuildID: "g", ChannelID: "text", Author: &discordgo.User{ID: "u1"}}
	assert.False(t, a.message(context.Background(), botID, newDirectory(), noSend, noReact, m))
}
