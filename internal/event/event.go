package event

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Type identifies a kind of event handlers can subscribe to.
type Type int

const (
	TypeMemberJoin Type = iota + 1
	TypeMessage
	TypeDisconnect
)

func (t Type) String() string {
	switch t {
	case TypeMemberJoin:
		return "member_join"
	case TypeMessage:
		return "message"
	case TypeDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Member is a guild member as seen by handlers.
type Member struct {
	GuildID     string
	ID          string
	DisplayName string
	Bot         bool
	// Admin is set for members with Administrator or Manage Server permission.
	Admin bool
	Roles []string
}

// Mention is a user or role referenced inline in a message.
type Mention struct {
	ID   string
	Name string
}

// ReplyFunc sends text back into the channel the triggering message came from.
type ReplyFunc func(ctx context.Context, text string) error

// MemberLookup resolves a user ID to a display name within the message's guild.
type MemberLookup func(userID string) (string, bool)

// Message is a chat message published on TypeMessage.
type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	// Text is true for guild text channels.
	Text         bool
	Content      string
	Author       Member
	Mentions     []Mention
	RoleMentions []Mention

	Reply        ReplyFunc
	LookupMember MemberLookup
}

// Disconnect is published on TypeDisconnect when the gateway connection drops.
type Disconnect struct{}

// Envelope carries one event through the Loop.
type Envelope struct {
	ID      uuid.UUID
	Type    Type
	GuildID string
	Payload any
}

func NewEnvelope(t Type, guildID string, payload any) Envelope {
	return Envelope{
		ID:      uuid.New(),
		Type:    t,
		GuildID: guildID,
		Payload: payload,
	}
}

type eventIDKey struct{}

// WithEventID returns a context carrying the envelope ID for log correlation.
func WithEventID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, eventIDKey{}, id)
}

// EventID returns the envelope ID stored in ctx, or uuid.Nil.
func EventID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(eventIDKey{}).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}
