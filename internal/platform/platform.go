// Package platform describes the chat-platform capabilities the bot consumes:
// sending, editing and deleting messages, creating and deleting threads,
// reactions, recent history and permission inspection.
//
// Concrete platforms (Discord) live under internal/channels. Everything above
// this package talks to these interfaces only, so orchestration logic can be
// exercised against platformtest.Fake.
package platform

import (
	"context"
	"io"
	"time"
)

// MessageKind distinguishes user content from platform system notices.
type MessageKind int

const (
	KindDefault MessageKind = iota
	// KindThreadCreated is the system notice a platform posts in the parent
	// channel when a thread is started without a carrier message.
	KindThreadCreated
)

// Message is a posted message as seen by the bot.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	AuthorBot bool
	Kind      MessageKind
	Content   string
	Timestamp time.Time
}

// Thread is a platform-native nested conversation anchored in a parent channel.
type Thread struct {
	ID       string
	ParentID string
	Name     string
}

// Mention returns the in-chat reference to the thread.
func (t *Thread) Mention() string { return "<#" + t.ID + ">" }

// ButtonStyle selects the visual weight of an interactive control.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonSecondary
	ButtonLink
)

// Button is an interactive control attached to a message.
// Link buttons carry URL instead of ID and never produce activations.
type Button struct {
	ID       string
	Label    string
	Style    ButtonStyle
	URL      string
	Disabled bool
}

// Embed is a rich summary block.
type Embed struct {
	Title       string
	Description string
	URL         string
	ImageURL    string
	Color       int
	Fields      []EmbedField
	Footer      string
	FooterIcon  string
}

// EmbedField is a titled paragraph inside an Embed.
type EmbedField struct {
	Name  string
	Value string
}

// File is an upload. Reader is consumed by the send.
type File struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// OutgoingMessage is the payload for Send and Edit.
// On Edit, nil Buttons removes all controls; Files and ReplyTo are ignored.
type OutgoingMessage struct {
	Content string
	Embeds  []Embed
	Buttons []Button
	Files   []File
	ReplyTo string // message id in the same channel to reply to
}

// Permission names a capability the bot needs in a channel.
type Permission string

const (
	PermSendMessages        Permission = "Send Messages"
	PermAttachFiles         Permission = "Attach Files"
	PermManageMessages      Permission = "Manage Messages"
	PermCreatePublicThreads Permission = "Create Public Threads"
	PermManageThreads       Permission = "Manage Threads"
	PermAddReactions        Permission = "Add Reactions"
)

// Messenger covers message-level operations.
type Messenger interface {
	Send(ctx context.Context, channelID string, msg OutgoingMessage) (*Message, error)
	Edit(ctx context.Context, channelID, messageID string, msg OutgoingMessage) error
	Delete(ctx context.Context, channelID, messageID string) error
	React(ctx context.Context, channelID, messageID, emoji string) error
	RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
}

// Threads covers thread lifecycle operations.
type Threads interface {
	// CreateThread starts a thread directly in the parent channel. The platform
	// may post a KindThreadCreated notice in the parent.
	CreateThread(ctx context.Context, parentID, name string) (*Thread, error)
	// CreateThreadFromMessage starts a thread anchored to an existing message.
	CreateThreadFromMessage(ctx context.Context, parentID, messageID, name string) (*Thread, error)
	DeleteThread(ctx context.Context, threadID string) error
}

// Inspector reports what the bot may do in a channel.
type Inspector interface {
	// MissingPermissions returns the subset of required the bot lacks.
	MissingPermissions(ctx context.Context, channelID string, required ...Permission) ([]Permission, error)
	// BotUserID is the bot's own user id, used to attribute notices.
	BotUserID() string
}

// Platform is the full capability set.
type Platform interface {
	Messenger
	Threads
	Inspector
}
