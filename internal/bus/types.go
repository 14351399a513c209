package bus

import "context"

// Attachment is a file uploaded with an inbound message.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
}

// InboundMessage represents a message posted in a guild channel or thread.
type InboundMessage struct {
	Channel     string       `json:"channel"` // platform name, e.g. "discord"
	MessageID   string       `json:"message_id"`
	ChannelID   string       `json:"channel_id"`
	ParentID    string       `json:"parent_id,omitempty"` // set when ChannelID is a thread
	GuildID     string       `json:"guild_id"`
	AuthorID    string       `json:"author_id"`
	AuthorBot   bool         `json:"author_bot,omitempty"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Responder answers a single control activation on the platform.
type Responder interface {
	// DisableControls makes the controls on the activated message inert.
	DisableControls(ctx context.Context) error
	// Ack replies privately to the user who pressed the control.
	Ack(ctx context.Context, text string) error
}

// InboundInteraction represents a press on an interactive control.
type InboundInteraction struct {
	Channel   string    `json:"channel"`
	CustomID  string    `json:"custom_id"`
	ActorID   string    `json:"actor_id"`
	ChannelID string    `json:"channel_id"`
	MessageID string    `json:"message_id"`
	Responder Responder `json:"-"`
}

// MessageRouter abstracts inbound routing between channels and the bot.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishInteraction(it InboundInteraction)
	ConsumeInteraction(ctx context.Context) (InboundInteraction, bool)
}
