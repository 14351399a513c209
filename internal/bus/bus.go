// Package bus decouples platform gateways from the bot's handlers with
// buffered inbound queues.
package bus

import (
	"context"
	"log/slog"
)

const defaultBuffer = 256

// MessageBus carries inbound messages and interactions from channels to the
// router. Publishing never blocks the gateway: when a queue is full the event
// is dropped and logged.
type MessageBus struct {
	inbound      chan InboundMessage
	interactions chan InboundInteraction
}

var _ MessageRouter = (*MessageBus)(nil)

// New creates a bus with the default buffer size.
func New() *MessageBus { return NewWithBuffer(defaultBuffer) }

// NewWithBuffer creates a bus whose queues hold size events each.
func NewWithBuffer(size int) *MessageBus {
	if size <= 0 {
		size = defaultBuffer
	}
	return &MessageBus{
		inbound:      make(chan InboundMessage, size),
		interactions: make(chan InboundInteraction, size),
	}
}

func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case mb.inbound <- msg:
	default:
		slog.Warn("bus: inbound queue full, dropping message",
			"channel_id", msg.ChannelID, "message_id", msg.MessageID)
	}
}

// ConsumeInbound blocks until a message arrives or ctx is done.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-mb.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishInteraction queues a control press. A press that cannot be queued
// is acknowledged as failed so the user is not left waiting.
func (mb *MessageBus) PublishInteraction(it InboundInteraction) {
	select {
	case mb.interactions <- it:
	default:
		slog.Warn("bus: interaction queue full, dropping", "custom_id", it.CustomID)
		if it.Responder != nil {
			_ = it.Responder.Ack(context.Background(), "The bot is busy, please try again.")
		}
	}
}

// ConsumeInteraction blocks until an interaction arrives or ctx is done.
func (mb *MessageBus) ConsumeInteraction(ctx context.Context) (InboundInteraction, bool) {
	select {
	case it := <-mb.interactions:
		return it, true
	case <-ctx.Done():
		return InboundInteraction{}, false
	}
}
