// Package channels provides the gateway layer that connects chat platforms to
// the bot via the message bus. A channel owns the platform session, filters
// events by its allowlists and publishes what remains.
package channels

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/gridzer0/threadbot/internal/bus"
)

// Channel defines the lifecycle every platform gateway implements.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord").
	Name() string

	// Start connects to the platform. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the connection.
	Stop(ctx context.Context) error

	// IsRunning returns whether the channel is connected.
	IsRunning() bool
}

// BaseChannel provides shared functionality for channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name        string
	bus         bus.MessageRouter
	running     atomic.Bool
	allowGuilds []string
	allowFrom   []string
	limiter     *SenderRateLimiter
}

// NewBaseChannel creates a new BaseChannel. Empty allowlists admit everyone.
func NewBaseChannel(name string, msgBus bus.MessageRouter, allowGuilds, allowFrom []string) *BaseChannel {
	return &BaseChannel{
		name:        name,
		bus:         msgBus,
		allowGuilds: allowGuilds,
		allowFrom:   allowFrom,
		limiter:     NewSenderRateLimiter(),
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// IsAllowed reports whether a sender in a guild passes both allowlists.
func (c *BaseChannel) IsAllowed(guildID, senderID string) bool {
	if len(c.allowGuilds) > 0 && !slices.Contains(c.allowGuilds, guildID) {
		return false
	}
	if len(c.allowFrom) > 0 && !slices.Contains(c.allowFrom, senderID) {
		return false
	}
	return true
}

// HandleMessage publishes an inbound message if the sender is allowed and
// not flooding.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) {
	if !c.IsAllowed(msg.GuildID, msg.AuthorID) {
		slog.Debug("message rejected by allowlist", "channel", c.name, "user_id", msg.AuthorID, "guild_id", msg.GuildID)
		return
	}
	if !c.limiter.Allow(msg.AuthorID) {
		slog.Warn("message rejected by rate limit", "channel", c.name, "user_id", msg.AuthorID)
		return
	}
	msg.Channel = c.name
	c.bus.PublishInbound(msg)
}

// HandleInteraction publishes a control press. Allowlists apply; rejected
// presses are acknowledged so the client does not show a failure.
func (c *BaseChannel) HandleInteraction(guildID string, it bus.InboundInteraction) {
	if !c.IsAllowed(guildID, it.ActorID) {
		if it.Responder != nil {
			_ = it.Responder.Ack(context.Background(), "You are not allowed to use this bot.")
		}
		return
	}
	it.Channel = c.name
	c.bus.PublishInteraction(it)
}
