// Package discord connects threadbot to Discord through discordgo. The
// Channel is both the gateway (events in, via the bus) and the REST-backed
// platform.Platform the rest of the bot acts through.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/gridzer0/threadbot/internal/bus"
	"github.com/gridzer0/threadbot/internal/channels"
	"github.com/gridzer0/threadbot/internal/platform"
)

const defaultAutoArchive = 1440

// Options configures a Channel.
type Options struct {
	Token              string
	AllowGuilds        []string
	AllowFrom          []string
	AutoArchiveMinutes int
}

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session     *discordgo.Session
	botUserID   string // populated on start
	autoArchive int
}

var _ platform.Platform = (*Channel)(nil)

// New creates a Discord channel. The session is not opened until Start.
func New(opts Options, msgBus bus.MessageRouter) (*Channel, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	session, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	// Guilds keeps thread parents in the state cache.
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	autoArchive := opts.AutoArchiveMinutes
	if autoArchive <= 0 {
		autoArchive = defaultAutoArchive
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus, opts.AllowGuilds, opts.AllowFrom),
		session:     session,
		autoArchive: autoArchive,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)
	c.session.AddHandler(c.handleInteraction)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	// Fetch bot identity
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// BotUserID returns the bot's own user id (empty before Start).
func (c *Channel) BotUserID() string { return c.botUserID }

// handleMessage forwards guild messages from humans to the bus.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	// Direct messages are not handled.
	if m.GuildID == "" {
		return
	}

	msg := inboundFromMessage(m.Message, c.parentOf(m.ChannelID))

	slog.Debug("discord message received",
		"user_id", msg.AuthorID,
		"channel_id", msg.ChannelID,
		"parent_id", msg.ParentID,
		"attachments", len(msg.Attachments),
	)
	c.HandleMessage(msg)
}

// handleInteraction forwards button presses to the bus.
func (c *Channel) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	it := inboundFromInteraction(i.Interaction)
	it.Responder = newResponder(s, i.Interaction)

	slog.Debug("discord interaction received", "custom_id", it.CustomID, "user_id", it.ActorID)
	c.HandleInteraction(i.GuildID, it)
}

// parentOf returns the parent channel id when channelID is a thread.
func (c *Channel) parentOf(channelID string) string {
	ch, err := c.session.State.Channel(channelID)
	if err != nil {
		ch, err = c.session.Channel(channelID)
		if err != nil {
			slog.Debug("discord: resolve channel failed", "channel_id", channelID, "error", err)
			return ""
		}
	}
	if ch.IsThread() {
		return ch.ParentID
	}
	return ""
}
