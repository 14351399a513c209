package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/gridzer0/threadbot/internal/platform"
)

func (c *Channel) Send(ctx context.Context, channelID string, msg platform.OutgoingMessage) (*platform.Message, error) {
	data := &discordgo.MessageSend{
		Content:    msg.Content,
		Embeds:     toEmbeds(msg.Embeds),
		Components: toComponents(msg.Buttons),
		Files:      toFiles(msg.Files),
	}
	if msg.ReplyTo != "" {
		noFail := false
		data.Reference = &discordgo.MessageReference{
			MessageID:       msg.ReplyTo,
			ChannelID:       channelID,
			FailIfNotExists: &noFail,
		}
	}
	m, err := c.session.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("send message", err)
	}
	out := fromMessage(m)
	return &out, nil
}

func (c *Channel) Edit(ctx context.Context, channelID, messageID string, msg platform.OutgoingMessage) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(msg.Content)
	components := toComponents(msg.Buttons)
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	edit.Components = &components
	if msg.Embeds != nil {
		embeds := toEmbeds(msg.Embeds)
		edit.Embeds = &embeds
	}
	_, err := c.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return classify("edit message", err)
}

func (c *Channel) Delete(ctx context.Context, channelID, messageID string) error {
	return classify("delete message", c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (c *Channel) React(ctx context.Context, channelID, messageID, emoji string) error {
	return classify("add reaction", c.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)))
}

func (c *Channel) RecentMessages(ctx context.Context, channelID string, limit int) ([]platform.Message, error) {
	msgs, err := c.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("list messages", err)
	}
	out := make([]platform.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, fromMessage(m))
	}
	return out, nil
}

func (c *Channel) CreateThread(ctx context.Context, parentID, name string) (*platform.Thread, error) {
	ch, err := c.session.ThreadStartComplex(parentID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: c.autoArchive,
		Type:                discordgo.ChannelTypeGuildPublicThread,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("create thread", err)
	}
	return &platform.Thread{ID: ch.ID, ParentID: parentID, Name: ch.Name}, nil
}

func (c *Channel) CreateThreadFromMessage(ctx context.Context, parentID, messageID, name string) (*platform.Thread, error) {
	ch, err := c.session.MessageThreadStartComplex(parentID, messageID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: c.autoArchive,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("create thread from message", err)
	}
	return &platform.Thread{ID: ch.ID, ParentID: parentID, Name: ch.Name}, nil
}

func (c *Channel) DeleteThread(ctx context.Context, threadID string) error {
	_, err := c.session.ChannelDelete(threadID, discordgo.WithContext(ctx))
	return classify("delete thread", err)
}

func (c *Channel) MissingPermissions(ctx context.Context, channelID string, required ...platform.Permission) ([]platform.Permission, error) {
	perms, err := c.session.UserChannelPermissions(c.botUserID, channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("check permissions", err)
	}
	return missingPermissions(perms, required), nil
}
