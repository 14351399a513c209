package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/gridzer0/threadbot/internal/bus"
	"github.com/gridzer0/threadbot/internal/platform"
)

// maxButtonsPerRow is Discord's action row limit.
const maxButtonsPerRow = 5

var permissionBits = map[platform.Permission]int64{
	platform.PermSendMessages:        discordgo.PermissionSendMessages,
	platform.PermAttachFiles:         discordgo.PermissionAttachFiles,
	platform.PermManageMessages:      discordgo.PermissionManageMessages,
	platform.PermCreatePublicThreads: discordgo.PermissionCreatePublicThreads,
	platform.PermManageThreads:       discordgo.PermissionManageThreads,
	platform.PermAddReactions:        discordgo.PermissionAddReactions,
}

// missingPermissions returns the entries of required not granted by have.
// Unmapped permissions are reported missing.
func missingPermissions(have int64, required []platform.Permission) []platform.Permission {
	if have&discordgo.PermissionAdministrator != 0 {
		return nil
	}
	var missing []platform.Permission
	for _, p := range required {
		bit, ok := permissionBits[p]
		if !ok || have&bit != bit {
			missing = append(missing, p)
		}
	}
	return missing
}

func fromMessage(m *discordgo.Message) platform.Message {
	out := platform.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorBot = m.Author.Bot
	}
	if m.Type == discordgo.MessageTypeThreadCreated {
		out.Kind = platform.KindThreadCreated
	}
	return out
}

func inboundFromMessage(m *discordgo.Message, parentID string) bus.InboundMessage {
	msg := bus.InboundMessage{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
		ParentID:  parentID,
		GuildID:   m.GuildID,
		Content:   m.Content,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorBot = m.Author.Bot
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, bus.Attachment{
			ID:          a.ID,
			Name:        a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
			Size:        int64(a.Size),
		})
	}
	return msg
}

func inboundFromInteraction(i *discordgo.Interaction) bus.InboundInteraction {
	it := bus.InboundInteraction{
		CustomID:  i.MessageComponentData().CustomID,
		ChannelID: i.ChannelID,
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		it.ActorID = i.Member.User.ID
	case i.User != nil:
		it.ActorID = i.User.ID
	}
	if i.Message != nil {
		it.MessageID = i.Message.ID
	}
	return it
}

func toEmbeds(in []platform.Embed) []*discordgo.MessageEmbed {
	if len(in) == 0 {
		return nil
	}
	out := make([]*discordgo.MessageEmbed, 0, len(in))
	for _, e := range in {
		me := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
			Color:       e.Color,
		}
		if e.ImageURL != "" {
			me.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
		}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value})
		}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer, IconURL: e.FooterIcon}
		}
		out = append(out, me)
	}
	return out
}

func buttonStyle(s platform.ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case platform.ButtonSecondary:
		return discordgo.SecondaryButton
	case platform.ButtonLink:
		return discordgo.LinkButton
	}
	return discordgo.PrimaryButton
}

// toComponents lays buttons out in action rows of up to five.
func toComponents(buttons []platform.Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}
	var rows []discordgo.MessageComponent
	for start := 0; start < len(buttons); start += maxButtonsPerRow {
		end := min(start+maxButtonsPerRow, len(buttons))
		row := discordgo.ActionsRow{}
		for _, b := range buttons[start:end] {
			btn := discordgo.Button{
				Label:    b.Label,
				Style:    buttonStyle(b.Style),
				Disabled: b.Disabled,
			}
			if b.Style == platform.ButtonLink {
				btn.URL = b.URL
			} else {
				btn.CustomID = b.ID
			}
			row.Components = append(row.Components, btn)
		}
		rows = append(rows, row)
	}
	return rows
}

// disabledComponents copies components with every interactive button
// disabled. Link buttons stay usable.
func disabledComponents(in []discordgo.MessageComponent) []discordgo.MessageComponent {
	out := make([]discordgo.MessageComponent, 0, len(in))
	for _, c := range in {
		var row *discordgo.ActionsRow
		switch v := c.(type) {
		case *discordgo.ActionsRow:
			row = v
		case discordgo.ActionsRow:
			row = &v
		default:
			out = append(out, c)
			continue
		}
		next := discordgo.ActionsRow{}
		for _, inner := range row.Components {
			switch b := inner.(type) {
			case *discordgo.Button:
				cp := *b
				cp.Disabled = cp.Disabled || cp.Style != discordgo.LinkButton
				next.Components = append(next.Components, cp)
			case discordgo.Button:
				b.Disabled = b.Disabled || b.Style != discordgo.LinkButton
				next.Components = append(next.Components, b)
			default:
				next.Components = append(next.Components, inner)
			}
		}
		out = append(out, next)
	}
	return out
}

func toFiles(in []platform.File) []*discordgo.File {
	if len(in) == 0 {
		return nil
	}
	out := make([]*discordgo.File, 0, len(in))
	for _, f := range in {
		out = append(out, &discordgo.File{Name: f.Name, ContentType: f.ContentType, Reader: f.Reader})
	}
	return out
}
