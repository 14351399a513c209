package discord

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// responder answers one component interaction. Discord accepts a single
// initial response per interaction; later replies go out as followups.
type responder struct {
	session *discordgo.Session
	it      *discordgo.Interaction

	mu        sync.Mutex
	responded bool
}

func newResponder(s *discordgo.Session, it *discordgo.Interaction) *responder {
	return &responder{session: s, it: it}
}

// DisableControls updates the clicked message in place with inert buttons.
func (r *responder) DisableControls(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := &discordgo.InteractionResponseData{}
	if m := r.it.Message; m != nil {
		data.Content = m.Content
		data.Embeds = m.Embeds
		data.Components = disabledComponents(m.Components)
	}
	err := r.session.InteractionRespond(r.it, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: data,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return classify("disable controls", err)
	}
	r.responded = true
	return nil
}

// Ack replies privately to the user who pressed the control.
func (r *responder) Ack(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.responded {
		_, err := r.session.FollowupMessageCreate(r.it, false, &discordgo.WebhookParams{
			Content: text,
			Flags:   discordgo.MessageFlagsEphemeral,
		}, discordgo.WithContext(ctx))
		return classify("ack interaction", err)
	}

	err := r.session.InteractionRespond(r.it, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: text,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return classify("ack interaction", err)
	}
	r.responded = true
	return nil
}
