package bot

import (
	"context"
	"log/slog"

	"github.com/gridzer0/threadbot/internal/platform"
)

const helpColor = 0x3498db

type helpFeatures struct {
	docs, clips, videos, referrals bool
}

func helpEmbed(f helpFeatures) platform.Embed {
	fields := []platform.EmbedField{{
		Name:  "🖼️ Image batches",
		Value: "Upload two or more images (in one message or several in quick succession) and choose **Create Thread** or **Post Here**.",
	}}
	if f.docs {
		fields = append(fields, platform.EmbedField{
			Name:  "📄 PDF & Word documents",
			Value: "Upload a PDF or DOCX and the bot converts each page to an image, posted in order.",
		})
	}
	if f.clips {
		fields = append(fields, platform.EmbedField{
			Name:  "🎬 MP4 & MOV videos",
			Value: "Upload a video and the bot posts a watermarked copy, split into parts when it is too large for one upload.",
		})
	}
	if f.videos {
		fields = append(fields, platform.EmbedField{
			Name:  "▶️ YouTube links",
			Value: "Post a YouTube link and the bot opens a discussion thread with the video's details.",
		})
	}
	if f.referrals {
		fields = append(fields, platform.EmbedField{
			Name:  "🔗 Referral links",
			Value: "Links posted in the referral channel are replaced by a preview card.",
		})
	}
	return platform.Embed{
		Title:       "Threadbot Help",
		Description: "Keeps channels tidy by moving media into threads.",
		Color:       helpColor,
		Fields:      fields,
		Footer:      "Type !help to see this again.",
	}
}

func (r *Router) sendHelp(ctx context.Context, channelID string) {
	msg := platform.OutgoingMessage{Embeds: []platform.Embed{helpEmbed(helpFeatures{
		docs:      r.docs != nil,
		clips:     r.clips != nil,
		videos:    r.videos != nil,
		referrals: r.refs != nil,
	})}}
	if _, err := r.backend.Send(ctx, channelID, msg); err != nil {
		slog.Warn("router: send help failed", "channel_id", channelID, "error", err)
	}
}
