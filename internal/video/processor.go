package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gridzer0/threadbot/internal/metrics"
	"github.com/gridzer0/threadbot/internal/platform"
	"github.com/gridzer0/threadbot/internal/threads"
)

const (
	DefaultThreadPrefix = "Watch: "

	ackEmoji     = "✅"
	embedColor   = 0xFF0000
	watchLabel   = "Watch on YouTube"
	msgDuplicate = "This video has already been posted."
	msgFailed    = "❌ Error processing YouTube video."
)

// Backend is the slice of the platform the processor needs.
type Backend interface {
	platform.Messenger
	platform.Threads
}

// ThreadCreator provisions a thread; satisfied by *threads.Provisioner.
type ThreadCreator interface {
	Create(ctx context.Context, name, parentID string) (*platform.Thread, error)
}

// Post is an inbound message that may carry a video link.
type Post struct {
	MessageID string
	ChannelID string
	// ParentID is set when ChannelID is a thread; new threads go in the parent.
	ParentID string
	AuthorID string
	Content  string
}

func (p Post) parent() string {
	if p.ParentID != "" {
		return p.ParentID
	}
	return p.ChannelID
}

// Processor handles video links.
type Processor struct {
	backend Backend
	lookup  MetadataLookup
	threads ThreadCreator
	seen    *ProcessedSet
	prefix  string
	metrics *metrics.Metrics
}

// NewProcessor wires a processor around an injected dedup set.
func NewProcessor(backend Backend, lookup MetadataLookup, tc ThreadCreator, seen *ProcessedSet, prefix string, m *metrics.Metrics) *Processor {
	if prefix == "" {
		prefix = DefaultThreadPrefix
	}
	return &Processor{backend: backend, lookup: lookup, threads: tc, seen: seen, prefix: prefix, metrics: m}
}

// Handle processes the first video link in post. It reports whether a video
// was recognized; unknown ids are not videos and return false.
func (p *Processor) Handle(ctx context.Context, post Post) (bool, error) {
	id, ok := ParseVideoID(post.Content)
	if !ok {
		return false, nil
	}

	meta, err := p.lookup.Lookup(ctx, id)
	if errors.Is(err, ErrNotFound) {
		slog.Debug("video: id did not resolve", "video_id", id)
		return false, nil
	}
	if err != nil {
		p.metrics.DeliveryFailed("video")
		p.reply(ctx, post, msgFailed)
		return true, fmt.Errorf("lookup video %s: %w", id, err)
	}

	// Marked before the thread exists so a duplicate arriving meanwhile is caught.
	if !p.seen.MarkIfAbsent(id) {
		p.metrics.VideoDuplicate()
		slog.Info("video: duplicate link", "video_id", id, "channel_id", post.ChannelID)
		p.reply(ctx, post, msgDuplicate)
		return true, nil
	}

	name := threads.VideoThreadName(p.prefix, meta.Title)
	thread, err := p.threads.Create(ctx, name, post.parent())
	if err != nil {
		p.seen.Forget(id)
		p.metrics.DeliveryFailed("video")
		p.reply(ctx, post, threadFailureText(err))
		return true, fmt.Errorf("create video thread: %w", err)
	}

	var comp threads.Compensator
	comp.Add("delete thread "+thread.ID, func(ctx context.Context) error {
		return p.backend.DeleteThread(ctx, thread.ID)
	})

	if err := p.publish(ctx, post, thread, id, meta); err != nil {
		// A thread that survived cleanup keeps the id marked.
		if comp.Run(ctx) == 0 {
			p.seen.Forget(id)
		} else {
			slog.Warn("video: thread left behind, keeping id marked", "video_id", id, "thread_id", thread.ID)
		}
		p.metrics.DeliveryFailed("video")
		p.reply(ctx, post, msgFailed)
		return true, fmt.Errorf("publish video %s: %w", id, err)
	}
	comp.Discard()

	if err := p.backend.Delete(context.WithoutCancel(ctx), post.ChannelID, post.MessageID); err != nil {
		slog.Warn("video: delete original failed", "message_id", post.MessageID, "error", err)
	}
	slog.Info("video thread created", "video_id", id, "thread_id", thread.ID, "channel_id", post.ChannelID)
	return true, nil
}

func (p *Processor) publish(ctx context.Context, post Post, thread *platform.Thread, id string, meta *Metadata) error {
	url := WatchURL(id)

	_, err := p.backend.Send(ctx, thread.ID, platform.OutgoingMessage{
		Embeds: []platform.Embed{{
			Title:       meta.Title,
			Description: TruncateDescription(meta.Description),
			URL:         url,
			ImageURL:    meta.ThumbnailURL,
			Color:       embedColor,
		}},
		Buttons: []platform.Button{{Label: watchLabel, Style: platform.ButtonLink, URL: url}},
	})
	if err != nil {
		return fmt.Errorf("send summary: %w", err)
	}

	link, err := p.backend.Send(ctx, thread.ID, platform.OutgoingMessage{Content: url})
	if err != nil {
		return fmt.Errorf("send link: %w", err)
	}
	if err := p.backend.React(ctx, thread.ID, link.ID, ackEmoji); err != nil {
		slog.Warn("video: reaction failed", "thread_id", thread.ID, "error", err)
	}

	if _, err := p.backend.Send(ctx, post.ChannelID, platform.OutgoingMessage{
		Content: "Video posted in: " + thread.Mention(),
	}); err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	return nil
}

// reply answers the triggering message; failures are logged only.
func (p *Processor) reply(ctx context.Context, post Post, text string) {
	_, err := p.backend.Send(context.WithoutCancel(ctx), post.ChannelID, platform.OutgoingMessage{
		Content: text,
		ReplyTo: post.MessageID,
	})
	if err != nil {
		slog.Warn("video: reply failed", "channel_id", post.ChannelID, "error", err)
	}
}

func threadFailureText(err error) string {
	var pe *threads.ProvisionError
	if errors.As(err, &pe) && pe.Reason == threads.ReasonPermissions {
		return fmt.Sprintf("⚠️ Could not create thread (missing permission: %s).", platform.PermCreatePublicThreads)
	}
	return "⚠️ Could not create a thread for this video. Please try again later."
}
