// Package referral replaces links posted in a designated channel with a
// preview card built from the linked page's metadata.
package referral

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/gridzer0/threadbot/internal/metrics"
	"github.com/gridzer0/threadbot/internal/platform"
)

const (
	colorOK      = 0x3498db
	colorBlocked = 0xe74c3c

	msgProcessing = "Processing referral link..."
	msgBlocked    = "⚠️ This website blocks automated access, but you can still click the link to visit directly."
	msgFailed     = "❌ Error processing referral link."

	fallbackDescription = "This website restricts automated access. Click the link to visit directly."
	blockedFooter       = "preview unavailable"
)

var linkRe = regexp.MustCompile(`https?://(?:[-\w.]|%[\da-fA-F]{2})+[^\s]*`)

// FirstLink returns the first http(s) link in text.
func FirstLink(text string) (*url.URL, bool) {
	for _, m := range linkRe.FindAllString(text, -1) {
		// Discord wraps links in <> to suppress its own embed.
		m = strings.TrimRight(m, ">")
		u, err := url.Parse(m)
		if err == nil && u.Host != "" {
			return u, true
		}
	}
	return nil, false
}

// Post is an inbound message that may carry a referral link.
type Post struct {
	MessageID string
	ChannelID string
	ParentID  string
	AuthorID  string
	Content   string
}

// Source is one named way of fetching a page, tried in order.
type Source struct {
	Name    string
	Fetcher Fetcher
}

// Preview is what the card shows for one link.
type Preview struct {
	Meta
	URL     string
	Domain  string
	Source  string // source that supplied the title, "fallback" when none did
	Blocked bool
}

// Embed renders the preview card.
func (p Preview) Embed() platform.Embed {
	e := platform.Embed{
		Title:       first(p.Title, "Visit Website"),
		Description: first(p.Description, "No description available"),
		URL:         p.URL,
		ImageURL:    p.Image,
		Color:       colorOK,
		Footer:      p.Domain,
		FooterIcon:  p.Favicon,
	}
	if p.Blocked {
		e.Color = colorBlocked
		e.Footer = p.Domain + " • " + blockedFooter
	}
	return e
}

// Processor posts previews for links in one channel.
type Processor struct {
	backend   platform.Messenger
	channelID string
	sources   []Source
	metrics   *metrics.Metrics
}

// NewProcessor creates a processor for links posted in channelID.
func NewProcessor(backend platform.Messenger, channelID string, sources []Source, m *metrics.Metrics) *Processor {
	return &Processor{backend: backend, channelID: channelID, sources: sources, metrics: m}
}

// Handle previews the first link of a post in the referral channel and
// removes the post. It reports whether the post was claimed.
func (p *Processor) Handle(ctx context.Context, post Post) (bool, error) {
	if p.channelID == "" || post.ChannelID != p.channelID {
		return false, nil
	}
	link, ok := FirstLink(post.Content)
	if !ok {
		return false, nil
	}

	status, err := p.backend.Send(ctx, post.ChannelID, platform.OutgoingMessage{Content: msgProcessing})
	if err != nil {
		return true, fmt.Errorf("send status: %w", err)
	}

	prev := p.Preview(ctx, link)
	card := platform.OutgoingMessage{Embeds: []platform.Embed{prev.Embed()}}
	if _, err := p.backend.Send(ctx, post.ChannelID, card); err != nil {
		p.metrics.DeliveryFailed("referral")
		p.edit(ctx, post.ChannelID, status.ID, msgFailed)
		return true, fmt.Errorf("send preview: %w", err)
	}

	if prev.Blocked {
		p.edit(ctx, post.ChannelID, status.ID, msgBlocked)
	} else if err := p.backend.Delete(ctx, post.ChannelID, status.ID); err != nil {
		slog.Warn("referral: delete status failed", "channel_id", post.ChannelID, "error", err)
	}
	if err := p.backend.Delete(ctx, post.ChannelID, post.MessageID); err != nil {
		slog.Warn("referral: delete original failed", "message_id", post.MessageID, "error", err)
	}

	slog.Info("referral previewed", "domain", prev.Domain, "source", prev.Source, "blocked", prev.Blocked)
	return true, nil
}

// Preview tries each source until one yields a title. Later sources only
// fill fields the earlier ones left empty.
func (p *Processor) Preview(ctx context.Context, link *url.URL) Preview {
	prev := Preview{URL: link.String(), Domain: link.Host}
	for _, s := range p.sources {
		body, err := s.Fetcher.Fetch(ctx, prev.URL)
		if err != nil {
			slog.Debug("referral: fetch failed", "source", s.Name, "domain", prev.Domain, "error", err)
			continue
		}
		m, err := ExtractMeta(bytes.NewReader(body), link)
		if err != nil {
			slog.Debug("referral: extract failed", "source", s.Name, "domain", prev.Domain, "error", err)
			continue
		}
		if prev.Title == "" && m.Title != "" {
			prev.Source = s.Name
		}
		prev.Meta = prev.Meta.fill(m)
		if prev.Title != "" {
			break
		}
	}

	if prev.Title == "" {
		prev.Meta = Meta{
			Title:       "Visit " + prev.Domain,
			Description: fallbackDescription,
		}
		prev.Source = "fallback"
		prev.Blocked = true
	}
	p.metrics.ReferralPreview(prev.Source)
	return prev
}

func (p *Processor) edit(ctx context.Context, channelID, messageID, text string) {
	if err := p.backend.Edit(ctx, channelID, messageID, platform.OutgoingMessage{Content: text}); err != nil {
		slog.Warn("referral: status update failed", "channel_id", channelID, "error", err)
	}
}
