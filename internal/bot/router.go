// Package bot routes inbound platform events to the feature handlers: image
// batches, documents, uploaded videos, video links, referral links and the
// help command.
package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/gridzer0/threadbot/internal/batch"
	"github.com/gridzer0/threadbot/internal/bus"
	"github.com/gridzer0/threadbot/internal/clip"
	"github.com/gridzer0/threadbot/internal/delivery"
	"github.com/gridzer0/threadbot/internal/document"
	"github.com/gridzer0/threadbot/internal/media"
	"github.com/gridzer0/threadbot/internal/platform"
	"github.com/gridzer0/threadbot/internal/referral"
	"github.com/gridzer0/threadbot/internal/threads"
	"github.com/gridzer0/threadbot/internal/video"
)

const (
	helpCommand = "!help"

	defaultMinBatch      = 2
	defaultMaxImageBytes = 25 << 20
)

var (
	imagePerms = []platform.Permission{
		platform.PermSendMessages,
		platform.PermAttachFiles,
		platform.PermManageMessages,
	}
	documentPerms = []platform.Permission{
		platform.PermSendMessages,
		platform.PermAttachFiles,
		platform.PermCreatePublicThreads,
		platform.PermManageThreads,
	}
)

// Backend is the slice of the platform the router talks to directly.
type Backend interface {
	platform.Messenger
	platform.Inspector
}

// Offerer presents a delivery choice; satisfied by *delivery.Selector.
type Offerer interface {
	Offer(ctx context.Context, req delivery.Request) (*delivery.Selection, error)
	Activate(ctx context.Context, act delivery.Activation)
}

// VideoHandler processes video links; satisfied by *video.Processor.
type VideoHandler interface {
	Handle(ctx context.Context, post video.Post) (bool, error)
}

// ReferralHandler previews referral links; satisfied by *referral.Processor.
type ReferralHandler interface {
	Handle(ctx context.Context, post referral.Post) (bool, error)
}

// Options tunes the router.
type Options struct {
	Batch         batch.Config
	MinBatch      int   // smaller batches are left alone
	MaxImageBytes int64 // per image download cap
	HTTPClient    *http.Client

	Clips     *clip.Converter // nil disables uploaded videos
	Referrals ReferralHandler // nil disables referral previews
}

// Router dispatches inbound messages and interactions.
type Router struct {
	backend  Backend
	selector Offerer
	docs     *document.Converter // nil disables documents
	videos   VideoHandler        // nil disables video links
	clips    *clip.Converter
	refs     ReferralHandler
	agg      *batch.Aggregator
	client   *http.Client
	minBatch int
	maxImage int64
	dedupe   *bus.DedupeCache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a router. docs and videos may be nil.
func New(backend Backend, selector Offerer, docs *document.Converter, videos VideoHandler, opts Options) *Router {
	if opts.MinBatch <= 0 {
		opts.MinBatch = defaultMinBatch
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = defaultMaxImageBytes
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		backend:  backend,
		selector: selector,
		docs:     docs,
		videos:   videos,
		clips:    opts.Clips,
		refs:     opts.Referrals,
		client:   opts.HTTPClient,
		minBatch: opts.MinBatch,
		maxImage: opts.MaxImageBytes,
		dedupe:   bus.NewDedupeCache(20*time.Minute, 5000),
		ctx:      ctx,
		cancel:   cancel,
	}
	r.agg = batch.New(opts.Batch, r.onBatch)
	return r
}

// Run consumes src until ctx is done. Every event is handled on its own
// goroutine so one slow delivery never blocks other users.
func (r *Router) Run(ctx context.Context, src bus.MessageRouter) error {
	slog.Info("router: consuming events")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			msg, ok := src.ConsumeInbound(ctx)
			if !ok {
				return nil
			}
			r.spawn("message", func(ctx context.Context) { r.HandleMessage(ctx, msg) })
		}
	})
	g.Go(func() error {
		for {
			it, ok := src.ConsumeInteraction(ctx)
			if !ok {
				return nil
			}
			r.spawn("interaction", func(ctx context.Context) { r.HandleInteraction(ctx, it) })
		}
	})
	err := g.Wait()
	slog.Info("router: stopped consuming events")
	return err
}

// Close drops pending batches, cancels in-flight handlers and waits for them.
func (r *Router) Close() {
	r.agg.Close()
	r.cancel()
	r.wg.Wait()
}

// Wait blocks until all in-flight handlers return.
func (r *Router) Wait() { r.wg.Wait() }

func (r *Router) spawn(task string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("router: handler panic", "task", task, "panic", rec, "stack", string(debug.Stack()))
			}
		}()
		fn(r.ctx)
	}()
}

// HandleMessage routes one inbound message: help, then images, then
// documents. Every message is then offered to the uploaded video handler,
// the video link handler and the referral handler, stopping at the first
// that claims it.
func (r *Router) HandleMessage(ctx context.Context, msg bus.InboundMessage) {
	if msg.AuthorBot || msg.AuthorID == r.backend.BotUserID() {
		return
	}
	if r.dedupe.IsDuplicate(msg.ChannelID + "|" + msg.MessageID) {
		slog.Debug("router: skipping duplicate message", "message_id", msg.MessageID)
		return
	}

	if strings.TrimSpace(msg.Content) == helpCommand {
		r.sendHelp(ctx, msg.ChannelID)
		return
	}

	loc := batch.Location{GuildID: msg.GuildID, ChannelID: msg.ChannelID, ParentID: msg.ParentID}
	if len(msg.Attachments) > 0 && !r.handleImages(ctx, msg, loc) {
		r.handleDocument(ctx, msg, loc)
	}

	if r.handleClip(ctx, msg, loc) {
		return
	}
	if r.handleVideoLink(ctx, msg) {
		return
	}
	if r.refs != nil && msg.Content != "" {
		post := referral.Post{
			MessageID: msg.MessageID,
			ChannelID: msg.ChannelID,
			ParentID:  msg.ParentID,
			AuthorID:  msg.AuthorID,
			Content:   msg.Content,
		}
		if _, err := r.refs.Handle(ctx, post); err != nil {
			slog.Warn("router: referral link failed", "message_id", msg.MessageID, "error", err)
		}
	}
}

func (r *Router) handleVideoLink(ctx context.Context, msg bus.InboundMessage) bool {
	if r.videos == nil || msg.Content == "" {
		return false
	}
	post := video.Post{
		MessageID: msg.MessageID,
		ChannelID: msg.ChannelID,
		ParentID:  msg.ParentID,
		AuthorID:  msg.AuthorID,
		Content:   msg.Content,
	}
	handled, err := r.videos.Handle(ctx, post)
	if err != nil {
		slog.Warn("router: video link failed", "message_id", msg.MessageID, "error", err)
	}
	return handled
}

// HandleInteraction routes a control press to its selection.
func (r *Router) HandleInteraction(ctx context.Context, it bus.InboundInteraction) {
	id, mode, ok := delivery.ParseCustomID(it.CustomID)
	if !ok {
		slog.Debug("router: ignoring unknown control", "custom_id", it.CustomID)
		return
	}
	r.selector.Activate(ctx, delivery.Activation{
		SelectionID: id,
		Mode:        mode,
		ActorID:     it.ActorID,
		Responder:   it.Responder,
	})
}

// handleImages admits the message's images into the sender's batch. It
// reports whether the images claimed the message: enough of them to form a
// batch on their own, or a batch already pending for the sender. A lone image
// leaves the message free for the document handler.
func (r *Router) handleImages(ctx context.Context, msg bus.InboundMessage, loc batch.Location) bool {
	var items []media.Item
	var oversize []string
	for i, a := range msg.Attachments {
		if !media.IsImage(a.Name, a.ContentType) {
			continue
		}
		if a.Size > r.maxImage {
			oversize = append(oversize, a.Name)
			continue
		}
		items = append(items, media.Item{
			Name:        a.Name,
			ContentType: a.ContentType,
			Size:        a.Size,
			Seq:         i,
			MessageID:   msg.MessageID,
			Source:      media.URLSource(r.client, a.URL, r.maxImage),
		})
	}
	if len(oversize) > 0 {
		r.say(ctx, msg.ChannelID, fmt.Sprintf("⚠️ Image too large: %s (max %s)",
			strings.Join(oversize, ", "), humanize.IBytes(uint64(r.maxImage))))
	}
	if len(items) == 0 {
		return len(oversize) > 0
	}

	hadPending := r.agg.Pending(msg.AuthorID) > 0
	if !hadPending && len(items) < r.minBatch && r.hasDocument(msg) {
		return false
	}
	h := r.agg.Admit(msg.AuthorID, loc, items, time.Now())
	slog.Debug("router: images admitted", "user_id", msg.AuthorID, "batch_id", h.BatchID, "size", h.Size)

	// A single message that already forms a batch is offered right away.
	if !hadPending && len(items) >= r.minBatch {
		r.agg.Flush(msg.AuthorID)
	}
	return hadPending || len(items) >= r.minBatch
}

func (r *Router) hasDocument(msg bus.InboundMessage) bool {
	if r.docs == nil {
		return false
	}
	for _, a := range msg.Attachments {
		if document.Classify(a.Name) != document.KindUnknown {
			return true
		}
	}
	return false
}

// onBatch offers a finalized batch. Batches below the minimum are left as
// ordinary messages; permissions are checked only for batches that would be
// offered.
func (r *Router) onBatch(b batch.Batch) {
	if b.Len() < r.minBatch {
		slog.Debug("router: batch below minimum, ignoring", "batch_id", b.ID, "items", b.Len())
		return
	}
	r.spawn("batch", func(ctx context.Context) {
		if !r.checkPermissions(ctx, b.Location.ChannelID, b.Location.TopLevel(), imagePerms,
			" Please ensure the bot has these permissions in this channel.") {
			return
		}
		if _, err := r.selector.Offer(ctx, delivery.FromBatch(b)); err != nil {
			slog.Error("router: offer batch failed", "batch_id", b.ID, "error", err)
		}
	})
}

// handleDocument offers the first PDF or Word attachment for conversion.
func (r *Router) handleDocument(ctx context.Context, msg bus.InboundMessage, loc batch.Location) bool {
	if r.docs == nil {
		return false
	}
	var att bus.Attachment
	kind := document.KindUnknown
	for _, a := range msg.Attachments {
		if k := document.Classify(a.Name); k != document.KindUnknown {
			att, kind = a, k
			break
		}
	}
	if kind == document.KindUnknown {
		return false
	}

	if err := r.docs.CheckSize(att.Size); err != nil {
		r.say(ctx, msg.ChannelID, fmt.Sprintf("⚠️ %s too large: %s (max %dMB)", kind, att.Name, r.docs.MaxBytes()>>20))
		return true
	}
	if !r.checkPermissions(ctx, msg.ChannelID, loc.TopLevel(), documentPerms, "") {
		return true
	}
	if !r.docs.Begin(msg.MessageID) {
		return true
	}

	src := media.URLSource(r.client, att.URL, r.docs.MaxBytes())
	req := delivery.Request{
		UserID:     msg.AuthorID,
		Location:   loc,
		Sources:    []batch.MessageRef{{ChannelID: msg.ChannelID, MessageID: msg.MessageID}},
		Label:      att.Name,
		Noun:       "page",
		ThreadName: threads.SanitizeName(media.BaseName(att.Name)),
		Prompt:     fmt.Sprintf("Choose an option for this %s:", kind),
		Prepare: func(ctx context.Context) ([]media.Item, error) {
			defer r.docs.Done(msg.MessageID)
			data, err := readSource(ctx, src)
			if err != nil {
				return nil, err
			}
			return r.docs.Pages(ctx, att.Name, data)
		},
	}
	if _, err := r.selector.Offer(ctx, req); err != nil {
		r.docs.Done(msg.MessageID)
		slog.Error("router: offer document failed", "message_id", msg.MessageID, "error", err)
	}
	return true
}

// handleClip offers the first MP4 or MOV attachment for watermarking.
func (r *Router) handleClip(ctx context.Context, msg bus.InboundMessage, loc batch.Location) bool {
	if r.clips == nil {
		return false
	}
	idx := slices.IndexFunc(msg.Attachments, func(a bus.Attachment) bool { return clip.IsClip(a.Name) })
	if idx < 0 {
		return false
	}
	att := msg.Attachments[idx]

	if err := r.clips.CheckSize(att.Size); err != nil {
		r.say(ctx, msg.ChannelID, fmt.Sprintf("⚠️ Video is too large (%s). Maximum size is %s.",
			humanize.IBytes(uint64(att.Size)), humanize.IBytes(uint64(r.clips.MaxBytes()))))
		return true
	}
	key := att.ID
	if key == "" {
		key = msg.MessageID + "/" + att.Name
	}
	if !r.clips.Claim(key) {
		r.say(ctx, msg.ChannelID, "This video has already been processed recently.")
		return true
	}
	if !r.checkPermissions(ctx, msg.ChannelID, loc.TopLevel(), documentPerms, "") {
		return true
	}

	src := media.URLSource(r.client, att.URL, r.clips.MaxBytes())
	req := delivery.Request{
		UserID:        msg.AuthorID,
		Location:      loc,
		Sources:       []batch.MessageRef{{ChannelID: msg.ChannelID, MessageID: msg.MessageID}},
		Label:         att.Name,
		Noun:          "clip",
		ThreadName:    threads.SanitizeName(media.BaseName(att.Name)),
		Prompt:        fmt.Sprintf("Video: %s (%s)\nChoose where to post the watermarked version:", att.Name, humanize.IBytes(uint64(att.Size))),
		Preparing:     fmt.Sprintf("Processing %s... This may take a few minutes.", att.Name),
		PrepareFailed: fmt.Sprintf("❌ Could not process %s.", att.Name),
		Notice:        clip.Notice,
		Prepare: func(ctx context.Context) ([]media.Item, error) {
			rc, err := src.Open(ctx)
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return r.clips.Clips(ctx, att.Name, rc)
		},
	}
	if _, err := r.selector.Offer(ctx, req); err != nil {
		slog.Error("router: offer video failed", "message_id", msg.MessageID, "error", err)
	}
	return true
}

func readSource(ctx context.Context, src media.Source) ([]byte, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}

// checkPermissions verifies the bot's capabilities in permChannel and posts
// one warning in channelID when some are missing. Inspection failures are
// logged and do not block.
func (r *Router) checkPermissions(ctx context.Context, channelID, permChannel string, required []platform.Permission, hint string) bool {
	missing, err := r.backend.MissingPermissions(ctx, permChannel, required...)
	if err != nil {
		slog.Warn("router: permission check failed", "channel_id", permChannel, "error", err)
		return true
	}
	if len(missing) == 0 {
		return true
	}
	names := make([]string, len(missing))
	for i, p := range missing {
		names[i] = string(p)
	}
	r.say(ctx, channelID, fmt.Sprintf("⚠️ Bot lacks required permissions: %s.%s", strings.Join(names, ", "), hint))
	return false
}

func (r *Router) say(ctx context.Context, channelID, text string) {
	if _, err := r.backend.Send(ctx, channelID, platform.OutgoingMessage{Content: text}); err != nil {
		slog.Warn("router: send failed", "channel_id", channelID, "error", err)
	}
}
