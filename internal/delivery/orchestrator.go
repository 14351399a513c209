package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gridzer0/threadbot/internal/batch"
	"github.com/gridzer0/threadbot/internal/metrics"
	"github.com/gridzer0/threadbot/internal/platform"
	"github.com/gridzer0/threadbot/internal/threads"
)

// Backend is the slice of the platform the orchestrator needs.
type Backend interface {
	platform.Messenger
	platform.Threads
}

// ThreadCreator provisions a thread; satisfied by *threads.Provisioner.
type ThreadCreator interface {
	Create(ctx context.Context, name, parentID string) (*platform.Thread, error)
}

// Orchestrator carries out a chosen selection end to end.
type Orchestrator struct {
	backend Backend
	threads ThreadCreator
	poster  *Poster
	metrics *metrics.Metrics
}

func NewOrchestrator(backend Backend, tc ThreadCreator, poster *Poster, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{backend: backend, threads: tc, poster: poster, metrics: m}
}

// Run delivers sel in its chosen mode. A failed thread falls back to the
// origin channel with an explicit note; a failed delivery after the thread
// exists deletes the thread. Originals are removed only after a full delivery.
func (o *Orchestrator) Run(ctx context.Context, sel Selection) error {
	start := time.Now()
	defer func() { o.metrics.ObserveDelivery(sel.Mode.String(), time.Since(start)) }()

	req := sel.Request
	noun := req.noun()
	items := req.Items

	if req.Prepare != nil {
		o.status(ctx, sel, labelOr(req.Preparing, fmt.Sprintf("Converting %s to images...", labelOr(req.Label, "document"))))
		prepared, err := req.Prepare(ctx)
		if err != nil {
			o.metrics.DeliveryFailed("prepare")
			o.finish(ctx, sel, labelOr(req.PrepareFailed, fmt.Sprintf("❌ Could not convert %s.", labelOr(req.Label, "document"))))
			return fmt.Errorf("prepare %s: %w", req.Label, err)
		}
		items = prepared
	}
	if len(items) == 0 {
		o.finish(ctx, sel, fmt.Sprintf("❌ Nothing to post from %s.", labelOr(req.Label, "this upload")))
		return errors.New("no items to deliver")
	}

	o.status(ctx, sel, fmt.Sprintf("Processing %s...", count(len(items), noun)))

	var comp threads.Compensator
	target := req.Location.ChannelID
	var thread *platform.Thread
	var fallback string

	if sel.Mode == ModeThread {
		name := req.ThreadName
		if name == "" {
			name = threads.BatchThreadName(items)
		}
		th, err := o.threads.Create(ctx, name, req.Location.TopLevel())
		if err != nil {
			o.metrics.DeliveryFailed("thread")
			slog.Warn("delivery: thread unavailable, posting in channel", "selection_id", sel.ID, "error", err)
			fallback = fallbackNote(err, noun)
		} else {
			thread = th
			target = th.ID
			comp.Add("delete thread "+th.ID, func(ctx context.Context) error {
				return o.backend.DeleteThread(ctx, th.ID)
			})
		}
	}

	delivered, err := o.poster.Deliver(ctx, target, items)
	if err != nil {
		o.metrics.DeliveryFailed("post")
		comp.Run(ctx)
		o.finish(ctx, sel, fmt.Sprintf("❌ Error posting %s: %d of %d delivered.", noun+"s", delivered, len(items)))
		return fmt.Errorf("deliver selection %s: %w", sel.ID, err)
	}
	comp.Discard()

	if req.Notice != "" {
		if _, err := o.backend.Send(ctx, target, platform.OutgoingMessage{Content: req.Notice}); err != nil {
			slog.Warn("delivery: notice failed", "selection_id", sel.ID, "target_id", target, "error", err)
		}
	}

	var final string
	switch {
	case fallback != "":
		final = fallback
	case thread != nil:
		final = fmt.Sprintf("Posted %s in %s", count(delivered, noun), thread.Mention())
	default:
		final = fmt.Sprintf("Posted %s here.", count(delivered, noun))
	}
	o.finish(ctx, sel, final)
	o.removeSources(ctx, req.Sources)

	slog.Info("delivery complete",
		"selection_id", sel.ID,
		"mode", sel.Mode.String(),
		"target_id", target,
		"items", delivered,
		"fallback", fallback != "",
	)
	return nil
}

// status edits the status message in place, removing its controls.
func (o *Orchestrator) status(ctx context.Context, sel Selection, text string) {
	if err := o.backend.Edit(ctx, sel.ChannelID, sel.StatusID, platform.OutgoingMessage{Content: text}); err != nil {
		slog.Warn("delivery: status update failed", "selection_id", sel.ID, "error", err)
	}
}

// finish reports the outcome, posting a new message when the status message
// can no longer be edited.
func (o *Orchestrator) finish(ctx context.Context, sel Selection, text string) {
	ctx = context.WithoutCancel(ctx)
	err := o.backend.Edit(ctx, sel.ChannelID, sel.StatusID, platform.OutgoingMessage{Content: text})
	if err == nil {
		return
	}
	slog.Warn("delivery: final status edit failed, sending new message", "selection_id", sel.ID, "error", err)
	if _, err := o.backend.Send(ctx, sel.ChannelID, platform.OutgoingMessage{Content: text}); err != nil {
		slog.Error("delivery: final status send failed", "selection_id", sel.ID, "error", err)
	}
}

func (o *Orchestrator) removeSources(ctx context.Context, refs []batch.MessageRef) {
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		if err := o.backend.Delete(ctx, ref.ChannelID, ref.MessageID); err != nil {
			slog.Warn("delivery: delete original failed", "channel_id", ref.ChannelID, "message_id", ref.MessageID, "error", err)
		}
	}
}

func fallbackNote(err error, noun string) string {
	var pe *threads.ProvisionError
	if errors.As(err, &pe) && pe.Reason == threads.ReasonPermissions {
		return fmt.Sprintf("⚠️ Could not create thread (missing permission: %s). Posted %ss in channel instead.",
			platform.PermCreatePublicThreads, noun)
	}
	return fmt.Sprintf("⚠️ Could not create thread. Posted %ss in channel instead.", noun)
}

func labelOr(label, def string) string {
	if label == "" {
		return def
	}
	return label
}
