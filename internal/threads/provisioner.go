// Package threads creates discussion threads under platform rate limiting,
// derives their names, and holds the compensation list used to undo
// partially completed work.
package threads

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gridzer0/threadbot/internal/metrics"
	"github.com/gridzer0/threadbot/internal/platform"
)

const (
	defaultMaxAttempts      = 3
	defaultInitialDelay     = 2 * time.Second
	defaultBackoffFactor    = 2.0
	defaultNotificationWait = 2 * time.Second
	defaultNotificationScan = 10
	defaultCarrierText      = "Creating thread..."
)

// Reason classifies a provisioning failure.
type Reason string

const (
	ReasonPermissions Reason = "permissions"
	ReasonExhausted   Reason = "exhausted"
	ReasonUnexpected  Reason = "unexpected"
)

// ProvisionError is returned when no thread could be created.
type ProvisionError struct {
	Reason   Reason
	Attempts int
	Err      error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("create thread: %s after %d attempt(s): %v", e.Reason, e.Attempts, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Anchor selects how a thread is attached to its parent channel.
type Anchor int

const (
	// AnchorDirect starts the thread on the channel itself; the platform posts
	// a "thread started" notice that is cleaned up afterwards.
	AnchorDirect Anchor = iota
	// AnchorCarrier posts a short carrier message, starts the thread from it,
	// then deletes the carrier.
	AnchorCarrier
)

// Config tunes retries and cleanup.
type Config struct {
	MaxAttempts      int
	InitialDelay     time.Duration
	BackoffFactor    float64
	NotificationWait time.Duration
	NotificationScan int
	Anchor           Anchor
	CarrierText      string
	Kind             string // metrics label: "batch" or "video"

	// Sleep waits between attempts and before the notice scan. Nil uses a
	// context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Backend is the slice of the platform the provisioner needs.
type Backend interface {
	platform.Messenger
	platform.Threads
	BotUserID() string
}

// Provisioner creates threads with bounded exponential backoff.
type Provisioner struct {
	backend Backend
	cfg     Config
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewProvisioner applies defaults to zero config fields.
func NewProvisioner(backend Backend, cfg Config, m *metrics.Metrics) *Provisioner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = defaultBackoffFactor
	}
	if cfg.NotificationWait <= 0 {
		cfg.NotificationWait = defaultNotificationWait
	}
	if cfg.NotificationScan <= 0 {
		cfg.NotificationScan = defaultNotificationScan
	}
	if cfg.CarrierText == "" {
		cfg.CarrierText = defaultCarrierText
	}
	if cfg.Kind == "" {
		cfg.Kind = "batch"
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Provisioner{backend: backend, cfg: cfg, metrics: m, sleep: sleep}
}

// Create makes a thread named name in parentID. The name must already be
// sanitized. Permission failures and unexpected errors stop immediately;
// transient failures are retried up to MaxAttempts with doubling delay.
func (p *Provisioner) Create(ctx context.Context, name, parentID string) (*platform.Thread, error) {
	delay := p.cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		thread, err := p.attempt(ctx, name, parentID)
		if err == nil {
			p.metrics.ThreadAttempt("ok")
			p.metrics.ThreadCreated(p.cfg.Kind)
			slog.Info("thread created",
				"thread_id", thread.ID,
				"parent_id", parentID,
				"name", name,
				"attempt", attempt,
			)
			p.removeNotice(ctx, parentID, name)
			return thread, nil
		}
		lastErr = err

		switch {
		case platform.IsPermission(err):
			p.metrics.ThreadAttempt("permission")
			slog.Warn("threads: creation denied", "parent_id", parentID, "attempt", attempt, "error", err)
			return nil, &ProvisionError{Reason: ReasonPermissions, Attempts: attempt, Err: err}

		case platform.IsTransient(err):
			p.metrics.ThreadAttempt("transient")
			slog.Warn("threads: creation attempt failed",
				"parent_id", parentID,
				"attempt", attempt,
				"max_attempts", p.cfg.MaxAttempts,
				"error", err,
			)
			if attempt == p.cfg.MaxAttempts {
				continue
			}
			if err := p.sleep(ctx, delay); err != nil {
				return nil, &ProvisionError{Reason: ReasonUnexpected, Attempts: attempt, Err: err}
			}
			delay = time.Duration(float64(delay) * p.cfg.BackoffFactor)

		default:
			p.metrics.ThreadAttempt("unexpected")
			slog.Error("threads: unexpected creation error", "parent_id", parentID, "attempt", attempt, "error", err)
			return nil, &ProvisionError{Reason: ReasonUnexpected, Attempts: attempt, Err: err}
		}
	}

	return nil, &ProvisionError{Reason: ReasonExhausted, Attempts: p.cfg.MaxAttempts, Err: lastErr}
}

func (p *Provisioner) attempt(ctx context.Context, name, parentID string) (*platform.Thread, error) {
	if p.cfg.Anchor == AnchorDirect {
		return p.backend.CreateThread(ctx, parentID, name)
	}

	carrier, err := p.backend.Send(ctx, parentID, platform.OutgoingMessage{Content: p.cfg.CarrierText})
	if err != nil {
		return nil, err
	}
	thread, err := p.backend.CreateThreadFromMessage(ctx, parentID, carrier.ID, name)

	// The carrier goes either way: on failure it would be a stray artifact,
	// on success the thread outlives its starter message.
	if derr := p.backend.Delete(context.WithoutCancel(ctx), parentID, carrier.ID); derr != nil {
		slog.Warn("threads: carrier cleanup failed", "parent_id", parentID, "message_id", carrier.ID, "error", derr)
	}
	return thread, err
}

// removeNotice deletes the platform's "thread started" notice if it can be
// found in recent history. Best-effort.
func (p *Provisioner) removeNotice(ctx context.Context, parentID, name string) {
	ctx = context.WithoutCancel(ctx)
	if err := p.sleep(ctx, p.cfg.NotificationWait); err != nil {
		return
	}

	msgs, err := p.backend.RecentMessages(ctx, parentID, p.cfg.NotificationScan)
	if err != nil {
		slog.Warn("threads: read history for notice cleanup failed", "parent_id", parentID, "error", err)
		return
	}

	botID := p.backend.BotUserID()
	for _, m := range msgs {
		if !isCreationNotice(m, botID, name) {
			continue
		}
		if err := p.backend.Delete(ctx, parentID, m.ID); err != nil {
			slog.Warn("threads: notice cleanup failed", "parent_id", parentID, "message_id", m.ID, "error", err)
		}
		return
	}
	slog.Debug("threads: no creation notice found", "parent_id", parentID, "name", name)
}

func isCreationNotice(m platform.Message, botID, name string) bool {
	if m.Kind == platform.KindThreadCreated {
		return m.AuthorID == "" || m.AuthorID == botID
	}
	return m.AuthorID == botID &&
		strings.Contains(m.Content, "started a thread") &&
		strings.Contains(m.Content, name)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
