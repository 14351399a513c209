// Package batch groups image attachments from one user, arriving across one
// or more messages in quick succession, into a single batch.
package batch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridzer0/threadbot/internal/media"
)

const (
	// DefaultWindow is the quiet period after the last admission before a
	// batch is finalized.
	DefaultWindow = 1500 * time.Millisecond

	// DefaultMaxAge caps how long a batch may keep growing.
	DefaultMaxAge = 5 * time.Second
)

// Location is where a batch originated.
type Location struct {
	GuildID   string
	ChannelID string
	// ParentID is the top-level channel when ChannelID is a thread.
	ParentID string
}

// TopLevel returns the top-level channel id.
func (l Location) TopLevel() string {
	if l.ParentID != "" {
		return l.ParentID
	}
	return l.ChannelID
}

// MessageRef points at a source message.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Batch is a finalized group of media items from one user.
type Batch struct {
	ID        string
	UserID    string
	Location  Location
	Items     []media.Item
	Messages  []MessageRef // every source message, in arrival order
	CreatedAt time.Time
}

// Len returns the number of items.
func (b Batch) Len() int { return len(b.Items) }

// Handle identifies the pending batch an admission joined.
type Handle struct {
	BatchID string
	UserID  string
	Size    int // items in the batch after this admission
}

// Config tunes the aggregation window.
type Config struct {
	Window time.Duration
	MaxAge time.Duration
}

type pending struct {
	batch    Batch
	timer    *time.Timer
	deadline time.Time
	seen     map[string]bool
}

// Aggregator buffers admissions per user. Safe for concurrent use; different
// users never block each other beyond the map lock.
type Aggregator struct {
	cfg     Config
	onBatch func(Batch)

	mu      sync.Mutex
	pending map[string]*pending
	closed  bool
}

// New creates an aggregator. onBatch runs on its own goroutine for every
// finalized batch.
func New(cfg Config, onBatch func(Batch)) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.MaxAge < cfg.Window {
		cfg.MaxAge = cfg.Window
	}
	return &Aggregator{
		cfg:     cfg,
		onBatch: onBatch,
		pending: make(map[string]*pending),
	}
}

// Admit adds items from one message to the user's pending batch, creating it
// if needed. An admission from a different top-level channel finalizes the
// pending batch first.
func (a *Aggregator) Admit(userID string, loc Location, items []media.Item, at time.Time) Handle {
	var flushed *Batch

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return Handle{UserID: userID}
	}

	p, ok := a.pending[userID]
	if ok && p.batch.Location.TopLevel() != loc.TopLevel() {
		b := a.detach(userID, p)
		flushed = &b
		ok = false
	}
	if !ok {
		p = &pending{
			batch: Batch{
				ID:        uuid.NewString(),
				UserID:    userID,
				Location:  loc,
				CreatedAt: at,
			},
			deadline: time.Now().Add(a.cfg.MaxAge),
			seen:     make(map[string]bool),
		}
		a.pending[userID] = p
	}

	for _, it := range items {
		it.Seq = len(p.batch.Items)
		p.batch.Items = append(p.batch.Items, it)
		if it.MessageID != "" && !p.seen[it.MessageID] {
			p.seen[it.MessageID] = true
			p.batch.Messages = append(p.batch.Messages, MessageRef{ChannelID: loc.ChannelID, MessageID: it.MessageID})
		}
	}

	wait := a.cfg.Window
	if remaining := time.Until(p.deadline); remaining < wait {
		wait = max(remaining, 0)
	}
	batchID := p.batch.ID
	if p.timer == nil {
		p.timer = time.AfterFunc(wait, func() { a.expire(userID, batchID) })
	} else {
		p.timer.Reset(wait)
	}
	h := Handle{BatchID: batchID, UserID: userID, Size: len(p.batch.Items)}
	a.mu.Unlock()

	if flushed != nil {
		a.emit(*flushed)
	}
	return h
}

// Flush finalizes the user's pending batch now. Reports whether one existed.
func (a *Aggregator) Flush(userID string) bool {
	a.mu.Lock()
	p, ok := a.pending[userID]
	if !ok {
		a.mu.Unlock()
		return false
	}
	b := a.detach(userID, p)
	a.mu.Unlock()

	a.emit(b)
	return true
}

// Pending returns the item count of the user's pending batch.
func (a *Aggregator) Pending(userID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pending[userID]; ok {
		return len(p.batch.Items)
	}
	return 0
}

// Close stops all timers. Pending batches are dropped.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for userID, p := range a.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		slog.Debug("batch: dropping pending batch on close", "user_id", userID, "items", len(p.batch.Items))
	}
	a.pending = make(map[string]*pending)
}

func (a *Aggregator) expire(userID, batchID string) {
	a.mu.Lock()
	p, ok := a.pending[userID]
	// A stale timer may fire after its batch was flushed and replaced.
	if !ok || p.batch.ID != batchID {
		a.mu.Unlock()
		return
	}
	b := a.detach(userID, p)
	a.mu.Unlock()

	a.emit(b)
}

// detach removes the user's pending batch. Caller holds a.mu.
func (a *Aggregator) detach(userID string, p *pending) Batch {
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(a.pending, userID)
	return p.batch
}

func (a *Aggregator) emit(b Batch) {
	slog.Debug("batch finalized",
		"batch_id", b.ID,
		"user_id", b.UserID,
		"channel_id", b.Location.ChannelID,
		"items", len(b.Items),
		"messages", len(b.Messages),
	)
	if a.onBatch != nil {
		go a.onBatch(b)
	}
}
