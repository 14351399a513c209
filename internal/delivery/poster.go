package delivery

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/gridzer0/threadbot/internal/media"
	"github.com/gridzer0/threadbot/internal/metrics"
	"github.com/gridzer0/threadbot/internal/platform"
)

// DefaultPostInterval paces consecutive uploads to one target.
const DefaultPostInterval = 500 * time.Millisecond

// DeliverError reports a delivery that stopped part way.
type DeliverError struct {
	Delivered int
	Total     int
	Item      string
	Err       error
}

func (e *DeliverError) Error() string {
	return fmt.Sprintf("deliver %s: %d of %d posted: %v", e.Item, e.Delivered, e.Total, e.Err)
}

func (e *DeliverError) Unwrap() error { return e.Err }

// Poster uploads items to a target one at a time in natural name order.
type Poster struct {
	backend  platform.Messenger
	interval time.Duration
	metrics  *metrics.Metrics
}

// NewPoster creates a poster. interval <= 0 disables pacing.
func NewPoster(backend platform.Messenger, interval time.Duration, m *metrics.Metrics) *Poster {
	return &Poster{backend: backend, interval: interval, metrics: m}
}

// Deliver posts items to targetID and returns how many were posted. Each
// item's source is opened exactly once; the first failure stops the sequence.
func (p *Poster) Deliver(ctx context.Context, targetID string, items []media.Item) (int, error) {
	ordered := media.Sort(items)

	// One limiter per delivery: pacing is per target, other batches are independent.
	limit := rate.Inf
	if p.interval > 0 {
		limit = rate.Every(p.interval)
	}
	lim := rate.NewLimiter(limit, 1)

	for i, it := range ordered {
		if err := lim.Wait(ctx); err != nil {
			return i, &DeliverError{Delivered: i, Total: len(ordered), Item: it.Name, Err: err}
		}
		if err := p.post(ctx, targetID, it); err != nil {
			return i, &DeliverError{Delivered: i, Total: len(ordered), Item: it.Name, Err: err}
		}
		p.metrics.ItemPosted()
	}
	return len(ordered), nil
}

func (p *Poster) post(ctx context.Context, targetID string, it media.Item) error {
	if it.Source == nil {
		return fmt.Errorf("item %s has no source", it.Name)
	}
	rc, err := it.Source.Open(ctx)
	if err != nil {
		return fmt.Errorf("open %s: %w", it.Name, err)
	}
	defer rc.Close()

	_, err = p.backend.Send(ctx, targetID, platform.OutgoingMessage{
		Files: []platform.File{{Name: it.Name, ContentType: it.ContentType, Reader: rc}},
	})
	return err
}
