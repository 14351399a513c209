// Package media holds the media item model shared by the batch, delivery and
// document packages: read-once sources, image classification and the
// deterministic posting order.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

var (
	// ErrSourceConsumed is returned when a source is opened a second time.
	ErrSourceConsumed = errors.New("media source already consumed")
	// ErrTooLarge is returned when a download exceeds its byte cap.
	ErrTooLarge = errors.New("media exceeds size limit")
)

// Source is a lazy handle to an item's bytes.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Item is one classified media attachment. Immutable once built.
type Item struct {
	Name        string // stable sort key, usually the original filename
	ContentType string
	Size        int64
	Seq         int    // arrival order within its batch, tie-breaker for sorting
	MessageID   string // message the item arrived with ("" for generated pages)
	Source      Source
}

// onceSource enforces read-once semantics over any opener.
type onceSource struct {
	opened atomic.Bool
	open   func(ctx context.Context) (io.ReadCloser, error)
}

func (s *onceSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if !s.opened.CompareAndSwap(false, true) {
		return nil, ErrSourceConsumed
	}
	return s.open(ctx)
}

// Once wraps an open function so it can be called at most once.
func Once(open func(ctx context.Context) (io.ReadCloser, error)) Source {
	return &onceSource{open: open}
}

// BytesSource serves an in-memory buffer once.
func BytesSource(b []byte) Source {
	return Once(func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	})
}

// URLSource downloads the bytes on open. maxBytes <= 0 disables the cap;
// otherwise a body larger than maxBytes fails with ErrTooLarge instead of
// being cut short.
func URLSource(client *http.Client, url string, maxBytes int64) Source {
	if client == nil {
		client = http.DefaultClient
	}
	return Once(func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download attachment: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("download attachment: status %d", resp.StatusCode)
		}
		if maxBytes <= 0 {
			return resp.Body, nil
		}
		if resp.ContentLength > maxBytes {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, resp.ContentLength, maxBytes)
		}
		return &cappedBody{r: io.LimitReader(resp.Body, maxBytes+1), c: resp.Body, max: maxBytes}, nil
	})
}

// cappedBody reads at most max bytes and errors on the first byte past it.
type cappedBody struct {
	r    io.Reader
	c    io.Closer
	read int64
	max  int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += int64(n)
	if b.read > b.max {
		return n - int(b.read-b.max), fmt.Errorf("%w: more than %d bytes", ErrTooLarge, b.max)
	}
	return n, err
}

func (b *cappedBody) Close() error { return b.c.Close() }
