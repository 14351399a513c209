// Package clip re-encodes uploaded MP4 and MOV videos with a burned-in
// watermark, splitting them into numbered parts when the result is too large
// to upload in one piece.
package clip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/gridzer0/threadbot/internal/bus"
	"github.com/gridzer0/threadbot/internal/media"
)

const (
	DefaultMaxBytes      = 500 << 20
	DefaultUploadLimit   = 25 << 20
	DefaultSegmentTarget = 8 << 20
	DefaultMaxSegments   = 20
	DefaultWatermark     = "Confidential - GridZer0"

	// Notice follows every delivered video.
	Notice = "⚠️ **WARNING**: Do not download or share this video outside the server."

	minSegments         = 6
	maxSizeSegments     = 15
	secondsPerSegment   = 180
	defaultConcurrency  = 1
	claimTTL            = time.Hour
	maxClaims           = 2000
	estimatedMiBPerMin  = 5
	targetSingleMiB     = 6
	minBitrateK         = 150
	maxBitrateK         = 400
	singlePassCRF       = 32
	largeInputThreshold = 40 << 20
)

// ErrTooLarge is returned for videos above the size limit.
var ErrTooLarge = errors.New("video too large")

// IsClip reports whether name is an MP4 or MOV upload.
func IsClip(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".mov":
		return true
	}
	return false
}

// Config tunes re-encoding.
type Config struct {
	MaxBytes      int64  // larger uploads are refused
	UploadLimit   int64  // largest file posted as a single message
	SegmentTarget int64  // parts above this are recompressed
	MaxSegments   int    // upper bound on the number of parts
	Watermark     string // empty disables the watermark
	Concurrency   int64  // simultaneous encodes
}

// Converter turns one uploaded video into postable mp4 items.
type Converter struct {
	enc    Encoder
	cfg    Config
	sem    *semaphore.Weighted
	claims *bus.DedupeCache
}

func NewConverter(enc Encoder, cfg Config) *Converter {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.UploadLimit <= 0 {
		cfg.UploadLimit = DefaultUploadLimit
	}
	if cfg.SegmentTarget <= 0 {
		cfg.SegmentTarget = DefaultSegmentTarget
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = DefaultMaxSegments
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Converter{
		enc:    enc,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.Concurrency),
		claims: bus.NewDedupeCache(claimTTL, maxClaims),
	}
}

// MaxBytes returns the size limit.
func (c *Converter) MaxBytes() int64 { return c.cfg.MaxBytes }

// CheckSize rejects videos above the limit.
func (c *Converter) CheckSize(size int64) error {
	if size > c.cfg.MaxBytes {
		return fmt.Errorf("%w: %s (max %s)", ErrTooLarge, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(c.cfg.MaxBytes)))
	}
	return nil
}

// Claim records an attachment id and reports whether it is new. Ids stay
// claimed for an hour whatever the outcome.
func (c *Converter) Claim(attachmentID string) bool {
	return !c.claims.IsDuplicate(attachmentID)
}

// Clips re-encodes the video read from r. The result is a single watermarked
// file when it fits the upload limit, otherwise numbered parts.
func (c *Converter) Clips(ctx context.Context, name string, r io.Reader) ([]media.Item, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for encoder: %w", err)
	}
	defer c.sem.Release(1)

	dir, err := os.MkdirTemp("", "threadbot-clip-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	// Only the extension of the user-supplied name is trusted.
	input := filepath.Join(dir, "input"+strings.ToLower(filepath.Ext(name)))
	size, err := writeFile(input, r)
	if err != nil {
		return nil, err
	}
	if err := c.CheckSize(size); err != nil {
		return nil, err
	}

	base := media.BaseName(name)
	single := filepath.Join(dir, "single.mp4")
	err = c.enc.Encode(ctx, Job{
		Input:     input,
		Output:    single,
		Width:     singleWidth(size),
		CRF:       singlePassCRF,
		BitrateK:  bitrateFor(size),
		Watermark: c.cfg.Watermark,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	out, err := os.ReadFile(single)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	if int64(len(out)) <= c.cfg.UploadLimit {
		slog.Info("clip encoded", "name", name, "input", humanize.IBytes(uint64(size)), "output", humanize.IBytes(uint64(len(out))))
		return []media.Item{item(base+".mp4", 0, out)}, nil
	}
	return c.segments(ctx, dir, input, base, size)
}

// segments splits the original input into watermarked parts of equal length,
// recompressing any part that overshoots the segment target.
func (c *Converter) segments(ctx context.Context, dir, input, base string, size int64) ([]media.Item, error) {
	total, err := c.enc.Duration(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("read duration: %w", err)
	}
	n := c.segmentCount(size, total)
	length := total / time.Duration(n)
	crf, width := segmentQuality(size)

	slog.Info("clip: splitting into parts", "input", humanize.IBytes(uint64(size)), "duration", total, "parts", n)

	items := make([]media.Item, 0, n)
	for i := range n {
		part := filepath.Join(dir, fmt.Sprintf("part_%d.mp4", i))
		err := c.enc.Encode(ctx, Job{
			Input:     input,
			Output:    part,
			Start:     time.Duration(i) * length,
			Length:    length,
			Width:     width,
			CRF:       crf,
			AudioK:    64,
			Watermark: c.cfg.Watermark,
		})
		if err != nil {
			return nil, fmt.Errorf("encode part %d: %w", i+1, err)
		}
		data, err := c.shrink(ctx, dir, part, i)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > c.cfg.UploadLimit {
			return nil, fmt.Errorf("part %d is %s after recompression", i+1, humanize.IBytes(uint64(len(data))))
		}
		items = append(items, item(fmt.Sprintf("%s_part%dof%d.mp4", base, i+1, n), i, data))
	}
	return items, nil
}

// recompress passes run on an already watermarked part.
var recompress = []struct{ crf, width, audioK int }{
	{38, 480, 32},
	{42, 320, 24},
}

func (c *Converter) shrink(ctx context.Context, dir, part string, i int) ([]byte, error) {
	data, err := os.ReadFile(part)
	if err != nil {
		return nil, fmt.Errorf("read part %d: %w", i+1, err)
	}
	for pass, q := range recompress {
		if int64(len(data)) <= c.cfg.SegmentTarget {
			break
		}
		next := filepath.Join(dir, fmt.Sprintf("part_%d_r%d.mp4", i, pass))
		err := c.enc.Encode(ctx, Job{Input: part, Output: next, Width: q.width, CRF: q.crf, AudioK: q.audioK})
		if err != nil {
			return nil, fmt.Errorf("recompress part %d: %w", i+1, err)
		}
		if data, err = os.ReadFile(next); err != nil {
			return nil, fmt.Errorf("read part %d: %w", i+1, err)
		}
		part = next
	}
	return data, nil
}

// segmentCount sizes parts by the segment target, then raises the count so
// no part runs much longer than three minutes.
func (c *Converter) segmentCount(size int64, total time.Duration) int {
	n := min(max(int(size/c.cfg.SegmentTarget), minSegments), maxSizeSegments)
	n = max(n, int(total.Seconds())/secondsPerSegment)
	return min(n, c.cfg.MaxSegments)
}

func segmentQuality(size int64) (crf, width int) {
	switch {
	case size > 300<<20:
		return 35, 480
	case size > 200<<20:
		return 33, 640
	}
	return 30, 854
}

func singleWidth(size int64) int {
	if size > largeInputThreshold {
		return 640
	}
	return 854
}

// bitrateFor aims the single pass at a few MiB assuming roughly 5 MiB of
// input per minute of footage.
func bitrateFor(size int64) int {
	secs := float64(size) / (1 << 20) / estimatedMiBPerMin * 60
	if secs <= 0 {
		return 300
	}
	k := int(targetSingleMiB * 8 * 1024 / secs)
	return min(max(k, minBitrateK), maxBitrateK)
}

func item(name string, seq int, data []byte) media.Item {
	return media.Item{
		Name:        name,
		ContentType: "video/mp4",
		Size:        int64(len(data)),
		Seq:         seq,
		Source:      media.BytesSource(data),
	}
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create input: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write input: %w", err)
	}
	return n, nil
}
