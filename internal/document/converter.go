package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/sync/semaphore"

	"github.com/gridzer0/threadbot/internal/media"
)

const (
	DefaultMaxBytes  = 8 << 20
	DefaultWatermark = "GridZer0"

	defaultMaxWidth        = 2000
	defaultMaxPixels       = 50_000_000
	defaultConcurrency     = 2
	defaultWatermarkHeight = 24
	watermarkMargin        = 20
)

// ErrTooLarge is returned for documents above the size limit.
var ErrTooLarge = errors.New("document too large")

// Config tunes conversion.
type Config struct {
	MaxBytes        int64
	Watermark       string // empty disables the watermark
	WatermarkHeight int    // rendered text height in pixels
	MaxWidth        int    // wider pages are downscaled
	MaxPixels       int64  // pages above this are rejected before decoding
	Concurrency     int64  // simultaneous rasterizations
}

// Converter rasterizes documents into page items.
type Converter struct {
	raster Rasterizer
	cfg    Config
	sem    *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewConverter(r Rasterizer, cfg Config) *Converter {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.WatermarkHeight <= 0 {
		cfg.WatermarkHeight = defaultWatermarkHeight
	}
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = defaultMaxWidth
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = defaultMaxPixels
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Converter{
		raster:   r,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		inflight: make(map[string]struct{}),
	}
}

// MaxBytes returns the size limit.
func (c *Converter) MaxBytes() int64 { return c.cfg.MaxBytes }

// CheckSize rejects documents above the limit.
func (c *Converter) CheckSize(size int64) error {
	if size > c.cfg.MaxBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, size, c.cfg.MaxBytes)
	}
	return nil
}

// Begin claims key (usually a message id) for conversion. It returns false
// if key is already claimed, so a redelivered event is not converted twice.
func (c *Converter) Begin(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[key]; ok {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

// Done releases a key claimed by Begin.
func (c *Converter) Done(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, key)
}

// PageName is the upload name of the n-th page (1-based).
func PageName(n int) string { return fmt.Sprintf("page_%03d.png", n) }

// Pages rasterizes data and returns one PNG item per page, in page order.
func (c *Converter) Pages(ctx context.Context, name string, data []byte) ([]media.Item, error) {
	if err := c.CheckSize(int64(len(data))); err != nil {
		return nil, err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for rasterizer: %w", err)
	}
	defer c.sem.Release(1)

	raw, err := c.raster.Rasterize(ctx, name, data)
	if err != nil {
		return nil, err
	}

	items := make([]media.Item, 0, len(raw))
	for i, page := range raw {
		out, err := c.finishPage(page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		items = append(items, media.Item{
			Name:        PageName(i + 1),
			ContentType: "image/png",
			Size:        int64(len(out)),
			Seq:         i,
			Source:      media.BytesSource(out),
		})
	}
	slog.Info("document rasterized", "name", name, "pages", len(items))
	return items, nil
}

// finishPage validates a page image, downscales it and applies the watermark.
func (c *Converter) finishPage(b []byte) ([]byte, error) {
	hdr, err := media.Sniff(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if int64(hdr.Width)*int64(hdr.Height) > c.cfg.MaxPixels {
		return nil, fmt.Errorf("page too large: %dx%d", hdr.Width, hdr.Height)
	}
	if c.cfg.Watermark == "" && hdr.Width <= c.cfg.MaxWidth && hdr.Format == "png" {
		return b, nil
	}

	img, err := imaging.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	if hdr.Width > c.cfg.MaxWidth {
		img = imaging.Resize(img, c.cfg.MaxWidth, 0, imaging.Lanczos)
	}
	if c.cfg.Watermark != "" {
		img = Watermark(img, c.cfg.Watermark, c.cfg.WatermarkHeight)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	return buf.Bytes(), nil
}

var watermarkColor = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

// Watermark draws text in gray, centred near the bottom of img, scaled to
// roughly height pixels tall.
func Watermark(img image.Image, text string, height int) image.Image {
	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	w := d.MeasureString(text).Ceil()
	h := face.Metrics().Height.Ceil()
	if w == 0 || h == 0 {
		return img
	}

	label := image.NewNRGBA(image.Rect(0, 0, w, h))
	d.Dst = label
	d.Src = image.NewUniform(watermarkColor)
	d.Dot = fixed.P(0, face.Metrics().Ascent.Ceil())
	d.DrawString(text)

	bounds := img.Bounds()
	scaledW := w * height / h
	if limit := bounds.Dx() * 9 / 10; scaledW > limit {
		height = height * limit / scaledW
		scaledW = limit
	}
	if scaledW <= 0 || height <= 0 {
		return img
	}
	scaled := imaging.Resize(label, scaledW, height, imaging.NearestNeighbor)

	x := bounds.Min.X + (bounds.Dx()-scaledW)/2
	y := bounds.Max.Y - height - watermarkMargin
	if y < bounds.Min.Y {
		y = bounds.Min.Y
	}
	return imaging.Overlay(img, scaled, image.Pt(x, y), 1.0)
}
