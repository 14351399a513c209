package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/titanous/json5"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
// Discord snowflakes are often pasted as bare numbers.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// SizeBytes is a byte count that also accepts human-friendly strings such as
// "8MiB" or "25 MB".
type SizeBytes int64

func (s *SizeBytes) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json5.Unmarshal(data, &n); err == nil {
		*s = SizeBytes(n)
		return nil
	}
	var raw string
	if err := json5.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid size value: %s", data)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*s = 0
		return nil
	}
	v, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("invalid size value: %q", raw)
	}
	*s = SizeBytes(v)
	return nil
}

// Int64 returns the size in bytes.
func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(max(s, 0))) }

// Config is the root configuration for threadbot.
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	YouTube   YouTubeConfig   `json:"youtube"`
	Batch     BatchConfig     `json:"batch"`
	Threads   ThreadsConfig   `json:"threads"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Documents DocumentsConfig `json:"documents"`
	Video     VideoConfig     `json:"video"`
	Clips     ClipsConfig     `json:"clips"`
	Referral  ReferralConfig  `json:"referral"`
	HTTP      HTTPConfig      `json:"http"`
	mu        sync.RWMutex
}

// YouTubeConfig holds the Data API v3 credentials.
type YouTubeConfig struct {
	APIKey string `json:"api_key"`
}

// BatchConfig tunes image aggregation.
type BatchConfig struct {
	WindowMS int `json:"window_ms"`  // quiet window after the last upload (default 1500)
	MaxAgeMS int `json:"max_age_ms"` // hard cap from the first upload (default 5000)
	MinSize  int `json:"min_size"`   // smaller batches are not offered (default 2)
}

// ThreadsConfig tunes thread provisioning.
type ThreadsConfig struct {
	Attempts           int     `json:"attempts"`             // default 3
	InitialBackoffMS   int     `json:"initial_backoff_ms"`   // default 2000
	BackoffFactor      float64 `json:"backoff_factor"`       // default 2
	NotificationWaitMS int     `json:"notification_wait_ms"` // default 2000
	NotificationScan   int     `json:"notification_scan"`    // recent messages inspected, default 10
	AutoArchiveMinutes int     `json:"auto_archive_minutes"` // default 1440
}

// DeliveryConfig tunes posting and selection.
type DeliveryConfig struct {
	PostIntervalMS    int       `json:"post_interval_ms"`    // pause between uploads, default 500
	SelectionTTLSecs  int       `json:"selection_ttl_secs"`  // 0 keeps selections until chosen
	MaxAttachmentSize SizeBytes `json:"max_attachment_size"` // bytes read per image, default 25 MiB
}

// DocumentsConfig tunes document rasterization.
type DocumentsConfig struct {
	Enabled     bool      `json:"enabled"`
	MaxBytes    SizeBytes `json:"max_bytes"` // default 8 MiB
	Watermark   string    `json:"watermark"` // empty disables
	MaxWidth    int       `json:"max_width"`
	Concurrency int64     `json:"concurrency"`
	Pdftoppm    string    `json:"pdftoppm,omitempty"`
	Soffice     string    `json:"soffice,omitempty"`
	DPI         int       `json:"dpi,omitempty"`
}

// VideoConfig tunes the video link processor.
type VideoConfig struct {
	Enabled      bool   `json:"enabled"`
	ThreadPrefix string `json:"thread_prefix"`
}

// ClipsConfig tunes MP4/MOV watermarking.
type ClipsConfig struct {
	Enabled     bool      `json:"enabled"`
	MaxBytes    SizeBytes `json:"max_bytes"`    // larger uploads are refused, default 500 MiB
	UploadLimit SizeBytes `json:"upload_limit"` // largest single upload, default 25 MiB
	SegmentSize SizeBytes `json:"segment_size"` // target part size when splitting, default 8 MiB
	MaxSegments int       `json:"max_segments"` // default 20
	Watermark   string    `json:"watermark"`    // empty disables
	Concurrency int64     `json:"concurrency"`  // simultaneous encodes, default 1
	FFmpeg      string    `json:"ffmpeg,omitempty"`
	Font        string    `json:"font,omitempty"` // font file for the watermark
}

// ReferralConfig enables link previews in one channel.
type ReferralConfig struct {
	ChannelID string `json:"channel_id"` // empty disables; quote the snowflake
	// Browser is a Chromium executable for sites that refuse plain HTTP
	// clients. Empty looks one up on PATH; "off" disables the fallback.
	Browser        string `json:"browser,omitempty"`
	BrowserTimeout int    `json:"browser_timeout_secs"` // default 30
}

// HTTPConfig configures the ops listener (/healthz, /metrics).
type HTTPConfig struct {
	Listen string `json:"listen"` // empty disables
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Window returns the aggregation quiet window.
func (b BatchConfig) Window() time.Duration { return ms(b.WindowMS) }

// MaxAge returns the aggregation hard cap.
func (b BatchConfig) MaxAge() time.Duration { return ms(b.MaxAgeMS) }

// InitialBackoff returns the delay before the second attempt.
func (t ThreadsConfig) InitialBackoff() time.Duration { return ms(t.InitialBackoffMS) }

// NotificationWait returns how long to wait before cleaning the creation notice.
func (t ThreadsConfig) NotificationWait() time.Duration { return ms(t.NotificationWaitMS) }

// PostInterval returns the pause between uploads.
func (d DeliveryConfig) PostInterval() time.Duration { return ms(d.PostIntervalMS) }

// BrowserWait returns the headless browser page timeout.
func (r ReferralConfig) BrowserWait() time.Duration {
	return time.Duration(r.BrowserTimeout) * time.Second
}

// SelectionTTL returns how long a selection stays pending (0 = forever).
func (d DeliveryConfig) SelectionTTL() time.Duration {
	return time.Duration(d.SelectionTTLSecs) * time.Second
}
