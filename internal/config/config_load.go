package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

const secretMask = "***"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Batch: BatchConfig{
			WindowMS: 1500,
			MaxAgeMS: 5000,
			MinSize:  2,
		},
		Threads: ThreadsConfig{
			Attempts:           3,
			InitialBackoffMS:   2000,
			BackoffFactor:      2,
			NotificationWaitMS: 2000,
			NotificationScan:   10,
			AutoArchiveMinutes: 1440,
		},
		Delivery: DeliveryConfig{
			PostIntervalMS:    500,
			MaxAttachmentSize: 25 << 20,
		},
		Documents: DocumentsConfig{
			Enabled:     true,
			MaxBytes:    8 << 20,
			Watermark:   "GridZer0",
			MaxWidth:    2000,
			Concurrency: 2,
			DPI:         100,
		},
		Video: VideoConfig{
			Enabled:      true,
			ThreadPrefix: "Watch: ",
		},
		Clips: ClipsConfig{
			Enabled:     true,
			MaxBytes:    500 << 20,
			UploadLimit: 25 << 20,
			SegmentSize: 8 << 20,
			MaxSegments: 20,
			Watermark:   "Confidential - GridZer0",
			Concurrency: 1,
		},
		Referral: ReferralConfig{
			BrowserTimeout: 30,
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// LoadDotEnv loads a .env file from the working directory if present.
// Variables already set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Plain DISCORD_TOKEN / YOUTUBE_API_KEY match the usual .env layout.
	envStr("DISCORD_TOKEN", &c.Discord.Token)
	envStr("YOUTUBE_API_KEY", &c.YouTube.APIKey)
	envStr("THREADBOT_DISCORD_TOKEN", &c.Discord.Token)
	envStr("THREADBOT_YOUTUBE_API_KEY", &c.YouTube.APIKey)

	if v := os.Getenv("THREADBOT_ALLOW_GUILDS"); v != "" {
		c.Discord.AllowGuilds = strings.Split(v, ",")
	}
	if v := os.Getenv("THREADBOT_ALLOW_FROM"); v != "" {
		c.Discord.AllowFrom = strings.Split(v, ",")
	}

	envInt("THREADBOT_BATCH_WINDOW_MS", &c.Batch.WindowMS)
	envInt("THREADBOT_BATCH_MAX_AGE_MS", &c.Batch.MaxAgeMS)
	envInt("THREADBOT_THREAD_ATTEMPTS", &c.Threads.Attempts)
	envInt("THREADBOT_POST_INTERVAL_MS", &c.Delivery.PostIntervalMS)
	envInt("THREADBOT_SELECTION_TTL_SECS", &c.Delivery.SelectionTTLSecs)

	envBool("THREADBOT_DOCUMENTS_ENABLED", &c.Documents.Enabled)
	envStr("THREADBOT_WATERMARK", &c.Documents.Watermark)
	envStr("THREADBOT_PDFTOPPM", &c.Documents.Pdftoppm)
	envStr("THREADBOT_SOFFICE", &c.Documents.Soffice)

	envBool("THREADBOT_VIDEO_ENABLED", &c.Video.Enabled)

	envBool("THREADBOT_CLIPS_ENABLED", &c.Clips.Enabled)
	envStr("THREADBOT_CLIP_WATERMARK", &c.Clips.Watermark)
	envStr("THREADBOT_FFMPEG", &c.Clips.FFmpeg)

	envStr("REFERRAL_CHANNEL_ID", &c.Referral.ChannelID)
	envStr("THREADBOT_REFERRAL_CHANNEL_ID", &c.Referral.ChannelID)
	envStr("THREADBOT_BROWSER", &c.Referral.Browser)

	envStr("THREADBOT_HTTP_LISTEN", &c.HTTP.Listen)
}

// Validate rejects settings the bot cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Batch.MinSize < 1 {
		errs = append(errs, fmt.Errorf("batch.min_size must be >= 1"))
	}
	if c.Batch.MaxAgeMS > 0 && c.Batch.MaxAgeMS < c.Batch.WindowMS {
		errs = append(errs, fmt.Errorf("batch.max_age_ms (%d) must not be below batch.window_ms (%d)",
			c.Batch.MaxAgeMS, c.Batch.WindowMS))
	}
	if c.Threads.Attempts < 1 {
		errs = append(errs, fmt.Errorf("threads.attempts must be >= 1"))
	}
	if c.Threads.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("threads.backoff_factor must be >= 1"))
	}
	switch c.Threads.AutoArchiveMinutes {
	case 60, 1440, 4320, 10080:
	default:
		errs = append(errs, fmt.Errorf("threads.auto_archive_minutes must be one of 60, 1440, 4320, 10080"))
	}
	if c.Clips.Enabled && c.Clips.SegmentSize > c.Clips.UploadLimit {
		errs = append(errs, fmt.Errorf("clips.segment_size (%s) must not exceed clips.upload_limit (%s)",
			c.Clips.SegmentSize, c.Clips.UploadLimit))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Hash returns a short SHA-256 of the config, printed by doctor.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// MaskedCopy returns a deep copy with secrets replaced, safe to log.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Discord.Token)
	maskNonEmpty(&cp.YouTube.APIKey)
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}
