package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Batch.Window(); got != 1500*time.Millisecond {
		t.Errorf("window = %v, want 1.5s", got)
	}
	if cfg.Threads.Attempts != 3 || cfg.Threads.InitialBackoff() != 2*time.Second {
		t.Errorf("threads = %+v", cfg.Threads)
	}
	if cfg.Delivery.PostInterval() != 500*time.Millisecond {
		t.Errorf("post interval = %v", cfg.Delivery.PostInterval())
	}
	if cfg.Delivery.SelectionTTL() != 0 {
		t.Errorf("selection ttl = %v, want 0", cfg.Delivery.SelectionTTL())
	}
	if cfg.Documents.MaxBytes != 8<<20 {
		t.Errorf("max bytes = %d", cfg.Documents.MaxBytes)
	}
}

func TestLoad_JSON5WithComments(t *testing.T) {
	path := writeConfig(t, `{
		// numbers are accepted as ids
		discord: { allow_guilds: ["123456789012345678", 42] },
		batch: { window_ms: 800, max_age_ms: 3000 },
		video: { thread_prefix: "Discuss: " },
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Discord.AllowGuilds) != 2 || cfg.Discord.AllowGuilds[1] != "42" {
		t.Errorf("allow_guilds = %v", cfg.Discord.AllowGuilds)
	}
	if cfg.Batch.WindowMS != 800 || cfg.Batch.MinSize != 2 {
		t.Errorf("batch = %+v", cfg.Batch)
	}
	if cfg.Video.ThreadPrefix != "Discuss: " {
		t.Errorf("prefix = %q", cfg.Video.ThreadPrefix)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("THREADBOT_DISCORD_TOKEN", "tok")
	t.Setenv("THREADBOT_YOUTUBE_API_KEY", "yt")
	t.Setenv("THREADBOT_POST_INTERVAL_MS", "250")
	t.Setenv("THREADBOT_VIDEO_ENABLED", "false")

	cfg, err := Load(writeConfig(t, `{discord: {token: "file"}}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "tok" {
		t.Errorf("token = %q, env should win", cfg.Discord.Token)
	}
	if cfg.YouTube.APIKey != "yt" {
		t.Errorf("api key = %q", cfg.YouTube.APIKey)
	}
	if cfg.Delivery.PostIntervalMS != 250 {
		t.Errorf("post interval = %d", cfg.Delivery.PostIntervalMS)
	}
	if cfg.Video.Enabled {
		t.Error("video should be disabled")
	}
}

func TestLoad_ClipsAndReferral(t *testing.T) {
	t.Setenv("REFERRAL_CHANNEL_ID", "998877665544332211")
	t.Setenv("THREADBOT_FFMPEG", "/opt/ffmpeg/bin/ffmpeg")

	cfg, err := Load(writeConfig(t, `{
		clips: { max_bytes: "1GiB", watermark: "" },
		referral: { browser: "off", browser_timeout_secs: 45 },
	}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Clips.MaxBytes != 1<<30 || cfg.Clips.UploadLimit != 25<<20 {
		t.Errorf("clip sizes = %s / %s", cfg.Clips.MaxBytes, cfg.Clips.UploadLimit)
	}
	if cfg.Clips.Watermark != "" {
		t.Errorf("watermark = %q, an explicit empty value disables it", cfg.Clips.Watermark)
	}
	if cfg.Clips.FFmpeg != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("ffmpeg = %q", cfg.Clips.FFmpeg)
	}
	if cfg.Referral.ChannelID != "998877665544332211" {
		t.Errorf("referral channel = %q", cfg.Referral.ChannelID)
	}
	if cfg.Referral.Browser != "off" || cfg.Referral.BrowserWait() != 45*time.Second {
		t.Errorf("referral = %+v", cfg.Referral)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"zero attempts", `{threads: {attempts: 0}}`},
		{"cap below window", `{batch: {window_ms: 2000, max_age_ms: 1000}}`},
		{"archive duration", `{threads: {auto_archive_minutes: 15}}`},
		{"segment above upload limit", `{clips: {segment_size: "30MiB"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Discord.Token = "secret"
	cp := cfg.MaskedCopy()
	if cp.Discord.Token != secretMask {
		t.Errorf("token = %q", cp.Discord.Token)
	}
	if cp.YouTube.APIKey != "" {
		t.Errorf("empty key should stay empty, got %q", cp.YouTube.APIKey)
	}
	if cfg.Discord.Token != "secret" {
		t.Error("original modified")
	}
}

func TestLoad_HumanSizes(t *testing.T) {
	path := writeConfig(t, `{
		documents: { max_bytes: "8MiB" },
		delivery: { max_attachment_size: '25 MB' },
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Documents.MaxBytes.Int64() != 8<<20 {
		t.Errorf("max_bytes = %d", cfg.Documents.MaxBytes)
	}
	if cfg.Delivery.MaxAttachmentSize.Int64() != 25_000_000 {
		t.Errorf("max_attachment_size = %d", cfg.Delivery.MaxAttachmentSize)
	}
	if got := cfg.Documents.MaxBytes.String(); got != "8.0 MiB" {
		t.Errorf("String() = %q", got)
	}

	if _, err := Load(writeConfig(t, `{documents: {max_bytes: "lots"}}`)); err == nil {
		t.Error("expected error for unparseable size")
	}
}
