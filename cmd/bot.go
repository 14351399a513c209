package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gridzer0/threadbot/internal/batch"
	"github.com/gridzer0/threadbot/internal/bot"
	"github.com/gridzer0/threadbot/internal/bus"
	"github.com/gridzer0/threadbot/internal/channels"
	"github.com/gridzer0/threadbot/internal/channels/discord"
	"github.com/gridzer0/threadbot/internal/clip"
	"github.com/gridzer0/threadbot/internal/config"
	"github.com/gridzer0/threadbot/internal/delivery"
	"github.com/gridzer0/threadbot/internal/document"
	threadhttp "github.com/gridzer0/threadbot/internal/http"
	"github.com/gridzer0/threadbot/internal/metrics"
	"github.com/gridzer0/threadbot/internal/platform"
	"github.com/gridzer0/threadbot/internal/referral"
	"github.com/gridzer0/threadbot/internal/threads"
	"github.com/gridzer0/threadbot/internal/video"
	"github.com/gridzer0/threadbot/internal/video/youtube"
)

func runBot(parent context.Context) error {
	setupLogging()
	config.LoadDotEnv()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	msgBus := bus.New()

	dc, err := discord.Factory(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create discord channel: %w", err)
	}
	channelMgr := channels.NewManager()
	channelMgr.RegisterChannel(dc.Name(), dc)

	// Batches use a direct thread whose "thread started" notice is cleaned up;
	// video threads hang off a short-lived carrier message.
	batchThreads := threads.NewProvisioner(dc, provisionerConfig(cfg.Threads, threads.AnchorDirect, "batch"), m)
	videoThreads := threads.NewProvisioner(dc, provisionerConfig(cfg.Threads, threads.AnchorCarrier, "video"), m)

	poster := delivery.NewPoster(dc, cfg.Delivery.PostInterval(), m)
	orchestrator := delivery.NewOrchestrator(dc, batchThreads, poster, m)
	selector := delivery.NewSelector(dc, orchestrator, cfg.Delivery.SelectionTTL(), m)
	defer selector.Close()

	var docs *document.Converter
	if cfg.Documents.Enabled {
		raster := document.CommandRasterizer{
			Pdftoppm: cfg.Documents.Pdftoppm,
			Soffice:  cfg.Documents.Soffice,
			DPI:      cfg.Documents.DPI,
		}
		if missing := document.CheckBinaries(raster.Binaries()...); len(missing) > 0 {
			slog.Warn("document conversion disabled: missing binaries", "missing", missing)
		} else {
			docs = document.NewConverter(raster, document.Config{
				MaxBytes:    cfg.Documents.MaxBytes.Int64(),
				Watermark:   cfg.Documents.Watermark,
				MaxWidth:    cfg.Documents.MaxWidth,
				Concurrency: cfg.Documents.Concurrency,
			})
		}
	}

	var videos bot.VideoHandler
	if cfg.Video.Enabled {
		if cfg.YouTube.APIKey == "" {
			slog.Warn("video links disabled: youtube api key not configured")
		} else {
			lookup := youtube.New(cfg.YouTube.APIKey)
			videos = video.NewProcessor(dc, lookup, videoThreads, video.NewProcessedSet(), cfg.Video.ThreadPrefix, m)
		}
	}

	clips := newClips(cfg.Clips)
	var refs bot.ReferralHandler
	if cfg.Referral.ChannelID != "" {
		refs = newReferrals(cfg.Referral, dc, m)
	}

	router := bot.New(dc, selector, docs, videos, bot.Options{
		Batch:         batch.Config{Window: cfg.Batch.Window(), MaxAge: cfg.Batch.MaxAge()},
		MinBatch:      cfg.Batch.MinSize,
		MaxImageBytes: cfg.Delivery.MaxAttachmentSize.Int64(),
		HTTPClient:    &http.Client{Timeout: 60 * time.Second},
		Clips:         clips,
		Referrals:     refs,
	})
	defer router.Close()

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		return err
	}
	defer channelMgr.StopAll(context.Background())

	slog.Info("threadbot starting",
		"version", Version,
		"config_hash", cfg.Hash(),
		"documents", docs != nil,
		"videos", videos != nil,
		"clips", clips != nil,
		"referrals", refs != nil,
		"http", cfg.HTTP.Listen,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Run(gctx, msgBus) })
	if cfg.HTTP.Listen != "" {
		srv := threadhttp.NewServer(cfg.HTTP.Listen, channelMgr, m.Registry(), Version, cfg.Hash())
		g.Go(func() error { return srv.Run(gctx) })
	}

	err = g.Wait()
	slog.Info("graceful shutdown initiated")
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("threadbot stopped with error", "error", err)
		return err
	}
	return nil
}

// newClips returns nil when clips are disabled or ffmpeg is missing.
func newClips(cc config.ClipsConfig) *clip.Converter {
	if !cc.Enabled {
		return nil
	}
	enc := clip.FFmpeg{Path: cc.FFmpeg, Font: cc.Font}
	if missing := document.CheckBinaries(enc.Binaries()...); len(missing) > 0 {
		slog.Warn("video watermarking disabled: missing binaries", "missing", missing)
		return nil
	}
	return clip.NewConverter(enc, clip.Config{
		MaxBytes:      cc.MaxBytes.Int64(),
		UploadLimit:   cc.UploadLimit.Int64(),
		SegmentTarget: cc.SegmentSize.Int64(),
		MaxSegments:   cc.MaxSegments,
		Watermark:     cc.Watermark,
		Concurrency:   cc.Concurrency,
	})
}

// newReferrals tries a desktop fetch, then a mobile one, then a headless
// browser when one is available.
func newReferrals(rc config.ReferralConfig, backend platform.Messenger, m *metrics.Metrics) *referral.Processor {
	sources := []referral.Source{
		{Name: "http", Fetcher: referral.NewHTTPFetcher(referral.DesktopUserAgent, false)},
		{Name: "mobile", Fetcher: referral.NewHTTPFetcher(referral.MobileUserAgent, false)},
	}
	bin := rc.Browser
	if bin == "" {
		bin, _ = referral.LookupBrowser()
	}
	switch bin {
	case "", "off":
		slog.Info("referral browser fallback disabled")
	default:
		sources = append(sources, referral.Source{Name: "browser", Fetcher: referral.BrowserFetcher{
			Bin:       bin,
			UserAgent: referral.DesktopUserAgent,
			Timeout:   rc.BrowserWait(),
		}})
	}
	return referral.NewProcessor(backend, rc.ChannelID, sources, m)
}

func provisionerConfig(tc config.ThreadsConfig, anchor threads.Anchor, kind string) threads.Config {
	return threads.Config{
		MaxAttempts:      tc.Attempts,
		InitialDelay:     tc.InitialBackoff(),
		BackoffFactor:    tc.BackoffFactor,
		NotificationWait: tc.NotificationWait(),
		NotificationScan: tc.NotificationScan,
		Anchor:           anchor,
		Kind:             kind,
	}
}
