package bot

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridzer0/threadbot/internal/batch"
	"github.com/gridzer0/threadbot/internal/bus"
	"github.com/gridzer0/threadbot/internal/clip"
	"github.com/gridzer0/threadbot/internal/delivery"
	"github.com/gridzer0/threadbot/internal/document"
	"github.com/gridzer0/threadbot/internal/platform"
	"github.com/gridzer0/threadbot/internal/platform/platformtest"
	"github.com/gridzer0/threadbot/internal/referral"
	"github.com/gridzer0/threadbot/internal/video"
)

type recordingOfferer struct {
	mu       sync.Mutex
	offers   chan delivery.Request
	acts     []delivery.Activation
	offerErr error
}

func newOfferer() *recordingOfferer {
	return &recordingOfferer{offers: make(chan delivery.Request, 16)}
}

func (o *recordingOfferer) Offer(_ context.Context, req delivery.Request) (*delivery.Selection, error) {
	o.offers <- req
	if o.offerErr != nil {
		return nil, o.offerErr
	}
	return &delivery.Selection{}, nil
}

func (o *recordingOfferer) Activate(_ context.Context, act delivery.Activation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acts = append(o.acts, act)
}

func (o *recordingOfferer) next(t *testing.T) delivery.Request {
	t.Helper()
	select {
	case req := <-o.offers:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no offer made")
		return delivery.Request{}
	}
}

func (o *recordingOfferer) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case req := <-o.offers:
		t.Fatalf("unexpected offer: %+v", req)
	case <-time.After(wait):
	}
}

type recordingVideos struct {
	mu    sync.Mutex
	posts []video.Post
}

func (v *recordingVideos) Handle(_ context.Context, post video.Post) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.posts = append(v.posts, post)
	return true, nil
}

func (v *recordingVideos) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.posts)
}

type stubRasterizer struct{ pages [][]byte }

func (s *stubRasterizer) Rasterize(context.Context, string, []byte) ([][]byte, error) {
	return s.pages, nil
}

func whitePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newRouter(t *testing.T, fake *platformtest.Fake, off *recordingOfferer, docs *document.Converter, videos VideoHandler) *Router {
	t.Helper()
	r := New(fake, off, docs, videos, Options{
		Batch: batch.Config{Window: 30 * time.Millisecond, MaxAge: 200 * time.Millisecond},
	})
	t.Cleanup(r.Close)
	return r
}

type recordingReferrals struct {
	mu    sync.Mutex
	posts []referral.Post
}

func (f *recordingReferrals) Handle(_ context.Context, post referral.Post) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, post)
	return true, nil
}

func (f *recordingReferrals) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

type stubEncoder struct{}

func (stubEncoder) Encode(_ context.Context, j clip.Job) error {
	return os.WriteFile(j.Output, []byte("mp4 "+j.Watermark), 0o600)
}

func (stubEncoder) Duration(context.Context, string) (time.Duration, error) { return time.Minute, nil }

func newRouterWith(t *testing.T, fake *platformtest.Fake, off *recordingOfferer, videos VideoHandler, opts Options) *Router {
	t.Helper()
	opts.Batch = batch.Config{Window: 30 * time.Millisecond, MaxAge: 200 * time.Millisecond}
	r := New(fake, off, nil, videos, opts)
	t.Cleanup(r.Close)
	return r
}

func images(names ...string) []bus.Attachment {
	out := make([]bus.Attachment, len(names))
	for i, n := range names {
		out[i] = bus.Attachment{Name: n, URL: "https://cdn.example/" + n, ContentType: "image/png", Size: 10}
	}
	return out
}

func TestHandleMessage_MultiImageMessageOfferedImmediately(t *testing.T) {
	fake := platformtest.New()
	off := newOfferer()
	r := newRouter(t, fake, off, nil, nil)

	r.HandleMessage(context.Background(), bus.InboundMessage{
		MessageID: "m1", ChannelID: "c", GuildID: "g", AuthorID: "u",
		Attachments: images("b.png", "a.png", "c.png"),
	})

	req := off.next(t)
	assert.Equal(t, "u", req.UserID)
	assert.Len(t, req.Items, 3)
	assert.Equal(t, []batch.MessageRef{{ChannelID: "c", MessageID: "m1"}}, req.Sources)
}

func TestHandleMessage_ImagesAcrossMessagesAggregate(t *testing.T) {
	fake := platformtest.New()
	off := newOfferer()
	r := newRouter(t, fake, off, nil, nil)
	ctx := context.Background()

	r.HandleMessage(ctx, bus.InboundMessage{MessageID: "m1", ChannelID: "c", AuthorID: "u", Attachments: images("1.png")})
	r.HandleMessage(ctx, bus.InboundMessage{MessageID: "m2", ChannelID: "c", AuthorID: "u", Attachments: images("2.png")})

	req := off.next(t)
	assert.Len(t, req.Items, 2)
	assert.Len(t, req.Sources, 2)
}

func TestHandleMessage_SingleImageNotOffered(t *testing.T) {
	fake := platformtest.New()
	off := newOfferer()
	r := newRouter(t, fake, off, nil, nil)

	r.HandleMessage(context.Background(), bus.InboundMessage{MessageID: "m1", ChannelID: "c", AuthorID: "u", Attachments: images("1.png")})
	off.none(t, 150*time.Millisecond)
}

func TestHandleMessage_IgnoresBotsAndDuplicates(t *testing.T) {
	fake := platformtest.New()
	off := newOfferer()
	r := newRouter(t, fake, off, nil, nil)
	ctx := context.Background()

	r.HandleMessage(ctx, bus.InboundMessage{MessageID: "m0", ChannelID: "c", AuthorID: "x", AuthorBot: true, Attachments: images("a.png", "b.png")})
	r.HandleMessage(ctx, bus.InboundMessage{MessageID: "m0", ChannelID: "c", AuthorID: fake.BotID, Attachments: images("a.png", "b.png")})
	off.none(t, 80*time.Millisecond)

	msg := bus.InboundMessage{MessageID: "m1", ChannelID: "c", AuthorID: "u", Attachments: images("a.png", "b.png")}
	r.HandleMessage(ctx, msg)
	r.HandleMessage(ctx, msg)
	off.next(t)
	off.none(t, 80*time.Millisecond)
}

func TestHandleMessage_MissingPermissionsWarns(t *testing.T) {
	fake := platformtest.New()
	fake.SetMissing(platform.PermManageMessages, platform.PermAttachFiles)
	off := newOfferer()
	r := newRouter(t, fake, off, nil, nil)

	r.HandleMessage(context.Background(), bus.InboundMessage{
		MessageID: "m1", ChannelID: "thread", ParentID: "c", AuthorID: "u",
		Attachments: images("a.png", "b.png"),
	})

	require.Eventually(t, func() bool { return len(fake.ContentsIn("thread")) > 0 }, 2*time.Second, 5*time.Millisecond)
	contents := fake.ContentsIn("thread")
	require.Len(t, contents, 1)
	assert.Equal(t, "⚠️ Bot lacks required permissions: Attach Files, Manage Messages. Please ensure the bot has these permissions in this channel.", contents[0])
	off.none(t, 80*time.Millisecond)
}

func TestHandleMessage_SingleImagesNeverWarn(t *testing.T) {
	fake := platformtest.New()
	fake.SetMissing(platform.PermManageMessages)
	off := newOfferer()
	r := newRouter(t, fake, off, nil, nil)

	for _, u := range []string{"u1", "u2", "u3"} {
		r.HandleMessage(context.Background(), bus.InboundMessage{MessageID: "m-" + u, ChannelID: "c", AuthorID: u, Attachments: images("a.png")})
	}
	off.none(t, 150*time.Millisecond)
	r.Wait()
	assert.Empty(t, fake.ContentsIn("c"))
	assert.Zero(t, fake.Calls(platformtest.OpPermissions))
}

func TestHandleMessage_ImageNextToPDFConvertsDocument(t *testing.T) {
	docs := document.NewConverter(&stubRasterizer{}, document.Config{})
	fake := platformtest.New()
	off := newOfferer()
	r := newRouter(t, fake, off, docs, nil)

	attachments := append(images("photo.png"), bus.Attachment{Name: "report.pdf", Size: 10})
	r.HandleMessage(context.Background(), bus.InboundMessage{MessageID: "m1", ChannelID: "c", AuthorID: "u", Attachments: attachments})

	req := off.next(t)
	assert.Equal(t, "report.pdf", req.Label)
	assert.Equal(t, "page", req.Noun)
	off.none(t, 150*time.Millisecond)
}

func TestHandleMessage_OversizeImageRejected(t *testing.T) {
	fake := platformtest.New()
	off := newOfferer()
	r := New(fake, off, nil, nil, Options{
		Batch:         batch.Config{Window: 30 * time.Millisecond, MaxAge: 200 * time.Millisecond},
		MaxImageBytes: 100,
	})
	t.Cleanup(r.Close)

	attachments := images("a.png", "b.png", "huge.png")
	attachments[2].Size = 101
	r.HandleMessage(context.Background(), bus.InboundMessage{MessageID: "m1", ChannelID: "c", AuthorID: "u", Attachments: attachments})

	req := off.next(t)
	require.Len(t, req.Items, 2)
	for _, it := range req.Items {
		assert.NotEqual(t, "huge.png", it.Name)
	}
	assert.Contains(t, fake.ContentsIn("c"), "⚠️ Image too large: huge.png (max 100 B)")
}

func TestHandleMessage_PermissionCheckErrorProceeds(t *testing.T) {
	fake := platformtest.New()
	fake.FailNext(platformtest.OpPermissions, platform.Wrap("permissions", platform.ErrTransient, assert.AnError))
	off := newOfferer()
	r := newRouter(t, fake, off, nil, nil)

	r.HandleMessage(context.Background(), bus.InboundMessage{MessageID: "m1", ChannelID: "c", AuthorID: "u", Attachments: images("a.png", "b.png")})
	off.next(t)
}

func TestHandleMessage_Help(t *testing.T) {
	fake := platformtest.New()
	off := newOfferer()
	r := newRouter(t, fake, off, nil, &recordingVideos{})

	r.HandleMessage(context.Background(), bus.InboundMessage{MessageID: "m1", ChannelID: "c", AuthorID: "u", Content: " !help "})

	sent := fake.Sent("c")
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Out.Embeds, 1)
	e := sent[0].Out.Embeds[0]
	assert.Equal(t, "Threadbot Help", e.Title)
	assert.Len(t, e.Fields, 2, "image batches and video links; documents disabled")
}

func TestHandleMessage_VideoLinksAlwaysChecked(t *testing.T) {
	fake := platformtest.New()
	off := newOfferer()
	videos := &recordingVideos{}
	r := newRouter(t, fake, off, nil, videos)

	r.HandleMessage(context.Background(), bus.InboundMessage{
		MessageID: "m1", ChannelID: "t", ParentID: "c", AuthorID: "u",
		Content:     "https://youtu.be/dQw4w9WgXcQ",
		Attachments: images("a.png", "b.png"),
	})
	off.next(t)
	require.Equal(t, 1, videos.count())
	assert.Equal(t, "c", videos.posts[0].ParentID)

	r.HandleMessage(context.Background(), bus.InboundMessage{MessageID: "m2", ChannelID: "c", AuthorID: "u"})
	assert.Equal(t, 1, videos.count(), "empty content skipped")
}

func TestHandleMessage_DocumentOffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer srv.Close()

	page := whitePNG(t)
	docs := document.NewConverter(&stubRasterizer{pages: [][]byte{page, page}}, document.Config{})
	fake := platformtest.New()
	off := newOfferer()
	r := newRouter(t, fake, off, docs, nil)

	r.HandleMessage(context.Background(), bus.InboundMessage{
		MessageID: "m1", ChannelID: "c", AuthorID: "u",
		Attachments: []bus.Attachment{{Name: "Q3 Report.pdf", URL: srv.URL + "/r.pdf", Size: 13}},
	})

	req := off.next(t)
	assert.Equal(t, "Q3 Report.pdf", req.Label)
	assert.Equal(t, "page", req.Noun)
	assert.Equal(t, "Q3 Report", req.ThreadName)
	assert.Equal(t, "Choose an option for this PDF:", req.Prompt)
	require.NotNil(t, req.Prepare)

	assert.False(t, docs.Begin("m1"), "claimed until prepared")
	items, err := req.Prepare(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, document.PageName(1), items[0].Name)
	assert.True(t, docs.Begin("m1"), "released after prepare")
}

func TestHandleMessage_DocumentTooLarge(t *testing.T) {
	docs := document.NewConverter(&stubRasterizer{}, document.Config{MaxBytes: 8 << 20})
	fake := platformtest.New()
	off := newOfferer()
	r := newRouter(t, fake, off, docs, nil)

	r.HandleMessage(context.Background(), bus.InboundMessage{
		MessageID: "m1", ChannelID: "c", AuthorID: "u",
		Attachments: []bus.Attachment{{Name: "big.docx", Size: 9 << 20}},
	})

	assert.Equal(t, []string{"⚠️ DOCX too large: big.docx (max 8MB)"}, fake.ContentsIn("c"))
	off.none(t, 50*time.Millisecond)
}

func TestHandleMessage_DocumentOfferFailureReleasesClaim(t *testing.T) {
	docs := document.NewConverter(&stubRasterizer{}, document.Config{})
	fake := platformtest.New()
	off := newOfferer()
	off.offerErr = assert.AnError
	r := newRouter(t, fake, off, docs, nil)

	r.HandleMessage(context.Background(), bus.InboundMessage{
		MessageID: "m1", ChannelID: "c", AuthorID: "u",
		Attachments: []bus.Attachment{{Name: "a.pdf", Size: 10}},
	})
	off.next(t)
	assert.True(t, docs.Begin("m1"))
}

func TestHandleMessage_ClipOffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("raw mov bytes"))
	}))
	defer srv.Close()

	clips := clip.NewConverter(stubEncoder{}, clip.Config{Watermark: "wm"})
	fake := platformtest.New()
	off := newOfferer()
	videos := &recordingVideos{}
	r := newRouterWith(t, fake, off, videos, Options{Clips: clips})

	r.HandleMessage(context.Background(), bus.InboundMessage{
		MessageID: "m1", ChannelID: "c", AuthorID: "u",
		Content:     "https://youtu.be/dQw4w9WgXcQ",
		Attachments: []bus.Attachment{{ID: "a1", Name: "Site Walk.MOV", URL: srv.URL + "/v.mov", Size: 2048}},
	})

	req := off.next(t)
	assert.Equal(t, "clip", req.Noun)
	assert.Equal(t, "Site Walk", req.ThreadName)
	assert.Equal(t, "Video: Site Walk.MOV (2.0 KiB)\nChoose where to post the watermarked version:", req.Prompt)
	assert.Equal(t, clip.Notice, req.Notice)
	assert.Equal(t, "Processing Site Walk.MOV... This may take a few minutes.", req.Preparing)
	assert.Equal(t, 0, videos.count(), "an uploaded video claims the message")

	require.NotNil(t, req.Prepare)
	items, err := req.Prepare(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Site Walk.mp4", items[0].Name)
	assert.Equal(t, "video/mp4", items[0].ContentType)
}

func TestHandleMessage_ClipProcessedOnce(t *testing.T) {
	clips := clip.NewConverter(stubEncoder{}, clip.Config{})
	fake := platformtest.New()
	off := newOfferer()
	r := newRouterWith(t, fake, off, nil, Options{Clips: clips})

	att := []bus.Attachment{{ID: "a1", Name: "demo.mp4", Size: 10}}
	r.HandleMessage(context.Background(), bus.InboundMessage{MessageID: "m1", ChannelID: "c", AuthorID: "u", Attachments: att})
	off.next(t)
	r.HandleMessage(context.Background(), bus.InboundMessage{MessageID: "m2", ChannelID: "c", AuthorID: "u", Attachments: att})

	assert.Equal(t, []string{"This video has already been processed recently."}, fake.ContentsIn("c"))
	off.none(t, 50*time.Millisecond)
}

func TestHandleMessage_ClipTooLarge(t *testing.T) {
	clips := clip.NewConverter(stubEncoder{}, clip.Config{MaxBytes: 500 << 20})
	fake := platformtest.New()
	off := newOfferer()
	r := newRouterWith(t, fake, off, nil, Options{Clips: clips})

	r.HandleMessage(context.Background(), bus.InboundMessage{
		MessageID: "m1", ChannelID: "c", AuthorID: "u",
		Attachments: []bus.Attachment{{ID: "a1", Name: "long.mp4", Size: 600 << 20}},
	})

	assert.Equal(t, []string{"⚠️ Video is too large (600 MiB). Maximum size is 500 MiB."}, fake.ContentsIn("c"))
	off.none(t, 50*time.Millisecond)
}

func TestHandleMessage_ClipsDisabledIgnoresVideos(t *testing.T) {
	fake := platformtest.New()
	off := newOfferer()
	r := newRouter(t, fake, off, nil, nil)

	r.HandleMessage(context.Background(), bus.InboundMessage{
		MessageID: "m1", ChannelID: "c", AuthorID: "u",
		Attachments: []bus.Attachment{{ID: "a1", Name: "demo.mp4", Size: 10}},
	})
	off.none(t, 50*time.Millisecond)
	assert.Empty(t, fake.ContentsIn("c"))
}

func TestHandleMessage_ReferralsAfterVideoLinks(t *testing.T) {
	fake := platformtest.New()
	off := newOfferer()
	refs := &recordingReferrals{}
	videos := &recordingVideos{}

	withVideos := newRouterWith(t, fake, off, videos, Options{Referrals: refs})
	withVideos.HandleMessage(context.Background(), bus.InboundMessage{MessageID: "m1", ChannelID: "c", AuthorID: "u", Content: "https://youtu.be/dQw4w9WgXcQ"})
	assert.Equal(t, 1, videos.count())
	assert.Equal(t, 0, refs.count(), "a handled video link stops the chain")

	noVideos := newRouterWith(t, fake, off, nil, Options{Referrals: refs})
	noVideos.HandleMessage(context.Background(), bus.InboundMessage{MessageID: "m2", ChannelID: "c", AuthorID: "u", Content: "https://shop.example/r/abc"})
	noVideos.HandleMessage(context.Background(), bus.InboundMessage{MessageID: "m3", ChannelID: "c", AuthorID: "u"})
	require.Equal(t, 1, refs.count(), "empty content skipped")
	assert.Equal(t, "https://shop.example/r/abc", refs.posts[0].Content)
}

func TestHandleMessage_HelpListsEnabledFeatures(t *testing.T) {
	fake := platformtest.New()
	off := newOfferer()
	r := newRouterWith(t, fake, off, nil, Options{
		Clips:     clip.NewConverter(stubEncoder{}, clip.Config{}),
		Referrals: &recordingReferrals{},
	})

	r.HandleMessage(context.Background(), bus.InboundMessage{MessageID: "m1", ChannelID: "c", AuthorID: "u", Content: "!help"})

	sent := fake.Sent("c")
	require.Len(t, sent, 1)
	var names []string
	for _, f := range sent[0].Out.Embeds[0].Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"🖼️ Image batches", "🎬 MP4 & MOV videos", "🔗 Referral links"}, names)
}

func TestHandleInteraction(t *testing.T) {
	fake := platformtest.New()
	off := newOfferer()
	r := newRouter(t, fake, off, nil, nil)
	ctx := context.Background()

	r.HandleInteraction(ctx, bus.InboundInteraction{CustomID: "something:else", ActorID: "u"})
	r.HandleInteraction(ctx, bus.InboundInteraction{CustomID: delivery.CustomID("sel1", delivery.ModeInline), ActorID: "u"})

	off.mu.Lock()
	defer off.mu.Unlock()
	require.Len(t, off.acts, 1)
	assert.Equal(t, "sel1", off.acts[0].SelectionID)
	assert.Equal(t, delivery.ModeInline, off.acts[0].Mode)
	assert.Equal(t, "u", off.acts[0].ActorID)
}

func TestRun_ConsumesUntilCancelled(t *testing.T) {
	fake := platformtest.New()
	off := newOfferer()
	r := newRouter(t, fake, off, nil, nil)
	mb := bus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, mb) }()

	mb.PublishInbound(bus.InboundMessage{MessageID: "m1", ChannelID: "c", AuthorID: "u", Attachments: images("a.png", "b.png")})
	off.next(t)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
