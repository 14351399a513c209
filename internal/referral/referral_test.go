package referral

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridzer0/threadbot/internal/platform/platformtest"
)

const shopPage = `<!doctype html>
<html><head>
  <title>
    Shop   Deals
  </title>
  <meta name="description" content="Ten percent off your first order">
  <meta property="og:image" content="/img/card.png">
  <link rel="Shortcut Icon" href="/old.ico">
  <link rel="icon" href="https://cdn.shop.example/fav.png">
</head><body><img src="/tiny.gif" width="1"></body></html>`

type staticFetcher struct {
	body  string
	err   error
	calls int
}

func (f *staticFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestExtractMeta(t *testing.T) {
	base := "https://shop.example/r/abc"
	tests := []struct {
		name string
		page string
		want Meta
	}{
		{
			name: "full page",
			page: shopPage,
			want: Meta{
				Title:       "Shop Deals",
				Description: "Ten percent off your first order",
				Image:       "https://shop.example/img/card.png",
				Favicon:     "https://cdn.shop.example/fav.png",
			},
		},
		{
			name: "open graph fallbacks",
			page: `<head><meta property="og:description" content="OG text"><meta name="twitter:image" content="https://t.example/x.jpg"><link rel="shortcut icon" href="fav.ico"></head>`,
			want: Meta{Description: "OG text", Image: "https://t.example/x.jpg", Favicon: "https://shop.example/r/fav.ico"},
		},
		{
			name: "wide image when no card",
			page: `<body><img src="small.png" width="64"><img src="hero.jpg" width="640"><img src="later.jpg" width="900"></body>`,
			want: Meta{Image: "https://shop.example/r/hero.jpg"},
		},
		{
			name: "non http links dropped",
			page: `<head><meta property="og:image" content="javascript:alert(1)"><link rel="icon" href="data:image/png;base64,AAAA"></head>`,
			want: Meta{},
		},
		{
			name: "empty",
			page: ``,
			want: Meta{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractMeta(strings.NewReader(tt.page), mustURL(t, base))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstLink(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"join here https://shop.example/r/abc?x=1 thanks", "https://shop.example/r/abc?x=1", true},
		{"<https://shop.example/r/abc>", "https://shop.example/r/abc", true},
		{"http://a.example and https://b.example", "http://a.example", true},
		{"no links here", "", false},
		{"ftp://files.example", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, ok := FirstLink(tt.in)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, u.String())
			}
		})
	}
}

func TestHandle_PostsPreview(t *testing.T) {
	fake := platformtest.New()
	desktop := &staticFetcher{body: shopPage}
	mobile := &staticFetcher{}
	p := NewProcessor(fake, "refs", []Source{{"http", desktop}, {"mobile", mobile}}, nil)

	handled, err := p.Handle(context.Background(), Post{MessageID: "orig", ChannelID: "refs", Content: "use https://shop.example/r/abc"})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 0, mobile.calls, "a titled page stops the chain")

	sent := fake.Sent("refs")
	require.Len(t, sent, 2)
	assert.Equal(t, msgProcessing, sent[0].Out.Content)
	require.Len(t, sent[1].Out.Embeds, 1)
	e := sent[1].Out.Embeds[0]
	assert.Equal(t, "Shop Deals", e.Title)
	assert.Equal(t, "https://shop.example/r/abc", e.URL)
	assert.Equal(t, "https://shop.example/img/card.png", e.ImageURL)
	assert.Equal(t, "shop.example", e.Footer)
	assert.Equal(t, "https://cdn.shop.example/fav.png", e.FooterIcon)
	assert.Equal(t, colorOK, e.Color)

	assert.True(t, fake.WasDeleted(sent[0].Message.ID), "status removed on success")
	assert.True(t, fake.WasDeleted("orig"))
}

func TestHandle_FallbackWhenBlocked(t *testing.T) {
	fake := platformtest.New()
	forbidden := errors.New("fetch page: status 403")
	p := NewProcessor(fake, "refs", []Source{
		{"http", &staticFetcher{err: forbidden}},
		{"mobile", &staticFetcher{err: forbidden}},
		{"browser", &staticFetcher{err: forbidden}},
	}, nil)

	handled, err := p.Handle(context.Background(), Post{MessageID: "orig", ChannelID: "refs", Content: "https://blocked.example/ref"})
	require.NoError(t, err)
	assert.True(t, handled)

	sent := fake.Sent("refs")
	require.Len(t, sent, 2)
	e := sent[1].Out.Embeds[0]
	assert.Equal(t, "Visit blocked.example", e.Title)
	assert.Equal(t, fallbackDescription, e.Description)
	assert.Equal(t, colorBlocked, e.Color)
	assert.Equal(t, "blocked.example • preview unavailable", e.Footer)

	status, _ := fake.LastEditContent(sent[0].Message.ID)
	assert.Equal(t, msgBlocked, status)
	assert.False(t, fake.WasDeleted(sent[0].Message.ID))
	assert.True(t, fake.WasDeleted("orig"))
}

func TestPreview_LaterSourcesFillGaps(t *testing.T) {
	p := NewProcessor(platformtest.New(), "refs", []Source{
		{"http", &staticFetcher{body: `<meta name="description" content="from desktop">`}},
		{"mobile", &staticFetcher{body: `<title>Mobile Title</title><meta name="description" content="from mobile">`}},
	}, nil)

	prev := p.Preview(context.Background(), mustURL(t, "https://shop.example/r/abc"))
	assert.Equal(t, "Mobile Title", prev.Title)
	assert.Equal(t, "from desktop", prev.Description)
	assert.Equal(t, "mobile", prev.Source)
	assert.False(t, prev.Blocked)
}

func TestHandle_IgnoresOtherChannelsAndPlainText(t *testing.T) {
	fake := platformtest.New()
	fetch := &staticFetcher{body: shopPage}
	p := NewProcessor(fake, "refs", []Source{{"http", fetch}}, nil)

	for _, post := range []Post{
		{MessageID: "1", ChannelID: "general", Content: "https://shop.example/r/abc"},
		{MessageID: "2", ChannelID: "refs", Content: "no link"},
	} {
		handled, err := p.Handle(context.Background(), post)
		require.NoError(t, err)
		assert.False(t, handled)
	}
	assert.Empty(t, fake.Sent(""))
	assert.Equal(t, 0, fetch.calls)

	disabled := NewProcessor(fake, "", []Source{{"http", fetch}}, nil)
	handled, _ := disabled.Handle(context.Background(), Post{ChannelID: "", Content: "https://shop.example"})
	assert.False(t, handled)
}

func TestHandle_PreviewSendFailure(t *testing.T) {
	fake := platformtest.New()
	fake.FailNext(platformtest.OpSend, nil, errors.New("missing access"))
	p := NewProcessor(fake, "refs", []Source{{"http", &staticFetcher{body: shopPage}}}, nil)

	handled, err := p.Handle(context.Background(), Post{MessageID: "orig", ChannelID: "refs", Content: "https://shop.example/r/abc"})
	require.Error(t, err)
	assert.True(t, handled)

	sent := fake.Sent("refs")
	require.Len(t, sent, 1)
	status, _ := fake.LastEditContent(sent[0].Message.ID)
	assert.Equal(t, msgFailed, status)
	assert.False(t, fake.WasDeleted("orig"), "the link stays when no preview was posted")
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/denied" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(shopPage + "<!-- ua: " + r.Header.Get("User-Agent") + " -->"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(MobileUserAgent, true)
	body, err := f.Fetch(context.Background(), srv.URL+"/r/abc")
	require.NoError(t, err)
	assert.Contains(t, string(body), "Shop   Deals")
	assert.Contains(t, string(body), "ua: "+MobileUserAgent)

	_, err = f.Fetch(context.Background(), srv.URL+"/denied")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestHTTPFetcher_RefusesInternalAddresses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(shopPage))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(DesktopUserAgent, false).Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrBlockedAddress)
}

func TestBrowserFetcher_RefusesInternalAddressesBeforeLaunch(t *testing.T) {
	b := BrowserFetcher{Bin: "/nonexistent/chromium"}
	_, err := b.Fetch(context.Background(), "http://127.0.0.1:9/admin")
	require.ErrorIs(t, err, ErrBlockedAddress)

	_, err = BrowserFetcher{}.Fetch(context.Background(), "https://shop.example")
	require.Error(t, err)
}

func TestCheckAddr(t *testing.T) {
	for addr, blocked := range map[string]bool{
		"127.0.0.1":       true,
		"10.1.2.3":        true,
		"192.168.0.10":    true,
		"169.254.169.254": true,
		"::1":             true,
		"::ffff:10.0.0.1": true,
		"0.0.0.0":         true,
		"fe80::1":         true,
		"not-an-ip":       true,
		"93.184.216.34":   false,
		"2606:4700::1111": false,
	} {
		err := checkAddr(addr)
		if blocked {
			assert.ErrorIs(t, err, ErrBlockedAddress, addr)
		} else {
			assert.NoError(t, err, addr)
		}
	}
}
