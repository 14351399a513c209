package referral

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	DesktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	MobileUserAgent  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

	defaultFetchTimeout   = 10 * time.Second
	defaultBrowserTimeout = 30 * time.Second
	defaultMaxPageBytes   = 2 << 20
	maxRedirects          = 5
)

// ErrBlockedAddress is returned for links that resolve to a private,
// loopback or otherwise internal address.
var ErrBlockedAddress = errors.New("address not allowed")

// Fetcher retrieves the HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPFetcher fetches pages with a plain GET, presenting as a browser.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewHTTPFetcher builds a fetcher. Unless allowPrivate is set, connections
// to internal addresses are refused at dial time, redirects included.
func NewHTTPFetcher(userAgent string, allowPrivate bool) *HTTPFetcher {
	dialer := &net.Dialer{Timeout: defaultFetchTimeout}
	if !allowPrivate {
		dialer.Control = func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			return checkAddr(host)
		}
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: defaultFetchTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: defaultFetchTimeout,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent: userAgent,
		maxBytes:  defaultMaxPageBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	// The head of the page carries everything a preview needs.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// BrowserFetcher renders the page in headless Chromium for sites that refuse
// plain HTTP clients.
type BrowserFetcher struct {
	Bin          string // browser executable; required
	UserAgent    string
	Timeout      time.Duration
	AllowPrivate bool
}

// LookupBrowser returns the path of a locally installed Chromium or Chrome.
func LookupBrowser() (string, bool) { return launcher.LookPath() }

func (b BrowserFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if b.Bin == "" {
		return nil, errors.New("no browser configured")
	}
	if !b.AllowPrivate {
		if err := checkURL(ctx, rawURL); err != nil {
			return nil, err
		}
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = defaultBrowserTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	l := launcher.New().Context(ctx).Bin(b.Bin).Headless(true)
	defer l.Cleanup()
	defer l.Kill()
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if b.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.UserAgent}); err != nil {
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}
	if err := page.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait for load: %w", err)
	}
	doc, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return []byte(doc), nil
}

// checkURL resolves the link's host and refuses internal addresses.
func checkURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	host := u.Hostname()
	if _, err := netip.ParseAddr(host); err == nil {
		return checkAddr(host)
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if err := checkAddr(a); err != nil {
			return err
		}
	}
	return nil
}

func checkAddr(host string) error {
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() || ip.IsMulticast() || ip.IsInterfaceLocalMulticast() {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}
