// Package youtube resolves video metadata through the YouTube Data API v3.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gridzer0/threadbot/internal/video"
)

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

// Client looks up videos by id. Concurrent lookups of the same id share one
// request.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	group   singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint (tests).
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithHTTPClient replaces the default 15s-timeout client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.client = hc } }

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type thumbnail struct {
	URL string `json:"url"`
}

type videosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string               `json:"title"`
			Description string               `json:"description"`
			Thumbnails  map[string]thumbnail `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Lookup returns the video's metadata, or video.ErrNotFound when the id has
// no public video.
func (c *Client) Lookup(ctx context.Context, id string) (*video.Metadata, error) {
	// The shared request outlives any one caller; the http client timeout bounds it.
	ch := c.group.DoChan(id, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), id)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Callers share the result; hand each its own copy.
		m := *res.Val.(*video.Metadata)
		return &m, nil
	}
}

func (c *Client) fetch(ctx context.Context, id string) (*video.Metadata, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("id", id)
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("youtube videos.list: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out videosResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("youtube API error %d: %s", out.Error.Code, out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("youtube videos.list: status %d", resp.StatusCode)
	}
	if len(out.Items) == 0 {
		return nil, video.ErrNotFound
	}

	item := out.Items[0]
	return &video.Metadata{
		ID:           id,
		Title:        item.Snippet.Title,
		Description:  item.Snippet.Description,
		ThumbnailURL: pickThumbnail(item.Snippet.Thumbnails),
	}, nil
}

func pickThumbnail(thumbs map[string]thumbnail) string {
	for _, size := range []string{"high", "medium", "default"} {
		if t, ok := thumbs[size]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}
