// Package video turns posted video links into discussion threads with a rich
// summary, suppressing links already handled in this process.
package video

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"github.com/gridzer0/threadbot/internal/threads"
)

// ErrNotFound is returned by a MetadataLookup when the id does not resolve.
var ErrNotFound = errors.New("video not found")

var linkPattern = regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:youtube\.com/watch\?v=|youtu\.be/)([a-zA-Z0-9_-]{11})`)

// ParseVideoID returns the first video id in text.
func ParseVideoID(text string) (string, bool) {
	m := linkPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// WatchURL is the canonical link the platform auto-embeds as a player.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// DescriptionLimit caps summary descriptions, before the ellipsis.
const DescriptionLimit = 200

// TruncateDescription keeps the first DescriptionLimit characters and marks the cut.
func TruncateDescription(s string) string {
	r := []rune(s)
	if len(r) <= DescriptionLimit {
		return s
	}
	return string(r[:DescriptionLimit]) + threads.Ellipsis
}

// Metadata describes a video.
type Metadata struct {
	ID           string
	Title        string
	Description  string
	ThumbnailURL string
}

// MetadataLookup resolves a video id.
type MetadataLookup interface {
	Lookup(ctx context.Context, id string) (*Metadata, error)
}

// ProcessedSet records video ids already turned into threads. It lives for
// the process lifetime and is never persisted.
type ProcessedSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{ids: make(map[string]struct{})}
}

// MarkIfAbsent adds id and reports whether it was new.
func (s *ProcessedSet) MarkIfAbsent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *ProcessedSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Forget removes id so a later post can try again.
func (s *ProcessedSet) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
