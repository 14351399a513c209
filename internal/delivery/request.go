// Package delivery offers a finalized batch to its author, waits for exactly
// one delivery choice, and carries that choice out: thread provisioning,
// paced ordered posting, status reporting and compensation.
package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/gridzer0/threadbot/internal/batch"
	"github.com/gridzer0/threadbot/internal/media"
)

// Mode is the delivery destination policy.
type Mode int

const (
	ModePending Mode = iota
	ModeThread
	ModeInline
)

func (m Mode) String() string {
	switch m {
	case ModeThread:
		return "thread"
	case ModeInline:
		return "inline"
	default:
		return "pending"
	}
}

// ParseMode is the inverse of Mode.String for the two terminal modes.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "thread":
		return ModeThread, true
	case "inline":
		return ModeInline, true
	}
	return ModePending, false
}

const customIDPrefix = "delivery"

// CustomID builds the control id for one choice of a selection.
func CustomID(selectionID string, mode Mode) string {
	return customIDPrefix + ":" + selectionID + ":" + mode.String()
}

// ParseCustomID splits a control id built by CustomID.
func ParseCustomID(id string) (selectionID string, mode Mode, ok bool) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] != customIDPrefix || parts[1] == "" {
		return "", ModePending, false
	}
	mode, ok = ParseMode(parts[2])
	if !ok {
		return "", ModePending, false
	}
	return parts[1], mode, true
}

// Request is something deliverable: an image batch, or a document or video
// whose items are produced after the choice is made.
type Request struct {
	UserID   string
	Location batch.Location
	Sources  []batch.MessageRef
	Items    []media.Item

	// Prepare, when set, produces the items once a mode is chosen.
	Prepare func(ctx context.Context) ([]media.Item, error)

	// Preparing and PrepareFailed override the status shown while Prepare
	// runs and when it fails.
	Preparing     string
	PrepareFailed string
	// Notice, when set, is posted to the target after the last item.
	Notice string

	// Label names the content in status messages, e.g. "report.pdf".
	Label string
	// Noun is the singular item noun: "image", "page" or "clip".
	Noun string
	// ThreadName is the sanitized thread name; derived from items when empty.
	ThreadName string
	Prompt     string
}

// FromBatch builds the request for an image batch.
func FromBatch(b batch.Batch) Request {
	return Request{
		UserID:   b.UserID,
		Location: b.Location,
		Sources:  b.Messages,
		Items:    b.Items,
		Noun:     "image",
		Prompt:   fmt.Sprintf("Found %d images. Choose an option:", b.Len()),
	}
}

func (r Request) noun() string {
	if r.Noun == "" {
		return "image"
	}
	return r.Noun
}

// count renders "1 image" / "3 images".
func count(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
