// Package platformtest provides an in-memory recording platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gridzer0/threadbot/internal/platform"
)

// Operation names accepted by FailNext / FailAlways / Calls.
const (
	OpSend                    = "send"
	OpEdit                    = "edit"
	OpDelete                  = "delete"
	OpReact                   = "react"
	OpRecent                  = "recent"
	OpCreateThread            = "create_thread"
	OpCreateThreadFromMessage = "create_thread_from_message"
	OpDeleteThread            = "delete_thread"
	OpPermissions             = "permissions"
)

// Sent records one Send call that succeeded.
type Sent struct {
	ChannelID string
	Message   platform.Message
	Out       platform.OutgoingMessage
	FileNames []string
	FileData  [][]byte
}

// Edited records one Edit call that succeeded.
type Edited struct {
	ChannelID string
	MessageID string
	Out       platform.OutgoingMessage
}

// Ref identifies a deleted message or a reaction target.
type Ref struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// Fake is a concurrency-safe platform.Platform that records every call.
type Fake struct {
	BotID string

	mu             sync.Mutex
	nextID         int
	sent           []Sent
	edits          []Edited
	deleted        []Ref
	reactions      []Ref
	threads        []platform.Thread
	deletedThreads []string
	history        map[string][]platform.Message
	missing        []platform.Permission
	queued         map[string][]error
	always         map[string]error
	calls          map[string]int
}

// New returns an empty fake whose bot user id is "bot".
func New() *Fake {
	return &Fake{
		BotID:   "bot",
		history: make(map[string][]platform.Message),
		queued:  make(map[string][]error),
		always:  make(map[string]error),
		calls:   make(map[string]int),
	}
}

// FailNext queues results for the next calls of op. A nil entry lets that
// call succeed; once the queue drains, calls succeed again.
func (f *Fake) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[op] = append(f.queued[op], errs...)
}

// FailAlways makes every call of op fail with err (nil clears it).
func (f *Fake) FailAlways(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.always, op)
		return
	}
	f.always[op] = err
}

// SetMissing sets the permissions MissingPermissions reports as lacking.
func (f *Fake) SetMissing(perms ...platform.Permission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing = perms
}

// Seed appends a message to a channel's history, as if someone else posted it.
func (f *Fake) Seed(m platform.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[m.ChannelID] = append(f.history[m.ChannelID], m)
}

// must be called with f.mu held.
func (f *Fake) begin(op string) error {
	f.calls[op]++
	if err, ok := f.always[op]; ok {
		return err
	}
	if q := f.queued[op]; len(q) > 0 {
		f.queued[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) newID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *Fake) Send(_ context.Context, channelID string, out platform.OutgoingMessage) (*platform.Message, error) {
	// Read uploads outside the lock, like a real HTTP body.
	var names []string
	var data [][]byte
	for _, file := range out.Files {
		b, err := io.ReadAll(file.Reader)
		if err != nil {
			return nil, fmt.Errorf("read upload %s: %w", file.Name, err)
		}
		names = append(names, file.Name)
		data = append(data, b)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpSend); err != nil {
		return nil, err
	}
	m := platform.Message{
		ID:        f.newID("msg"),
		ChannelID: channelID,
		AuthorID:  f.BotID,
		AuthorBot: true,
		Content:   out.Content,
		Timestamp: time.Now(),
	}
	f.history[channelID] = append(f.history[channelID], m)
	f.sent = append(f.sent, Sent{ChannelID: channelID, Message: m, Out: out, FileNames: names, FileData: data})
	return &m, nil
}

func (f *Fake) Edit(_ context.Context, channelID, messageID string, out platform.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpEdit); err != nil {
		return err
	}
	f.edits = append(f.edits, Edited{ChannelID: channelID, MessageID: messageID, Out: out})
	return nil
}

func (f *Fake) Delete(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpDelete); err != nil {
		return err
	}
	h := f.history[channelID]
	for i, m := range h {
		if m.ID == messageID {
			f.history[channelID] = append(h[:i:i], h[i+1:]...)
			break
		}
	}
	f.deleted = append(f.deleted, Ref{ChannelID: channelID, MessageID: messageID})
	return nil
}

func (f *Fake) React(_ context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpReact); err != nil {
		return err
	}
	f.reactions = append(f.reactions, Ref{ChannelID: channelID, MessageID: messageID, Emoji: emoji})
	return nil
}

// RecentMessages returns up to limit messages, newest first.
func (f *Fake) RecentMessages(_ context.Context, channelID string, limit int) ([]platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpRecent); err != nil {
		return nil, err
	}
	h := f.history[channelID]
	out := make([]platform.Message, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

// CreateThread also posts a KindThreadCreated notice in the parent.
func (f *Fake) CreateThread(_ context.Context, parentID, name string) (*platform.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateThread); err != nil {
		return nil, err
	}
	t := platform.Thread{ID: f.newID("thread"), ParentID: parentID, Name: name}
	f.threads = append(f.threads, t)
	f.history[parentID] = append(f.history[parentID], platform.Message{
		ID:        f.newID("notice"),
		ChannelID: parentID,
		AuthorID:  f.BotID,
		AuthorBot: true,
		Kind:      platform.KindThreadCreated,
		Content:   name,
		Timestamp: time.Now(),
	})
	return &t, nil
}

func (f *Fake) CreateThreadFromMessage(_ context.Context, parentID, _ string, name string) (*platform.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateThreadFromMessage); err != nil {
		return nil, err
	}
	t := platform.Thread{ID: f.newID("thread"), ParentID: parentID, Name: name}
	f.threads = append(f.threads, t)
	return &t, nil
}

func (f *Fake) DeleteThread(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpDeleteThread); err != nil {
		return err
	}
	f.deletedThreads = append(f.deletedThreads, threadID)
	return nil
}

func (f *Fake) MissingPermissions(_ context.Context, _ string, required ...platform.Permission) ([]platform.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpPermissions); err != nil {
		return nil, err
	}
	var out []platform.Permission
	for _, r := range required {
		for _, m := range f.missing {
			if r == m {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (f *Fake) BotUserID() string { return f.BotID }

// --- inspection helpers ---

// Calls returns how many times op was invoked, including failed calls.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Sent returns successful sends, optionally filtered by channel ("" = all).
func (f *Fake) Sent(channelID string) []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Sent
	for _, s := range f.sent {
		if channelID == "" || s.ChannelID == channelID {
			out = append(out, s)
		}
	}
	return out
}

// SentFileNames returns uploaded file names to a channel in send order.
func (f *Fake) SentFileNames(channelID string) []string {
	var names []string
	for _, s := range f.Sent(channelID) {
		names = append(names, s.FileNames...)
	}
	return names
}

// Edits returns successful edits.
func (f *Fake) Edits() []Edited {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Edited(nil), f.edits...)
}

// LastEditContent returns the content of the last edit of a message.
func (f *Fake) LastEditContent(messageID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.edits) - 1; i >= 0; i-- {
		if f.edits[i].MessageID == messageID {
			return f.edits[i].Out.Content, true
		}
	}
	return "", false
}

// Deleted returns deleted message refs.
func (f *Fake) Deleted() []Ref {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Ref(nil), f.deleted...)
}

// WasDeleted reports whether a message id was deleted.
func (f *Fake) WasDeleted(messageID string) bool {
	for _, d := range f.Deleted() {
		if d.MessageID == messageID {
			return true
		}
	}
	return false
}

// Reactions returns recorded reactions.
func (f *Fake) Reactions() []Ref {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Ref(nil), f.reactions...)
}

// Threads returns created threads.
func (f *Fake) Threads() []platform.Thread {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Thread(nil), f.threads...)
}

// DeletedThreads returns ids of deleted threads.
func (f *Fake) DeletedThreads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletedThreads...)
}

// History returns a channel's current messages, oldest first.
func (f *Fake) History(channelID string) []platform.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Message(nil), f.history[channelID]...)
}

// ContentsIn returns the text of every successful send to a channel.
func (f *Fake) ContentsIn(channelID string) []string {
	var out []string
	for _, s := range f.Sent(channelID) {
		out = append(out, s.Out.Content)
	}
	return out
}

// AnyContains reports whether any send to channelID contains substr.
func (f *Fake) AnyContains(channelID, substr string) bool {
	for _, c := range f.ContentsIn(channelID) {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}
