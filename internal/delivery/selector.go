package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridzer0/threadbot/internal/metrics"
	"github.com/gridzer0/threadbot/internal/platform"
)

// AlreadyProcessed is the acknowledgement sent for late or repeated choices.
const AlreadyProcessed = "This selection has already been processed."

const mailboxSize = 16

// Responder answers one control activation.
type Responder interface {
	// DisableControls makes the selection's controls inert.
	DisableControls(ctx context.Context) error
	// Ack replies privately to the actor.
	Ack(ctx context.Context, text string) error
}

// Activation is a control press routed to a selection.
type Activation struct {
	SelectionID string
	Mode        Mode
	ActorID     string
	Responder   Responder
}

// Selection is an offered request and its status message.
type Selection struct {
	ID        string
	Request   Request
	ChannelID string
	StatusID  string
	Mode      Mode
}

// Runner carries out a chosen selection.
type Runner interface {
	Run(ctx context.Context, sel Selection) error
}

type owner struct {
	sel     Selection
	acted   bool
	mailbox chan Activation
}

// Selector owns pending selections. Each selection is driven by a single
// goroutine reading its mailbox, so the first activation wins without
// further locking.
type Selector struct {
	backend platform.Messenger
	runner  Runner
	ttl     time.Duration
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*owner
}

// NewSelector creates a selector. ttl <= 0 keeps selections pending forever.
func NewSelector(backend platform.Messenger, runner Runner, ttl time.Duration, m *metrics.Metrics) *Selector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Selector{
		backend: backend,
		runner:  runner,
		ttl:     ttl,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*owner),
	}
}

// Offer posts the choice prompt with "Create Thread" and "Post Here"
// controls and starts the selection's owner.
func (s *Selector) Offer(ctx context.Context, req Request) (*Selection, error) {
	id := uuid.NewString()
	prompt := req.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("Found %s. Choose an option:", count(len(req.Items), req.noun()))
	}

	msg, err := s.backend.Send(ctx, req.Location.ChannelID, platform.OutgoingMessage{
		Content: prompt,
		Buttons: []platform.Button{
			{ID: CustomID(id, ModeThread), Label: "Create Thread", Style: platform.ButtonPrimary},
			{ID: CustomID(id, ModeInline), Label: "Post Here", Style: platform.ButtonSecondary},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("send selection prompt: %w", err)
	}

	o := &owner{
		sel: Selection{
			ID:        id,
			Request:   req,
			ChannelID: req.Location.ChannelID,
			StatusID:  msg.ID,
		},
		mailbox: make(chan Activation, mailboxSize),
	}

	s.mu.Lock()
	s.pending[id] = o
	s.mu.Unlock()
	s.metrics.SelectionOpened()

	s.wg.Add(1)
	go s.own(o)

	slog.Info("selection offered", "selection_id", id, "user_id", req.UserID, "channel_id", req.Location.ChannelID)
	return &o.sel, nil
}

// Activate routes a control press to its selection. Unknown, finished or
// already-decided selections get the AlreadyProcessed acknowledgement.
func (s *Selector) Activate(ctx context.Context, act Activation) {
	queued := false
	s.mu.Lock()
	if o, ok := s.pending[act.SelectionID]; ok {
		select {
		case o.mailbox <- act:
			queued = true
		default:
		}
	}
	s.mu.Unlock()

	if !queued {
		s.ackAlready(ctx, act)
	}
}

// Pending returns the number of live selections.
func (s *Selector) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels running orchestrations and waits for every owner to exit.
func (s *Selector) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Selector) own(o *owner) {
	defer s.wg.Done()

	var expire <-chan time.Time
	if s.ttl > 0 {
		t := time.NewTimer(s.ttl)
		defer t.Stop()
		expire = t.C
	}
	var done chan struct{}

	for {
		select {
		case act := <-o.mailbox:
			if o.acted {
				s.ackAlready(s.ctx, act)
				continue
			}
			o.acted = true
			o.sel.Mode = act.Mode
			expire = nil

			if act.Responder != nil {
				if err := act.Responder.DisableControls(s.ctx); err != nil {
					slog.Warn("delivery: disable controls failed", "selection_id", o.sel.ID, "error", err)
				}
			}
			slog.Info("selection chosen", "selection_id", o.sel.ID, "mode", act.Mode.String(), "actor_id", act.ActorID)

			done = make(chan struct{})
			sel := o.sel
			go func() {
				defer close(done)
				if err := s.runner.Run(s.ctx, sel); err != nil {
					slog.Error("delivery failed", "selection_id", sel.ID, "mode", sel.Mode.String(), "error", err)
				}
			}()

		case <-done:
			s.retire(o)
			return

		case <-expire:
			slog.Info("selection expired", "selection_id", o.sel.ID)
			s.retire(o)
			ctx := context.WithoutCancel(s.ctx)
			if err := s.backend.Delete(ctx, o.sel.ChannelID, o.sel.StatusID); err != nil {
				slog.Warn("delivery: delete expired prompt failed", "selection_id", o.sel.ID, "error", err)
			}
			return

		case <-s.ctx.Done():
			if done != nil {
				<-done
			}
			s.retire(o)
			return
		}
	}
}

// retire unregisters the selection and answers anything still queued.
func (s *Selector) retire(o *owner) {
	s.mu.Lock()
	delete(s.pending, o.sel.ID)
	s.mu.Unlock()
	s.metrics.SelectionClosed()

	// No sends can happen after the delete; drain what is left.
	for {
		select {
		case act := <-o.mailbox:
			s.ackAlready(s.ctx, act)
		default:
			return
		}
	}
}

func (s *Selector) ackAlready(ctx context.Context, act Activation) {
	if act.Responder == nil {
		return
	}
	if err := act.Responder.Ack(context.WithoutCancel(ctx), AlreadyProcessed); err != nil {
		slog.Debug("delivery: ack failed", "selection_id", act.SelectionID, "error", err)
	}
}
