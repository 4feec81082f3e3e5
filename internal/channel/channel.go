// Package channel manages the lifecycle of a single message channel over an
// established engine connection and the reply policy applied to it.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/p2pchan/internal/engine"
	"github.com/1ureka/p2pchan/internal/util"
)

// ErrNotOpen is returned by Send on a channel that is connecting or closed.
// The send is not retried.
var ErrNotOpen = errors.New("channel not open")

// State is the channel lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a Session.
type Options struct {
	// Policy handles every message received while open. Nil means LogPolicy.
	Policy Policy
	// Greeting, when non-empty, is sent once as text as soon as the channel opens.
	Greeting string
}

// Session wraps one engine DataChannel. Its transitions are
// connecting → open → closed, driven by the engine's open and close events
// or by Close.
type Session struct {
	dc   engine.DataChannel
	opts Options

	ready     chan struct{}
	done      chan struct{}
	readyOnce sync.Once
	doneOnce  sync.Once

	mu    sync.Mutex
	state State

	messages util.Listeners[engine.Message]
}

// New wraps dc and takes over its open, close and message callbacks.
func New(dc engine.DataChannel, opts Options) *Session {
	if opts.Policy == nil {
		opts.Policy = LogPolicy{}
	}

	s := &Session{
		dc:    dc,
		opts:  opts,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}

	dc.OnOpen(s.handleOpen)
	dc.OnClose(s.handleClose)
	dc.OnMessage(s.handleMessage)

	return s
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Label returns the channel label.
func (s *Session) Label() string {
	return s.dc.Label()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready returns a channel that is closed once the channel is open.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done returns a channel that is closed once the channel is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close closes the channel and drops every message subscription.
func (s *Session) Close() error {
	if !s.markClosed() {
		return nil
	}
	return s.dc.Close()
}

func (s *Session) handleOpen() {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateOpen
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	util.LogDebug("channel %q open", s.Label())

	if s.opts.Greeting != "" {
		if err := s.SendText(s.opts.Greeting); err != nil {
			util.LogWarning("channel %q: greeting not sent: %v", s.Label(), err)
		}
	}
}

func (s *Session) handleClose() {
	if s.markClosed() {
		util.LogDebug("channel %q closed by engine", s.Label())
	}
}

// markClosed reports whether this call performed the transition.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })
	s.messages.Clear()
	return true
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Send transmits a binary payload. It fails with ErrNotOpen unless the
// channel is open.
func (s *Session) Send(data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.dc.Send(data); err != nil {
		return err
	}
	util.Stats.AddSent(len(data))
	return nil
}

// SendText transmits a text payload. It fails with ErrNotOpen unless the
// channel is open.
func (s *Session) SendText(text string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.dc.SendText(text); err != nil {
		return err
	}
	util.Stats.AddSent(len(text))
	return nil
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return ErrNotOpen
	}
	return nil
}

// OnMessage subscribes fn to every message received while open. fn runs on
// the engine's delivery goroutine, in arrival order, and must not block.
// The subscription ends when cancel is called or the channel closes.
func (s *Session) OnMessage(fn func(engine.Message)) (cancel func()) {
	return s.messages.Add(fn)
}

func (s *Session) handleMessage(msg engine.Message) {
	// The engine only delivers on an open channel, but its open callback may
	// still be in flight; a message while connecting implies the open.
	switch s.State() {
	case StateConnecting:
		s.handleOpen()
	case StateClosed:
		util.LogDebug("channel %q: dropping message received after close", s.Label())
		return
	}
	util.Stats.AddRecv(len(msg.Data))

	s.messages.Emit(msg)
	s.opts.Policy.HandleMessage(s, msg)
}

// RoundTrip sends payload as text and waits for the next text message equal
// to want, returning the elapsed time. Other messages are ignored.
func (s *Session) RoundTrip(ctx context.Context, payload, want string) (time.Duration, error) {
	got := make(chan struct{}, 1)
	cancel := s.OnMessage(func(msg engine.Message) {
		if msg.IsString && string(msg.Data) == want {
			select {
			case got <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	start := time.Now()
	if err := s.SendText(payload); err != nil {
		return 0, err
	}

	select {
	case <-got:
		return time.Since(start), nil
	case <-s.done:
		return 0, ErrNotOpen
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
