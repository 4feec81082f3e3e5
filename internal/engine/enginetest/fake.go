// Package enginetest provides an in-memory connectivity engine for tests.
//
// Two linked Engines behave like two ends of a real connection: once both
// sides hold a local and a remote description, channels created on one side
// are announced on the other and both ends open. Local candidates are emitted
// asynchronously after SetLocalDescription, and AddCandidate rejects
// candidates that arrive before a remote description, as real engines do.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/p2pchan/internal/engine"
)

// Compile-time interface checks.
var (
	_ engine.Engine      = (*Engine)(nil)
	_ engine.DataChannel = (*DataChannel)(nil)
)

var (
	ErrNoChannels          = errors.New("enginetest: no data channel configured")
	ErrNoRemoteDescription = errors.New("enginetest: remote description not set")
	ErrEngineClosed        = errors.New("enginetest: engine closed")
	ErrChannelNotOpen      = errors.New("enginetest: channel not open")
)

// Engine is a fake engine.Engine. Exported knobs must be set before the
// engine is used concurrently.
type Engine struct {
	engine.Subscribers

	Name string

	// Candidates is the number of local candidates emitted after each
	// successful SetLocalDescription.
	Candidates int

	// Errors returned by the corresponding calls when non-nil.
	CreateOfferErr  error
	CreateAnswerErr error
	SetLocalErr     error
	SetRemoteErr    error

	// OpenDelay is copied to every channel this engine creates; see
	// DataChannel.OpenDelay.
	OpenDelay time.Duration

	// Gate, when non-nil, blocks every description call until a value is
	// received or the channel is closed. The wait ignores ctx, like an
	// engine that cannot cancel an in-flight operation.
	Gate chan struct{}

	mu       sync.Mutex
	calls    []string
	applied  []engine.Candidate
	local    *engine.SessionDescription
	remote   *engine.SessionDescription
	channels []*DataChannel
	closed   bool
	seq      uint64
	link     *link
}

type link struct {
	a, b *Engine
	once sync.Once
}

// New returns an unlinked fake engine emitting two candidates per gathering.
func New(name string) *Engine {
	return &Engine{Name: name, Candidates: 2}
}

// Link connects a and b as the two ends of one connection.
func Link(a, b *Engine) {
	l := &link{a: a, b: b}
	a.mu.Lock()
	a.link = l
	a.mu.Unlock()
	b.mu.Lock()
	b.link = l
	b.mu.Unlock()
}

// Factory returns an engine.Factory handing out the given engines in order.
func Factory(engines ...*Engine) engine.Factory {
	var mu sync.Mutex
	return func() (engine.Engine, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(engines) == 0 {
			return nil, errors.New("enginetest: factory exhausted")
		}
		e := engines[0]
		engines = engines[1:]
		return e, nil
	}
}

func (e *Engine) wait() {
	if e.Gate != nil {
		<-e.Gate
	}
}

func (e *Engine) record(call string) {
	e.calls = append(e.calls, call)
}

// Calls returns the ordered log of engine calls, e.g. "set-remote offer" or
// "add-candidate cand-responder-1".
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Applied returns the remote candidates the engine accepted.
func (e *Engine) Applied() []engine.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.Candidate(nil), e.applied...)
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) CreateOffer(_ context.Context) (engine.SessionDescription, error) {
	e.wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("create-offer")

	switch {
	case e.closed:
		return engine.SessionDescription{}, ErrEngineClosed
	case e.CreateOfferErr != nil:
		return engine.SessionDescription{}, e.CreateOfferErr
	case len(e.channels) == 0:
		return engine.SessionDescription{}, ErrNoChannels
	}
	return engine.SessionDescription{Type: engine.SDPTypeOffer, SDP: "v=0 offer " + e.Name}, nil
}

func (e *Engine) CreateAnswer(_ context.Context) (engine.SessionDescription, error) {
	e.wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("create-answer")

	switch {
	case e.closed:
		return engine.SessionDescription{}, ErrEngineClosed
	case e.CreateAnswerErr != nil:
		return engine.SessionDescription{}, e.CreateAnswerErr
	case e.remote == nil || e.remote.Type != engine.SDPTypeOffer:
		return engine.SessionDescription{}, errors.New("enginetest: no remote offer")
	}
	return engine.SessionDescription{Type: engine.SDPTypeAnswer, SDP: "v=0 answer " + e.Name}, nil
}

func (e *Engine) SetLocalDescription(_ context.Context, desc engine.SessionDescription) error {
	e.wait()

	e.mu.Lock()
	e.record("set-local " + string(desc.Type))
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrEngineClosed
	case e.SetLocalErr != nil:
		e.mu.Unlock()
		return e.SetLocalErr
	}
	d := desc
	e.local = &d
	n := e.Candidates
	e.mu.Unlock()

	go e.gather(n)
	e.maybeConnect()
	return nil
}

func (e *Engine) SetRemoteDescription(_ context.Context, desc engine.SessionDescription) error {
	e.wait()

	e.mu.Lock()
	e.record("set-remote " + string(desc.Type))
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrEngineClosed
	case e.SetRemoteErr != nil:
		e.mu.Unlock()
		return e.SetRemoteErr
	}
	d := desc
	e.remote = &d
	e.mu.Unlock()

	e.maybeConnect()
	return nil
}

func (e *Engine) AddCandidate(c engine.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if e.remote == nil {
		e.record("add-candidate-rejected " + c.Candidate)
		return ErrNoRemoteDescription
	}
	e.record("add-candidate " + c.Candidate)
	e.applied = append(e.applied, c)
	return nil
}

func (e *Engine) CreateChannel(label string) (engine.DataChannel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	dc := NewChannel(label)
	dc.OpenDelay = e.OpenDelay
	e.channels = append(e.channels, dc)
	return dc, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	channels := e.channels
	e.mu.Unlock()

	e.Clear()
	for _, dc := range channels {
		_ = dc.Close()
	}
	return nil
}

func (e *Engine) gather(n int) {
	for i := 0; i < n; i++ {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		e.seq++
		c := engine.Candidate{
			Candidate: fmt.Sprintf("cand-%s-%d", e.Name, e.seq),
			Seq:       e.seq,
		}
		e.mu.Unlock()
		e.EmitCandidate(c)
	}
	e.EmitGatheringComplete()
}

func (e *Engine) described() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && e.local != nil && e.remote != nil
}

func (e *Engine) maybeConnect() {
	e.mu.Lock()
	l := e.link
	e.mu.Unlock()

	if l == nil || !l.a.described() || !l.b.described() {
		return
	}
	l.once.Do(func() { go l.connect() })
}

// connect pairs every locally created channel with a counterpart announced
// on the other engine, then opens both ends.
func (l *link) connect() {
	var pairs [][2]*DataChannel
	for _, side := range [][2]*Engine{{l.a, l.b}, {l.b, l.a}} {
		from, to := side[0], side[1]

		from.mu.Lock()
		channels := append([]*DataChannel(nil), from.channels...)
		from.mu.Unlock()

		for _, dc := range channels {
			remote := NewChannel(dc.Label())
			dc.Pair(remote)
			to.EmitChannel(remote)
			pairs = append(pairs, [2]*DataChannel{dc, remote})
		}
	}

	for _, p := range pairs {
		p[0].Open()
		p[1].Open()
	}

	l.a.EmitConnectionState(engine.ConnectionStateConnected)
	l.b.EmitConnectionState(engine.ConnectionStateConnected)
}

// ---------------------------------------------------------------------------
// DataChannel
// ---------------------------------------------------------------------------

// DataChannel is a fake engine.DataChannel. A paired channel delivers sends
// to its peer in order; an unpaired one only records them.
type DataChannel struct {
	// OpenDelay, when positive, starts delivery as soon as the channel opens
	// but fires the open handler only after the delay, the way pion's read
	// loop can outrun its open callback. Set it before Open.
	OpenDelay time.Duration

	label string
	inbox chan engine.Message
	done  chan struct{}

	mu        sync.Mutex
	peer      *DataChannel
	open      bool
	closed    bool
	sent      []engine.Message
	onOpen    func()
	onClose   func()
	onMessage func(engine.Message)
}

// NewChannel returns an unpaired channel in the connecting state.
func NewChannel(label string) *DataChannel {
	return &DataChannel{
		label: label,
		inbox: make(chan engine.Message, 1024),
		done:  make(chan struct{}),
	}
}

// Pair links c and other so that each delivers its sends to the other.
func (c *DataChannel) Pair(other *DataChannel) {
	c.mu.Lock()
	c.peer = other
	c.mu.Unlock()
	other.mu.Lock()
	other.peer = c
	other.mu.Unlock()
}

func (c *DataChannel) Label() string { return c.label }

// Open transitions the channel to open, starts delivery and fires OnOpen.
// Sends from the peer are accepted from this point on.
func (c *DataChannel) Open() {
	c.mu.Lock()
	if c.open || c.closed {
		c.mu.Unlock()
		return
	}
	c.open = true
	fn := c.onOpen
	c.mu.Unlock()

	if c.OpenDelay > 0 {
		go c.deliverLoop()
		if fn != nil {
			time.AfterFunc(c.OpenDelay, fn)
		}
		return
	}

	// Without a delay the open handler runs before delivery starts.
	if fn != nil {
		fn()
	}
	go c.deliverLoop()
}

func (c *DataChannel) deliverLoop() {
	for {
		select {
		case msg := <-c.inbox:
			c.mu.Lock()
			fn := c.onMessage
			c.mu.Unlock()
			if fn != nil {
				fn(msg)
			}
		case <-c.done:
			return
		}
	}
}

// Deliver injects an inbound message as if the peer had sent it.
func (c *DataChannel) Deliver(msg engine.Message) {
	select {
	case c.inbox <- msg:
	case <-c.done:
	}
}

func (c *DataChannel) send(msg engine.Message) error {
	c.mu.Lock()
	if !c.open || c.closed {
		c.mu.Unlock()
		return ErrChannelNotOpen
	}
	c.sent = append(c.sent, msg)
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		peer.Deliver(msg)
	}
	return nil
}

func (c *DataChannel) Send(data []byte) error {
	return c.send(engine.Message{Data: append([]byte(nil), data...)})
}

func (c *DataChannel) SendText(s string) error {
	return c.send(engine.Message{IsString: true, Data: []byte(s)})
}

// Sent returns every message written to this end.
func (c *DataChannel) Sent() []engine.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.Message(nil), c.sent...)
}

// OnOpen registers fn; it fires immediately if the channel is already open.
func (c *DataChannel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	open := c.open
	c.mu.Unlock()
	if open && fn != nil {
		go fn()
	}
}

func (c *DataChannel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *DataChannel) OnMessage(fn func(engine.Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Close closes this end and, asynchronously, its peer.
func (c *DataChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	fn := c.onClose
	peer := c.peer
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	if peer != nil {
		go peer.Close()
	}
	return nil
}
