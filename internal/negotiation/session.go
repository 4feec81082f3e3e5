// Package negotiation implements one endpoint's half of the offer/answer
// exchange: the signaling state machine over a connectivity engine, and the
// buffering of remote candidates that outrun the remote description.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/1ureka/p2pchan/internal/channel"
	"github.com/1ureka/p2pchan/internal/engine"
	"github.com/1ureka/p2pchan/internal/util"
)

// Role identifies which half of the exchange a session drives.
type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// State is the signaling state of a session.
type State int

const (
	StateStable State = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type transition struct {
	from State
	typ  engine.SDPType
}

var (
	localTransitions = map[transition]State{
		{StateStable, engine.SDPTypeOffer}:           StateHaveLocalOffer,
		{StateHaveRemoteOffer, engine.SDPTypeAnswer}: StateStable,
	}
	remoteTransitions = map[transition]State{
		{StateStable, engine.SDPTypeOffer}:          StateHaveRemoteOffer,
		{StateHaveLocalOffer, engine.SDPTypeAnswer}: StateStable,
	}
)

// Config configures New.
type Config struct {
	Role   Role
	Engine engine.Engine
	// Channels configures channels opened by the remote side.
	Channels channel.Options
}

// Session owns one engine connection and drives its local half of the
// offer/answer exchange.
//
// Negotiation steps (CreateOffer, CreateAnswer, SetLocalDescription,
// SetRemoteDescription) run strictly one at a time. Each engine call is
// awaited against the session's lifetime: a step still outstanding when the
// session closes returns ErrClosed, and its late result is discarded.
// Candidate and channel events are delivered independently of the steps.
type Session struct {
	id     string
	role   Role
	eng    engine.Engine
	chOpts channel.Options

	queue CandidateQueue
	steps chan struct{} // one-slot step semaphore

	ctx    context.Context // cancelled by Close
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	remoteSet bool
	reserved  bool
	channels  map[*channel.Session]struct{}

	candidates  util.Listeners[engine.Candidate]
	announced   util.Listeners[*channel.Session]
	unsubscribe func()

	closeOnce sync.Once
	closeErr  error
}

// New creates a session in the stable state and subscribes it to eng's
// events for as long as it lives.
func New(cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:       uuid.NewString(),
		role:     cfg.Role,
		eng:      cfg.Engine,
		chOpts:   cfg.Channels,
		steps:    make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateStable,
		channels: make(map[*channel.Session]struct{}),
	}

	s.unsubscribe = cfg.Engine.Subscribe(engine.Events{
		OnCandidate:         s.handleLocalCandidate,
		OnGatheringComplete: s.handleGatheringComplete,
		OnChannel:           s.handleChannel,
		OnSignalingState:    s.handleSignalingState,
		OnConnectionState:   s.handleConnectionState,
	})

	util.LogDebug("%s session %s created", s.role, s.short())
	return s
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func (s *Session) ID() string { return s.id }
func (s *Session) Role() Role { return s.role }

// State returns the current signaling state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	return s.State() == StateClosed
}

// Done returns a channel that is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Negotiated reports whether a remote description has been applied.
func (s *Session) Negotiated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteSet
}

// Reserve claims the session for one negotiation attempt. It returns false
// if the session is closed or already claimed.
func (s *Session) Reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved || s.state == StateClosed {
		return false
	}
	s.reserved = true
	return true
}

// Channels returns the channels currently owned by the session.
func (s *Session) Channels() []*channel.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*channel.Session, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

func (s *Session) short() string {
	return s.id[:8]
}

// ---------------------------------------------------------------------------
// Negotiation steps
// ---------------------------------------------------------------------------

// CreateOffer asks the engine for an offer. Only an initiator in the stable
// state may call it; the state is not changed.
func (s *Session) CreateOffer(ctx context.Context) (engine.SessionDescription, error) {
	var desc engine.SessionDescription
	err := s.step(ctx, "create-offer", func(ctx context.Context) error {
		if s.role != Initiator {
			return ErrWrongRole
		}
		if err := s.expect(StateStable); err != nil {
			return err
		}
		d, err := await(ctx, func() (engine.SessionDescription, error) {
			return s.eng.CreateOffer(ctx)
		})
		if err != nil {
			return err
		}
		if d.Type != engine.SDPTypeOffer {
			return fmt.Errorf("engine produced %q description", d.Type)
		}
		desc = d
		return s.alive()
	})
	return desc, err
}

// CreateAnswer asks the engine for an answer to the applied remote offer.
// Valid only in have-remote-offer; the state is not changed.
func (s *Session) CreateAnswer(ctx context.Context) (engine.SessionDescription, error) {
	var desc engine.SessionDescription
	err := s.step(ctx, "create-answer", func(ctx context.Context) error {
		if err := s.expect(StateHaveRemoteOffer); err != nil {
			return err
		}
		d, err := await(ctx, func() (engine.SessionDescription, error) {
			return s.eng.CreateAnswer(ctx)
		})
		if err != nil {
			return err
		}
		if d.Type != engine.SDPTypeAnswer {
			return fmt.Errorf("engine produced %q description", d.Type)
		}
		desc = d
		return s.alive()
	})
	return desc, err
}

// SetLocalDescription applies desc locally: an offer moves stable to
// have-local-offer, an answer moves have-remote-offer to stable. Any other
// combination fails with ErrInvalidTransition without reaching the engine.
func (s *Session) SetLocalDescription(ctx context.Context, desc engine.SessionDescription) error {
	return s.step(ctx, "set-local-description", func(ctx context.Context) error {
		next, err := s.next(localTransitions, desc.Type)
		if err != nil {
			return err
		}
		if _, err := await(ctx, func() (struct{}, error) {
			return struct{}{}, s.eng.SetLocalDescription(ctx, desc)
		}); err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == StateClosed {
			return ErrClosed
		}
		s.state = next
		util.LogDebug("%s %s: local %s applied → %s", s.role, s.short(), desc.Type, next)
		return nil
	})
}

// SetRemoteDescription applies desc as the remote description: an offer
// moves stable to have-remote-offer, an answer moves have-local-offer to
// stable. On the first success every candidate buffered so far is handed to
// the engine, after it has accepted the description.
func (s *Session) SetRemoteDescription(ctx context.Context, desc engine.SessionDescription) error {
	return s.step(ctx, "set-remote-description", func(ctx context.Context) error {
		next, err := s.next(remoteTransitions, desc.Type)
		if err != nil {
			return err
		}
		if _, err := await(ctx, func() (struct{}, error) {
			return struct{}{}, s.eng.SetRemoteDescription(ctx, desc)
		}); err != nil {
			return err
		}

		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return ErrClosed
		}
		s.state = next
		var pending []engine.Candidate
		first := !s.remoteSet
		if first {
			s.remoteSet = true
			pending = s.queue.Drain()
		}
		s.mu.Unlock()

		util.LogDebug("%s %s: remote %s applied → %s", s.role, s.short(), desc.Type, next)
		if first && len(pending) > 0 {
			util.LogDebug("%s %s: applying %d buffered candidates", s.role, s.short(), len(pending))
		}
		for _, c := range pending {
			s.apply(c)
		}
		return nil
	})
}

// step serializes fn against every other step on the session and cancels
// its context when the session closes.
func (s *Session) step(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	select {
	case s.steps <- struct{}{}:
	case <-ctx.Done():
		return s.fail(op, ctx.Err())
	case <-s.ctx.Done():
		return s.fail(op, ErrClosed)
	}
	defer func() { <-s.steps }()

	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if err := fn(stepCtx); err != nil {
		return s.fail(op, err)
	}
	return nil
}

// await runs call on its own goroutine so that the step can be abandoned
// when ctx ends. The abandoned goroutine's result is dropped.
func await[T any](ctx context.Context, call func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := call()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (s *Session) fail(op string, err error) error {
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return err
	}

	state := s.State()
	if state == StateClosed && errors.Is(err, context.Canceled) {
		err = ErrClosed
	}
	return &NegotiationError{Op: op, Role: s.role, State: state, Err: err}
}

func (s *Session) expect(want State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case want:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrInvalidTransition
	}
}

func (s *Session) alive() error {
	if s.Closed() {
		return ErrClosed
	}
	return nil
}

func (s *Session) next(table map[transition]State, typ engine.SDPType) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return 0, ErrClosed
	}
	next, ok := table[transition{s.state, typ}]
	if !ok {
		return 0, ErrInvalidTransition
	}
	return next, nil
}

// ---------------------------------------------------------------------------
// Candidates
// ---------------------------------------------------------------------------

// AddRemoteCandidate accepts a candidate relayed from the peer. Before the
// remote description is set it is buffered; afterwards it goes straight to
// the engine. Engine rejections are logged and the candidate is dropped.
func (s *Session) AddRemoteCandidate(c engine.Candidate) {
	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		util.LogDebug("%s %s: closed, dropping candidate %s", s.role, s.short(), c)
		return
	case !s.remoteSet:
		s.queue.Enqueue(c)
		s.mu.Unlock()
		util.Stats.AddQueued()
		util.LogDebug("%s %s: queued candidate %s", s.role, s.short(), c)
		return
	}
	s.mu.Unlock()

	s.apply(c)
}

func (s *Session) apply(c engine.Candidate) {
	if err := s.eng.AddCandidate(c); err != nil {
		util.Stats.AddDropped()
		util.LogWarning("%s %s: candidate %s rejected: %v", s.role, s.short(), c, err)
		return
	}
	util.Stats.AddApplied()
}

// OnLocalCandidate subscribes fn to candidates discovered by this session's
// engine. fn runs on its own goroutine per candidate; delivery order is not
// guaranteed. The subscription ends on cancel or Close.
func (s *Session) OnLocalCandidate(fn func(engine.Candidate)) (cancel func()) {
	return s.candidates.Add(fn)
}

func (s *Session) handleLocalCandidate(c engine.Candidate) {
	if s.Closed() {
		return
	}
	util.LogDebug("%s %s: discovered candidate %s", s.role, s.short(), c)
	s.candidates.Go(c)
}

func (s *Session) handleGatheringComplete() {
	util.LogDebug("%s %s: candidate gathering complete", s.role, s.short())
}

// ---------------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------------

// OpenChannel creates a locally initiated channel owned by the session. An
// initiator opens its channel before CreateOffer so the offer carries it.
func (s *Session) OpenChannel(label string, opts channel.Options) (*channel.Session, error) {
	if s.Closed() {
		return nil, s.fail("open-channel", ErrClosed)
	}
	dc, err := s.eng.CreateChannel(label)
	if err != nil {
		return nil, s.fail("open-channel", err)
	}
	ch := channel.New(dc, opts)
	if !s.adopt(ch) {
		_ = ch.Close()
		return nil, s.fail("open-channel", ErrClosed)
	}
	return ch, nil
}

// OnChannel subscribes fn to channels opened by the remote side. fn runs on
// its own goroutine. The subscription ends on cancel or Close.
func (s *Session) OnChannel(fn func(*channel.Session)) (cancel func()) {
	return s.announced.Add(fn)
}

// WaitChannel blocks until the session owns a channel with the given label.
func (s *Session) WaitChannel(ctx context.Context, label string) (*channel.Session, error) {
	found := make(chan *channel.Session, 1)
	cancel := s.OnChannel(func(ch *channel.Session) {
		if ch.Label() != label {
			return
		}
		select {
		case found <- ch:
		default:
		}
	})
	defer cancel()

	for _, ch := range s.Channels() {
		if ch.Label() == label {
			return ch, nil
		}
	}

	select {
	case ch := <-found:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrClosed
	}
}

func (s *Session) handleChannel(dc engine.DataChannel) {
	ch := channel.New(dc, s.chOpts)
	if !s.adopt(ch) {
		_ = ch.Close()
		return
	}
	util.LogDebug("%s %s: remote opened channel %q", s.role, s.short(), ch.Label())
	s.announced.Go(ch)
}

// adopt records ch as owned and forgets it once it closes.
func (s *Session) adopt(ch *channel.Session) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.channels[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		select {
		case <-ch.Done():
			s.mu.Lock()
			delete(s.channels, ch)
			s.mu.Unlock()
		case <-s.ctx.Done():
		}
	}()
	return true
}

// ---------------------------------------------------------------------------
// Engine state & lifecycle
// ---------------------------------------------------------------------------

func (s *Session) handleSignalingState(state string) {
	util.LogTrace("%s %s: engine signaling state %s", s.role, s.short(), state)
}

func (s *Session) handleConnectionState(state engine.ConnectionState) {
	util.LogDebug("%s %s: connection state %s", s.role, s.short(), state)
	if state == engine.ConnectionStateFailed {
		util.LogWarning("%s %s: connection failed, closing session", s.role, s.short())
		// Close asynchronously so we never block the engine's callback on teardown.
		go func() { _ = s.Close() }()
	}
}

// Close moves the session to closed from any state, abandons any in-flight
// step, closes its channels and releases the engine. Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		channels := s.channels
		s.channels = make(map[*channel.Session]struct{})
		s.mu.Unlock()

		s.cancel()
		s.unsubscribe()
		s.candidates.Clear()
		s.announced.Clear()

		var errs []error
		for ch := range channels {
			errs = append(errs, ch.Close())
		}
		errs = append(errs, s.eng.Close())
		s.closeErr = errors.Join(errs...)

		util.LogDebug("%s session %s closed", s.role, s.short())
	})
	return s.closeErr
}
