// Package coordinator drives complete negotiation attempts: it pairs each
// session with a signaling transport, runs the offer/answer steps in order,
// relays candidates alongside them, and tears everything down on failure.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/p2pchan/internal/channel"
	"github.com/1ureka/p2pchan/internal/engine"
	"github.com/1ureka/p2pchan/internal/negotiation"
	"github.com/1ureka/p2pchan/internal/signaling"
	"github.com/1ureka/p2pchan/internal/util"
)

// byeTimeout bounds the best-effort bye sent to the peer on failure.
const byeTimeout = time.Second

// FailureError is the single consolidated report of a failed attempt.
type FailureError struct {
	Attempt string // attempt ID
	Step    string // the step that failed, e.g. "set-remote-answer"
	Err     error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("negotiation %s failed at %s: %v", shortID(e.Attempt), e.Step, e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Options configures a Coordinator.
type Options struct {
	// Label of the channel the initiator opens.
	Label string
	// Local configures the initiator's own channel.
	Local channel.Options
	// Remote configures channels a responder receives.
	Remote channel.Options
	// OnFailure, when set, receives every failed attempt's FailureError once.
	OnFailure func(error)
}

// Coordinator runs negotiation attempts. The initiator comes from the
// registry; responders are built per attempt on engines from newEngine.
type Coordinator struct {
	registry  *Registry
	newEngine engine.Factory
	opts      Options
}

// New returns a Coordinator.
func New(registry *Registry, newEngine engine.Factory, opts Options) *Coordinator {
	return &Coordinator{registry: registry, newEngine: newEngine, opts: opts}
}

// Result is a completed in-process negotiation.
type Result struct {
	ID        string
	Initiator *negotiation.Session
	Responder *negotiation.Session
	// Channel is the initiator's channel; it opens asynchronously after the
	// exchange completes.
	Channel *channel.Session
}

// Close closes both sessions.
func (r *Result) Close() error {
	return errors.Join(r.Responder.Close(), r.Initiator.Close())
}

// attempt tracks one negotiation attempt's failure reporting.
type attempt struct {
	c        *Coordinator
	id       string
	once     sync.Once
	sessions []*negotiation.Session
	tr       signaling.Transport
}

func (c *Coordinator) newAttempt(tr signaling.Transport) *attempt {
	util.Stats.AddNegotiation()
	a := &attempt{c: c, id: uuid.NewString(), tr: tr}
	util.LogDebug("negotiation %s started", shortID(a.id))
	return a
}

func (a *attempt) track(sess *negotiation.Session) {
	a.sessions = append(a.sessions, sess)
}

// abort closes every session of the attempt, tells the peer, and reports
// err exactly once. Later calls return the first report.
func (a *attempt) abort(step string, err error) error {
	var report error
	a.once.Do(func() {
		var fe *FailureError
		if !errors.As(err, &fe) {
			fe = &FailureError{Attempt: a.id, Step: step, Err: err}
		}
		report = fe
		util.Stats.AddFailure()

		if a.tr != nil {
			ctx, cancel := context.WithTimeout(context.Background(), byeTimeout)
			_ = a.tr.Send(ctx, signaling.ByeMessage(fe.Step))
			cancel()
		}
		for _, sess := range a.sessions {
			_ = sess.Close()
		}

		util.LogError("%v", fe)
		if a.c.opts.OnFailure != nil {
			a.c.opts.OnFailure(fe)
		}
	})
	if report == nil {
		return &FailureError{Attempt: a.id, Step: step, Err: err}
	}
	return report
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// StartNegotiation negotiates the registry's initiator against a fresh
// responder in this process, relaying signaling through an in-memory pipe.
// It returns once both descriptions are applied on both sides; the channel
// opens afterwards. On failure both sessions are closed.
func (c *Coordinator) StartNegotiation(ctx context.Context) (*Result, error) {
	a := c.newAttempt(nil)

	init, err := c.registry.GetOrCreateInitiator()
	if err != nil {
		return nil, a.abort("create-initiator", err)
	}
	if !init.Reserve() {
		return nil, a.abort("reserve-initiator", negotiation.ErrBusy)
	}
	a.track(init)

	eng, err := c.newEngine()
	if err != nil {
		return nil, a.abort("create-responder", err)
	}
	resp := negotiation.New(negotiation.Config{
		Role:     negotiation.Responder,
		Engine:   eng,
		Channels: c.opts.Remote,
	})
	resp.Reserve()
	a.track(resp)

	initEnd, respEnd := signaling.NewPipe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		step string
		err  error
	}
	results := make(chan outcome, 2)
	var ch *channel.Session

	go func() {
		local, step, err := c.initiate(ctx, init, initEnd)
		ch = local
		results <- outcome{step, err}
	}()
	go func() {
		step, err := c.respond(ctx, resp, respEnd)
		results <- outcome{step, err}
	}()

	var failure error
	for i := 0; i < 2; i++ {
		o := <-results
		if o.err != nil && failure == nil {
			failure = a.abort(o.step, o.err)
			cancel()
			_ = initEnd.Close()
		}
	}
	if failure != nil {
		return nil, failure
	}

	// Trailing candidates keep flowing until the channel is up.
	go func() {
		select {
		case <-ch.Ready():
		case <-init.Done():
		case <-resp.Done():
		}
		_ = initEnd.Close()
	}()

	util.LogSuccess("negotiation %s complete: initiator %s, responder %s",
		shortID(a.id), init.State(), resp.State())
	return &Result{ID: a.id, Initiator: init, Responder: resp, Channel: ch}, nil
}

// Connect runs the registry's initiator against a remote responder reached
// through tr. It returns the initiator and its channel once the answer has
// been applied.
func (c *Coordinator) Connect(ctx context.Context, tr signaling.Transport) (*negotiation.Session, *channel.Session, error) {
	a := c.newAttempt(tr)

	init, err := c.registry.GetOrCreateInitiator()
	if err != nil {
		return nil, nil, a.abort("create-initiator", err)
	}
	if !init.Reserve() {
		return nil, nil, a.abort("reserve-initiator", negotiation.ErrBusy)
	}
	a.track(init)

	ch, step, err := c.initiate(ctx, init, tr)
	if err != nil {
		return nil, nil, a.abort(step, err)
	}
	util.LogSuccess("negotiation %s complete as initiator", shortID(a.id))
	return init, ch, nil
}

// AcceptNegotiation creates a responder, waits for the peer's offer on tr
// and answers it. It returns once the answer has been sent.
func (c *Coordinator) AcceptNegotiation(ctx context.Context, tr signaling.Transport) (*negotiation.Session, error) {
	a := c.newAttempt(tr)

	eng, err := c.newEngine()
	if err != nil {
		return nil, a.abort("create-responder", err)
	}
	resp := negotiation.New(negotiation.Config{
		Role:     negotiation.Responder,
		Engine:   eng,
		Channels: c.opts.Remote,
	})
	resp.Reserve()
	a.track(resp)

	if step, err := c.respond(ctx, resp, tr); err != nil {
		return nil, a.abort(step, err)
	}
	util.LogSuccess("negotiation %s complete as responder", shortID(a.id))
	return resp, nil
}

// ---------------------------------------------------------------------------
// Halves
// ---------------------------------------------------------------------------

// Initiate runs the initiator half on sess over tr: open the channel, create
// and apply the offer, send it, then apply the peer's answer. Candidates are
// relayed both ways for as long as sess and tr live. sess is not closed on
// failure; the error is a *FailureError naming the failed step.
func (c *Coordinator) Initiate(ctx context.Context, sess *negotiation.Session, tr signaling.Transport) (*channel.Session, error) {
	ch, step, err := c.initiate(ctx, sess, tr)
	if err != nil {
		return nil, &FailureError{Attempt: sess.ID(), Step: step, Err: err}
	}
	return ch, nil
}

// Respond runs the responder half on sess over tr: await the offer, apply
// it, create and apply the answer, then send it. Like Initiate it leaves
// sess open on failure.
func (c *Coordinator) Respond(ctx context.Context, sess *negotiation.Session, tr signaling.Transport) error {
	if step, err := c.respond(ctx, sess, tr); err != nil {
		return &FailureError{Attempt: sess.ID(), Step: step, Err: err}
	}
	return nil
}

// initiate runs the initiator's steps in order. On failure it returns the
// name of the failing step.
func (c *Coordinator) initiate(ctx context.Context, sess *negotiation.Session, tr signaling.Transport) (*channel.Session, string, error) {
	r := startRelay(sess, tr)

	ch, err := sess.OpenChannel(c.opts.Label, c.opts.Local)
	if err != nil {
		return nil, "open-channel", err
	}

	offer, err := sess.CreateOffer(ctx)
	if err != nil {
		return nil, "create-offer", err
	}
	if err := sess.SetLocalDescription(ctx, offer); err != nil {
		return nil, "set-local-offer", err
	}
	if err := tr.Send(ctx, signaling.OfferMessage(offer)); err != nil {
		return nil, "send-offer", err
	}

	answer, err := r.await(ctx)
	if err != nil {
		return nil, "await-answer", err
	}
	if err := sess.SetRemoteDescription(ctx, answer); err != nil {
		return nil, "set-remote-answer", err
	}
	return ch, "", nil
}

// respond runs the responder's steps in order. On failure it returns the
// name of the failing step.
func (c *Coordinator) respond(ctx context.Context, sess *negotiation.Session, tr signaling.Transport) (string, error) {
	r := startRelay(sess, tr)

	offer, err := r.await(ctx)
	if err != nil {
		return "await-offer", err
	}
	if err := sess.SetRemoteDescription(ctx, offer); err != nil {
		return "set-remote-offer", err
	}

	answer, err := sess.CreateAnswer(ctx)
	if err != nil {
		return "create-answer", err
	}
	if err := sess.SetLocalDescription(ctx, answer); err != nil {
		return "set-local-answer", err
	}
	if err := tr.Send(ctx, signaling.AnswerMessage(answer)); err != nil {
		return "send-answer", err
	}
	return "", nil
}
