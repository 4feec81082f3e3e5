package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/p2pchan/internal/engine"
	"github.com/1ureka/p2pchan/internal/negotiation"
	"github.com/1ureka/p2pchan/internal/signaling"
	"github.com/1ureka/p2pchan/internal/util"
)

// candidateSendTimeout bounds the relay of a single candidate.
const candidateSendTimeout = 5 * time.Second

// relay connects one session to its signaling transport: local candidates
// go out as they are discovered, remote candidates go to the session as they
// arrive, and descriptions are handed to whichever step awaits them. It
// lives until the session closes or the transport goes down, which may be
// well after the description exchange has finished.
type relay struct {
	sess  *negotiation.Session
	tr    signaling.Transport
	descs chan engine.SessionDescription
	bye   chan string
}

func startRelay(sess *negotiation.Session, tr signaling.Transport) *relay {
	r := &relay{
		sess:  sess,
		tr:    tr,
		descs: make(chan engine.SessionDescription, 1),
		bye:   make(chan string, 1),
	}

	cancelSignal := tr.OnSignal(r.handleSignal)
	cancelCandidates := sess.OnLocalCandidate(r.forwardCandidate)

	go func() {
		select {
		case <-sess.Done():
		case <-tr.Done():
		}
		cancelSignal()
		cancelCandidates()
	}()

	return r
}

func (r *relay) forwardCandidate(c engine.Candidate) {
	ctx, cancel := context.WithTimeout(context.Background(), candidateSendTimeout)
	defer cancel()

	if err := r.tr.Send(ctx, signaling.CandidateMessage(c)); err != nil {
		util.Stats.AddDropped()
		util.LogWarning("%s: candidate %s not relayed: %v", r.sess.Role(), c, err)
		return
	}
	util.Stats.AddRelayed()
}

func (r *relay) handleSignal(msg signaling.Message) {
	switch msg.Type {
	case signaling.MsgTypeCandidate:
		r.sess.AddRemoteCandidate(*msg.Candidate)

	case signaling.MsgTypeOffer, signaling.MsgTypeAnswer:
		select {
		case r.descs <- *msg.Description:
		default:
			util.LogWarning("%s: ignoring unexpected %s", r.sess.Role(), msg.Type)
		}

	case signaling.MsgTypeBye:
		select {
		case r.bye <- msg.Reason:
		default:
		}
	}
}

// await blocks until the peer's next description arrives. The description
// is returned whatever its type; applying it validates the transition.
func (r *relay) await(ctx context.Context) (engine.SessionDescription, error) {
	// A description that already arrived wins over a transport going down.
	select {
	case d := <-r.descs:
		return d, nil
	default:
	}

	select {
	case d := <-r.descs:
		return d, nil
	case reason := <-r.bye:
		return engine.SessionDescription{}, &signaling.SignalError{
			Op:  "receive",
			Err: fmt.Errorf("%w: %s", signaling.ErrPeerClosed, reason),
		}
	case <-r.tr.Done():
		return engine.SessionDescription{}, transportErr(r.tr)
	case <-r.sess.Done():
		return engine.SessionDescription{}, negotiation.ErrClosed
	case <-ctx.Done():
		return engine.SessionDescription{}, ctx.Err()
	}
}

func transportErr(tr signaling.Transport) error {
	err := tr.Err()
	var se *signaling.SignalError
	if errors.As(err, &se) {
		return err
	}
	return &signaling.SignalError{Op: "receive", Err: err}
}
