// Package signaling carries offer, answer and candidate messages between the
// two endpoints. The negotiation core only sees the Transport interface; this
// package provides an in-process Pipe and a WebSocket transport with a
// host-side server.
package signaling

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransportClosed is reported once a transport has been closed.
	ErrTransportClosed = errors.New("signaling transport closed")
	// ErrPeerClosed is reported when the peer sends a bye message.
	ErrPeerClosed = errors.New("peer ended the negotiation")
)

// SignalError is a signaling delivery failure. It is fatal to the
// negotiation attempt; nothing retries it.
type SignalError struct {
	Op  string
	Err error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("signaling %s: %v", e.Op, e.Err)
}

func (e *SignalError) Unwrap() error {
	return e.Err
}

// Transport is a bidirectional signaling link to one peer.
//
// Received messages are delivered in order to every OnSignal subscriber on
// the transport's own goroutine; subscribers must not block. Delivery starts
// with the first subscription, so nothing received earlier is lost.
type Transport interface {
	// Send delivers msg to the peer. Failures are returned as *SignalError.
	Send(ctx context.Context, msg Message) error
	// OnSignal subscribes fn to received messages until cancel is called.
	OnSignal(fn func(Message)) (cancel func())
	// Done is closed when the transport fails or is closed; Err then reports why.
	Done() <-chan struct{}
	Err() error
	Close() error
}
