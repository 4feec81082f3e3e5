// Package engine defines the connectivity-engine contract the negotiation core
// drives, and provides an implementation backed by pion/webrtc.
//
// The engine is treated as an opaque, asynchronous capability provider: it
// produces and applies session descriptions, accepts remote candidates and
// reports local discoveries and channel activity through subscribed events.
package engine

import (
	"context"
	"fmt"
)

// SDPType tags a SessionDescription.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// ParseSDPType validates a wire-level type tag.
func ParseSDPType(s string) (SDPType, error) {
	switch SDPType(s) {
	case SDPTypeOffer, SDPTypeAnswer:
		return SDPType(s), nil
	default:
		return "", fmt.Errorf("unsupported sdp type %q", s)
	}
}

// SessionDescription is an engine-specific description blob plus its type.
// Values are immutable once produced and passed by value.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// Candidate is a single connectivity hint. Seq is the order the local engine
// discovered it in and is kept for diagnostics only.
type Candidate struct {
	Candidate        string
	SDPMid           *string
	SDPMLineIndex    *uint16
	UsernameFragment *string
	Seq              uint64
}

func (c Candidate) String() string {
	return fmt.Sprintf("#%d %s", c.Seq, c.Candidate)
}

// ConnectionState mirrors the engine's peer connection state, e.g. "connected"
// or "failed".
type ConnectionState string

const (
	ConnectionStateConnected ConnectionState = "connected"
	ConnectionStateFailed    ConnectionState = "failed"
	ConnectionStateClosed    ConnectionState = "closed"
)

// Message is a single payload received on a data channel.
type Message struct {
	IsString bool
	Data     []byte
}

// DataChannel is one message channel over an engine connection.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	SendText(s string) error
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func(Message))
	Close() error
}

// Events holds the callbacks of one subscription. Nil fields are skipped.
// Callbacks run on the engine's own goroutines and must not block.
type Events struct {
	// OnCandidate fires for every locally discovered candidate.
	OnCandidate func(Candidate)
	// OnGatheringComplete fires once local candidate gathering has finished.
	OnGatheringComplete func()
	// OnChannel fires when the remote side opens a channel.
	OnChannel func(DataChannel)
	// OnSignalingState reports the engine's own signaling state, for diagnostics.
	OnSignalingState func(string)
	// OnConnectionState reports the peer connection state.
	OnConnectionState func(ConnectionState)
}

// Engine is one connectivity-engine connection.
type Engine interface {
	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc SessionDescription) error
	AddCandidate(c Candidate) error
	CreateChannel(label string) (DataChannel, error)

	// Subscribe registers callbacks and returns the function that removes them.
	Subscribe(ev Events) (unsubscribe func())

	Close() error
}

// Factory builds a fresh engine connection.
type Factory func() (Engine, error)
