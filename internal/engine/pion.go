package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// Compile-time interface checks.
var (
	_ Engine      = (*Pion)(nil)
	_ DataChannel = (*pionChannel)(nil)
)

// PionConfig configures NewPion.
type PionConfig struct {
	ICEServers      []string
	IncludeLoopback bool
}

// Pion wraps a single pion PeerConnection. Its own handlers are registered
// once at construction and fan out to subscriptions, so subscribers can come
// and go without touching the PeerConnection.
//
// pion's description calls are synchronous; ctx is only checked before the
// call is issued. Suspension semantics are supplied by the caller.
type Pion struct {
	Subscribers

	pc  *webrtc.PeerConnection
	seq atomic.Uint64
}

// NewPion creates a PeerConnection configured with the given ICE servers,
// routing pion's internal logging through the pterm logger.
func NewPion(cfg PionConfig) (*Pion, error) {
	se := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(),
	}
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &Pion{pc: pc}

	// A nil candidate signals the end of gathering.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			p.EmitGatheringComplete()
			return
		}
		p.EmitCandidate(candidateFromPion(c.ToJSON(), p.seq.Add(1)))
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.EmitChannel(&pionChannel{raw: dc})
	})

	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		p.EmitSignalingState(state.String())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.EmitConnectionState(ConnectionState(state.String()))
	})

	return p, nil
}

// PionFactory returns a Factory producing Pion engines from cfg.
func PionFactory(cfg PionConfig) Factory {
	return func() (Engine, error) {
		return NewPion(cfg)
	}
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (p *Pion) CreateOffer(ctx context.Context) (SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return SessionDescription{}, err
	}
	desc, err := p.pc.CreateOffer(nil)
	if err != nil {
		return SessionDescription{}, err
	}
	return descriptionFromPion(desc)
}

// CreateAnswer generates an SDP answer.
func (p *Pion) CreateAnswer(ctx context.Context) (SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return SessionDescription{}, err
	}
	desc, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, err
	}
	return descriptionFromPion(desc)
}

// SetLocalDescription applies the local SDP.
func (p *Pion) SetLocalDescription(ctx context.Context, desc SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.pc.SetLocalDescription(descriptionToPion(desc))
}

// SetRemoteDescription applies the remote SDP.
func (p *Pion) SetRemoteDescription(ctx context.Context, desc SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(descriptionToPion(desc))
}

// AddCandidate adds a remote ICE candidate received through signaling.
func (p *Pion) AddCandidate(c Candidate) error {
	return p.pc.AddICECandidate(candidateToPion(c))
}

// ---------------------------------------------------------------------------
// Channels & lifecycle
// ---------------------------------------------------------------------------

// CreateChannel opens an ordered, reliable DataChannel. It must be created
// before the offer so that the offer carries an application section.
func (p *Pion) CreateChannel(label string) (DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return &pionChannel{raw: dc}, nil
}

// Close drops all subscriptions and shuts down the PeerConnection.
func (p *Pion) Close() error {
	p.Clear()
	return p.pc.Close()
}

// pionChannel adapts a pion DataChannel to DataChannel.
type pionChannel struct {
	raw *webrtc.DataChannel
}

func (c *pionChannel) Label() string           { return c.raw.Label() }
func (c *pionChannel) Send(data []byte) error  { return c.raw.Send(data) }
func (c *pionChannel) SendText(s string) error { return c.raw.SendText(s) }
func (c *pionChannel) OnOpen(fn func())        { c.raw.OnOpen(fn) }
func (c *pionChannel) OnClose(fn func())       { c.raw.OnClose(fn) }
func (c *pionChannel) Close() error            { return c.raw.Close() }

// OnMessage copies the payload because pion reuses internal buffers.
func (c *pionChannel) OnMessage(fn func(Message)) {
	c.raw.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(Message{IsString: msg.IsString, Data: append([]byte(nil), msg.Data...)})
	})
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func descriptionFromPion(desc webrtc.SessionDescription) (SessionDescription, error) {
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		return SessionDescription{Type: SDPTypeOffer, SDP: desc.SDP}, nil
	case webrtc.SDPTypeAnswer:
		return SessionDescription{Type: SDPTypeAnswer, SDP: desc.SDP}, nil
	default:
		return SessionDescription{}, errors.New("unsupported sdp type " + desc.Type.String())
	}
}

func descriptionToPion(desc SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(string(desc.Type)),
		SDP:  desc.SDP,
	}
}

func candidateFromPion(init webrtc.ICECandidateInit, seq uint64) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
		Seq:              seq,
	}
}

func candidateToPion(c Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
