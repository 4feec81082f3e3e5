package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/1ureka/p2pchan/internal/engine"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
	MsgTypeBye       MessageType = "bye" // the sender abandoned the negotiation
)

// Message is one signaling message. Exactly one of Description and Candidate
// is set for offer/answer and candidate messages; bye carries only Reason.
type Message struct {
	Type        MessageType
	Description *engine.SessionDescription
	Candidate   *engine.Candidate
	Reason      string
}

// OfferMessage wraps an offer description.
func OfferMessage(desc engine.SessionDescription) Message {
	return Message{Type: MsgTypeOffer, Description: &desc}
}

// AnswerMessage wraps an answer description.
func AnswerMessage(desc engine.SessionDescription) Message {
	return Message{Type: MsgTypeAnswer, Description: &desc}
}

// CandidateMessage wraps a trickled candidate.
func CandidateMessage(c engine.Candidate) Message {
	return Message{Type: MsgTypeCandidate, Candidate: &c}
}

// ByeMessage tells the peer the negotiation is over.
func ByeMessage(reason string) Message {
	return Message{Type: MsgTypeBye, Reason: reason}
}

// Validate checks that the fields present match the message type.
func (m Message) Validate() error {
	switch m.Type {
	case MsgTypeOffer, MsgTypeAnswer:
		if m.Description == nil {
			return fmt.Errorf("%s message missing sdp", m.Type)
		}
		if string(m.Description.Type) != string(m.Type) {
			return fmt.Errorf("%s message has sdp.type=%q", m.Type, m.Description.Type)
		}
		if m.Description.SDP == "" {
			return fmt.Errorf("%s message has empty sdp", m.Type)
		}
		if m.Candidate != nil || m.Reason != "" {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case MsgTypeCandidate:
		if m.Candidate == nil {
			return errors.New("candidate message missing candidate")
		}
		if m.Description != nil || m.Reason != "" {
			return errors.New("candidate message has unexpected fields")
		}
	case MsgTypeBye:
		if m.Description != nil || m.Candidate != nil {
			return errors.New("bye message has unexpected fields")
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Wire format
// ---------------------------------------------------------------------------

type wireSDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type wireCandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
	Seq              uint64  `json:"seq,omitempty"`
}

// wireMessage is the JSON structure exchanged over the WebSocket.
type wireMessage struct {
	Type      MessageType    `json:"type"`
	SDP       *wireSDP       `json:"sdp,omitempty"`
	Candidate *wireCandidate `json:"candidate,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Encode validates msg and serializes it to JSON.
func Encode(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	w := wireMessage{Type: msg.Type, Reason: msg.Reason}
	if d := msg.Description; d != nil {
		w.SDP = &wireSDP{Type: string(d.Type), SDP: d.SDP}
	}
	if c := msg.Candidate; c != nil {
		w.Candidate = &wireCandidate{
			Candidate:        c.Candidate,
			SDPMid:           c.SDPMid,
			SDPMLineIndex:    c.SDPMLineIndex,
			UsernameFragment: c.UsernameFragment,
			Seq:              c.Seq,
		}
	}
	return json.Marshal(w)
}

// Decode parses and validates a single JSON message. Unknown fields and
// trailing data are rejected.
func Decode(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireMessage
	if err := dec.Decode(&w); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, errors.New("unexpected trailing data")
	}

	msg := Message{Type: w.Type, Reason: w.Reason}
	if w.SDP != nil {
		typ, err := engine.ParseSDPType(w.SDP.Type)
		if err != nil {
			return Message{}, err
		}
		msg.Description = &engine.SessionDescription{Type: typ, SDP: w.SDP.SDP}
	}
	if c := w.Candidate; c != nil {
		msg.Candidate = &engine.Candidate{
			Candidate:        c.Candidate,
			SDPMid:           c.SDPMid,
			SDPMLineIndex:    c.SDPMLineIndex,
			UsernameFragment: c.UsernameFragment,
			Seq:              c.Seq,
		}
	}

	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}
