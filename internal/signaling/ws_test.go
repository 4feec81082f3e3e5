package signaling

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pchan/internal/engine"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// startServer serves a signaling Server over httptest and returns it with
// the WebSocket URL of its endpoint, without the PIN.
func startServer(t *testing.T, pin string) (*Server, string) {
	t.Helper()
	srv := NewServer(pin)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return srv, "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
}

// connect dials the server with pin and returns both transports.
func connect(t *testing.T, pin string) (host, client *WSTransport) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	srv, url := startServer(t, pin)
	client, err := Dial(ctx, url+"?pin="+pin)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	host, err = srv.WaitForClient(ctx)
	if err != nil {
		t.Fatalf("WaitForClient: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = host.Close()
	})
	return host, client
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestWSExchange verifies messages flow both ways over the WebSocket.
func TestWSExchange(t *testing.T) {
	host, client := connect(t, "1234")
	ctx := context.Background()

	atClient := make(chan Message, 4)
	client.OnSignal(func(m Message) { atClient <- m })
	atHost := make(chan Message, 4)
	host.OnSignal(func(m Message) { atHost <- m })

	offer := engine.SessionDescription{Type: engine.SDPTypeOffer, SDP: "v=0 offer"}
	if err := host.Send(ctx, OfferMessage(offer)); err != nil {
		t.Fatalf("host Send: %v", err)
	}
	if err := host.Send(ctx, CandidateMessage(engine.Candidate{Candidate: "c1"})); err != nil {
		t.Fatalf("host Send candidate: %v", err)
	}

	select {
	case m := <-atClient:
		if m.Type != MsgTypeOffer || m.Description.SDP != offer.SDP {
			t.Fatalf("client got %+v, want the offer", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("offer not received")
	}
	select {
	case m := <-atClient:
		if m.Type != MsgTypeCandidate || m.Candidate.Candidate != "c1" {
			t.Fatalf("client got %+v, want candidate c1", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("candidate not received")
	}

	answer := engine.SessionDescription{Type: engine.SDPTypeAnswer, SDP: "v=0 answer"}
	if err := client.Send(ctx, AnswerMessage(answer)); err != nil {
		t.Fatalf("client Send: %v", err)
	}
	select {
	case m := <-atHost:
		if m.Type != MsgTypeAnswer || m.Description.SDP != answer.SDP {
			t.Fatalf("host got %+v, want the answer", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("answer not received")
	}
}

// TestWSCloseObserved verifies that closing one side ends the other with
// ErrTransportClosed.
func TestWSCloseObserved(t *testing.T) {
	host, client := connect(t, "1234")
	client.OnSignal(func(Message) {})

	if err := host.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not observe close")
	}
	if !errors.Is(client.Err(), ErrTransportClosed) {
		t.Fatalf("client Err() = %v, want ErrTransportClosed", client.Err())
	}
	if err := host.Send(context.Background(), ByeMessage("")); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("Send after Close: %v, want ErrTransportClosed", err)
	}
}

// TestWSWrongPIN verifies that the server refuses a bad PIN.
func TestWSWrongPIN(t *testing.T) {
	_, url := startServer(t, "1234")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if tr, err := Dial(ctx, url+"?pin=0000"); err == nil {
		tr.Close()
		t.Fatal("Dial with wrong PIN succeeded")
	}
}

// TestWSSecondClientRejected verifies that once a peer has claimed the
// server, later handshakes are refused and the first peer is unaffected.
func TestWSSecondClientRejected(t *testing.T) {
	srv, url := startServer(t, "1234")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := Dial(ctx, url+"?pin=1234")
	if err != nil {
		t.Fatalf("first Dial: %v", err)
	}
	defer first.Close()

	second, err := Dial(ctx, url+"?pin=1234")
	if err == nil {
		second.Close()
		t.Fatal("second Dial succeeded")
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("second Dial: %v, want bad handshake", err)
	}

	host, err := srv.WaitForClient(ctx)
	if err != nil {
		t.Fatalf("WaitForClient: %v", err)
	}
	defer host.Close()

	if err := first.Send(ctx, ByeMessage("ping")); err != nil {
		t.Fatalf("first peer Send: %v", err)
	}
	got := make(chan Message, 1)
	host.OnSignal(func(m Message) { got <- m })
	select {
	case m := <-got:
		if m.Type != MsgTypeBye {
			t.Fatalf("host got %s, want bye", m.Type)
		}
	case <-ctx.Done():
		t.Fatal("first peer's message never arrived")
	}
}

// TestWSMalformedMessage verifies that an undecodable frame is fatal to the
// receiving transport.
func TestWSMalformedMessage(t *testing.T) {
	host, client := connect(t, "1234")
	client.OnSignal(func(Message) {})

	// Bypass Encode to put garbage on the wire.
	host.sender.mu.Lock()
	err := host.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"offer","bogus":true}`))
	host.sender.mu.Unlock()
	if err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client accepted a malformed message")
	}
	var se *SignalError
	if !errors.As(client.Err(), &se) || se.Op != "decode" {
		t.Fatalf("client Err() = %v, want decode SignalError", client.Err())
	}
}

// TestGeneratePIN verifies length and alphabet.
func TestGeneratePIN(t *testing.T) {
	for _, n := range []int{4, 6} {
		pin := GeneratePIN(n)
		if len(pin) != n {
			t.Fatalf("GeneratePIN(%d) = %q", n, pin)
		}
		for _, r := range pin {
			if r < '0' || r > '9' {
				t.Fatalf("GeneratePIN(%d) = %q contains %q", n, pin, r)
			}
		}
	}
}
