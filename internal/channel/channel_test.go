package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/1ureka/p2pchan/internal/engine"
	"github.com/1ureka/p2pchan/internal/engine/enginetest"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func text(s string) engine.Message {
	return engine.Message{IsString: true, Data: []byte(s)}
}

func waitReady(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatalf("channel %q did not open", s.Label())
	}
}

// waitSent polls dc until it recorded n sends, then returns them.
func waitSent(t *testing.T, dc *enginetest.DataChannel, n int) []engine.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		sent := dc.Sent()
		if len(sent) >= n {
			return sent
		}
		if time.Now().After(deadline) {
			t.Fatalf("recorded %d sends, want %d", len(sent), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// pair returns two open sessions whose channels deliver to each other.
func pair(t *testing.T, a, b Options) (*Session, *Session) {
	t.Helper()
	dcA, dcB := enginetest.NewChannel("pair"), enginetest.NewChannel("pair")
	dcA.Pair(dcB)

	sa, sb := New(dcA, a), New(dcB, b)
	t.Cleanup(func() {
		_ = sa.Close()
		_ = sb.Close()
	})

	dcA.Open()
	dcB.Open()
	waitReady(t, sa)
	waitReady(t, sb)
	return sa, sb
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// TestSendBeforeOpen verifies that sends fail with ErrNotOpen until the
// channel opens and are not retried.
func TestSendBeforeOpen(t *testing.T) {
	dc := enginetest.NewChannel("early")
	s := New(dc, Options{})
	defer s.Close()

	if got := s.State(); got != StateConnecting {
		t.Fatalf("state = %s, want connecting", got)
	}
	if err := s.SendText("too soon"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("SendText before open: %v, want ErrNotOpen", err)
	}
	if err := s.Send([]byte{1}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Send before open: %v, want ErrNotOpen", err)
	}

	dc.Open()
	waitReady(t, s)

	if err := s.SendText("now"); err != nil {
		t.Fatalf("SendText after open: %v", err)
	}
	sent := dc.Sent()
	if len(sent) != 1 || string(sent[0].Data) != "now" {
		t.Fatalf("sent = %v, want exactly [now]", sent)
	}
}

// TestClose verifies the transition to closed and that it is final.
func TestClose(t *testing.T) {
	dc := enginetest.NewChannel("closing")
	s := New(dc, Options{})
	dc.Open()
	waitReady(t, s)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
	if got := s.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}
	if err := s.SendText("after"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("SendText after close: %v, want ErrNotOpen", err)
	}

	// A late open event must not resurrect the channel.
	s.handleOpen()
	if got := s.State(); got != StateClosed {
		t.Fatalf("state after late open = %s, want closed", got)
	}
}

// TestPeerCloseObserved verifies that a close reported by the engine closes
// the session.
func TestPeerCloseObserved(t *testing.T) {
	a, b := pair(t, Options{}, Options{})

	_ = a.Close()
	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("peer close not observed")
	}
}

// ---------------------------------------------------------------------------
// Policies
// ---------------------------------------------------------------------------

// TestReplyPolicyOnePerMessage verifies that N text messages produce exactly
// N replies and that binary messages get none.
func TestReplyPolicyOnePerMessage(t *testing.T) {
	testCases := []struct {
		name  string
		texts int
		bins  int
	}{
		{name: "three pings", texts: 3},
		{name: "single ping", texts: 1},
		{name: "mixed", texts: 2, bins: 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dc := enginetest.NewChannel("reply")
			s := New(dc, Options{Policy: ReplyPolicy{Reply: "pong"}})
			defer s.Close()

			dc.Open()
			waitReady(t, s)

			for i := 0; i < tc.texts; i++ {
				dc.Deliver(text("ping"))
			}
			for i := 0; i < tc.bins; i++ {
				dc.Deliver(engine.Message{Data: []byte{0xde, 0xad}})
			}

			waitSent(t, dc, tc.texts)
			time.Sleep(30 * time.Millisecond)
			sent := dc.Sent()

			if len(sent) != tc.texts {
				t.Fatalf("sent %d replies, want %d", len(sent), tc.texts)
			}
			for i, m := range sent {
				if !m.IsString || string(m.Data) != "pong" {
					t.Errorf("reply[%d] = %q, want pong", i, m.Data)
				}
			}
		})
	}
}

// TestGreetingSentOnce verifies the greeting goes out once, on open.
func TestGreetingSentOnce(t *testing.T) {
	dc := enginetest.NewChannel("greet")
	s := New(dc, Options{Greeting: "hello"})
	defer s.Close()

	dc.Open()
	dc.Open()
	waitReady(t, s)

	sent := dc.Sent()
	if len(sent) != 1 || string(sent[0].Data) != "hello" {
		t.Fatalf("sent = %v, want exactly [hello]", sent)
	}
}

// TestMessageBeforeOpenHandler verifies that a message delivered before the
// engine's open callback runs opens the channel and reaches both subscribers
// and the policy, and that the late open callback changes nothing.
func TestMessageBeforeOpenHandler(t *testing.T) {
	policy := make(chan string, 4)
	subscribed := make(chan string, 4)

	dc := enginetest.NewChannel("late")
	// The open callback never fires on its own during the test.
	dc.OpenDelay = time.Hour
	s := New(dc, Options{
		Greeting: "hello",
		Policy: PolicyFunc(func(_ *Session, msg engine.Message) {
			policy <- string(msg.Data)
		}),
	})
	defer s.Close()
	s.OnMessage(func(msg engine.Message) { subscribed <- string(msg.Data) })

	dc.Open()
	dc.Deliver(text("ping from dc2"))

	for name, got := range map[string]chan string{"policy": policy, "OnMessage": subscribed} {
		select {
		case msg := <-got:
			if msg != "ping from dc2" {
				t.Fatalf("%s got %q", name, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s did not see the message", name)
		}
	}
	if got := s.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
	waitReady(t, s)

	// The engine's open callback arriving late is a no-op.
	s.handleOpen()
	sent := dc.Sent()
	if len(sent) != 1 || string(sent[0].Data) != "hello" {
		t.Fatalf("sent = %v, want exactly [hello]", sent)
	}
	if len(policy) != 0 || len(subscribed) != 0 {
		t.Fatal("message handled more than once")
	}
}

// TestMessageAfterCloseDropped verifies that nothing is handled once the
// channel has closed.
func TestMessageAfterCloseDropped(t *testing.T) {
	got := make(chan string, 1)
	dc := enginetest.NewChannel("closed")
	s := New(dc, Options{Policy: PolicyFunc(func(_ *Session, msg engine.Message) {
		got <- string(msg.Data)
	})})
	dc.Open()
	waitReady(t, s)
	_ = s.Close()

	s.handleMessage(text("late"))
	select {
	case msg := <-got:
		t.Fatalf("policy saw %q after close", msg)
	default:
	}
}

// TestPolicyFunc verifies that a PolicyFunc sees every received message.
func TestPolicyFunc(t *testing.T) {
	got := make(chan string, 4)
	dc := enginetest.NewChannel("func")
	s := New(dc, Options{Policy: PolicyFunc(func(_ *Session, msg engine.Message) {
		got <- string(msg.Data)
	})})
	defer s.Close()

	dc.Open()
	waitReady(t, s)
	dc.Deliver(text("a"))
	dc.Deliver(text("b"))

	for _, want := range []string{"a", "b"} {
		select {
		case m := <-got:
			if m != want {
				t.Fatalf("got %q, want %q", m, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("message %q not delivered", want)
		}
	}
}

// ---------------------------------------------------------------------------
// Subscriptions & round trips
// ---------------------------------------------------------------------------

// TestOnMessageCancel verifies in-order delivery and that a cancelled
// subscription stops receiving.
func TestOnMessageCancel(t *testing.T) {
	dc := enginetest.NewChannel("subs")
	s := New(dc, Options{})
	defer s.Close()
	dc.Open()
	waitReady(t, s)

	got := make(chan string, 8)
	cancel := s.OnMessage(func(msg engine.Message) { got <- string(msg.Data) })

	dc.Deliver(text("1"))
	dc.Deliver(text("2"))
	for _, want := range []string{"1", "2"} {
		select {
		case m := <-got:
			if m != want {
				t.Fatalf("got %q, want %q", m, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("message %q not delivered", want)
		}
	}

	cancel()
	dc.Deliver(text("3"))
	select {
	case m := <-got:
		t.Fatalf("cancelled subscription received %q", m)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestRoundTrip verifies a ping answered by a ReplyPolicy peer, ignoring an
// unrelated greeting.
func TestRoundTrip(t *testing.T) {
	a, _ := pair(t, Options{}, Options{
		Policy:   ReplyPolicy{Reply: "pong"},
		Greeting: "hi",
	})

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := a.RoundTrip(ctx, "ping", "pong")
		cancel()
		if err != nil {
			t.Fatalf("RoundTrip %d: %v", i, err)
		}
	}
}

// TestRoundTripUnanswered verifies that a silent peer times out.
func TestRoundTripUnanswered(t *testing.T) {
	a, _ := pair(t, Options{}, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := a.RoundTrip(ctx, "ping", "pong"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}
