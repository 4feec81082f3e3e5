package signaling

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pchan/internal/util"
)

// Compile-time interface check.
var _ Transport = (*WSTransport)(nil)

// WSTransport is a Transport over one WebSocket connection.
type WSTransport struct {
	*lifecycle

	conn   *websocket.Conn
	sender *sender
	subs   util.Listeners[Message]
	start  sync.Once
}

// NewWSTransport takes ownership of conn.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{
		lifecycle: newLifecycle(),
		conn:      conn,
		sender:    &sender{conn: conn},
	}
}

func (t *WSTransport) Send(ctx context.Context, msg Message) error {
	select {
	case <-t.done:
		return &SignalError{Op: "send", Err: ErrTransportClosed}
	default:
	}
	if err := t.sender.send(ctx, msg); err != nil {
		return &SignalError{Op: "send", Err: err}
	}
	return nil
}

func (t *WSTransport) OnSignal(fn func(Message)) (cancel func()) {
	cancel = t.subs.Add(fn)
	t.start.Do(func() { go t.receive() })
	return cancel
}

// receive runs the read loop until the connection fails or is closed.
func (t *WSTransport) receive() {
	r := &receiver{conn: t.conn, deliver: t.subs.Emit}
	err := r.watch()

	// A read error after Close is just the socket going away.
	select {
	case <-t.done:
		return
	default:
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
		err = &SignalError{Op: "receive", Err: ErrTransportClosed}
	}
	if t.fail(err) {
		util.LogDebug("signaling transport down: %v", err)
	}
	_ = t.conn.Close()
}

// Close sends a close frame and shuts the connection down.
func (t *WSTransport) Close() error {
	if !t.fail(ErrTransportClosed) {
		return nil
	}
	t.sender.sendClose("done")
	return t.conn.Close()
}
