package signaling

import (
	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pchan/internal/util"
)

// receiver reads signaling messages from the WebSocket and hands each one to
// deliver, in order.
type receiver struct {
	conn    *websocket.Conn
	deliver func(Message)
}

// maxMessageBytes caps a single signaling message; SDPs are a few KiB.
const maxMessageBytes = 64 * 1024

// watch runs until the connection fails and returns the reason.
func (r *receiver) watch() error {
	r.conn.SetReadLimit(maxMessageBytes)
	for {
		typ, data, err := r.conn.ReadMessage()
		if err != nil {
			return &SignalError{Op: "receive", Err: err}
		}
		if typ != websocket.TextMessage {
			util.LogWarning("ignoring non-text signaling frame")
			continue
		}

		msg, err := Decode(data)
		if err != nil {
			return &SignalError{Op: "decode", Err: err}
		}
		r.deliver(msg)
	}
}
