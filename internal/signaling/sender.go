package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// defaultWriteTimeout bounds a single WebSocket write when ctx has no deadline.
const defaultWriteTimeout = 10 * time.Second

// sender serializes outgoing signaling messages to the WebSocket.
type sender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// send encodes and writes a signaling message, guarded by a mutex.
func (s *sender) send(ctx context.Context, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// sendClose writes a normal-closure control frame, best effort.
func (s *sender) sendClose(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
}
