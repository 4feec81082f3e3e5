package signaling

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pchan/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the host's signaling endpoint. It serves one WebSocket route
// guarded by a PIN and hands exactly one peer to WaitForClient; requests
// arriving after that peer claimed the slot are refused before the upgrade.
type Server struct {
	pin     string
	claimed atomic.Bool
	peers   chan *websocket.Conn
	http    *http.Server
}

// NewServer returns a server that admits the peer presenting pin.
func NewServer(pin string) *Server {
	return &Server{
		pin:   pin,
		peers: make(chan *websocket.Conn, 1),
	}
}

// Start serves /ws on addr until Close. ":0" picks a free port; the port in
// use is returned.
func (s *Server) Start(addr string) (int, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", s.Handler())
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogWarning("signaling server stopped: %v", err)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Handler returns the WebSocket handler alone, for mounting elsewhere.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.admit)
}

func (s *Server) admit(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	if subtle.ConstantTimeCompare([]byte(pin), []byte(s.pin)) != 1 {
		util.LogWarning("signaling: %s presented a wrong PIN", r.RemoteAddr)
		http.Error(w, "invalid pin", http.StatusUnauthorized)
		return
	}
	if !s.claimed.CompareAndSwap(false, true) {
		util.LogWarning("signaling: turned away %s, a peer is already connected", r.RemoteAddr)
		http.Error(w, "peer already connected", http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already answered; let the next attempt have the slot.
		s.claimed.Store(false)
		return
	}
	util.LogDebug("signaling: peer connected from %s", r.RemoteAddr)
	s.peers <- conn
}

// WaitForClient blocks until the peer connects or ctx ends.
func (s *Server) WaitForClient(ctx context.Context) (*WSTransport, error) {
	select {
	case conn := <-s.peers:
		return NewWSTransport(conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting requests. A peer already handed out keeps its
// connection.
func (s *Server) Close() {
	if s.http != nil {
		_ = s.http.Close()
	}
}

// GeneratePIN returns a random numeric PIN of the given length.
func GeneratePIN(length int) string {
	ten := big.NewInt(10)
	pin := make([]byte, length)
	for i := range pin {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			panic(fmt.Sprintf("generate pin: %v", err))
		}
		pin[i] = '0' + byte(n.Int64())
	}
	return string(pin)
}
