package signaling

import (
	"context"
	"sync"

	"github.com/1ureka/p2pchan/internal/util"
)

// Compile-time interface check.
var _ Transport = (*PipeEnd)(nil)

const pipeBufferSize = 256

// lifecycle records the first reason a link went down.
type lifecycle struct {
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

func newLifecycle() *lifecycle {
	return &lifecycle{done: make(chan struct{})}
}

// fail ends the link with err; it reports whether this call did so.
func (l *lifecycle) fail(err error) bool {
	first := false
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
		first = true
	})
	return first
}

func (l *lifecycle) Done() <-chan struct{} { return l.done }

func (l *lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// PipeEnd is one end of an in-process signaling link, used when both
// endpoints live in the same process. Closing either end closes both.
type PipeEnd struct {
	*lifecycle

	inbox chan Message
	peer  *PipeEnd
	subs  util.Listeners[Message]
	start sync.Once
}

// NewPipe returns the two connected ends of an in-process link.
func NewPipe() (a, b *PipeEnd) {
	l := newLifecycle()
	a = &PipeEnd{lifecycle: l, inbox: make(chan Message, pipeBufferSize)}
	b = &PipeEnd{lifecycle: l, inbox: make(chan Message, pipeBufferSize)}
	a.peer, b.peer = b, a
	return a, b
}

// Send enqueues msg for the peer, blocking only while the peer's buffer is full.
func (p *PipeEnd) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return &SignalError{Op: "send", Err: err}
	}
	select {
	case <-p.done:
		return &SignalError{Op: "send", Err: ErrTransportClosed}
	default:
	}

	select {
	case p.peer.inbox <- msg:
		return nil
	case <-p.done:
		return &SignalError{Op: "send", Err: ErrTransportClosed}
	case <-ctx.Done():
		return &SignalError{Op: "send", Err: ctx.Err()}
	}
}

func (p *PipeEnd) OnSignal(fn func(Message)) (cancel func()) {
	cancel = p.subs.Add(fn)
	p.start.Do(func() { go p.dispatch() })
	return cancel
}

func (p *PipeEnd) dispatch() {
	for {
		select {
		case msg := <-p.inbox:
			p.subs.Emit(msg)
		case <-p.done:
			return
		}
	}
}

// Close shuts down both ends.
func (p *PipeEnd) Close() error {
	p.fail(ErrTransportClosed)
	return nil
}
