package coordinator

import (
	"fmt"
	"sync"

	"github.com/1ureka/p2pchan/internal/channel"
	"github.com/1ureka/p2pchan/internal/engine"
	"github.com/1ureka/p2pchan/internal/negotiation"
)

// Registry holds at most one live initiator session. It is an ordinary
// object owned by whoever builds it; nothing about it is process-global.
type Registry struct {
	newEngine engine.Factory
	channels  channel.Options

	mu   sync.Mutex
	slot *slot
}

// slot is one initiator generation. Construction happens exactly once per
// slot, outside the registry lock.
type slot struct {
	once  sync.Once
	ready chan struct{} // closed once construction finished
	sess  *negotiation.Session
	err   error
}

// NewRegistry returns an empty registry that builds initiators on engines
// from newEngine. channels configures channels the remote side opens.
func NewRegistry(newEngine engine.Factory, channels channel.Options) *Registry {
	return &Registry{newEngine: newEngine, channels: channels}
}

// GetOrCreateInitiator returns the live initiator, constructing one if there
// is none or the previous one has closed. Concurrent callers observe the
// same instance; at most one construction happens per vacancy.
func (r *Registry) GetOrCreateInitiator() (*negotiation.Session, error) {
	r.mu.Lock()
	sl := r.slot
	if sl == nil || sl.stale() {
		sl = &slot{ready: make(chan struct{})}
		r.slot = sl
	}
	r.mu.Unlock()

	sl.once.Do(func() {
		defer close(sl.ready)
		eng, err := r.newEngine()
		if err != nil {
			sl.err = fmt.Errorf("create initiator engine: %w", err)
			return
		}
		sl.sess = negotiation.New(negotiation.Config{
			Role:     negotiation.Initiator,
			Engine:   eng,
			Channels: r.channels,
		})
	})

	if sl.err != nil {
		r.mu.Lock()
		if r.slot == sl {
			r.slot = nil
		}
		r.mu.Unlock()
		return nil, sl.err
	}
	return sl.sess, nil
}

// stale reports whether the slot can be replaced. A slot still under
// construction is never stale.
func (sl *slot) stale() bool {
	select {
	case <-sl.ready:
		return sl.err != nil || sl.sess.Closed()
	default:
		return false
	}
}

// Close closes the current initiator, if any, and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	sl := r.slot
	r.slot = nil
	r.mu.Unlock()

	if sl == nil {
		return nil
	}
	<-sl.ready
	if sl.sess == nil {
		return nil
	}
	return sl.sess.Close()
}
