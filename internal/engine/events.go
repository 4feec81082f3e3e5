package engine

import "sync"

// Subscribers fans engine events out to a changing set of subscriptions.
// Implementations embed it and call the emit helpers from their own callbacks.
type Subscribers struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]Events
}

// Subscribe adds ev and returns its removal function. Removal is idempotent.
func (s *Subscribers) Subscribe(ev Events) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs == nil {
		s.subs = make(map[uint64]Events)
	}
	id := s.next
	s.next++
	s.subs[id] = ev

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Clear drops every subscription.
func (s *Subscribers) Clear() {
	s.mu.Lock()
	s.subs = nil
	s.mu.Unlock()
}

func (s *Subscribers) snapshot() []Events {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Events, 0, len(s.subs))
	for _, ev := range s.subs {
		out = append(out, ev)
	}
	return out
}

func (s *Subscribers) EmitCandidate(c Candidate) {
	for _, ev := range s.snapshot() {
		if ev.OnCandidate != nil {
			ev.OnCandidate(c)
		}
	}
}

func (s *Subscribers) EmitGatheringComplete() {
	for _, ev := range s.snapshot() {
		if ev.OnGatheringComplete != nil {
			ev.OnGatheringComplete()
		}
	}
}

func (s *Subscribers) EmitChannel(dc DataChannel) {
	for _, ev := range s.snapshot() {
		if ev.OnChannel != nil {
			ev.OnChannel(dc)
		}
	}
}

func (s *Subscribers) EmitSignalingState(state string) {
	for _, ev := range s.snapshot() {
		if ev.OnSignalingState != nil {
			ev.OnSignalingState(state)
		}
	}
}

func (s *Subscribers) EmitConnectionState(state ConnectionState) {
	for _, ev := range s.snapshot() {
		if ev.OnConnectionState != nil {
			ev.OnConnectionState(state)
		}
	}
}
