package prizepool

import (
	"sync"
)

// Hub fans snapshots out to subscribers. Sends never block: a
// subscriber that cannot keep up skips intermediate snapshots and
// catches up on the next one, which full-snapshot semantics make safe.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Snapshot]bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Snapshot]bool)}
}

// Subscribe registers a listener. The cancel func must be called when
// the listener goes away.
func (h *Hub) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 4)

	h.mu.Lock()
	h.subs[ch] = true
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if h.subs[ch] {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast delivers a snapshot copy to every subscriber.
func (h *Hub) Broadcast(s Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- s.Copy():
		default:
		}
	}
}

// Count returns the subscriber count.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
