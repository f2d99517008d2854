package events

import "sync"

// Guard tells a fetch whether its result is still the latest one requested.
// A response is committed only if no newer request (or invalidation) has
// happened since its ticket was issued and the key still matches.
type Guard struct {
	mu  sync.Mutex
	seq uint64
	key string
}

type Ticket struct {
	g   *Guard
	seq uint64
	key string
}

// Begin records a new request for key and supersedes older tickets.
func (g *Guard) Begin(key string) Ticket {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.key = key
	return Ticket{g: g, seq: g.seq, key: key}
}

// Invalidate supersedes all outstanding tickets.
func (g *Guard) Invalidate() {
	g.mu.Lock()
	g.seq++
	g.mu.Unlock()
}

// Current reports whether the ticket is still the latest.
func (t Ticket) Current() bool {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	return t.seq == t.g.seq && t.key == t.g.key
}
