package ws

import "sync"

// Presence counts live connections per identity on this process.
//
// An identity is online here while it has at least one connection. Connect
// and Disconnect report the local transitions; the Hub then checks the count
// shared across processes before announcing anything.
type Presence struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewPresence() *Presence {
	return &Presence{counts: make(map[string]int)}
}

// Connect registers one more connection for userID. first is true when the
// identity was offline before.
func (p *Presence) Connect(userID string) (first bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts[userID]++
	return p.counts[userID] == 1
}

// Disconnect releases one connection. last is true when it was the identity's
// final connection. Releasing an identity with no connections is a no-op.
func (p *Presence) Disconnect(userID string) (last bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.counts[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.counts, userID)
		return true
	}
	p.counts[userID] = n - 1
	return false
}

// IsOnline reports whether userID has a connection on this process.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0
}

// Len is the number of identities online on this process.
func (p *Presence) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.counts)
}
