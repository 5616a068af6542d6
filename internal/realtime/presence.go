package realtime

import (
	"sync"

	"github.com/feather-im/feather/internal/metrics"
)

// Presence is the ephemeral online-user set. Purely in-memory: it is never
// persisted and never touches the sync cursor.
type Presence struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

// NewPresence creates an empty presence set.
func NewPresence() *Presence {
	return &Presence{online: make(map[string]struct{})}
}

// Set records a user's online state.
func (p *Presence) Set(userID string, online bool) {
	p.mu.Lock()
	if online {
		p.online[userID] = struct{}{}
	} else {
		delete(p.online, userID)
	}
	n := len(p.online)
	p.mu.Unlock()
	metrics.OnlineUsers.Set(float64(n))
}

// IsOnline reports whether the user is currently online.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Online returns the current online user ids.
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	return ids
}
