package narrative

import (
	"errors"
	"sync"
	"time"
)

// ErrDuplicateTurn is returned when a request id was already submitted.
var ErrDuplicateTurn = errors.New("narrative: duplicate turn request")

// DefaultGuardTTL is how long a finished request id is remembered.
const DefaultGuardTTL = 10 * time.Minute

// turnGuard rejects a request id while it is in flight and for ttl after it finished.
type turnGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]guardEntry
}

type guardEntry struct {
	done     bool
	finished time.Time
}

func newTurnGuard(ttl time.Duration) *turnGuard {
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	return &turnGuard{ttl: ttl, now: time.Now, seen: make(map[string]guardEntry)}
}

// begin claims id. An empty id is never deduplicated.
func (g *turnGuard) begin(id string) error {
	if id == "" {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sweep()
	if _, ok := g.seen[id]; ok {
		return ErrDuplicateTurn
	}
	g.seen[id] = guardEntry{}
	return nil
}

// finish keeps id claimed until the ttl runs out.
func (g *turnGuard) finish(id string) {
	if id == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen[id] = guardEntry{done: true, finished: g.now()}
}

// release forgets id so the same request can be retried.
func (g *turnGuard) release(id string) {
	if id == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, id)
}

func (g *turnGuard) sweep() {
	now := g.now()
	for id, e := range g.seen {
		if e.done && now.Sub(e.finished) > g.ttl {
			delete(g.seen, id)
		}
	}
}
