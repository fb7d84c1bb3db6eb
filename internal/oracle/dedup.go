package oracle

import (
	"sync"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
)

// Dedup suppresses repeat submissions of the same attestation within a TTL.
// It is safe for concurrent use.
type Dedup struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	clock domain.Clock
}

// NewDedup returns a Dedup that treats a key as a duplicate for ttl after it
// was first recorded.
func NewDedup(ttl time.Duration, clock domain.Clock) *Dedup {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Dedup{seen: make(map[string]time.Time), ttl: ttl, clock: clock}
}

// Seen reports whether key was recorded within the TTL; otherwise it records
// key and returns false.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Forget drops key so the next Seen call records it afresh.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Cleanup removes expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	for k, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, k)
		}
	}
}
