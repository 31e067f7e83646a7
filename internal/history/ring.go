// Package history keeps an in-memory record of recently rendered
// explain cards per tenant, serving the realtime "what just happened"
// view without a database round trip.
package history

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/meshdrift/meshdrift/internal/model"
)

// Entry is one card with the time it was recorded.
type Entry struct {
	RecordedAt time.Time         `json:"recorded_at"`
	Card       model.ExplainCard `json:"card"`
}

// CardRing is a fixed-size ring buffer of explain cards.
type CardRing struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
	cap     int
}

// NewCardRing creates a ring buffer with the given capacity.
func NewCardRing(capacity int) *CardRing {
	if capacity <= 0 {
		capacity = 200
	}
	return &CardRing{
		entries: make([]Entry, capacity),
		cap:     capacity,
	}
}

// Push adds an entry, overwriting the oldest if full.
func (r *CardRing) Push(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.head] = e
	r.head = (r.head + 1) % r.cap
	if r.count < r.cap {
		r.count++
	}
}

// Recent returns up to limit entries, newest first.
func (r *CardRing) Recent(limit int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	result := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.head - 1 - i + r.cap) % r.cap
		result = append(result, r.entries[idx])
	}
	return result
}

// Tracker holds one ring per tenant, created on first use.
type Tracker struct {
	rings    *xsync.Map[string, *CardRing]
	capacity int
	now      func() time.Time
}

// NewTracker creates a tracker whose per-tenant rings hold capacity cards.
func NewTracker(capacity int) *Tracker {
	return &Tracker{
		rings:    xsync.NewMap[string, *CardRing](),
		capacity: capacity,
		now:      time.Now,
	}
}

// Record appends a detection run's cards to the tenant's ring.
func (t *Tracker) Record(tenantID string, cards []model.ExplainCard) {
	ring, _ := t.rings.LoadOrCompute(tenantID, func() (*CardRing, bool) {
		return NewCardRing(t.capacity), false
	})
	now := t.now().UTC()
	for _, card := range cards {
		ring.Push(Entry{RecordedAt: now, Card: card})
	}
}

// Recent returns the tenant's most recent entries, newest first.
func (t *Tracker) Recent(tenantID string, limit int) []Entry {
	ring, ok := t.rings.Load(tenantID)
	if !ok {
		return nil
	}
	return ring.Recent(limit)
}
