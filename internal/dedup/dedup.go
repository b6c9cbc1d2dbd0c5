// Package dedup implements the Event Deduplicator (component B of
// spec.md §2, detailed in §4.2): a size-bounded set of seen event IDs,
// evicting the oldest-inserted ID first, that rejects re-delivery.
package dedup

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultMaxSize is the default cache bound (§4.2).
const DefaultMaxSize = 1000

// Deduplicator is a thread-safe, insertion-ordered, capacity-bounded set
// of event IDs. Eviction is oldest-inserted, not least-recently-used:
// re-seeing a duplicate must never extend its life (§4.2 rationale),
// so IsDuplicate never touches ordering.
type Deduplicator struct {
	mu      sync.Mutex
	maxSize int
	seen    *orderedmap.OrderedMap[string, time.Time]
}

// New creates a Deduplicator bounded at maxSize entries. maxSize <= 0
// falls back to DefaultMaxSize.
func New(maxSize int) *Deduplicator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Deduplicator{
		maxSize: maxSize,
		seen:    orderedmap.New[string, time.Time](),
	}
}

// IsDuplicate reports whether eventID has been seen before. If it hasn't,
// it is recorded as seen and false is returned; if the cache is at
// capacity the oldest-inserted id is evicted first.
func (d *Deduplicator) IsDuplicate(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen.Get(eventID); exists {
		return true
	}

	if d.seen.Len() >= d.maxSize {
		oldest := d.seen.Oldest()
		if oldest != nil {
			d.seen.Delete(oldest.Key)
		}
	}
	d.seen.Set(eventID, time.Now())
	return false
}

// Size returns the current number of tracked ids (used by
// GetDeduplicatorStats, §6.4, and to assert P7's bounded-memory property).
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen.Len()
}

// Stats is the diagnostic snapshot returned by the core's
// GetDeduplicatorStats operation.
type Stats struct {
	Size    int `json:"size"`
	MaxSize int `json:"maxSize"`
}

// GetStats returns a snapshot of the cache's current occupancy.
func (d *Deduplicator) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Size: d.seen.Len(), MaxSize: d.maxSize}
}

// Reset clears all tracked ids (used by clearAllProcessingState, §6.4).
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = orderedmap.New[string, time.Time]()
}
