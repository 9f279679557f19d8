package offline

import (
	"sync"
	"time"
)

// Capture is one raw photo held in the in-memory backlog.
type Capture struct {
	Seq        uint64
	JobID      string
	CapturedAt time.Time
	Image      []byte
}

// Ring is the bounded in-memory capture backlog. Like the durable queue it
// evicts oldest-first at capacity and always reports what was evicted.
type Ring struct {
	mu       sync.Mutex
	entries  []Capture
	capacity int
}

// NewRing builds a ring holding at most capacity captures.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 50
	}
	return &Ring{capacity: capacity}
}

// Push appends a capture, returning the evicted oldest capture when the ring
// was full, or nil.
func (r *Ring) Push(capture Capture) *Capture {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted *Capture
	if len(r.entries) >= r.capacity {
		oldest := r.entries[0]
		evicted = &oldest
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:len(r.entries)-1]
	}
	r.entries = append(r.entries, capture)
	return evicted
}

// Pop removes and returns the oldest capture, or nil when the ring is empty.
func (r *Ring) Pop() *Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	oldest := r.entries[0]
	copy(r.entries, r.entries[1:])
	r.entries = r.entries[:len(r.entries)-1]
	return &oldest
}

// Drain removes and returns all buffered captures in arrival order.
func (r *Ring) Drain() []Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := r.entries
	r.entries = nil
	return drained
}

// Len returns the number of buffered captures.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Capacity returns the ring's ceiling.
func (r *Ring) Capacity() int {
	return r.capacity
}
