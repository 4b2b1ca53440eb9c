package distributor

import "sync"

// DefaultRingSize is the number of screenshots kept per adapter.
const DefaultRingSize = 3

// Ring keeps the most recent screenshots of an adapter.
type Ring struct {
	mu    sync.Mutex
	items [][]byte
	next  int
	count int
}

// NewRing returns a Ring holding at most size images.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{items: make([][]byte, size)}
}

// Push stores img, evicting the oldest entry when full.
func (r *Ring) Push(img []byte) {
	if len(img) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = img
	r.next = (r.next + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
}

// Len returns the number of stored images.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Drain returns the stored images most recent first and empties the ring.
func (r *Ring) Drain() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, 0, r.count)
	for i := 1; i <= r.count; i++ {
		idx := (r.next - i + len(r.items)) % len(r.items)
		out = append(out, r.items[idx])
		r.items[idx] = nil
	}
	r.count = 0
	r.next = 0
	return out
}
