package router

import (
	"sync"

	"github.com/rickgao/basket-router/internal/message"
)

// PendingStore is a thread-safe FIFO of requests that arrived before any
// connection could serve them. The ring doubles its capacity when it
// reaches 70% full; it never blocks and never drops.
type PendingStore struct {
	mu       sync.Mutex
	buf      []message.Message
	head     int // read position
	tail     int // write position
	count    int
	capacity int

	// Stats
	totalReceived int64
	totalDrained  int64
	resizeCount   int
}

// NewPendingStore creates a store with the given initial capacity.
func NewPendingStore(initialCapacity int) *PendingStore {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &PendingStore{
		buf:      make([]message.Message, initialCapacity),
		capacity: initialCapacity,
	}
}

// Enqueue appends a request. No deduplication is done.
func (s *PendingStore) Enqueue(m message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Grow at or above 70% capacity after adding this item
	threshold := (s.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if s.count+1 >= threshold {
		s.grow()
	}

	s.buf[s.tail] = m
	s.tail = (s.tail + 1) % s.capacity
	s.count++
	s.totalReceived++
}

// DrainAll atomically removes and returns every request in arrival order.
func (s *PendingStore) DrainAll() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return nil
	}

	out := s.orderedLocked()
	s.totalDrained += int64(len(out))
	s.resetLocked()
	return out
}

// Remove deletes the first request matching pred, keeping the order of the rest.
func (s *PendingStore) Remove(pred func(message.Message) bool) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.orderedLocked()
	for i, m := range items {
		if !pred(m) {
			continue
		}
		rest := append(items[:i:i], items[i+1:]...)
		s.resetLocked()
		copy(s.buf, rest)
		s.count = len(rest)
		s.tail = s.count % s.capacity
		return m, true
	}
	return nil, false
}

// Len returns the number of queued requests.
func (s *PendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Clear discards every queued request.
func (s *PendingStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Stats returns buffer statistics.
func (s *PendingStore) Stats() BufferStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BufferStats{
		Count:         s.count,
		Capacity:      s.capacity,
		TotalReceived: s.totalReceived,
		TotalDrained:  s.totalDrained,
		ResizeCount:   s.resizeCount,
	}
}

// BufferStats contains pending store statistics.
type BufferStats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalDrained  int64
	ResizeCount   int
}

// orderedLocked copies the items out in FIFO order. Must be called with lock held.
func (s *PendingStore) orderedLocked() []message.Message {
	out := make([]message.Message, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.buf[(s.head+i)%s.capacity]
	}
	return out
}

// resetLocked empties the ring, clearing references for GC. Must be called with lock held.
func (s *PendingStore) resetLocked() {
	for i := range s.buf {
		s.buf[i] = nil
	}
	s.head = 0
	s.tail = 0
	s.count = 0
}

// grow doubles the buffer capacity. Must be called with lock held.
func (s *PendingStore) grow() {
	newCapacity := s.capacity * 2
	newBuf := make([]message.Message, newCapacity)

	if s.count > 0 {
		if s.head < s.tail {
			// Contiguous: [head...tail)
			copy(newBuf, s.buf[s.head:s.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, s.buf[s.head:])
			copy(newBuf[n:], s.buf[:s.tail])
		}
	}

	s.buf = newBuf
	s.head = 0
	s.tail = s.count
	s.capacity = newCapacity
	s.resizeCount++
}
