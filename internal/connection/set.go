package connection

import "sync"

// Entry is a registered connection.
type Entry struct {
	ID           ID
	Conn         Conn
	Capabilities Capabilities
}

// Set is the registry of inner connections, kept in registration order.
// All keys go through the Set's normalizer.
type Set struct {
	normalize Normalizer

	mu      sync.RWMutex
	order   []ID
	entries map[ID]Entry
}

// NewSet creates an empty registry. A nil normalizer means Underlying.
func NewSet(normalize Normalizer) *Set {
	if normalize == nil {
		normalize = Underlying
	}
	return &Set{
		normalize: normalize,
		entries:   make(map[ID]Entry),
	}
}

// Normalize returns the key for a handle.
func (s *Set) Normalize(h Handle) ID {
	return s.normalize(h)
}

// Normalizer returns the function used for keys.
func (s *Set) Normalizer() Normalizer {
	return s.normalize
}

// Add registers a connection. Adding a connection whose key is already
// present replaces the handle and capabilities and returns false.
func (s *Set) Add(c Conn, caps Capabilities) (ID, bool) {
	id := s.normalize(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.entries[id]
	s.entries[id] = Entry{ID: id, Conn: c, Capabilities: caps}
	if !exists {
		s.order = append(s.order, id)
	}
	return id, !exists
}

// Get returns the entry for a key.
func (s *Set) Get(id ID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// All returns every entry in registration order.
func (s *Set) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

// Len returns the number of registered connections.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
