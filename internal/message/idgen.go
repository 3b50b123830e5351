package message

import "sync/atomic"

// IDGenerator mints transaction ids.
type IDGenerator interface {
	Next() int64
}

// Sequence is a monotonically increasing IDGenerator safe for concurrent use.
type Sequence struct {
	last atomic.Int64
}

// NewSequence returns a Sequence whose first id is seed+1.
func NewSequence(seed int64) *Sequence {
	s := &Sequence{}
	s.last.Store(seed)
	return s
}

// Next returns the next id.
func (s *Sequence) Next() int64 {
	return s.last.Add(1)
}
