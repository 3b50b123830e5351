package connection

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// Record is the lifecycle bookkeeping for one connection.
type Record struct {
	ID        ID
	Status    Status
	LastError error
}

// Counts are derived from the set of records on every call.
type Counts struct {
	Total         int
	Disconnected  int
	Connecting    int
	Connected     int
	Disconnecting int
	Failed        int
}

// Pending is the number of connections that have not reported a result yet.
func (c Counts) Pending() int {
	return c.Connecting + c.Disconnecting
}

// Down is the number of connections that are disconnected or failed.
func (c Counts) Down() int {
	return c.Disconnected + c.Failed
}

// State holds exactly one Record per registered connection.
type State struct {
	mu      sync.RWMutex
	order   []ID
	records map[ID]*Record
}

// NewState creates an empty State.
func NewState() *State {
	return &State{records: make(map[ID]*Record)}
}

// Add creates a record. It returns false and leaves the existing record
// untouched if id is already present.
func (s *State) Add(id ID, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		return false
	}
	s.records[id] = &Record{ID: id, Status: status}
	s.order = append(s.order, id)
	return true
}

// Set updates the status and last error of an existing record.
func (s *State) Set(id ID, status Status, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return false
	}
	r.Status = status
	r.LastError = err
	return true
}

// Transition moves every record currently in one of from to status to,
// clearing its last error.
func (s *State) Transition(to Status, from ...Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		for _, f := range from {
			if r.Status == f {
				r.Status = to
				r.LastError = nil
				break
			}
		}
	}
}

// Get returns a copy of a record.
func (s *State) Get(id ID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Counts tallies records by status.
func (s *State) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := Counts{Total: len(s.records)}
	for _, r := range s.records {
		switch r.Status {
		case StatusDisconnected:
			c.Disconnected++
		case StatusConnecting:
			c.Connecting++
		case StatusConnected:
			c.Connected++
		case StatusDisconnecting:
			c.Disconnecting++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

// CombinedError joins the last error of every failed record, tagged with its id.
func (s *State) CombinedError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var err error
	for _, id := range s.order {
		r := s.records[id]
		if r.Status == StatusFailed && r.LastError != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", id, r.LastError))
		}
	}
	return err
}

// Snapshot returns copies of all records in registration order.
func (s *State) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}
	return out
}

// Clear removes every record.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.records = make(map[ID]*Record)
}
