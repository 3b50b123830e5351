package router

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rickgao/basket-router/internal/connection"
)

// ErrChildLinked is returned when a child id is already linked to another parent.
var ErrChildLinked = errors.New("child already linked")

// Child is one inner request issued on behalf of a caller's request.
type Child struct {
	ID   int64
	Conn connection.Conn
}

// ParentChildMap links a caller's transaction id to the child ids that
// were sent to inner connections, and each child back to its parent.
//
// Unlinked children are retired rather than forgotten, so that a venue
// message arriving after its route was torn down can still be recognized
// as ours. Retired ids live until Clear.
type ParentChildMap struct {
	mu       sync.RWMutex
	children map[int64]map[int64]connection.Conn
	parents  map[int64]int64
	retired  map[int64]int64 // child -> former parent
}

// NewParentChildMap creates an empty map.
func NewParentChildMap() *ParentChildMap {
	return &ParentChildMap{
		children: make(map[int64]map[int64]connection.Conn),
		parents:  make(map[int64]int64),
		retired:  make(map[int64]int64),
	}
}

// Link records child as issued for parent on conn. Linking the same pair
// twice is a no-op.
func (p *ParentChildMap) Link(parent, child int64, conn connection.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.parents[child]; ok {
		if existing == parent {
			return nil
		}
		return fmt.Errorf("%w: child %d has parent %d, not %d", ErrChildLinked, child, existing, parent)
	}

	kids, ok := p.children[parent]
	if !ok {
		kids = make(map[int64]connection.Conn)
		p.children[parent] = kids
	}
	kids[child] = conn
	p.parents[child] = parent
	delete(p.retired, child)
	return nil
}

// Children returns the children of parent ordered by child id.
func (p *ParentChildMap) Children(parent int64) []Child {
	p.mu.RLock()
	defer p.mu.RUnlock()

	kids := p.children[parent]
	if len(kids) == 0 {
		return nil
	}

	out := make([]Child, 0, len(kids))
	for id, conn := range kids {
		out = append(out, Child{ID: id, Conn: conn})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ParentOf returns the parent of a child id.
func (p *ParentChildMap) ParentOf(child int64) (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	parent, ok := p.parents[child]
	return parent, ok
}

// Retired returns the former parent of a child whose parent was unlinked.
func (p *ParentChildMap) Retired(child int64) (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	parent, ok := p.retired[child]
	return parent, ok
}

// Unlink removes parent and retires all of its children.
func (p *ParentChildMap) Unlink(parent int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	kids, ok := p.children[parent]
	if !ok {
		return false
	}
	for child := range kids {
		delete(p.parents, child)
		p.retired[child] = parent
	}
	delete(p.children, parent)
	return true
}

// Len returns the number of linked parents.
func (p *ParentChildMap) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.children)
}

// RetiredLen returns the number of retired children.
func (p *ParentChildMap) RetiredLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.retired)
}

// Clear removes every link and every retired child.
func (p *ParentChildMap) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children = make(map[int64]map[int64]connection.Conn)
	p.parents = make(map[int64]int64)
	p.retired = make(map[int64]int64)
}
