package router

import (
	"sync"

	"github.com/rickgao/basket-router/internal/connection"
)

// OrderTable remembers which connection each order transaction went to,
// so cancels and replaces follow the original order.
type OrderTable struct {
	normalize connection.Normalizer

	mu     sync.RWMutex
	routes map[int64]connection.ID
}

// NewOrderTable creates an empty table. A nil normalizer means connection.Underlying.
func NewOrderTable(normalize connection.Normalizer) *OrderTable {
	if normalize == nil {
		normalize = connection.Underlying
	}
	return &OrderTable{
		normalize: normalize,
		routes:    make(map[int64]connection.ID),
	}
}

// Bind records that orderID was sent to the connection id.
func (t *OrderTable) Bind(orderID int64, id connection.ID) {
	t.mu.Lock()
	t.routes[orderID] = id
	t.mu.Unlock()
}

// Resolve returns the connection an order was sent to.
func (t *OrderTable) Resolve(orderID int64) (connection.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.routes[orderID]
	return id, ok
}

// ResolveByPortfolio falls back to the connection mapped to a portfolio.
func (t *OrderTable) ResolveByPortfolio(portfolio string, lookup PortfolioLookup) (connection.ID, bool) {
	if portfolio == "" || lookup == nil {
		return "", false
	}
	h, ok := lookup.ConnectionForPortfolio(portfolio)
	if !ok || h == nil {
		return "", false
	}
	return t.normalize(h), true
}

// Restore loads bindings, replacing any existing binding for the same order.
func (t *OrderTable) Restore(bindings map[int64]connection.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for orderID, id := range bindings {
		t.routes[orderID] = id
	}
}

// Len returns the number of bindings.
func (t *OrderTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// Clear removes every binding.
func (t *OrderTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = make(map[int64]connection.ID)
}
