package connection

import (
	"strings"
	"sync"

	"github.com/rickgao/basket-router/internal/message"
)

// StaticRoutes maps portfolios and instruments to the connection serving them.
// Portfolio names are case-insensitive.
type StaticRoutes struct {
	mu          sync.RWMutex
	portfolios  map[string]Handle
	instruments map[instrumentKey]Handle
}

type instrumentKey struct {
	instrument string
	dataType   message.DataType // empty = any data type
}

// NewStaticRoutes creates empty routing tables.
func NewStaticRoutes() *StaticRoutes {
	return &StaticRoutes{
		portfolios:  make(map[string]Handle),
		instruments: make(map[instrumentKey]Handle),
	}
}

// SetPortfolio routes a portfolio to a connection.
func (r *StaticRoutes) SetPortfolio(portfolio string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.portfolios[strings.ToLower(portfolio)] = h
}

// RemovePortfolio drops a portfolio route.
func (r *StaticRoutes) RemovePortfolio(portfolio string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.portfolios, strings.ToLower(portfolio))
}

// SetInstrument routes an instrument to a connection. An empty data type
// applies to every data type without a more specific route.
func (r *StaticRoutes) SetInstrument(instrument string, dt message.DataType, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instruments[instrumentKey{instrument, dt}] = h
}

// ConnectionForPortfolio returns the connection serving a portfolio.
func (r *StaticRoutes) ConnectionForPortfolio(portfolio string) (Handle, bool) {
	if portfolio == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.portfolios[strings.ToLower(portfolio)]
	return h, ok
}

// ConnectionForInstrument returns the connection serving an instrument,
// preferring a route specific to the data type.
func (r *StaticRoutes) ConnectionForInstrument(instrument string, dt message.DataType) (Handle, bool) {
	if instrument == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.instruments[instrumentKey{instrument, dt}]; ok {
		return h, true
	}
	h, ok := r.instruments[instrumentKey{instrument, ""}]
	return h, ok
}
