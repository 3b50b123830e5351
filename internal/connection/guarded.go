package connection

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/rickgao/basket-router/internal/message"
)

// Guarded wraps a Conn and bounds the number of sends in flight.
// It reports its own ID; use Underlying to reach the wrapped connection's key.
type Guarded struct {
	inner Conn
	sem   *semaphore.Weighted
}

// NewGuarded wraps inner with at most maxInFlight concurrent sends.
func NewGuarded(inner Conn, maxInFlight int64) *Guarded {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Guarded{
		inner: inner,
		sem:   semaphore.NewWeighted(maxInFlight),
	}
}

// ID returns the decorator's own label.
func (g *Guarded) ID() ID {
	return g.inner.ID() + "#guarded"
}

// Unwrap returns the wrapped connection.
func (g *Guarded) Unwrap() Handle {
	return g.inner
}

// Send waits for a free slot, then forwards to the wrapped connection.
func (g *Guarded) Send(ctx context.Context, m message.Message) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire send slot: %w", err)
	}
	defer g.sem.Release(1)

	return g.inner.Send(ctx, m)
}

// Events returns the wrapped connection's events.
func (g *Guarded) Events() <-chan message.Message {
	return g.inner.Events()
}
