package router

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/basket-router/internal/connection"
	"github.com/rickgao/basket-router/internal/message"
)

func TestParentChildMap_LinkAndLookup(t *testing.T) {
	p := NewParentChildMap()
	a := &stubConn{id: "a"}
	b := &stubConn{id: "b"}

	require.NoError(t, p.Link(1, 12, b))
	require.NoError(t, p.Link(1, 11, a))
	require.NoError(t, p.Link(1, 11, a), "same link twice is a no-op")

	err := p.Link(2, 11, a)
	assert.ErrorIs(t, err, ErrChildLinked)

	kids := p.Children(1)
	require.Len(t, kids, 2)
	assert.Equal(t, int64(11), kids[0].ID)
	assert.Equal(t, connection.ID("a"), kids[0].Conn.ID())
	assert.Equal(t, int64(12), kids[1].ID)

	parent, ok := p.ParentOf(12)
	require.True(t, ok)
	assert.Equal(t, int64(1), parent)

	assert.True(t, p.Unlink(1))
	assert.False(t, p.Unlink(1))
	_, ok = p.ParentOf(11)
	assert.False(t, ok)
	assert.Empty(t, p.Children(1))

	former, ok := p.Retired(11)
	require.True(t, ok)
	assert.Equal(t, int64(1), former)
	assert.Equal(t, 2, p.RetiredLen())
}

func TestParentChildMap_Clear(t *testing.T) {
	p := NewParentChildMap()
	p.Link(1, 10, &stubConn{id: "a"})
	p.Link(2, 20, &stubConn{id: "a"})

	p.Unlink(2)

	p.Clear()

	assert.Equal(t, 0, p.Len())
	_, ok := p.ParentOf(10)
	assert.False(t, ok)
	_, ok = p.Retired(20)
	assert.False(t, ok)
	assert.Equal(t, 0, p.RetiredLen())
}

func TestParentChildMap_ConcurrentLinks(t *testing.T) {
	p := NewParentChildMap()
	conn := &stubConn{id: "a"}

	var wg sync.WaitGroup
	for i := int64(0); i < 100; i++ {
		wg.Add(1)
		go func(child int64) {
			defer wg.Done()
			p.Link(child%5, 1000+child, conn)
			p.ParentOf(1000 + child)
		}(i)
	}
	wg.Wait()

	total := 0
	for parent := int64(0); parent < 5; parent++ {
		total += len(p.Children(parent))
	}
	assert.Equal(t, 100, total)
}

func TestSubscriptionTable_StartSemantics(t *testing.T) {
	tbl := NewSubscriptionTable()
	tbl.AddRoute(1, message.DataMarketData, "", []int64{10, 11, 12})

	route, ok := tbl.Get(1)
	require.True(t, ok)
	assert.True(t, route.IsBroadcast)
	assert.Equal(t, []int64{10, 11, 12}, route.Pending)

	out := tbl.OnChildAcknowledged(1, 11, errors.New("rejected"))
	assert.False(t, out.Forward)

	out = tbl.OnChildAcknowledged(1, 10, nil)
	assert.True(t, out.Forward)
	assert.NoError(t, out.Err)
	assert.False(t, out.Settled)

	out = tbl.OnChildAcknowledged(1, 12, nil)
	assert.False(t, out.Forward)
	assert.True(t, out.Settled)

	// Pending only shrinks.
	route, _ = tbl.Get(1)
	assert.Empty(t, route.Pending)

	out = tbl.OnChildAcknowledged(1, 12, nil)
	assert.False(t, out.Forward, "duplicate acknowledgement is ignored")
}

func TestSubscriptionTable_UnknownChildIgnored(t *testing.T) {
	tbl := NewSubscriptionTable()
	tbl.AddRoute(1, message.DataMarketData, "BTC", []int64{10})

	assert.False(t, tbl.OnChildAcknowledged(1, 99, nil).Forward)
	assert.False(t, tbl.OnChildAcknowledged(2, 10, nil).Forward)
	assert.False(t, tbl.OnChildFinished(1, 99).Forward)
	assert.False(t, tbl.OnChildOnline(1, 99).Forward)

	route, _ := tbl.Get(1)
	assert.False(t, route.IsBroadcast)
}

func TestSubscriptionTable_CompletionSemantics(t *testing.T) {
	tbl := NewSubscriptionTable()
	tbl.AddRoute(1, message.DataSecurityLookup, "", []int64{10, 11})

	assert.False(t, tbl.OnChildFinished(1, 10).Forward)
	assert.False(t, tbl.OnChildFinished(1, 10).Forward, "same child twice does not complete")

	out := tbl.OnChildFinished(1, 11)
	assert.True(t, out.Forward)
	assert.True(t, out.Settled)

	assert.False(t, tbl.OnChildFinished(1, 11).Forward, "fires once")
}

func TestSubscriptionTable_Unsubscribe(t *testing.T) {
	tbl := NewSubscriptionTable()
	tbl.AddRoute(2, message.DataMarketData, "", []int64{20})
	tbl.MarkUnsubscribe(2, 1)

	route, ok := tbl.Get(2)
	require.True(t, ok)
	assert.Equal(t, int64(1), route.Unsubscribes)

	assert.True(t, tbl.Remove(2))
	assert.False(t, tbl.Remove(2))
	assert.Equal(t, 0, tbl.Len())
}

func TestOrderTable_ResolveAndFallback(t *testing.T) {
	tbl := NewOrderTable(nil)
	routes := connection.NewStaticRoutes()
	b := &stubConn{id: "b"}
	routes.SetPortfolio("desk", connection.NewGuarded(b, 1))

	tbl.Bind(1, "a")
	id, ok := tbl.Resolve(1)
	require.True(t, ok)
	assert.Equal(t, connection.ID("a"), id)

	_, ok = tbl.Resolve(2)
	assert.False(t, ok)

	id, ok = tbl.ResolveByPortfolio("DESK", routes)
	require.True(t, ok)
	assert.Equal(t, connection.ID("b"), id, "fallback uses the normalized identity")

	_, ok = tbl.ResolveByPortfolio("other", routes)
	assert.False(t, ok)
	_, ok = tbl.ResolveByPortfolio("desk", nil)
	assert.False(t, ok)
}

func TestOrderTable_RestoreAndClear(t *testing.T) {
	tbl := NewOrderTable(connection.Underlying)
	tbl.Bind(1, "a")
	tbl.Restore(map[int64]connection.ID{1: "b", 2: "c"})

	id, _ := tbl.Resolve(1)
	assert.Equal(t, connection.ID("b"), id)
	assert.Equal(t, 2, tbl.Len())

	tbl.Clear()
	_, ok := tbl.Resolve(2)
	assert.False(t, ok)
}
