package connection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/basket-router/internal/message"
)

// stubConn is a Conn that records what it was sent.
type stubConn struct {
	id     ID
	sent   []message.Message
	events chan message.Message
}

func newStubConn(id ID) *stubConn {
	return &stubConn{id: id, events: make(chan message.Message, 10)}
}

func (c *stubConn) ID() ID                          { return c.id }
func (c *stubConn) Events() <-chan message.Message { return c.events }
func (c *stubConn) Send(ctx context.Context, m message.Message) error {
	c.sent = append(c.sent, m)
	return nil
}

func TestUnderlying_SeesThroughDecorators(t *testing.T) {
	inner := newStubConn("venue-a")
	once := NewGuarded(inner, 1)
	twice := NewGuarded(once, 1)

	assert.Equal(t, ID("venue-a#guarded#guarded"), twice.ID())
	assert.Equal(t, ID("venue-a"), Underlying(twice))
	assert.Equal(t, ID("venue-a"), Underlying(inner))
}

func TestSet_DecoratedAndRawShareKey(t *testing.T) {
	inner := newStubConn("venue-a")
	s := NewSet(nil)

	id, added := s.Add(NewGuarded(inner, 2), Capabilities{Orders: true})
	require.True(t, added)
	assert.Equal(t, ID("venue-a"), id)

	e, ok := s.Get(s.Normalize(inner))
	require.True(t, ok)
	assert.Equal(t, ID("venue-a"), e.ID)
	assert.IsType(t, &Guarded{}, e.Conn, "registered (decorated) handle is returned")
}

func TestSet_ReAddReplacesWithoutDuplicating(t *testing.T) {
	s := NewSet(nil)
	s.Add(newStubConn("a"), Capabilities{})
	s.Add(newStubConn("b"), Capabilities{})

	_, added := s.Add(newStubConn("a"), Capabilities{Orders: true})
	assert.False(t, added)
	assert.Equal(t, 2, s.Len())

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, ID("a"), all[0].ID)
	assert.True(t, all[0].Capabilities.Orders)
}

func TestCapabilities_Supports(t *testing.T) {
	caps := Capabilities{DataTypes: []message.DataType{message.DataMarketData}}
	assert.True(t, caps.Supports(message.DataMarketData))
	assert.False(t, caps.Supports(message.DataSecurityLookup))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("WAIT_ALL")
	require.NoError(t, err)
	assert.Equal(t, ModeWaitAll, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeFirstSuccess, m)

	_, err = ParseMode("sometimes")
	assert.Error(t, err)
}

func TestStaticRoutes(t *testing.T) {
	r := NewStaticRoutes()
	a := newStubConn("a")
	b := newStubConn("b")

	r.SetPortfolio("Main-Account", a)
	h, ok := r.ConnectionForPortfolio("main-account")
	require.True(t, ok)
	assert.Equal(t, ID("a"), h.ID())

	r.RemovePortfolio("MAIN-ACCOUNT")
	_, ok = r.ConnectionForPortfolio("main-account")
	assert.False(t, ok)

	r.SetInstrument("BTC-USD", "", a)
	r.SetInstrument("BTC-USD", message.DataMarketData, b)

	h, ok = r.ConnectionForInstrument("BTC-USD", message.DataMarketData)
	require.True(t, ok)
	assert.Equal(t, ID("b"), h.ID())

	h, ok = r.ConnectionForInstrument("BTC-USD", message.DataSecurityLookup)
	require.True(t, ok)
	assert.Equal(t, ID("a"), h.ID())

	_, ok = r.ConnectionForInstrument("", message.DataMarketData)
	assert.False(t, ok)
}

func TestState_CombinedErrorOnlyFailed(t *testing.T) {
	s := NewState()
	s.Add("a", StatusConnecting)
	s.Add("b", StatusConnecting)
	s.Set("a", StatusFailed, errors.New("refused"))
	s.Set("b", StatusConnected, nil)

	err := s.CombinedError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: refused")

	c := s.Counts()
	assert.Equal(t, 2, c.Total)
	assert.Equal(t, 1, c.Failed)
	assert.Equal(t, 1, c.Connected)
	assert.Equal(t, 0, c.Pending())
}

func TestGuarded_LimitsInFlight(t *testing.T) {
	inner := &blockingConn{id: "slow", release: make(chan struct{}), entered: make(chan struct{}, 4)}
	g := NewGuarded(inner, 1)

	go g.Send(context.Background(), &message.Reset{})
	<-inner.entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Send(ctx, &message.Reset{})
	assert.ErrorIs(t, err, context.Canceled)

	close(inner.release)
}

type blockingConn struct {
	id      ID
	release chan struct{}
	entered chan struct{}
}

func (c *blockingConn) ID() ID                          { return c.id }
func (c *blockingConn) Events() <-chan message.Message { return nil }
func (c *blockingConn) Send(ctx context.Context, m message.Message) error {
	c.entered <- struct{}{}
	<-c.release
	return nil
}
