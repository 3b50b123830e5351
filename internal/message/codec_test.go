package message

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_OrderRegister(t *testing.T) {
	in := &OrderRegister{
		TransactionID: 42,
		Portfolio:     "acc-1",
		Instrument:    "BTC-USD",
		Side:          SideBuy,
		Price:         decimal.RequireFromString("101.25"),
		Volume:        decimal.RequireFromString("0.5"),
	}

	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)

	reg, ok := out.(*OrderRegister)
	require.True(t, ok, "decoded %T", out)
	assert.Equal(t, int64(42), reg.TransactionID)
	assert.Equal(t, "acc-1", reg.Portfolio)
	assert.True(t, in.Price.Equal(reg.Price), "Price = %s, want %s", reg.Price, in.Price)
	assert.True(t, in.Volume.Equal(reg.Volume))
}

func TestEncodeDecode_ErrorTravelsAsText(t *testing.T) {
	data, err := Encode(&Connect{Error: errors.New("handshake rejected")})
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)

	conn, ok := out.(*Connect)
	require.True(t, ok)
	require.Error(t, conn.Error)
	assert.Equal(t, "handshake rejected", conn.Error.Error())
}

func TestEncodeDecode_NoErrorStaysNil(t *testing.T) {
	data, err := Encode(&SubscriptionResponse{OriginalTransactionID: 7})
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.NoError(t, ErrorOf(out))
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"bogus"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)
}

func TestClone_CopiesSlices(t *testing.T) {
	md := &MarketData{SubscriptionIDs: []int64{1, 2}, Payload: []byte(`{"p":1}`)}
	c := md.Clone().(*MarketData)
	c.SubscriptionIDs[0] = 99

	assert.Equal(t, int64(1), md.SubscriptionIDs[0])
}

func TestSequence_ConcurrentUnique(t *testing.T) {
	seq := NewSequence(100)

	const n = 1000
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- seq.Next()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, n)
	for id := range ids {
		assert.Greater(t, id, int64(100))
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
