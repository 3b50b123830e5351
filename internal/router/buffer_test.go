package router

import (
	"sync"
	"testing"

	"github.com/rickgao/basket-router/internal/message"
)

func sub(id int64) *message.Subscription {
	return &message.Subscription{TransactionID: id, DataType: message.DataMarketData, IsSubscribe: true}
}

func txIDs(msgs []message.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case *message.Subscription:
			out = append(out, v.TransactionID)
		case *message.OrderRegister:
			out = append(out, v.TransactionID)
		}
	}
	return out
}

func TestPendingStore_DrainInOrder(t *testing.T) {
	s := NewPendingStore(10)

	for i := int64(1); i <= 5; i++ {
		s.Enqueue(sub(i))
	}

	if s.Len() != 5 {
		t.Errorf("Len() = %d, want 5", s.Len())
	}

	got := txIDs(s.DrainAll())
	for i, id := range got {
		if id != int64(i+1) {
			t.Errorf("drained[%d] = %d, want %d", i, id, i+1)
		}
	}

	if s.Len() != 0 {
		t.Errorf("Len() = %d after drain, want 0", s.Len())
	}
	if s.DrainAll() != nil {
		t.Error("second DrainAll should return nil")
	}
}

func TestPendingStore_GrowAt70Percent(t *testing.T) {
	s := NewPendingStore(10)

	// 7 items (70% of 10)
	for i := int64(0); i < 7; i++ {
		s.Enqueue(sub(i))
	}

	stats := s.Stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.ResizeCount != 1 {
		t.Errorf("ResizeCount = %d, want 1", stats.ResizeCount)
	}
}

func TestPendingStore_MultipleGrowsKeepOrder(t *testing.T) {
	s := NewPendingStore(4)

	for i := int64(0); i < 100; i++ {
		s.Enqueue(sub(i))
	}

	stats := s.Stats()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.ResizeCount < 3 {
		t.Errorf("ResizeCount = %d, expected at least 3 resizes", stats.ResizeCount)
	}

	got := txIDs(s.DrainAll())
	for i, id := range got {
		if id != int64(i) {
			t.Fatalf("drained[%d] = %d, want %d", i, id, i)
		}
	}

	stats = s.Stats()
	if stats.TotalReceived != 100 || stats.TotalDrained != 100 {
		t.Errorf("TotalReceived = %d, TotalDrained = %d, want 100/100", stats.TotalReceived, stats.TotalDrained)
	}
}

func TestPendingStore_Remove(t *testing.T) {
	s := NewPendingStore(4)
	for i := int64(1); i <= 4; i++ {
		s.Enqueue(sub(i))
	}

	m, ok := s.Remove(func(m message.Message) bool {
		v, ok := m.(*message.Subscription)
		return ok && v.TransactionID == 2
	})
	if !ok {
		t.Fatal("Remove should find transaction 2")
	}
	if m.(*message.Subscription).TransactionID != 2 {
		t.Errorf("removed %d, want 2", m.(*message.Subscription).TransactionID)
	}

	_, ok = s.Remove(func(message.Message) bool { return false })
	if ok {
		t.Error("Remove with no match should return false")
	}

	// Appending after a removal must keep FIFO order.
	s.Enqueue(sub(5))

	want := []int64{1, 3, 4, 5}
	got := txIDs(s.DrainAll())
	if len(got) != len(want) {
		t.Fatalf("drained %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("drained[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPendingStore_Clear(t *testing.T) {
	s := NewPendingStore(4)
	s.Enqueue(sub(1))
	s.Enqueue(sub(2))

	s.Clear()

	if s.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", s.Len())
	}
	if s.DrainAll() != nil {
		t.Error("DrainAll after Clear should return nil")
	}
}

func TestPendingStore_ConcurrentEnqueueDrain(t *testing.T) {
	s := NewPendingStore(2)

	const writers = 8
	const perWriter = 250

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		drained int
	)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Enqueue(sub(int64(w*perWriter + i)))
				if i%50 == 0 {
					n := len(s.DrainAll())
					mu.Lock()
					drained += n
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	drained += len(s.DrainAll())
	if drained != writers*perWriter {
		t.Errorf("drained %d items, want %d", drained, writers*perWriter)
	}
}
