package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/healthsync/internal/model"
)

func ids(list []model.Notification) []int64 {
	out := make([]int64, 0, len(list))
	for _, n := range list {
		out = append(out, n.ID)
	}
	return out
}

func TestAddAssignsMonotonicIDs(t *testing.T) {
	q := New(0)
	defer q.Close()

	a := q.Success("Saved", "Goal saved")
	b := q.Error("Failed", "Could not save")
	q.ClearAll()
	c := q.Info("Synced", "")

	assert.Less(t, a, b)
	assert.Less(t, b, c)
	assert.Equal(t, []int64{c}, ids(q.List()))
}

func TestUnsetTTLUsesDefault(t *testing.T) {
	q := New(0)
	defer q.Close()

	q.Add(Spec{Title: "hello"})
	list := q.List()
	require.Len(t, list, 1)
	assert.Equal(t, DefaultTTL, list[0].TTL)
	assert.False(t, list[0].Sticky())
	assert.Equal(t, model.NotificationInfo, list[0].Type)
}

func TestZeroTTLIsSticky(t *testing.T) {
	q := New(50 * time.Millisecond)
	defer q.Close()

	sticky := q.Add(Spec{Title: "sticky", TTL: TTL(0)})
	negative := q.Add(Spec{Title: "negative", TTL: TTL(-time.Second)})
	defaulted := q.Add(Spec{Title: "default"})

	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, []int64{sticky, negative}, ids(q.List()))
	assert.False(t, q.Remove(defaulted))

	assert.True(t, q.Remove(sticky))
	assert.True(t, q.Remove(negative))
	assert.Empty(t, q.List())
}

func TestTTLExpiry(t *testing.T) {
	q := New(time.Hour)
	defer q.Close()

	short := q.Add(Spec{Title: "short", TTL: TTL(100 * time.Millisecond)})
	long := q.Add(Spec{Title: "long"})

	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, []int64{long}, ids(q.List()))
	assert.False(t, q.Remove(short))
}

func TestRemoveCancelsTimer(t *testing.T) {
	q := New(0)
	defer q.Close()

	id := q.Add(Spec{Title: "x", TTL: TTL(50 * time.Millisecond)})
	assert.True(t, q.Remove(id))

	q.mu.Lock()
	_, pending := q.timers[id]
	q.mu.Unlock()
	assert.False(t, pending)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, q.List())
}

func TestClearAllCancelsTimers(t *testing.T) {
	q := New(0)
	defer q.Close()

	q.Add(Spec{Title: "a", TTL: TTL(time.Hour)})
	q.Add(Spec{Title: "b", TTL: TTL(Sticky)})
	q.ClearAll()

	assert.Zero(t, q.Len())
	q.mu.Lock()
	assert.Empty(t, q.timers)
	q.mu.Unlock()
}

func TestNoDeduplication(t *testing.T) {
	q := New(0)
	defer q.Close()

	q.Error("Save failed", "timeout")
	q.Error("Save failed", "timeout")

	assert.Equal(t, 2, q.Len())
}

func TestConcurrentProducers(t *testing.T) {
	q := New(time.Hour)
	defer q.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Info("tick", "")
			}
		}()
	}
	wg.Wait()

	list := q.List()
	require.Len(t, list, 1000)
	seen := make(map[int64]bool)
	for _, n := range list {
		assert.False(t, seen[n.ID])
		seen[n.ID] = true
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	q := New(0)
	defer q.Close()

	ch, cancel := q.Subscribe()
	defer cancel()

	initial := <-ch
	assert.Empty(t, initial)

	id := q.Warning("Offline", "live updates paused")

	select {
	case snap := <-ch:
		assert.Equal(t, []int64{id}, ids(snap))
	case <-time.After(time.Second):
		t.Fatal("no snapshot after Add")
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	q := New(0)
	ch, _ := q.Subscribe()
	<-ch

	q.Add(Spec{Title: "x", TTL: TTL(time.Hour)})
	q.Close()

	for range ch {
	}
	assert.Zero(t, q.Len())
}
