package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvents(t *testing.T) {
	bus := NewBus()
	done := make(chan struct{})

	cancel := bus.Subscribe("entry_added", func(_ Event) {
		close(done)
	})

	bus.Emit(Event{
		Key:   "entry_added",
		Entry: nil,
	})
	<-done
	cancel()
	bus.Emit(Event{Key: "entry_added"})
}

func TestEvents_Prefix(t *testing.T) {
	bus := NewBus()
	received := []string{}
	cancel := bus.Subscribe("cluster/", func(ev Event) {
		received = append(received, ev.Key)
	})
	defer cancel()
	exact := 0
	cancelExact := bus.Subscribe("cluster/member_up", func(ev Event) {
		exact++
		require.Equal(t, "node-1", ev.Entry)
	})
	bus.Emit(Event{Key: "cluster/member_up", Entry: "node-1"})
	bus.Emit(Event{Key: "cluster/member_removed", Entry: "node-1"})
	bus.Emit(Event{Key: "sharding/shard_allocated"})
	cancelExact()
	bus.Emit(Event{Key: "cluster/member_up", Entry: "node-1"})

	require.Equal(t, []string{"cluster/member_up", "cluster/member_removed", "cluster/member_up"}, received)
	require.Equal(t, 1, exact)
}

func TestEvents_ConcurrentSubscribe(t *testing.T) {
	bus := NewBus()
	wg := sync.WaitGroup{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cancel := bus.Subscribe("entry_added", func(Event) {})
			bus.Emit(Event{Key: "entry_added"})
			cancel()
		}()
	}
	wg.Wait()
	require.Equal(t, 0, bus.load().Len())
}

func BenchmarkEvents(b *testing.B) {
	bus := NewBus()
	cancel := bus.Subscribe("entry_added", func(_ Event) {})
	defer cancel()
	for i := 0; i < b.N; i++ {
		bus.Emit(Event{
			Key:   "entry_added",
			Entry: nil,
		})
	}
}
