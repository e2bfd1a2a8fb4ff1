package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSerializedPreservesPublishOrder(t *testing.T) {
	bus := New(nil)
	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(5)
	bus.Subscribe("e", Serialized, 1, 0, func(ctx context.Context, args ...interface{}) {
		defer wg.Done()
		mu.Lock()
		order = append(order, args[0].(int))
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), "e", i)
	}
	wg.Wait()

	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestParallelHandlerPanicDoesNotBlockSiblings(t *testing.T) {
	bus := New(nil)
	var ran int32

	bus.Subscribe("e", Parallel, 0, 0, func(ctx context.Context, args ...interface{}) {
		panic("boom")
	})
	bus.Subscribe("e", Parallel, 0, 0, func(ctx context.Context, args ...interface{}) {
		atomic.AddInt32(&ran, 1)
	})

	bus.Publish(context.Background(), "e")
	bus.Wait()

	require.Equal(t, int32(1), ran)
}

func TestPeriodicSleepFirstDelaysFirstRun(t *testing.T) {
	var runs int32
	start := time.Now()
	h := Periodic(context.Background(), 20*time.Millisecond, SleepFirst, func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
	})
	defer h.Stop()

	time.Sleep(5 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&runs), "sleep_first must not run immediately")

	time.Sleep(30 * time.Millisecond)
	require.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(1))
	require.True(t, time.Since(start) >= 20*time.Millisecond)
}

func TestPeriodicRunFirstRunsImmediately(t *testing.T) {
	done := make(chan struct{}, 1)
	h := Periodic(context.Background(), time.Hour, RunFirst, func(ctx context.Context) {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	defer h.Stop()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("run_first handler did not fire immediately")
	}
}
