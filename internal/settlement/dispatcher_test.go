package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(DispatcherParam{Log: zap.NewNop()})
}

func TestDispatcherRunsEnqueuedWork(t *testing.T) {
	d := newTestDispatcher()

	var (
		mu    sync.Mutex
		calls []snowflake.ID
	)
	d.Bind(func(ctx context.Context, userID snowflake.ID) (int64, error) {
		mu.Lock()
		calls = append(calls, userID)
		mu.Unlock()
		return 1, nil
	})

	d.Enqueue(1)
	d.Enqueue(2)
	d.Drain()

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []snowflake.ID{1, 2}, calls)
}

func TestDispatcherSerializesPerUser(t *testing.T) {
	d := newTestDispatcher()

	var (
		mu         sync.Mutex
		inFlight   int
		maxByUser  = map[snowflake.ID]int{}
		perUserRun = map[snowflake.ID]int{}
	)
	d.Bind(func(ctx context.Context, userID snowflake.ID) (int64, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxByUser[userID] {
			maxByUser[userID] = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		perUserRun[userID]++
		mu.Unlock()
		return 0, nil
	})

	// Two users may interleave, but the same user must never overlap itself.
	for i := 0; i < 5; i++ {
		d.Enqueue(7)
	}
	d.Drain()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, maxByUser[7], "settlements for one user must not overlap")
	require.GreaterOrEqual(t, perUserRun[7], 1)
	require.LessOrEqual(t, perUserRun[7], 5)
}

func TestDispatcherRejectsAfterDrain(t *testing.T) {
	d := newTestDispatcher()

	var (
		mu    sync.Mutex
		count int
	)
	d.Bind(func(ctx context.Context, userID snowflake.ID) (int64, error) {
		mu.Lock()
		count++
		mu.Unlock()
		return 0, nil
	})

	d.Enqueue(1)
	d.Drain()

	mu.Lock()
	drained := count
	mu.Unlock()

	// Dropped silently once closed.
	d.Enqueue(2)
	d.Drain()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, drained, count)
}
