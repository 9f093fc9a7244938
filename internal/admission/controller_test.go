package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pixelmint-ledger/internal/testsupport"
)

func newTestController(timeout time.Duration) (*Controller, *testsupport.Clock) {
	clock := testsupport.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewController(timeout, testsupport.Logger())
	c.now = clock.Now
	return c, clock
}

func TestLimitPerUser(t *testing.T) {
	c, _ := newTestController(time.Minute)

	require.True(t, c.CanStart(1, 2))
	a := c.Start(1)
	require.True(t, c.CanStart(1, 2))
	b := c.Start(1)
	require.False(t, c.CanStart(1, 2))
	require.True(t, c.CanStart(2, 2), "other users are unaffected")

	c.End(a)
	require.True(t, c.CanStart(1, 2))
	require.Equal(t, 1, c.Active(1))

	c.End(b)
	require.Zero(t, c.Active(1))
}

func TestEndIsIdempotent(t *testing.T) {
	c, _ := newTestController(time.Minute)

	a := c.Start(1)
	b := c.Start(1)
	c.End(a)
	c.End(a)
	c.End("unknown-slot")

	require.Equal(t, 1, c.Active(1))
	c.End(b)
	require.Zero(t, c.Active(1))
}

func TestTryStartNeverExceedsLimit(t *testing.T) {
	c, _ := newTestController(time.Minute)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.TryStart(9, 3); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(3), admitted.Load())
	require.Equal(t, 3, c.Active(9))
}

func TestReapRemovesStaleSlots(t *testing.T) {
	c, clock := newTestController(10 * time.Minute)

	stale := c.Start(1)
	clock.Advance(8 * time.Minute)
	fresh := c.Start(1)
	clock.Advance(3 * time.Minute)

	require.Equal(t, 1, c.Reap())
	require.Equal(t, 1, c.Active(1))

	// ending a reaped slot must not free the fresh one
	c.End(stale)
	require.Equal(t, 1, c.Active(1))

	c.End(fresh)
	require.Zero(t, c.Active(1))
}

func TestRunStopsWithContext(t *testing.T) {
	c, _ := newTestController(time.Nanosecond)
	c.now = time.Now
	c.Start(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.Active(1) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
