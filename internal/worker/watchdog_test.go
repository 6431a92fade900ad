package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdogRestartsTerminatedLoop(t *testing.T) {
	w := NewWatchdog(20*time.Millisecond, time.Minute, 50*time.Millisecond, testLogger())

	var starts atomic.Int32
	w.Register("flaky", func(ctx context.Context, ping func()) {
		n := starts.Add(1)
		if n == 1 {
			// First incarnation dies immediately.
			return
		}
		// Replacement stays alive.
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ping()
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return w.Restarts("flaky") >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// The healthy replacement is not restarted again.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, w.Restarts("flaky"))

	cancel()
	<-done
}

func TestWatchdogRestartsSilentLoop(t *testing.T) {
	w := NewWatchdog(20*time.Millisecond, 40*time.Millisecond, 20*time.Millisecond, testLogger())

	var starts atomic.Int32
	w.Register("mute", func(ctx context.Context, ping func()) {
		starts.Add(1)
		// Never pings; blocks until cancelled.
		<-ctx.Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return w.Restarts("mute") >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, starts.Load(), int32(2))

	cancel()
	<-done
}

func TestWatchdogRecoversPanickedLoop(t *testing.T) {
	w := NewWatchdog(20*time.Millisecond, time.Minute, 20*time.Millisecond, testLogger())

	var starts atomic.Int32
	w.Register("panicky", func(ctx context.Context, ping func()) {
		if starts.Add(1) == 1 {
			panic("boom")
		}
		<-ctx.Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return starts.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
