package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LoopFunc is the body of a supervised loop. It must call ping once per
// iteration and return when ctx is cancelled. A panic inside the loop is
// treated like a termination and triggers a restart.
type LoopFunc func(ctx context.Context, ping func())

// Watchdog supervises named cooperative loops. A loop that stops pinging
// past the silence limit, or whose goroutine terminated for any reason, is
// cancelled (with a bounded wait) and re-created from its factory.
type Watchdog struct {
	interval    time.Duration
	silence     time.Duration
	stopTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	loops    map[string]*supervisedLoop
	restarts map[string]int
	running  bool
	runCtx   context.Context
}

type supervisedLoop struct {
	name     string
	factory  LoopFunc
	cancel   context.CancelFunc
	done     chan struct{}
	lastPing time.Time
}

// NewWatchdog creates a watchdog; loops registered before Run are started
// when Run begins
func NewWatchdog(interval, silence, stopTimeout time.Duration, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		interval:    interval,
		silence:     silence,
		stopTimeout: stopTimeout,
		logger:      logger.With("component", "watchdog"),
		loops:       make(map[string]*supervisedLoop),
		restarts:    make(map[string]int),
	}
}

// Register adds a named loop factory. If the watchdog is already running
// the loop starts immediately.
func (w *Watchdog) Register(name string, factory LoopFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	loop := &supervisedLoop{name: name, factory: factory}
	w.loops[name] = loop
	if w.running {
		w.spawnLocked(loop)
	}
}

// Ping records liveness for a named loop
func (w *Watchdog) Ping(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if loop, ok := w.loops[name]; ok {
		loop.lastPing = time.Now()
	}
}

// Restarts returns how many times a loop has been replaced
func (w *Watchdog) Restarts(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.restarts[name]
}

// Run starts all registered loops and blocks monitoring them until ctx is
// cancelled
func (w *Watchdog) Run(ctx context.Context) {
	w.mu.Lock()
	w.running = true
	w.runCtx = ctx
	for _, loop := range w.loops {
		w.spawnLocked(loop)
	}
	w.mu.Unlock()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopping")
			return
		case <-ticker.C:
			w.inspect()
		}
	}
}

// spawnLocked starts a loop goroutine; caller holds w.mu
func (w *Watchdog) spawnLocked(loop *supervisedLoop) {
	loopCtx, cancel := context.WithCancel(w.runCtx)
	loop.cancel = cancel
	loop.done = make(chan struct{})
	loop.lastPing = time.Now()

	name := loop.name
	done := loop.done
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("loop panicked", "loop", name, "panic", r)
			}
		}()
		loop.factory(loopCtx, func() { w.Ping(name) })
	}()
	w.logger.Info("loop started", "loop", name)
}

// inspect restarts every loop that terminated or went silent
func (w *Watchdog) inspect() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.runCtx.Err() != nil {
		return
	}

	for name, loop := range w.loops {
		terminated := false
		select {
		case <-loop.done:
			terminated = true
		default:
		}

		stale := time.Since(loop.lastPing) > w.silence
		if !terminated && !stale {
			continue
		}

		w.logger.Warn("restarting loop",
			"loop", name,
			"terminated", terminated,
			"last_ping", loop.lastPing,
		)

		loop.cancel()
		if !terminated {
			// Bounded wait for the stale goroutine, then proceed anyway.
			select {
			case <-loop.done:
			case <-time.After(w.stopTimeout):
				w.logger.Warn("loop did not stop in time, abandoning", "loop", name)
			}
		}

		w.restarts[name]++
		w.spawnLocked(loop)
	}
}
