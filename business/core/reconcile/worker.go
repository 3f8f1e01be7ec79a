package reconcile

import (
	"context"
	"sync"
	"time"
)

// EventHandler defines a function that is called when events occur in the
// processing of a sync pass.
type EventHandler func(v string, args ...any)

// WorkerConfig represents the settings for the reconcile worker.
type WorkerConfig struct {
	Core      *Core
	Interval  time.Duration
	Timeout   time.Duration
	EvHandler EventHandler
	OnSync    func(ctx context.Context, stats Stats)
}

// Worker runs sync passes on an interval and on demand.
type Worker struct {
	core      *Core
	wg        sync.WaitGroup
	ticker    *time.Ticker
	timeout   time.Duration
	shut      chan struct{}
	startSync chan bool
	evHandler EventHandler
	onSync    func(ctx context.Context, stats Stats)
	once      sync.Once
}

// Run creates a worker, performs a first pass, and starts the goroutine
// that performs the rest.
func Run(cfg WorkerConfig) *Worker {
	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	w := Worker{
		core:      cfg.Core,
		ticker:    time.NewTicker(cfg.Interval),
		timeout:   timeout,
		shut:      make(chan struct{}),
		startSync: make(chan bool, 1),
		evHandler: ev,
		onSync:    cfg.OnSync,
	}

	// Bring the mirror up to date before starting the G.
	w.runSync()

	w.wg.Add(1)
	hasStarted := make(chan bool)

	go func() {
		defer w.wg.Done()
		hasStarted <- true
		w.syncOperations()
	}()

	<-hasStarted

	return &w
}

// Shutdown terminates the goroutine performing work.
func (w *Worker) Shutdown() {
	w.once.Do(func() {
		w.evHandler("reconcile: shutdown: started")
		defer w.evHandler("reconcile: shutdown: completed")

		w.ticker.Stop()
		close(w.shut)
		w.wg.Wait()
	})
}

// SignalSync requests a sync pass. If a request is already pending this
// one is folded into it.
func (w *Worker) SignalSync() {
	select {
	case w.startSync <- true:
		w.evHandler("reconcile: SignalSync: sync signaled")
	default:
		w.evHandler("reconcile: SignalSync: sync already pending")
	}
}

// =============================================================================

func (w *Worker) syncOperations() {
	w.evHandler("reconcile: syncOperations: G started")
	defer w.evHandler("reconcile: syncOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runSync()
			}

		case <-w.startSync:
			if !w.isShutdown() {
				w.runSync()
			}

		case <-w.shut:
			w.evHandler("reconcile: syncOperations: received shut signal")
			return
		}
	}
}

// runSync performs one pass. Failures are reported and the next tick
// tries again.
func (w *Worker) runSync() {
	w.evHandler("reconcile: runSync: started")
	defer w.evHandler("reconcile: runSync: completed")

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	stats, err := w.core.Sync(ctx)
	if err != nil {
		w.core.log.Errorw("reconcile", "status", "sync failed, mirror unchanged", "ERROR", err)
		w.evHandler("reconcile: runSync: ERROR: %s", err)
		return
	}

	w.evHandler("reconcile: runSync: live[%d] deleted[%d]", stats.Created, stats.Deleted)

	if w.onSync != nil {
		w.onSync(ctx, stats)
	}
}

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
