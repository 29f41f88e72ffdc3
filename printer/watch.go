package printer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ReachabilityCallback is called when a watched printer becomes reachable or unreachable.
type ReachabilityCallback func(reachable bool)

// Watcher periodically tests a printer's connection and reports changes.
type Watcher struct {
	printer  Printer
	interval time.Duration
	callback ReachabilityCallback
	logger   *slog.Logger

	mu        sync.Mutex
	known     bool
	reachable bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher. The callback fires once for the first result
// and then only on transitions.
func NewWatcher(p Printer, interval time.Duration, cb ReachabilityCallback, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		printer:  p,
		interval: interval,
		callback: cb,
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop halts the polling loop and waits for it to exit. Start must have been called.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

// Reachable returns the last observed result and whether any poll has completed.
func (w *Watcher) Reachable() (reachable, known bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reachable, w.known
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll(ctx)

	for {
		select {
		case <-ticker.C:
			w.poll(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	ok := w.printer.TestConnection(ctx)

	w.mu.Lock()
	changed := !w.known || w.reachable != ok
	w.known = true
	w.reachable = ok
	w.mu.Unlock()

	if !changed {
		return
	}
	if ok {
		w.logger.InfoContext(ctx, "printer reachable")
	} else {
		w.logger.WarnContext(ctx, "printer unreachable")
	}
	if w.callback != nil {
		w.callback(ok)
	}
}
