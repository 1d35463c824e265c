// Package collectors samples the host and the SDK telemetry store, turning
// raw observations into classified events on the bus. Each collector owns
// one loop: sample, classify, publish, best-effort persistence.
package collectors

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Collector is one periodic sampling loop.
type Collector interface {
	Name() string
	Start(ctx context.Context)
	Stop()
}

// loop is the shared lifecycle embedded by every collector: a ticker-driven
// goroutine stopped by Stop or context cancellation.
type loop struct {
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newLoop() loop {
	return loop{stopCh: make(chan struct{})}
}

// every runs tick immediately and then on each interval until stopped. Tick
// errors are the collector's to log; the loop never exits on them.
func (l *loop) every(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick(ctx)
		for {
			select {
			case <-l.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
}

func (l *loop) stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

// StartAll starts the given collectors and returns a stop function that
// shuts them down in reverse order.
func StartAll(ctx context.Context, logger *slog.Logger, cs ...Collector) func() {
	for _, c := range cs {
		c.Start(ctx)
		logger.Info("collector started", "collector", c.Name())
	}
	return func() {
		for i := len(cs) - 1; i >= 0; i-- {
			cs[i].Stop()
			logger.Info("collector stopped", "collector", cs[i].Name())
		}
	}
}
