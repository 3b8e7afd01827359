// Package offline wires the data layer together: one store shared by the cache, the
// repositories and the mutation queue, with connectivity changes driving flushes.
package offline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/campusync/internal/connectivity"
	"github.com/charlesng35/campusync/internal/events"
	"github.com/charlesng35/campusync/internal/queue"
	"github.com/charlesng35/campusync/pkg/logger"
)

// Flusher drains pending writes.
type Flusher interface {
	Flush(ctx context.Context) (queue.FlushReport, error)
}

// StatusFeed delivers connectivity snapshots, starting with the current one.
type StatusFeed interface {
	Subscribe(listener connectivity.Listener) func()
}

// Coordinator flushes the queue whenever the network comes back and republishes
// every status change on the event bus.
type Coordinator struct {
	feed    StatusFeed
	flusher Flusher
	bus     *events.Bus
	log     *zap.Logger

	mu          sync.Mutex
	seen        bool
	online      bool
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewCoordinator constructs a coordinator. bus may be nil.
func NewCoordinator(feed StatusFeed, flusher Flusher, bus *events.Bus) *Coordinator {
	return &Coordinator{
		feed:    feed,
		flusher: flusher,
		bus:     bus,
		log:     logger.WithModule("offline"),
	}
}

// Start subscribes to the feed. When the network is already up, items persisted by
// a previous run are flushed right away.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.unsubscribe != nil {
		c.mu.Unlock()
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	unsubscribe := c.feed.Subscribe(c.onStatus)

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
}

// Close unsubscribes and waits for running flushes.
func (c *Coordinator) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	cancel := c.cancel
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Coordinator) onStatus(status connectivity.Status) {
	c.mu.Lock()
	reconnected := status.IsOnline && (!c.seen || !c.online)
	first := !c.seen
	c.seen = true
	c.online = status.IsOnline
	ctx := c.ctx
	c.mu.Unlock()

	c.bus.Publish(events.NetworkStatus, status)

	if !reconnected || ctx == nil || ctx.Err() != nil {
		return
	}
	if first {
		c.log.Debug("online at start, flushing persisted queue")
	} else {
		c.log.Info("network restored, flushing queue")
	}
	c.flush(ctx)
}

func (c *Coordinator) flush(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		report, err := c.flusher.Flush(ctx)
		if err != nil {
			c.log.Error("flush after reconnect failed", zap.Error(err))
			return
		}
		if report.Skipped {
			c.log.Debug("flush already running")
			return
		}
		c.log.Info("flush after reconnect finished",
			zap.Int("attempted", report.Attempted),
			zap.Int("delivered", report.Delivered),
			zap.Int("retried", report.Retried),
			zap.Int("dropped", report.Dropped),
		)
	}()
}
