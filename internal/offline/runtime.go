package offline

import (
	"context"
	"fmt"

	"github.com/charlesng35/campusync/internal/cache"
	"github.com/charlesng35/campusync/internal/connectivity"
	"github.com/charlesng35/campusync/internal/events"
	"github.com/charlesng35/campusync/internal/queue"
	"github.com/charlesng35/campusync/internal/store"
)

// Options configure NewRuntime.
type Options struct {
	Queue queue.Config
	// Connectivity holds monitor options such as sources and the initial status.
	Connectivity []connectivity.Option
	QueueOptions []queue.Option
	CacheOptions []cache.Option
}

// Runtime is the single instance of the data layer shared by every consumer.
type Runtime struct {
	Store       store.Store
	Cache       *cache.Layer
	Monitor     *connectivity.Monitor
	Queue       *queue.Queue
	Bus         *events.Bus
	Coordinator *Coordinator
}

// NewRuntime builds the data layer over s. Nothing runs until Start.
func NewRuntime(ctx context.Context, s store.Store, sender queue.Sender, opts Options) (*Runtime, error) {
	if s == nil {
		return nil, fmt.Errorf("offline: store is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("offline: sender is required")
	}

	layer, err := cache.New(ctx, s, opts.CacheOptions...)
	if err != nil {
		return nil, fmt.Errorf("offline: cache: %w", err)
	}

	bus := events.NewBus()
	monitor := connectivity.NewMonitor(opts.Connectivity...)
	queueOpts := append([]queue.Option{queue.WithPublisher(bus)}, opts.QueueOptions...)
	q := queue.New(s, sender, monitor, opts.Queue, queueOpts...)

	return &Runtime{
		Store:       s,
		Cache:       layer,
		Monitor:     monitor,
		Queue:       q,
		Bus:         bus,
		Coordinator: NewCoordinator(monitor, q, bus),
	}, nil
}

// Start begins observing connectivity.
func (r *Runtime) Start(ctx context.Context) {
	r.Monitor.Initialize(ctx)
	r.Coordinator.Start(ctx)
}

// Close stops the monitor and the coordinator and cancels queued retries.
func (r *Runtime) Close() {
	r.Coordinator.Close()
	r.Monitor.Close()
	r.Queue.Close()
}
