// Package connectivity tracks whether the remote side is reachable and how good the
// link is, and fans status changes out to subscribers.
package connectivity

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/campusync/internal/monitoring"
	"github.com/charlesng35/campusync/pkg/logger"
)

// Effective bandwidth classes, as reported by browsers' Network Information API.
const (
	EffectiveSlow2G = "slow-2g"
	Effective2G     = "2g"
	Effective3G     = "3g"
	Effective4G     = "4g"
)

// Status is a snapshot of the network. Empty strings mean unknown.
type Status struct {
	IsOnline       bool   `json:"isOnline"`
	ConnectionType string `json:"connectionType,omitempty"`
	EffectiveType  string `json:"effectiveType,omitempty"`
}

// Listener receives status snapshots.
type Listener func(Status)

// Reporter is the write side of a Monitor, handed to signal sources.
type Reporter interface {
	Status() Status
	SetOnline(online bool)
	SetConnection(connectionType, effectiveType string)
	Report(status Status)
}

// Source produces platform connectivity signals until ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, report Reporter)
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithInitialStatus sets the status held before any source reports.
func WithInitialStatus(status Status) Option {
	return func(m *Monitor) {
		m.status = status
	}
}

// WithSource registers a signal source started by Initialize.
func WithSource(source Source) Option {
	return func(m *Monitor) {
		if source != nil {
			m.sources = append(m.sources, source)
		}
	}
}

// Monitor owns the process-wide network status.
type Monitor struct {
	log     *zap.Logger
	sources []Source

	mu        sync.RWMutex
	status    Status
	listeners map[uint64]Listener
	nextID    uint64

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewMonitor builds a monitor. It starts online until told otherwise.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		log:       logger.WithModule("connectivity"),
		status:    Status{IsOnline: true},
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize starts the registered sources. Calling it again is a no-op.
func (m *Monitor) Initialize(ctx context.Context) {
	m.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		m.cancel = cancel

		status := m.Status()
		monitoring.RecordNetworkStatus(status.IsOnline, status.EffectiveType)
		for _, source := range m.sources {
			m.wg.Add(1)
			go func(source Source) {
				defer m.wg.Done()
				m.log.Debug("connectivity source started", zap.String("source", source.Name()))
				source.Run(ctx, m)
			}(source)
		}
		m.log.Info("connectivity monitor initialised",
			zap.Bool("online", status.IsOnline),
			zap.Int("sources", len(m.sources)),
		)
	})
}

// Close stops the sources and waits for them to return.
func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Status returns a copy of the current status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsOnline reports the current reachability.
func (m *Monitor) IsOnline() bool {
	return m.Status().IsOnline
}

// IsSlowConnection reports a slow-2g or 2g link.
func (m *Monitor) IsSlowConnection() bool {
	switch m.Status().EffectiveType {
	case EffectiveSlow2G, Effective2G:
		return true
	}
	return false
}

// IsFastConnection reports a 4g link. An unknown class counts as fast.
func (m *Monitor) IsFastConnection() bool {
	switch m.Status().EffectiveType {
	case Effective4G, "":
		return true
	}
	return false
}

// Subscribe registers listener, calls it once with the current status and returns
// a function that removes it.
func (m *Monitor) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	status := m.status
	m.mu.Unlock()

	m.invoke(id, listener, status)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// SetOnline records an online/offline signal.
func (m *Monitor) SetOnline(online bool) {
	m.update(func(s *Status) {
		s.IsOnline = online
	})
}

// SetConnection records a link-type change.
func (m *Monitor) SetConnection(connectionType, effectiveType string) {
	m.update(func(s *Status) {
		s.ConnectionType = connectionType
		s.EffectiveType = effectiveType
	})
}

// Report replaces the whole status at once.
func (m *Monitor) Report(status Status) {
	m.update(func(s *Status) {
		*s = status
	})
}

func (m *Monitor) update(mutate func(*Status)) {
	m.mu.Lock()
	previous := m.status
	next := previous
	mutate(&next)
	if next == previous {
		m.mu.Unlock()
		return
	}
	m.status = next

	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener, len(ids))
	for i, id := range ids {
		listeners[i] = m.listeners[id]
	}
	m.mu.Unlock()

	if next.IsOnline != previous.IsOnline {
		m.log.Info("network status changed",
			zap.Bool("online", next.IsOnline),
			zap.String("effective_type", next.EffectiveType),
		)
	} else {
		m.log.Debug("connection changed",
			zap.String("connection_type", next.ConnectionType),
			zap.String("effective_type", next.EffectiveType),
		)
	}
	monitoring.RecordNetworkStatus(next.IsOnline, next.EffectiveType)

	for i, listener := range listeners {
		m.invoke(ids[i], listener, next)
	}
}

func (m *Monitor) invoke(id uint64, listener Listener, status Status) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("connectivity listener panicked", zap.Uint64("listener", id), zap.Any("panic", r))
		}
	}()
	listener(status)
}
