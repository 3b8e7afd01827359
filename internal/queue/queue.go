// Package queue persists deferred writes and replays them, in order, once the
// network is available.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/charlesng35/campusync/internal/monitoring"
	"github.com/charlesng35/campusync/internal/store"
	apperrors "github.com/charlesng35/campusync/pkg/errors"
	"github.com/charlesng35/campusync/pkg/logger"
	"github.com/charlesng35/campusync/pkg/validator"
)

// Config holds the queue limits.
type Config struct {
	Capacity        int
	MaxAge          time.Duration
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	MaxRetries      int
	DeliveryTimeout time.Duration
}

// DefaultConfig returns the stock limits: 100 items, 24h max age, 1s..30s backoff,
// 3 retries.
func DefaultConfig() Config {
	return Config{
		Capacity:        100,
		MaxAge:          24 * time.Hour,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		MaxRetries:      3,
		DeliveryTimeout: 15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = def.Capacity
	}
	if c.MaxAge <= 0 {
		c.MaxAge = def.MaxAge
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = def.DeliveryTimeout
	}
	return c
}

// OnlineChecker reports whether deliveries may be attempted.
type OnlineChecker interface {
	IsOnline() bool
}

// Publisher receives queue events.
type Publisher interface {
	Publish(name string, payload any)
}

// Timer is a pending retry.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn after d.
type Scheduler func(d time.Duration, fn func()) Timer

func afterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Option customises a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithScheduler overrides how retry timers are created.
func WithScheduler(schedule Scheduler) Option {
	return func(q *Queue) {
		if schedule != nil {
			q.schedule = schedule
		}
	}
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(q *Queue) {
		q.events = p
	}
}

// Queue is the durable FIFO of pending writes.
type Queue struct {
	store    store.Store
	sender   Sender
	network  OnlineChecker
	events   Publisher
	cfg      Config
	now      func() time.Time
	schedule Scheduler
	log      *zap.Logger

	// mu guards the persisted read-modify-write cycle and the timer map. It is never
	// held across a delivery.
	mu     sync.Mutex
	timers map[string]Timer

	flushing atomic.Bool
	closed   atomic.Bool
	inflight sync.WaitGroup

	// outbox buffers events raised under mu; dispatch publishes them unlocked.
	outboxMu sync.Mutex
	outbox   []pendingEvent
}

type pendingEvent struct {
	name    string
	payload any
}

// New constructs a queue persisted in s.
func New(s store.Store, sender Sender, network OnlineChecker, cfg Config, opts ...Option) *Queue {
	q := &Queue{
		store:    s,
		sender:   sender,
		network:  network,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		schedule: afterFunc,
		log:      logger.WithModule("queue"),
		timers:   make(map[string]Timer),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Config returns the effective limits.
func (q *Queue) Config() Config {
	return q.cfg
}

// Enqueue appends a write and returns its id. The oldest items are evicted beyond
// capacity. When online, a flush starts in the background.
func (q *Queue) Enqueue(ctx context.Context, req Request) (string, error) {
	if err := validator.ValidateStruct(req); err != nil {
		if failures, ok := err.(validator.ValidationErrors); ok {
			return "", apperrors.NewValidation("", failures)
		}
		return "", apperrors.NewValidation(err.Error(), nil)
	}

	data, err := json.Marshal(req.Data)
	if err != nil {
		return "", apperrors.NewValidation(fmt.Sprintf("data is not serializable: %v", err), nil)
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.cfg.MaxRetries
	}
	item := Item{
		ID:         ulid.Make().String(),
		Type:       req.Type,
		Data:       data,
		Timestamp:  q.now(),
		MaxRetries: maxRetries,
		URL:        req.URL,
		Method:     strings.ToUpper(req.Method),
	}

	q.mu.Lock()
	items, err := q.load(ctx)
	if err != nil {
		q.mu.Unlock()
		return "", err
	}
	items, _ = q.sieve(items)
	items = append(items, item)
	if overflow := len(items) - q.cfg.Capacity; overflow > 0 {
		for _, evicted := range items[:overflow] {
			q.cancelTimerLocked(evicted.ID)
			q.drop(evicted, "capacity")
		}
		items = append([]Item(nil), items[overflow:]...)
	}
	items, err = q.save(ctx, items)
	q.mu.Unlock()
	defer q.dispatch()
	if err != nil {
		return "", err
	}

	q.log.Debug("item enqueued", zap.String("id", item.ID), zap.String("type", item.Type), zap.Int("size", len(items)))
	q.emit(EventChanged, ChangedEvent{Size: len(items)})

	if q.isOnline() && !q.closed.Load() {
		q.flushInBackground(context.WithoutCancel(ctx))
	}
	return item.ID, nil
}

// GetQueue returns the live items. Expired items are filtered out but stay in the
// store until the next save.
func (q *Queue) GetQueue(ctx context.Context) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	live, _ := q.sieve(items)
	return live, nil
}

// Flush attempts every live item once, oldest first. It is a no-op when offline and
// returns immediately with Skipped set when another flush is running.
func (q *Queue) Flush(ctx context.Context) (FlushReport, error) {
	if !q.flushing.CompareAndSwap(false, true) {
		return FlushReport{Skipped: true}, nil
	}
	defer q.flushing.Store(false)
	defer q.dispatch()

	if !q.isOnline() {
		return FlushReport{Offline: true}, nil
	}

	q.mu.Lock()
	items, err := q.load(ctx)
	q.mu.Unlock()
	if err != nil {
		return FlushReport{}, err
	}
	live, expired := q.sieve(items)

	report := FlushReport{Expired: len(expired)}
	removed := make(map[string]struct{}, len(expired))
	for _, item := range expired {
		removed[item.ID] = struct{}{}
		q.drop(item, "expired")
	}
	retries := make(map[string]int)

	for _, item := range live {
		if ctx.Err() != nil {
			break
		}
		if !q.isOnline() {
			report.Offline = true
			break
		}

		report.Attempted++
		err := q.deliver(ctx, item)
		q.emit(EventItemProcessed, ProcessedEvent{ID: item.ID, Type: item.Type, Success: err == nil})
		q.dispatch()

		if err == nil {
			report.Delivered++
			removed[item.ID] = struct{}{}
			q.cancelTimer(item.ID)
			continue
		}

		item.RetryCount++
		if item.RetryCount >= item.MaxRetries {
			report.Dropped++
			removed[item.ID] = struct{}{}
			q.cancelTimer(item.ID)
			q.log.Warn("dropping item after exhausting retries",
				zap.String("id", item.ID),
				zap.String("type", item.Type),
				zap.Int("retry_count", item.RetryCount),
				zap.Error(err),
			)
			q.drop(item, "exhausted")
			continue
		}

		report.Retried++
		retries[item.ID] = item.RetryCount
		delay := Backoff(q.cfg.BaseDelay, q.cfg.MaxDelay, item.RetryCount)
		q.log.Info("delivery failed, retry scheduled",
			zap.String("id", item.ID),
			zap.Int("retry_count", item.RetryCount),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		q.scheduleRetry(item.ID, delay)
	}

	size, err := q.merge(ctx, removed, retries)
	if err != nil {
		return report, err
	}
	if len(removed) > 0 || len(retries) > 0 {
		q.emit(EventChanged, ChangedEvent{Size: size})
	}
	return report, nil
}

// merge applies the outcome of a pass to the current persisted queue, preserving
// items enqueued while the pass was running.
func (q *Queue) merge(ctx context.Context, removed map[string]struct{}, retries map[string]int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	live, expired := q.sieve(current)
	for _, item := range expired {
		if _, seen := removed[item.ID]; !seen {
			q.drop(item, "expired")
		}
	}

	next := make([]Item, 0, len(live))
	for _, item := range live {
		if _, gone := removed[item.ID]; gone {
			continue
		}
		if count, ok := retries[item.ID]; ok {
			item.RetryCount = count
		}
		next = append(next, item)
	}

	next, err = q.save(ctx, next)
	return len(next), err
}

func (q *Queue) deliver(ctx context.Context, item Item) error {
	deliveryCtx, cancel := context.WithTimeout(ctx, q.cfg.DeliveryTimeout)
	defer cancel()

	start := time.Now()
	err := q.sender.Send(deliveryCtx, item)
	monitoring.RecordQueueDelivery(item.Type, err == nil, time.Since(start))
	return err
}

// Remove deletes one item and cancels its retry timer.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	defer q.dispatch()
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return false, err
	}
	next := make([]Item, 0, len(items))
	for _, item := range items {
		if item.ID != id {
			next = append(next, item)
		}
	}
	q.cancelTimerLocked(id)
	if len(next) == len(items) {
		return false, nil
	}

	next, err = q.save(ctx, next)
	if err != nil {
		return false, err
	}
	q.emit(EventChanged, ChangedEvent{Size: len(next)})
	return true, nil
}

// Clear empties the queue and cancels every pending retry.
func (q *Queue) Clear(ctx context.Context) error {
	defer q.dispatch()
	q.mu.Lock()
	defer q.mu.Unlock()

	q.cancelAllLocked()
	if _, err := q.save(ctx, []Item{}); err != nil {
		return err
	}
	q.emit(EventChanged, ChangedEvent{Size: 0})
	return nil
}

// Stats aggregates the live queue.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	items, err := q.GetQueue(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{TotalItems: len(items), ItemsByType: make(map[string]int)}
	for _, item := range items {
		stats.ItemsByType[item.Type]++
		if item.RetryCount > 0 {
			stats.FailedItems++
		}
		if stats.OldestItem == nil || item.Timestamp.Before(*stats.OldestItem) {
			ts := item.Timestamp
			stats.OldestItem = &ts
		}
	}
	return stats, nil
}

// Prune persists the expiry sieve and returns the number of items removed.
func (q *Queue) Prune(ctx context.Context) (int, error) {
	defer q.dispatch()
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	live, expired := q.sieve(items)
	if len(expired) == 0 {
		return 0, nil
	}
	for _, item := range expired {
		q.drop(item, "expired")
	}
	if _, err := q.save(ctx, live); err != nil {
		return 0, err
	}
	q.emit(EventChanged, ChangedEvent{Size: len(live)})
	return len(expired), nil
}

// PendingRetries returns the ids with a scheduled retry timer.
func (q *Queue) PendingRetries() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.timers))
	for id := range q.timers {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels pending retries and waits for background flushes to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed.CompareAndSwap(false, true) {
		q.mu.Unlock()
		return
	}
	q.cancelAllLocked()
	q.mu.Unlock()
	q.inflight.Wait()
}

// flushInBackground starts a flush unless the queue is closed. closed is only set
// under mu, so no Add can follow Close's Wait.
func (q *Queue) flushInBackground(ctx context.Context) {
	q.mu.Lock()
	if q.closed.Load() {
		q.mu.Unlock()
		return
	}
	q.inflight.Add(1)
	q.mu.Unlock()
	go func() {
		defer q.inflight.Done()
		if _, err := q.Flush(ctx); err != nil {
			q.log.Error("background flush failed", zap.Error(err))
		}
	}()
}

func (q *Queue) scheduleRetry(id string, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return
	}

	q.cancelTimerLocked(id)
	monitoring.ObserveRetryDelay(delay)

	var timer Timer
	timer = q.schedule(delay, func() {
		q.mu.Lock()
		if current, ok := q.timers[id]; ok && current == timer {
			delete(q.timers, id)
		}
		q.mu.Unlock()

		q.flushInBackground(context.Background())
	})
	q.timers[id] = timer
}

func (q *Queue) cancelTimer(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelTimerLocked(id)
}

func (q *Queue) cancelTimerLocked(id string) {
	if timer, ok := q.timers[id]; ok {
		timer.Stop()
		delete(q.timers, id)
	}
}

func (q *Queue) cancelAllLocked() {
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
}

// load reads the persisted queue. A corrupted value is logged and treated as empty.
func (q *Queue) load(ctx context.Context) ([]Item, error) {
	raw, ok, err := q.store.GetItem(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("queue: load: %w", err)
	}
	if !ok || raw == "" {
		return []Item{}, nil
	}

	var items []Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		q.log.Error("discarding unreadable queue", zap.Error(err))
		return []Item{}, nil
	}
	return items, nil
}

// sieve splits items into live ones and those older than MaxAge.
func (q *Queue) sieve(items []Item) (live, expired []Item) {
	now := q.now()
	live = make([]Item, 0, len(items))
	for _, item := range items {
		if now.Sub(item.Timestamp) > q.cfg.MaxAge {
			expired = append(expired, item)
			continue
		}
		live = append(live, item)
	}
	return live, expired
}

// save persists items. On a quota failure the oldest half is dropped and the write
// retried once. It returns what was actually stored.
func (q *Queue) save(ctx context.Context, items []Item) ([]Item, error) {
	err := q.write(ctx, items)
	if store.IsQuotaExceeded(err) && len(items) > 0 {
		half := (len(items) + 1) / 2
		for _, item := range items[:half] {
			q.drop(item, "quota")
		}
		items = append([]Item(nil), items[half:]...)
		q.log.Warn("store quota exceeded, dropped oldest queue items", zap.Int("dropped", half))
		err = q.write(ctx, items)
	}
	if err != nil {
		return nil, apperrors.PersistFailed(fmt.Errorf("queue: save: %w", err))
	}
	monitoring.SetQueueDepth(len(items))
	return items, nil
}

func (q *Queue) write(ctx context.Context, items []Item) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return q.store.SetItem(ctx, StorageKey, string(payload))
}

func (q *Queue) drop(item Item, reason string) {
	monitoring.RecordQueueDrop(item.Type, reason)
	q.emit(EventItemDropped, DroppedEvent{
		ID:         item.ID,
		Type:       item.Type,
		Reason:     reason,
		RetryCount: item.RetryCount,
	})
}

func (q *Queue) isOnline() bool {
	return q.network == nil || q.network.IsOnline()
}

func (q *Queue) emit(name string, payload any) {
	if q.events == nil {
		return
	}
	q.outboxMu.Lock()
	q.outbox = append(q.outbox, pendingEvent{name: name, payload: payload})
	q.outboxMu.Unlock()
}

// dispatch publishes buffered events. It must not be called with mu held.
func (q *Queue) dispatch() {
	if q.events == nil {
		return
	}
	q.outboxMu.Lock()
	pending := q.outbox
	q.outbox = nil
	q.outboxMu.Unlock()

	for _, event := range pending {
		q.events.Publish(event.name, event.payload)
	}
}
