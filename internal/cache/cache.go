// Package cache keeps TTL-checked values in the persistent store and tracks them in
// an in-memory index so whole groups can be invalidated without scanning the store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/campusync/internal/monitoring"
	"github.com/charlesng35/campusync/internal/store"
	apperrors "github.com/charlesng35/campusync/pkg/errors"
	"github.com/charlesng35/campusync/pkg/logger"
)

// envelope is the persisted form of a cache entry.
type envelope struct {
	Group    string          `json:"group"`
	StoredAt int64           `json:"storedAt"`
	Value    json.RawMessage `json:"value"`
}

// Lookup is the result of a cache read. Value is the zero value on a miss.
type Lookup[T any] struct {
	Value T
	Hit   bool
}

type indexEntry struct {
	group    string
	storedAt time.Time
}

// Layer is a TTL cache over a store.Store. It is safe for concurrent use.
type Layer struct {
	store store.Store
	now   func() time.Time
	log   *zap.Logger

	mu     sync.Mutex
	keys   map[string]indexEntry
	groups map[string]map[string]struct{}
}

// Option customises a Layer.
type Option func(*Layer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Layer) {
		if now != nil {
			l.now = now
		}
	}
}

// New builds a Layer over s and rebuilds the index from the entries already present.
func New(ctx context.Context, s store.Store, opts ...Option) (*Layer, error) {
	l := &Layer{
		store:  s,
		now:    time.Now,
		log:    logger.WithModule("cache"),
		keys:   make(map[string]indexEntry),
		groups: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.rebuild(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Layer) rebuild(ctx context.Context) error {
	keys, err := store.Keys(ctx, l.store)
	if err != nil {
		return fmt.Errorf("cache: list keys: %w", err)
	}

	for _, key := range keys {
		raw, ok, err := l.store.GetItem(ctx, key)
		if err != nil {
			return fmt.Errorf("cache: read %q: %w", key, err)
		}
		if !ok {
			continue
		}
		env, ok := decodeEnvelope(raw)
		if !ok {
			continue
		}
		l.track(key, env.Group, time.Unix(0, env.StoredAt))
	}

	l.log.Debug("cache index rebuilt", zap.Int("entries", len(l.keys)), zap.Int("groups", len(l.groups)))
	return nil
}

func decodeEnvelope(raw string) (envelope, bool) {
	// Collections and the queue persist arrays; only objects can be envelopes.
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return envelope{}, false
	}
	if env.Group == "" || env.StoredAt == 0 || len(env.Value) == 0 {
		return envelope{}, false
	}
	return env, true
}

// GetRaw returns the stored JSON for key when it is younger than ttl.
// An entry exactly ttl old is a miss. Expired entries are left in place.
func (l *Layer) GetRaw(ctx context.Context, key string, ttl time.Duration) (json.RawMessage, bool, error) {
	raw, ok, err := l.store.GetItem(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %q: %w", key, err)
	}
	if !ok {
		monitoring.RecordCacheLookup(false)
		return nil, false, nil
	}

	env, ok := decodeEnvelope(raw)
	if !ok {
		l.log.Debug("ignoring non-cache value", zap.String("key", key))
		monitoring.RecordCacheLookup(false)
		return nil, false, nil
	}

	age := l.now().Sub(time.Unix(0, env.StoredAt))
	if age >= ttl {
		monitoring.RecordCacheLookup(false)
		return nil, false, nil
	}

	monitoring.RecordCacheLookup(true)
	return env.Value, true, nil
}

// SetRaw stores value under key in group, overwriting any previous entry.
// An empty group files the key under its own name.
func (l *Layer) SetRaw(ctx context.Context, group, key string, value json.RawMessage) error {
	if group == "" {
		group = key
	}
	storedAt := l.now()
	payload, err := json.Marshal(envelope{Group: group, StoredAt: storedAt.UnixNano(), Value: value})
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}

	err = l.store.SetItem(ctx, key, string(payload))
	if store.IsQuotaExceeded(err) {
		evicted, evictErr := l.EvictHalf(ctx)
		if evictErr != nil {
			return apperrors.PersistFailed(evictErr)
		}
		l.log.Warn("store quota exceeded, evicted cache entries", zap.String("key", key), zap.Int("evicted", evicted))
		err = l.store.SetItem(ctx, key, string(payload))
	}
	if err != nil {
		return apperrors.PersistFailed(fmt.Errorf("cache: set %q: %w", key, err))
	}

	l.mu.Lock()
	l.track(key, group, storedAt)
	l.mu.Unlock()
	return nil
}

// Get reads key and decodes it into T.
func Get[T any](ctx context.Context, l *Layer, key string, ttl time.Duration) (Lookup[T], error) {
	var out Lookup[T]
	raw, hit, err := l.GetRaw(ctx, key, ttl)
	if err != nil || !hit {
		return out, err
	}
	if err := json.Unmarshal(raw, &out.Value); err != nil {
		l.log.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return Lookup[T]{}, nil
	}
	out.Hit = true
	return out, nil
}

// Set encodes value as JSON and stores it under key in group.
func Set[T any](ctx context.Context, l *Layer, group, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	return l.SetRaw(ctx, group, key, raw)
}

// InvalidateOne removes a single entry.
func (l *Layer) InvalidateOne(ctx context.Context, key string) error {
	if err := l.store.RemoveItem(ctx, key); err != nil {
		return fmt.Errorf("cache: remove %q: %w", key, err)
	}
	l.mu.Lock()
	l.untrack(key)
	l.mu.Unlock()
	return nil
}

// InvalidateGroup removes every entry filed under group.
func (l *Layer) InvalidateGroup(ctx context.Context, group string) error {
	l.mu.Lock()
	keys := make([]string, 0, len(l.groups[group]))
	for key := range l.groups[group] {
		keys = append(keys, key)
	}
	l.mu.Unlock()

	return l.remove(ctx, keys, "invalidate")
}

// InvalidatePrefix removes every indexed entry whose key starts with prefix.
func (l *Layer) InvalidatePrefix(ctx context.Context, prefix string) error {
	l.mu.Lock()
	var keys []string
	for key := range l.keys {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	l.mu.Unlock()

	return l.remove(ctx, keys, "invalidate")
}

// Evict removes up to n entries, oldest first, and returns how many were removed.
func (l *Layer) Evict(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	keys := l.oldest(func(indexEntry) bool { return true })
	if len(keys) > n {
		keys = keys[:n]
	}
	if err := l.remove(ctx, keys, "quota"); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// EvictHalf removes the oldest half of the cached entries (at least one when any exist).
func (l *Layer) EvictHalf(ctx context.Context) (int, error) {
	n := l.Len()
	return l.Evict(ctx, (n+1)/2)
}

// PurgeOlderThan removes entries stored more than age ago.
func (l *Layer) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := l.now().Add(-age)
	keys := l.oldest(func(e indexEntry) bool { return e.storedAt.Before(cutoff) })
	if err := l.remove(ctx, keys, "expired"); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Len returns the number of indexed entries.
func (l *Layer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// GroupKeys returns the sorted keys currently filed under group.
func (l *Layer) GroupKeys(group string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.groups[group]))
	for key := range l.groups[group] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (l *Layer) oldest(match func(indexEntry) bool) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.keys))
	for key, entry := range l.keys {
		if match(entry) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := l.keys[keys[i]], l.keys[keys[j]]
		if a.storedAt.Equal(b.storedAt) {
			return keys[i] < keys[j]
		}
		return a.storedAt.Before(b.storedAt)
	})
	return keys
}

func (l *Layer) remove(ctx context.Context, keys []string, reason string) error {
	for _, key := range keys {
		if err := l.store.RemoveItem(ctx, key); err != nil {
			return fmt.Errorf("cache: remove %q: %w", key, err)
		}
		l.mu.Lock()
		l.untrack(key)
		l.mu.Unlock()
	}
	monitoring.RecordCacheEviction(reason, len(keys))
	return nil
}

// track must be called with mu held (or before the layer is shared).
func (l *Layer) track(key, group string, storedAt time.Time) {
	l.untrack(key)
	l.keys[key] = indexEntry{group: group, storedAt: storedAt}
	members, ok := l.groups[group]
	if !ok {
		members = make(map[string]struct{})
		l.groups[group] = members
	}
	members[key] = struct{}{}
}

func (l *Layer) untrack(key string) {
	entry, ok := l.keys[key]
	if !ok {
		return
	}
	delete(l.keys, key)
	if members := l.groups[entry.group]; members != nil {
		delete(members, key)
		if len(members) == 0 {
			delete(l.groups, entry.group)
		}
	}
}
