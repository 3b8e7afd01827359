// Package repository provides local-first CRUD over named collections of entities
// persisted as JSON arrays, with list and item results cached through the cache layer.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/campusync/internal/cache"
	"github.com/charlesng35/campusync/internal/models"
	"github.com/charlesng35/campusync/internal/monitoring"
	"github.com/charlesng35/campusync/internal/queue"
	"github.com/charlesng35/campusync/internal/store"
	apperrors "github.com/charlesng35/campusync/pkg/errors"
	"github.com/charlesng35/campusync/pkg/logger"
	"github.com/charlesng35/campusync/pkg/validator"
)

// DefaultTTL is how long list and item results stay cached.
const DefaultTTL = 5 * time.Minute

// Found is the result of a lookup by id.
type Found[T any] struct {
	Entity T
	OK     bool
}

// Patch is a partial update of one entity, used by BulkUpdate.
type Patch struct {
	ID      string         `json:"id"`
	Changes map[string]any `json:"changes"`
}

// Stats is a read-only aggregate over a collection.
type Stats struct {
	Total        int   `json:"total"`
	CreatedToday int   `json:"createdToday"`
	UpdatedToday int   `json:"updatedToday"`
	StorageSize  int64 `json:"storageSize"`
}

// Enqueuer accepts mirrored writes for remote delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.Request) (string, error)
}

// RemoteSpec describes how successful local writes are mirrored to a remote endpoint.
type RemoteSpec[T any] struct {
	Type string
	// Method for creates; UpdateMethod defaults to Method when empty.
	Method       string
	UpdateMethod string
	URL          func(entity T) string
	MaxRetries   int
}

// Option customises a Repository.
type Option func(*settings)

type settings struct {
	ttl      time.Duration
	now      func() time.Time
	validate bool
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source used for timestamps and stats.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithoutValidation disables struct tag validation on writes.
func WithoutValidation() Option {
	return func(s *settings) {
		s.validate = false
	}
}

// Repository is a collection of T persisted under its collection name.
// P is always *T; it is inferred by New.
type Repository[T any, P interface {
	*T
	models.Entity
}] struct {
	collection string
	store      store.Store
	cache      *cache.Layer
	settings   settings
	log        *zap.Logger

	enqueuer Enqueuer
	remote   *RemoteSpec[T]

	mu sync.RWMutex
}

// New constructs a repository for collection.
func New[T any, P interface {
	*T
	models.Entity
}](collection string, s store.Store, c *cache.Layer, opts ...Option) *Repository[T, P] {
	cfg := settings{ttl: DefaultTTL, now: time.Now, validate: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Repository[T, P]{
		collection: collection,
		store:      s,
		cache:      c,
		settings:   cfg,
		log:        logger.WithModule("repository").With(zap.String("collection", collection)),
	}
}

// WithRemote mirrors successful creates and updates into the mutation queue.
func (r *Repository[T, P]) WithRemote(enqueuer Enqueuer, spec RemoteSpec[T]) *Repository[T, P] {
	r.enqueuer = enqueuer
	r.remote = &spec
	return r
}

// Collection returns the collection name.
func (r *Repository[T, P]) Collection() string {
	return r.collection
}

func (r *Repository[T, P]) listGroup() string {
	return r.collection + "_all"
}

func (r *Repository[T, P]) itemGroup() string {
	return r.collection + "_item"
}

func (r *Repository[T, P]) itemKey(id string) string {
	return r.collection + "_" + id
}

func (r *Repository[T, P]) listKey(opts ListOptions) (string, error) {
	encoded, err := json.Marshal(opts)
	if err != nil {
		return "", apperrors.NewBadRequest(fmt.Sprintf("invalid list options: %v", err))
	}
	return r.collection + "_all_" + string(encoded), nil
}

// Create stamps a new id and timestamps on entity and appends it to the collection.
func (r *Repository[T, P]) Create(ctx context.Context, entity T) (T, error) {
	created, err := r.BulkCreate(ctx, []T{entity})
	if err != nil {
		var zero T
		return zero, err
	}
	return created[0], nil
}

// BulkCreate appends entities with a single write and a single invalidation.
func (r *Repository[T, P]) BulkCreate(ctx context.Context, entities []T) ([]T, error) {
	if len(entities) == 0 {
		return []T{}, nil
	}

	now := r.settings.now()
	created := make([]T, len(entities))
	for i, entity := range entities {
		base := P(&entity).Base()
		base.ID = ""
		base.Stamp(now)
		if err := r.validate(&entity); err != nil {
			r.record("create", err)
			return nil, err
		}
		created[i] = entity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	items, _, err := r.load(ctx)
	if err != nil {
		r.record("create", err)
		return nil, err
	}
	if err := r.save(ctx, append(items, created...)); err != nil {
		r.record("create", err)
		return nil, err
	}
	if err := r.invalidate(ctx); err != nil {
		return nil, err
	}

	r.record("create", nil)
	for _, entity := range created {
		r.mirror(ctx, entity, false)
	}
	return created, nil
}

// GetAll returns the entities matching opts, from the cache when possible.
func (r *Repository[T, P]) GetAll(ctx context.Context, opts ListOptions) ([]T, error) {
	key, err := r.listKey(opts)
	if err != nil {
		return nil, err
	}

	if opts.cacheEnabled() {
		lookup, err := cache.Get[[]T](ctx, r.cache, key, r.settings.ttl)
		if err != nil {
			r.log.Warn("list cache read failed", zap.Error(err))
		} else if lookup.Hit {
			r.record("list", nil)
			return lookup.Value, nil
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	items, _, err := r.load(ctx)
	if err != nil {
		r.record("list", err)
		return nil, err
	}
	result, err := apply(items, opts)
	if err != nil {
		r.record("list", err)
		return nil, err
	}

	if opts.cacheEnabled() {
		if err := cache.Set(ctx, r.cache, r.listGroup(), key, result); err != nil {
			r.log.Warn("list cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	r.record("list", nil)
	return result, nil
}

// GetByID looks an entity up, consulting the item cache first when useCache is set.
func (r *Repository[T, P]) GetByID(ctx context.Context, id string, useCache bool) (Found[T], error) {
	key := r.itemKey(id)
	if useCache {
		lookup, err := cache.Get[T](ctx, r.cache, key, r.settings.ttl)
		if err != nil {
			r.log.Warn("item cache read failed", zap.Error(err))
		} else if lookup.Hit {
			return Found[T]{Entity: lookup.Value, OK: true}, nil
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	items, _, err := r.load(ctx)
	if err != nil {
		return Found[T]{}, err
	}
	idx := indexOf[T, P](items, id)
	if idx < 0 {
		return Found[T]{}, nil
	}

	entity := items[idx]
	if useCache {
		if err := cache.Set(ctx, r.cache, r.itemGroup(), key, entity); err != nil {
			r.log.Warn("item cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return Found[T]{Entity: entity, OK: true}, nil
}

// Update merges changes into the entity with id. A missing id yields Found{OK: false}.
func (r *Repository[T, P]) Update(ctx context.Context, id string, changes map[string]any) (Found[T], error) {
	updated, err := r.BulkUpdate(ctx, []Patch{{ID: id, Changes: changes}})
	if err != nil || len(updated) == 0 {
		return Found[T]{}, err
	}
	return Found[T]{Entity: updated[0], OK: true}, nil
}

// BulkUpdate applies patches with a single write. Patches for unknown ids are skipped;
// the returned slice holds the updated entities in patch order.
func (r *Repository[T, P]) BulkUpdate(ctx context.Context, patches []Patch) ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, _, err := r.load(ctx)
	if err != nil {
		r.record("update", err)
		return nil, err
	}

	now := r.settings.now()
	updated := make([]T, 0, len(patches))
	touched := make([]string, 0, len(patches))
	for _, patch := range patches {
		idx := indexOf[T, P](items, patch.ID)
		if idx < 0 {
			continue
		}
		next, err := applyPatch[T, P](items[idx], patch.Changes, now)
		if err != nil {
			r.record("update", err)
			return nil, err
		}
		if err := r.validate(&next); err != nil {
			r.record("update", err)
			return nil, err
		}
		items[idx] = next
		updated = append(updated, next)
		touched = append(touched, patch.ID)
	}

	if len(updated) == 0 {
		r.record("update", nil)
		return updated, nil
	}
	if err := r.save(ctx, items); err != nil {
		r.record("update", err)
		return nil, err
	}
	if err := r.invalidate(ctx, touched...); err != nil {
		return nil, err
	}

	r.record("update", nil)
	for _, entity := range updated {
		r.mirror(ctx, entity, true)
	}
	return updated, nil
}

// Delete removes the entity with id. It reports false when nothing matched.
func (r *Repository[T, P]) Delete(ctx context.Context, id string) (bool, error) {
	n, err := r.BulkDelete(ctx, []string{id})
	return n > 0, err
}

// BulkDelete removes every entity whose id is listed, returning how many were removed.
func (r *Repository[T, P]) BulkDelete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	items, _, err := r.load(ctx)
	if err != nil {
		r.record("delete", err)
		return 0, err
	}

	kept := make([]T, 0, len(items))
	var removed []string
	for _, item := range items {
		id := P(&item).Base().ID
		if _, ok := wanted[id]; ok {
			removed = append(removed, id)
			continue
		}
		kept = append(kept, item)
	}
	if len(removed) == 0 {
		r.record("delete", nil)
		return 0, nil
	}

	if err := r.save(ctx, kept); err != nil {
		r.record("delete", err)
		return 0, err
	}
	if err := r.invalidate(ctx, removed...); err != nil {
		return 0, err
	}
	r.record("delete", nil)
	return len(removed), nil
}

// GetStats recomputes the collection aggregate on every call.
func (r *Repository[T, P]) GetStats(ctx context.Context) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items, size, err := r.load(ctx)
	if err != nil {
		return Stats{}, err
	}

	now := r.settings.now()
	stats := Stats{Total: len(items), StorageSize: size}
	for i := range items {
		base := P(&items[i]).Base()
		if sameDay(base.CreatedAt, now) {
			stats.CreatedToday++
		}
		if sameDay(base.UpdatedAt, now) {
			stats.UpdatedToday++
		}
	}
	return stats, nil
}

func sameDay(t, now time.Time) bool {
	t = t.In(now.Location())
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func indexOf[T any, P interface {
	*T
	models.Entity
}](items []T, id string) int {
	for i := range items {
		if P(&items[i]).Base().ID == id {
			return i
		}
	}
	return -1
}

// load reads the collection array and its serialized size.
func (r *Repository[T, P]) load(ctx context.Context) ([]T, int64, error) {
	raw, ok, err := r.store.GetItem(ctx, r.collection)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: load %s: %w", r.collection, err)
	}
	if !ok || raw == "" {
		return []T{}, 0, nil
	}

	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, 0, fmt.Errorf("repository: decode %s: %w", r.collection, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, int64(len(raw)), nil
}

// save writes the whole collection. A quota failure evicts the oldest half of the
// cache and retries once.
func (r *Repository[T, P]) save(ctx context.Context, items []T) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("repository: encode %s: %w", r.collection, err)
	}

	err = r.store.SetItem(ctx, r.collection, string(payload))
	if store.IsQuotaExceeded(err) {
		evicted, evictErr := r.cache.EvictHalf(ctx)
		if evictErr != nil {
			return apperrors.PersistFailed(evictErr)
		}
		r.log.Warn("store quota exceeded, retrying after cache eviction", zap.Int("evicted", evicted))
		err = r.store.SetItem(ctx, r.collection, string(payload))
	}
	if err != nil {
		return apperrors.PersistFailed(fmt.Errorf("repository: save %s: %w", r.collection, err))
	}
	return nil
}

// invalidate drops every cached list of the collection and the item entries for ids.
func (r *Repository[T, P]) invalidate(ctx context.Context, ids ...string) error {
	if err := r.cache.InvalidateGroup(ctx, r.listGroup()); err != nil {
		r.log.Error("list cache invalidation failed", zap.Error(err))
		return fmt.Errorf("repository: invalidate %s: %w", r.collection, err)
	}
	for _, id := range ids {
		if err := r.cache.InvalidateOne(ctx, r.itemKey(id)); err != nil {
			r.log.Error("item cache invalidation failed", zap.String("id", id), zap.Error(err))
			return fmt.Errorf("repository: invalidate %s: %w", r.itemKey(id), err)
		}
	}
	return nil
}

func (r *Repository[T, P]) validate(entity *T) error {
	if !r.settings.validate {
		return nil
	}
	err := validator.ValidateStruct(entity)
	if err == nil {
		return nil
	}
	if failures, ok := err.(validator.ValidationErrors); ok {
		return apperrors.NewValidation("", failures)
	}
	return apperrors.NewValidation(err.Error(), nil)
}

// mirror enqueues entity for remote delivery. Enqueue failures never fail the local write.
func (r *Repository[T, P]) mirror(ctx context.Context, entity T, update bool) {
	if r.enqueuer == nil || r.remote == nil || r.remote.URL == nil {
		return
	}

	method := r.remote.Method
	if update && r.remote.UpdateMethod != "" {
		method = r.remote.UpdateMethod
	}
	id, err := r.enqueuer.Enqueue(ctx, queue.Request{
		Type:       r.remote.Type,
		Data:       entity,
		URL:        r.remote.URL(entity),
		Method:     method,
		MaxRetries: r.remote.MaxRetries,
	})
	if err != nil {
		r.log.Warn("failed to enqueue remote mirror", zap.String("id", P(&entity).Base().ID), zap.Error(err))
		return
	}
	r.log.Debug("mirrored write enqueued", zap.String("queue_id", id), zap.String("type", r.remote.Type))
}

func (r *Repository[T, P]) record(operation string, err error) {
	result := "success"
	switch {
	case err == nil:
	case apperrors.HasCode(err, apperrors.ErrValidationFailed.Code):
		result = "invalid"
	default:
		result = "error"
	}
	monitoring.RecordRepositoryOperation(r.collection, operation, result)
}
