package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charlesng35/campusync/internal/events"
	"github.com/charlesng35/campusync/internal/models"
	"github.com/charlesng35/campusync/internal/repository"
	apperrors "github.com/charlesng35/campusync/pkg/errors"
)

// Collection is a repository addressed by name with JSON-shaped payloads, for
// callers that do not know the entity type.
type Collection interface {
	Name() string
	List(ctx context.Context, opts repository.ListOptions) (any, error)
	Get(ctx context.Context, id string, useCache bool) (any, bool, error)
	Create(ctx context.Context, payload json.RawMessage) (any, error)
	BulkCreate(ctx context.Context, payloads []json.RawMessage) (any, error)
	Update(ctx context.Context, id string, changes map[string]any) (any, bool, error)
	BulkUpdate(ctx context.Context, patches []repository.Patch) (any, error)
	Delete(ctx context.Context, id string) (bool, error)
	BulkDelete(ctx context.Context, ids []string) (int, error)
	Stats(ctx context.Context) (repository.Stats, error)
}

// ChangeEvent is the payload of events.CollectionChanged.
type ChangeEvent struct {
	Collection string   `json:"collection"`
	Action     string   `json:"action"`
	IDs        []string `json:"ids"`
}

type collection[T any, P interface {
	*T
	models.Entity
}] struct {
	repo *repository.Repository[T, P]
	bus  *events.Bus
}

// Adapt exposes repo as a Collection. Mutations are announced on bus when it is set.
func Adapt[T any, P interface {
	*T
	models.Entity
}](repo *repository.Repository[T, P], bus *events.Bus) Collection {
	return &collection[T, P]{repo: repo, bus: bus}
}

func (c *collection[T, P]) Name() string {
	return c.repo.Collection()
}

func (c *collection[T, P]) List(ctx context.Context, opts repository.ListOptions) (any, error) {
	return c.repo.GetAll(ensureContext(ctx), opts)
}

func (c *collection[T, P]) Get(ctx context.Context, id string, useCache bool) (any, bool, error) {
	found, err := c.repo.GetByID(ensureContext(ctx), id, useCache)
	if err != nil || !found.OK {
		return nil, false, err
	}
	return found.Entity, true, nil
}

func (c *collection[T, P]) Create(ctx context.Context, payload json.RawMessage) (any, error) {
	entity, err := decodeEntity[T](payload)
	if err != nil {
		return nil, err
	}
	created, err := c.repo.Create(ensureContext(ctx), entity)
	if err != nil {
		return nil, err
	}
	c.announce("created", idOf[T, P](created))
	return created, nil
}

func (c *collection[T, P]) BulkCreate(ctx context.Context, payloads []json.RawMessage) (any, error) {
	entities := make([]T, 0, len(payloads))
	for i, payload := range payloads {
		entity, err := decodeEntity[T](payload)
		if err != nil {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("item %d: %s", i, apperrors.FromError(err).Message))
		}
		entities = append(entities, entity)
	}
	created, err := c.repo.BulkCreate(ensureContext(ctx), entities)
	if err != nil {
		return nil, err
	}
	c.announce("created", idsOf[T, P](created)...)
	return created, nil
}

func (c *collection[T, P]) Update(ctx context.Context, id string, changes map[string]any) (any, bool, error) {
	found, err := c.repo.Update(ensureContext(ctx), id, changes)
	if err != nil || !found.OK {
		return nil, false, err
	}
	c.announce("updated", id)
	return found.Entity, true, nil
}

func (c *collection[T, P]) BulkUpdate(ctx context.Context, patches []repository.Patch) (any, error) {
	updated, err := c.repo.BulkUpdate(ensureContext(ctx), patches)
	if err != nil {
		return nil, err
	}
	c.announce("updated", idsOf[T, P](updated)...)
	return updated, nil
}

func (c *collection[T, P]) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := c.repo.Delete(ensureContext(ctx), id)
	if err != nil || !deleted {
		return false, err
	}
	c.announce("deleted", id)
	return true, nil
}

func (c *collection[T, P]) BulkDelete(ctx context.Context, ids []string) (int, error) {
	ids = normaliseIDs(ids)
	removed, err := c.repo.BulkDelete(ensureContext(ctx), ids)
	if err != nil || removed == 0 {
		return removed, err
	}
	c.announce("deleted", ids...)
	return removed, nil
}

func (c *collection[T, P]) Stats(ctx context.Context) (repository.Stats, error) {
	return c.repo.GetStats(ensureContext(ctx))
}

func (c *collection[T, P]) announce(action string, ids ...string) {
	if c.bus == nil || len(ids) == 0 {
		return
	}
	c.bus.Publish(events.CollectionChanged, ChangeEvent{Collection: c.Name(), Action: action, IDs: ids})
}

func decodeEntity[T any](payload json.RawMessage) (T, error) {
	var entity T
	if len(payload) == 0 {
		return entity, apperrors.NewBadRequest("request body is required")
	}
	if err := json.Unmarshal(payload, &entity); err != nil {
		return entity, apperrors.NewBadRequest(fmt.Sprintf("invalid entity: %v", err))
	}
	return entity, nil
}

func idOf[T any, P interface {
	*T
	models.Entity
}](entity T) string {
	return P(&entity).Base().ID
}

func idsOf[T any, P interface {
	*T
	models.Entity
}](entities []T) []string {
	ids := make([]string, len(entities))
	for i := range entities {
		ids[i] = P(&entities[i]).Base().ID
	}
	return ids
}
