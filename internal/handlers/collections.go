package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusync/internal/repository"
	"github.com/charlesng35/campusync/internal/services"
	appErrors "github.com/charlesng35/campusync/pkg/errors"
	"github.com/charlesng35/campusync/pkg/response"
)

// requestContext returns the request's context, or Background for handlers driven
// without an http.Request.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}

// CollectionCatalog resolves collections by name.
type CollectionCatalog interface {
	Collection(name string) (services.Collection, bool)
	CollectionNames() []string
}

// CollectionHandler exposes every registered collection over REST.
type CollectionHandler struct {
	catalog CollectionCatalog
}

// NewCollectionHandler constructs a collection handler.
func NewCollectionHandler(catalog CollectionCatalog) *CollectionHandler {
	return &CollectionHandler{catalog: catalog}
}

// Query parameters with a fixed meaning on GET /collections/:name. Any other
// parameter is an equality filter.
var reservedListParams = map[string]struct{}{
	"offset": {}, "limit": {}, "orderBy": {}, "order": {},
	"q": {}, "fields": {}, "caseSensitive": {}, "cache": {},
}

type queryPayload struct {
	repository.ListOptions
	UseCache *bool `json:"useCache,omitempty"`
}

type bulkCreatePayload struct {
	Items []json.RawMessage `json:"items" binding:"required"`
}

type bulkUpdatePayload struct {
	Patches []repository.Patch `json:"patches" binding:"required"`
}

type bulkDeletePayload struct {
	IDs []string `json:"ids" binding:"required"`
}

// Names lists the registered collections.
func (h *CollectionHandler) Names(c *gin.Context) {
	response.Success(c, http.StatusOK, h.catalog.CollectionNames())
}

// List handles GET /collections/:name.
func (h *CollectionHandler) List(c *gin.Context) {
	coll, ok := h.resolve(c)
	if !ok {
		return
	}

	opts := listOptionsFromQuery(c)
	h.writeList(c, coll, opts)
}

// Query handles POST /collections/:name/query with ListOptions in the body.
func (h *CollectionHandler) Query(c *gin.Context) {
	coll, ok := h.resolve(c)
	if !ok {
		return
	}

	var payload queryPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			response.Error(c, appErrors.NewBadRequest("invalid query payload"))
			return
		}
	}
	opts := payload.ListOptions
	opts.UseCache = payload.UseCache
	h.writeList(c, coll, opts)
}

func (h *CollectionHandler) writeList(c *gin.Context, coll services.Collection, opts repository.ListOptions) {
	items, err := coll.List(requestContext(c), opts)
	if err != nil {
		response.Error(c, err)
		return
	}

	meta := &response.Meta{Count: lengthOf(items)}
	if opts.Pagination != nil {
		meta.Offset = opts.Pagination.Offset
		meta.Limit = opts.Pagination.Limit
	}
	response.SuccessWithMeta(c, http.StatusOK, items, meta)
}

// Stats handles GET /collections/:name/stats.
func (h *CollectionHandler) Stats(c *gin.Context) {
	coll, ok := h.resolve(c)
	if !ok {
		return
	}

	stats, err := coll.Stats(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// Get handles GET /collections/:name/:id.
func (h *CollectionHandler) Get(c *gin.Context) {
	coll, ok := h.resolve(c)
	if !ok {
		return
	}

	entity, found, err := coll.Get(requestContext(c), c.Param("id"), parseBoolQuery(c, "cache", true))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !found {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, entity)
}

// Create handles POST /collections/:name.
func (h *CollectionHandler) Create(c *gin.Context) {
	coll, ok := h.resolve(c)
	if !ok {
		return
	}

	var payload json.RawMessage
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return
	}

	created, err := coll.Create(requestContext(c), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, created)
}

// Update handles PATCH /collections/:name/:id.
func (h *CollectionHandler) Update(c *gin.Context) {
	coll, ok := h.resolve(c)
	if !ok {
		return
	}

	var changes map[string]any
	if err := c.ShouldBindJSON(&changes); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return
	}

	updated, found, err := coll.Update(requestContext(c), c.Param("id"), changes)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !found {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, updated)
}

// Delete handles DELETE /collections/:name/:id. Deleting a missing id succeeds.
func (h *CollectionHandler) Delete(c *gin.Context) {
	coll, ok := h.resolve(c)
	if !ok {
		return
	}

	deleted, err := coll.Delete(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": deleted})
}

// BulkCreate handles POST /collections/:name/bulk.
func (h *CollectionHandler) BulkCreate(c *gin.Context) {
	coll, ok := h.resolve(c)
	if !ok {
		return
	}

	var payload bulkCreatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.NewBadRequest("items are required"))
		return
	}

	created, err := coll.BulkCreate(requestContext(c), payload.Items)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusCreated, created, &response.Meta{Count: lengthOf(created)})
}

// BulkUpdate handles PATCH /collections/:name/bulk.
func (h *CollectionHandler) BulkUpdate(c *gin.Context) {
	coll, ok := h.resolve(c)
	if !ok {
		return
	}

	var payload bulkUpdatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.NewBadRequest("patches are required"))
		return
	}

	updated, err := coll.BulkUpdate(requestContext(c), payload.Patches)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, updated, &response.Meta{Count: lengthOf(updated)})
}

// BulkDelete handles DELETE /collections/:name/bulk.
func (h *CollectionHandler) BulkDelete(c *gin.Context) {
	coll, ok := h.resolve(c)
	if !ok {
		return
	}

	var payload bulkDeletePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.NewBadRequest("ids are required"))
		return
	}

	removed, err := coll.BulkDelete(requestContext(c), payload.IDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": removed})
}

func (h *CollectionHandler) resolve(c *gin.Context) (services.Collection, bool) {
	name := strings.TrimSpace(c.Param("name"))
	coll, ok := h.catalog.Collection(name)
	if !ok {
		response.Error(c, appErrors.New(appErrors.ErrNotFound.Code, "collection "+name+" not found", http.StatusNotFound))
		return nil, false
	}
	return coll, true
}

func listOptionsFromQuery(c *gin.Context) repository.ListOptions {
	var opts repository.ListOptions

	offset := parseIntQuery(c, "offset", 0)
	limit := parseIntQuery(c, "limit", 0)
	orderBy := strings.TrimSpace(c.Query("orderBy"))
	if offset > 0 || limit > 0 || orderBy != "" {
		opts.Pagination = &repository.Pagination{
			Offset:  offset,
			Limit:   limit,
			OrderBy: orderBy,
			Order:   strings.ToLower(strings.TrimSpace(c.Query("order"))),
		}
	}

	if q := strings.TrimSpace(c.Query("q")); q != "" {
		search := &repository.Search{Query: q, CaseSensitive: parseBoolQuery(c, "caseSensitive", false)}
		for _, field := range strings.Split(c.Query("fields"), ",") {
			if field = strings.TrimSpace(field); field != "" {
				search.Fields = append(search.Fields, field)
			}
		}
		opts.Search = search
	}

	for key, values := range c.Request.URL.Query() {
		if _, reserved := reservedListParams[key]; reserved || len(values) == 0 {
			continue
		}
		if opts.Filters == nil {
			opts.Filters = make(map[string]any)
		}
		opts.Filters[key] = values[0]
	}

	if !parseBoolQuery(c, "cache", true) {
		useCache := false
		opts.UseCache = &useCache
	}
	return opts
}

func lengthOf(value any) int {
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice {
		return rv.Len()
	}
	return 0
}
