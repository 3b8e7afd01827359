package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusync/internal/queue"
	appErrors "github.com/charlesng35/campusync/pkg/errors"
	"github.com/charlesng35/campusync/pkg/response"
)

// MutationQueue is the subset of queue.Queue served over HTTP.
type MutationQueue interface {
	Enqueue(ctx context.Context, req queue.Request) (string, error)
	GetQueue(ctx context.Context) ([]queue.Item, error)
	Flush(ctx context.Context) (queue.FlushReport, error)
	Remove(ctx context.Context, id string) (bool, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (queue.Stats, error)
}

// QueueHandler exposes the pending mutation queue.
type QueueHandler struct {
	queue MutationQueue
}

// NewQueueHandler constructs a queue handler.
func NewQueueHandler(q MutationQueue) *QueueHandler {
	return &QueueHandler{queue: q}
}

// List returns the live queued items, oldest first.
func (h *QueueHandler) List(c *gin.Context) {
	items, err := h.queue.GetQueue(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{Count: len(items)})
}

// Stats returns the queue aggregate.
func (h *QueueHandler) Stats(c *gin.Context) {
	stats, err := h.queue.Stats(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// Enqueue accepts a write for deferred delivery.
func (h *QueueHandler) Enqueue(c *gin.Context) {
	var req queue.Request
	if !bindAndValidate(c, &req) {
		return
	}

	id, err := h.queue.Enqueue(requestContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"id": id})
}

// Flush runs one delivery pass and reports its outcome.
func (h *QueueHandler) Flush(c *gin.Context) {
	report, err := h.queue.Flush(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// Remove drops one item by id.
func (h *QueueHandler) Remove(c *gin.Context) {
	removed, err := h.queue.Remove(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !removed {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

// Clear drops every queued item.
func (h *QueueHandler) Clear(c *gin.Context) {
	if err := h.queue.Clear(requestContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"cleared": true})
}
