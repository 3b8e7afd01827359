package queue

import (
	"encoding/json"
	"time"
)

// StorageKey is the store key holding the persisted queue.
const StorageKey = "offline-queue"

// Event names published by the queue.
const (
	EventItemProcessed = "queue.item.processed"
	EventItemDropped   = "queue.item.dropped"
	EventChanged       = "queue.changed"
)

// Item is a deferred write waiting for delivery.
type Item struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
	URL        string          `json:"url"`
	Method     string          `json:"method"`
}

// Request describes a write to enqueue. MaxRetries falls back to the queue default.
type Request struct {
	Type       string `json:"type" validate:"required"`
	Data       any    `json:"data"`
	URL        string `json:"url" validate:"required"`
	Method     string `json:"method" validate:"required,writemethod"`
	MaxRetries int    `json:"maxRetries,omitempty" validate:"gte=0"`
}

// Stats is an aggregate over the live queue.
type Stats struct {
	TotalItems  int            `json:"totalItems"`
	ItemsByType map[string]int `json:"itemsByType"`
	OldestItem  *time.Time     `json:"oldestItem,omitempty"`
	FailedItems int            `json:"failedItems"`
}

// FlushReport summarises one flush call.
type FlushReport struct {
	// Skipped is set when another flush was already running.
	Skipped bool `json:"skipped"`
	// Offline is set when the pass did not start (or stopped early) for lack of network.
	Offline   bool `json:"offline"`
	Attempted int  `json:"attempted"`
	Delivered int  `json:"delivered"`
	Retried   int  `json:"retried"`
	Dropped   int  `json:"dropped"`
	Expired   int  `json:"expired"`
}

// ProcessedEvent is the payload of EventItemProcessed.
type ProcessedEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

// DroppedEvent is the payload of EventItemDropped.
type DroppedEvent struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Reason     string `json:"reason"`
	RetryCount int    `json:"retryCount"`
}

// ChangedEvent is the payload of EventChanged.
type ChangedEvent struct {
	Size int `json:"size"`
}

// Backoff returns min(base*2^n, limit).
func Backoff(base, limit time.Duration, n int) time.Duration {
	delay := base
	for i := 0; i < n && delay < limit; i++ {
		delay *= 2
	}
	if delay > limit {
		return limit
	}
	return delay
}
