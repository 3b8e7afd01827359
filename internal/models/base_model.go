package models

import (
	"time"

	"github.com/google/uuid"
)

// Record provides the bookkeeping fields shared by every repository entity.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Base exposes the embedded record so generic code can stamp identifiers and timestamps.
func (r *Record) Base() *Record {
	return r
}

// Stamp assigns a fresh identifier and creation timestamps.
func (r *Record) Stamp(now time.Time) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = now
	r.UpdatedAt = now
}

// Touch refreshes the update timestamp.
func (r *Record) Touch(now time.Time) {
	r.UpdatedAt = now
}

// Entity is implemented by pointers to any struct embedding Record.
type Entity interface {
	Base() *Record
}
