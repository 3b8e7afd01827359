package store

import (
	"context"
	"sync"
)

// QuotaStore enforces a byte quota on top of a backend able to report its size.
type QuotaStore struct {
	Store
	sizer Sizer
	limit int64
	mu    sync.Mutex
}

// NewQuotaStore wraps backend with a quota of limit bytes. A non-positive limit disables
// the check.
func NewQuotaStore(backend interface {
	Store
	Sizer
}, limit int64) *QuotaStore {
	return &QuotaStore{Store: backend, sizer: backend, limit: limit}
}

func (q *QuotaStore) SetItem(ctx context.Context, key, value string) error {
	if q.limit <= 0 {
		return q.Store.SetItem(ctx, key, value)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	used, err := q.sizer.Size(ctx)
	if err != nil {
		return err
	}
	previous, exists, err := q.Store.GetItem(ctx, key)
	if err != nil {
		return err
	}

	next := used + entrySize(key, value)
	if exists {
		next -= entrySize(key, previous)
	}
	if next > q.limit {
		return ErrQuotaExceeded
	}
	return q.Store.SetItem(ctx, key, value)
}

func (q *QuotaStore) Size(ctx context.Context) (int64, error) {
	return q.sizer.Size(ctx)
}

// Limit returns the configured quota in bytes.
func (q *QuotaStore) Limit() int64 {
	return q.limit
}
