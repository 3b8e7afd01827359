package store

import (
	"context"
	"errors"
	"strings"
)

// ErrQuotaExceeded is returned when a write would push a store past its byte quota.
// The previous value for the key is left untouched.
var ErrQuotaExceeded = errors.New("store: quota exceeded")

// Store is a durable string keyed store scoped to the device.
// Keys enumerate in lexicographic order.
type Store interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	Key(ctx context.Context, index int) (string, bool, error)
	Length(ctx context.Context) (int, error)
}

// Sizer is implemented by stores able to report the bytes they hold.
type Sizer interface {
	Size(ctx context.Context) (int64, error)
}

// IsQuotaExceeded reports whether err carries ErrQuotaExceeded.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// Keys lists every key of s.
func Keys(ctx context.Context, s Store) ([]string, error) {
	return KeysWithPrefix(ctx, s, "")
}

// KeysWithPrefix lists the keys of s starting with prefix.
func KeysWithPrefix(ctx context.Context, s Store, prefix string) ([]string, error) {
	length, err := s.Length(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, length)
	for i := 0; i < length; i++ {
		key, ok, err := s.Key(ctx, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// SizeOf returns the bytes held by s, or zero when s cannot report it.
func SizeOf(ctx context.Context, s Store) (int64, error) {
	sizer, ok := s.(Sizer)
	if !ok {
		return 0, nil
	}
	return sizer.Size(ctx)
}

func entrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}
