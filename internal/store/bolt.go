package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const boltBucketEntries = "entries"

// BoltStore is a single bucket bbolt file store for embedded devices.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (or creates) the bbolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create bolt dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucketEntries))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create bolt bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the underlying file lock.
func (b *BoltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *BoltStore) GetItem(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(boltBucketEntries)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		value, found = string(raw), true
		return nil
	})
	return value, found, err
}

func (b *BoltStore) SetItem(_ context.Context, key, value string) error {
	if key == "" {
		return errors.New("store: key is required")
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketEntries)).Put([]byte(key), []byte(value))
	})
}

func (b *BoltStore) RemoveItem(_ context.Context, key string) error {
	if key == "" {
		return nil
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketEntries)).Delete([]byte(key))
	})
}

func (b *BoltStore) Key(_ context.Context, index int) (string, bool, error) {
	if index < 0 {
		return "", false, nil
	}

	var (
		key   string
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(boltBucketEntries)).Cursor()
		i := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if i == index {
				key, found = string(k), true
				return nil
			}
			i++
		}
		return nil
	})
	return key, found, err
}

func (b *BoltStore) Length(context.Context) (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(boltBucketEntries)).Stats().KeyN
		return nil
	})
	return n, err
}

func (b *BoltStore) Size(context.Context) (int64, error) {
	var size int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketEntries)).ForEach(func(k, v []byte) error {
			size += int64(len(k) + len(v))
			return nil
		})
	})
	return size, err
}
