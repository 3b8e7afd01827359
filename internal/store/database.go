package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/campusync/internal/models"
)

var keyColumn = clause.Column{Name: "key"}

// DatabaseStore persists entries in the store_entries table of the SQL database.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore constructs a database-backed Store. The schema must already be migrated.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db}
}

func (s *DatabaseStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	if s == nil {
		return "", false, errors.New("store: database store not initialised")
	}

	var entry models.StoreEntry
	err := s.db.WithContext(ctx).Where(clause.Eq{Column: keyColumn, Value: key}).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %q: %w", key, err)
	}
	return entry.Value, true, nil
}

func (s *DatabaseStore) SetItem(ctx context.Context, key, value string) error {
	if s == nil {
		return errors.New("store: database store not initialised")
	}

	entry := models.StoreEntry{Key: key, Value: value}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{keyColumn},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("store: set %q: %w", key, err)
	}
	return nil
}

func (s *DatabaseStore) RemoveItem(ctx context.Context, key string) error {
	if s == nil {
		return errors.New("store: database store not initialised")
	}

	err := s.db.WithContext(ctx).Where(clause.Eq{Column: keyColumn, Value: key}).Delete(&models.StoreEntry{}).Error
	if err != nil {
		return fmt.Errorf("store: remove %q: %w", key, err)
	}
	return nil
}

func (s *DatabaseStore) Key(ctx context.Context, index int) (string, bool, error) {
	if s == nil {
		return "", false, errors.New("store: database store not initialised")
	}
	if index < 0 {
		return "", false, nil
	}

	var keys []string
	err := s.db.WithContext(ctx).
		Model(&models.StoreEntry{}).
		Order(clause.OrderByColumn{Column: keyColumn}).
		Offset(index).
		Limit(1).
		Pluck("key", &keys).Error
	if err != nil {
		return "", false, fmt.Errorf("store: key at %d: %w", index, err)
	}
	if len(keys) == 0 {
		return "", false, nil
	}
	return keys[0], true, nil
}

func (s *DatabaseStore) Length(ctx context.Context) (int, error) {
	if s == nil {
		return 0, errors.New("store: database store not initialised")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.StoreEntry{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return int(count), nil
}

// Size sums key and value lengths over every row.
func (s *DatabaseStore) Size(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errors.New("store: database store not initialised")
	}

	var size int64
	err := s.db.WithContext(ctx).
		Model(&models.StoreEntry{}).
		Select("COALESCE(SUM(LENGTH(?) + LENGTH(?)), 0)", keyColumn, clause.Column{Name: "value"}).
		Scan(&size).Error
	if err != nil {
		return 0, fmt.Errorf("store: size: %w", err)
	}
	return size, nil
}
