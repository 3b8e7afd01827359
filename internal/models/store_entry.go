package models

import (
	"time"
)

// StoreEntry is a single key/value pair of the SQL backed persistent store.
type StoreEntry struct {
	Key       string `gorm:"primaryKey;size:512"`
	Value     string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the table name independently of gorm's pluralisation rules.
func (StoreEntry) TableName() string {
	return "store_entries"
}
