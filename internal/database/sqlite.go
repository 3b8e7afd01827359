package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSQLite(cfg Config) (*gorm.DB, error) {
	dsn := sqliteDSN(cfg)
	if dsn == "" {
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", filepath.ToSlash(strings.TrimSpace(cfg.Path)))
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := tuneSQLite(db, dsn); err != nil {
		return nil, err
	}

	return db, nil
}

// sqliteDSN returns the explicit or in-memory DSN, or "" when a file path must be used.
// Named in-memory databases are isolated from each other so tests do not share state.
func sqliteDSN(cfg Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}

	path := strings.TrimSpace(cfg.Path)
	if path != "" && !strings.EqualFold(path, ":memory:") {
		return ""
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "campusync"
	}
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func tuneSQLite(db *gorm.DB, dsn string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	// A shared in-memory database disappears with its last connection.
	if strings.Contains(dsn, "mode=memory") {
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil && err != sql.ErrConnDone {
		return err
	}
	return nil
}
