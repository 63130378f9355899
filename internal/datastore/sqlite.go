package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/birdnet-walker/internal/logger"
)

// SQLiteStore implements Interface for a per-folder SQLite file
type SQLiteStore struct {
	DataStore
	Path string
}

// sqliteDSN enables WAL journaling and foreign keys for every connection.
func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_foreign_keys=ON"
	}
	return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
}

// Open sets up the SQLite database connection and schema
func (store *SQLiteStore) Open() error {
	if store.Path == "" {
		return validationError("sqlite database path is empty", "path", store.Path)
	}
	if store.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(store.Path), 0o755); err != nil {
			return dbError(err, "open", "path", store.Path)
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(store.Path)), &gorm.Config{Logger: createGormLogger(store.Logger)})
	if err != nil {
		return dbError(fmt.Errorf("failed to open SQLite database: %w", err), "open", "path", store.Path)
	}
	if store.Path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	store.DB = db
	store.dialect = DialectSQLite
	return performAutoMigration(db, store.Logger, "SQLite", store.Path)
}

// Close checkpoints the WAL and closes the database
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	if err := store.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		store.Logger.Warn("WAL checkpoint failed",
			logger.String("path", store.Path),
			logger.Error(err))
	}
	return store.closeDB()
}
