// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"context"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/tphakala/birdnet-walker/internal/conf"
	"github.com/tphakala/birdnet-walker/internal/logger"
)

// Interface abstracts the relational backend used by the analysis pipeline.
type Interface interface {
	Open() error
	Close() error

	InsertMetadata(ctx context.Context, records ...*Metadata) error
	MissingFiles(ctx context.Context, filenames []string) ([]string, error)
	Recording(ctx context.Context, filename string) (*Metadata, error)

	SetStatus(ctx context.Context, filename, status, errMsg string) error
	Status(ctx context.Context, filename string) (*ProcessingStatus, error)
	BatchInsertDetections(ctx context.Context, filename string, detections []Detection) error

	RepairOrphanedMetadata(ctx context.Context) (int, error)
	CleanupIncompleteFiles(ctx context.Context) (int, error)
	PendingFiles(ctx context.Context) ([]Metadata, error)
	CompletedFiles(ctx context.Context) ([]string, error)
	StatusCounts(ctx context.Context) (map[string]int64, error)
	CountDetections(ctx context.Context, filename string) (int64, error)

	CreateIndexes(ctx context.Context) error
	IndexesExist(ctx context.Context) (bool, error)
	DropIndexes(ctx context.Context) error
	Vacuum(ctx context.Context) error
}

// DataStore implements Interface on top of a GORM database.
type DataStore struct {
	DB      *gorm.DB // GORM database instance
	Logger  logger.Logger
	dialect string
}

// New returns the store for one analysis folder. With MySQL enabled all
// folders share the configured database, otherwise the folder gets its own
// SQLite file.
func New(settings *conf.Settings, folder string, log logger.Logger) Interface {
	if log == nil {
		log = GetLogger()
	}
	if settings.Output.MySQL.Enabled {
		return &MySQLStore{
			DataStore: DataStore{Logger: log, dialect: DialectMySQL},
			Settings:  settings,
		}
	}
	return &SQLiteStore{
		DataStore: DataStore{Logger: log, dialect: DialectSQLite},
		Path:      filepath.Join(folder, settings.Output.SQLite.Filename),
	}
}

// Dialects
const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
)

// performAutoMigration creates or updates the schema.
func performAutoMigration(db *gorm.DB, log logger.Logger, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Metadata{}, &ProcessingStatus{}, &Detection{}); err != nil {
		return dbError(err, "auto_migrate", "db_type", dbType)
	}
	log.Debug("database schema ready",
		logger.String("db_type", dbType),
		logger.String("connection", connectionInfo))
	return nil
}

func (ds *DataStore) db(ctx context.Context) *gorm.DB {
	return ds.DB.WithContext(ctx)
}

// closeDB releases the connection pool.
func (ds *DataStore) closeDB() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	ds.DB = nil
	return nil
}
