package datastore

import (
	"context"
	"fmt"

	"github.com/tphakala/birdnet-walker/internal/logger"
)

// secondaryIndex is an index on detections that is built after bulk loading.
type secondaryIndex struct {
	Name   string
	Column string
}

// SecondaryIndexes lists the detection indexes managed by CreateIndexes and
// DropIndexes.
var SecondaryIndexes = []secondaryIndex{
	{Name: "idx_detections_segment_start", Column: "segment_start_local"},
	{Name: "idx_detections_species", Column: "scientific_name"},
	{Name: "idx_detections_filename", Column: "filename"},
}

// CreateIndexes builds the secondary detection indexes that do not exist yet.
func (ds *DataStore) CreateIndexes(ctx context.Context) error {
	migrator := ds.db(ctx).Migrator()
	for _, idx := range SecondaryIndexes {
		if migrator.HasIndex(&Detection{}, idx.Name) {
			ds.Logger.Debug("index already exists, skipping creation",
				logger.String("index", idx.Name))
			continue
		}
		stmt := fmt.Sprintf("CREATE INDEX %s ON detections (%s)", idx.Name, idx.Column)
		if err := ds.db(ctx).Exec(stmt).Error; err != nil {
			return dbError(err, "create_index", "index_name", idx.Name, "db_type", ds.dialect)
		}
		ds.Logger.Debug("index created", logger.String("index", idx.Name))
	}
	ds.Logger.Info("database indexes created")
	return nil
}

// IndexesExist reports whether every secondary index is present.
func (ds *DataStore) IndexesExist(ctx context.Context) (bool, error) {
	migrator := ds.db(ctx).Migrator()
	for _, idx := range SecondaryIndexes {
		if !migrator.HasIndex(&Detection{}, idx.Name) {
			return false, nil
		}
	}
	return true, nil
}

// DropIndexes removes the secondary detection indexes and vacuums the
// database. Missing indexes are ignored.
func (ds *DataStore) DropIndexes(ctx context.Context) error {
	migrator := ds.db(ctx).Migrator()
	dropped := 0
	for _, idx := range SecondaryIndexes {
		if !migrator.HasIndex(&Detection{}, idx.Name) {
			continue
		}
		if err := migrator.DropIndex(&Detection{}, idx.Name); err != nil {
			return dbError(err, "drop_index", "index_name", idx.Name, "db_type", ds.dialect)
		}
		dropped++
	}
	ds.Logger.Info("database indexes removed", logger.Int("dropped", dropped))
	return ds.Vacuum(ctx)
}

// Vacuum reclaims free pages. It is a no-op on MySQL, where InnoDB manages
// space itself.
func (ds *DataStore) Vacuum(ctx context.Context) error {
	if ds.dialect != DialectSQLite {
		ds.Logger.Debug("vacuum skipped", logger.String("db_type", ds.dialect))
		return nil
	}
	if err := ds.db(ctx).Exec("VACUUM").Error; err != nil {
		return dbError(err, "vacuum")
	}
	ds.Logger.Debug("database vacuumed")
	return nil
}
