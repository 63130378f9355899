package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/birdnet-walker/internal/logger"
)

// RepairOrphanedMetadata gives every metadata row without a status row a
// pending one.
func (ds *DataStore) RepairOrphanedMetadata(ctx context.Context) (int, error) {
	var orphaned []string
	err := ds.db(ctx).Model(&Metadata{}).
		Where("filename NOT IN (?)", ds.db(ctx).Model(&ProcessingStatus{}).Select("filename")).
		Order("filename").
		Pluck("filename", &orphaned).Error
	if err != nil {
		return 0, dbError(err, "repair_orphaned_metadata")
	}
	if len(orphaned) == 0 {
		return 0, nil
	}

	ds.Logger.Warn("found recordings without processing status, repairing",
		logger.Int("count", len(orphaned)))

	rows := make([]ProcessingStatus, len(orphaned))
	for i, name := range orphaned {
		rows[i] = ProcessingStatus{Filename: name, Status: StatusPending}
	}
	if err := ds.db(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, lookupBatchSize).Error; err != nil {
		return 0, dbError(err, "repair_orphaned_metadata", "count", len(orphaned))
	}

	ds.Logger.Info("repaired orphaned recordings", logger.Int("count", len(orphaned)))
	return len(orphaned), nil
}

// CleanupIncompleteFiles deletes the detections of every recording left in
// processing or failed and resets it to pending. The reset happens in one
// transaction and is followed by a VACUUM when anything was reset.
func (ds *DataStore) CleanupIncompleteFiles(ctx context.Context) (int, error) {
	var incomplete []string
	err := ds.db(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ProcessingStatus{}).
			Where("status IN ?", []string{StatusProcessing, StatusFailed}).
			Order("filename").
			Pluck("filename", &incomplete).Error; err != nil {
			return err
		}
		if len(incomplete) == 0 {
			return nil
		}

		for start := 0; start < len(incomplete); start += lookupBatchSize {
			batch := incomplete[start:min(start+lookupBatchSize, len(incomplete))]
			if err := tx.Where("filename IN ?", batch).Delete(&Detection{}).Error; err != nil {
				return err
			}
			if err := tx.Model(&ProcessingStatus{}).
				Where("filename IN ?", batch).
				Updates(map[string]any{
					"status":        StatusPending,
					"started_at":    nil,
					"completed_at":  nil,
					"error_message": nil,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, dbError(err, "cleanup_incomplete_files")
	}

	if len(incomplete) == 0 {
		ds.Logger.Info("no incomplete files found")
		return 0, nil
	}
	for _, name := range incomplete {
		ds.Logger.Debug("reset incomplete file", logger.String("filename", name))
	}
	ds.Logger.Info("reset incomplete files to pending", logger.Int("count", len(incomplete)))

	if err := ds.Vacuum(ctx); err != nil {
		// reset is already committed
		ds.Logger.Warn("vacuum after cleanup failed", logger.Error(err))
	}
	return len(incomplete), nil
}

// PendingFiles returns the recordings waiting for analysis ordered by their
// UTC timestamp.
func (ds *DataStore) PendingFiles(ctx context.Context) ([]Metadata, error) {
	var pending []Metadata
	err := ds.db(ctx).
		Joins("JOIN processing_status ON processing_status.filename = metadata.filename").
		Where("processing_status.status = ?", StatusPending).
		Order("metadata.timestamp_utc, metadata.filename").
		Find(&pending).Error
	if err != nil {
		return nil, dbError(err, "pending_files")
	}
	return pending, nil
}
