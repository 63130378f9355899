package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/birdnet-walker/internal/errors"
	"github.com/tphakala/birdnet-walker/internal/logger"
)

// lookupBatchSize bounds the number of bound parameters per IN query.
const lookupBatchSize = 500

// detectionBatchSize is the number of rows per multi-row INSERT.
const detectionBatchSize = 200

// InsertMetadata stores recordings and gives each a pending status row. Both
// inserts ignore rows that already exist, so repeated calls are harmless.
func (ds *DataStore) InsertMetadata(ctx context.Context, records ...*Metadata) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if rec.Filename == "" {
			return validationError("metadata filename is empty", "filename", rec.Filename)
		}
	}

	err := ds.db(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			if err := tx.Omit(clause.Associations).
				Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "filename"}}, DoNothing: true}).
				Create(rec).Error; err != nil {
				return err
			}
			status := &ProcessingStatus{Filename: rec.Filename, Status: StatusPending}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(status).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dbError(err, "insert_metadata", "records", len(records))
	}
	return nil
}

// MissingFiles returns the filenames that have no metadata row yet, in input
// order.
func (ds *DataStore) MissingFiles(ctx context.Context, filenames []string) ([]string, error) {
	known := make(map[string]struct{}, len(filenames))
	for start := 0; start < len(filenames); start += lookupBatchSize {
		batch := filenames[start:min(start+lookupBatchSize, len(filenames))]
		var found []string
		if err := ds.db(ctx).Model(&Metadata{}).
			Where("filename IN ?", batch).
			Pluck("filename", &found).Error; err != nil {
			return nil, dbError(err, "missing_files")
		}
		for _, name := range found {
			known[name] = struct{}{}
		}
	}

	var missing []string
	for _, name := range filenames {
		if _, ok := known[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// Recording returns the metadata row for filename.
func (ds *DataStore) Recording(ctx context.Context, filename string) (*Metadata, error) {
	var rec Metadata
	err := ds.db(ctx).Where("filename = ?", filename).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("recording", filename)
	}
	if err != nil {
		return nil, dbError(err, "get_recording", "filename", filename)
	}
	return &rec, nil
}

// Status returns the processing status row for filename.
func (ds *DataStore) Status(ctx context.Context, filename string) (*ProcessingStatus, error) {
	var st ProcessingStatus
	err := ds.db(ctx).Where("filename = ?", filename).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("processing status", filename)
	}
	if err != nil {
		return nil, dbError(err, "get_status", "filename", filename)
	}
	return &st, nil
}

// SetStatus moves filename to status.
//
//	processing  replaces the row, started_at = now, other fields cleared
//	completed   sets completed_at
//	failed      records errMsg
//	pending     resets the row
func (ds *DataStore) SetStatus(ctx context.Context, filename, status, errMsg string) error {
	now := time.Now()
	row := &ProcessingStatus{Filename: filename, Status: status}
	var update []string

	switch status {
	case StatusProcessing:
		row.StartedAt = &now
		update = []string{"status", "started_at", "completed_at", "error_message"}
	case StatusCompleted:
		row.CompletedAt = &now
		update = []string{"status", "completed_at"}
	case StatusFailed:
		row.ErrorMessage = &errMsg
		update = []string{"status", "error_message"}
	case StatusPending:
		update = []string{"status", "started_at", "completed_at", "error_message"}
	default:
		return validationError("unknown processing status", "status", status)
	}

	err := ds.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "filename"}},
		DoUpdates: clause.AssignmentColumns(update),
	}).Create(row).Error
	if err != nil {
		return dbError(err, "set_status", "filename", filename, "status", status)
	}
	return nil
}

// BatchInsertDetections writes all detections of one recording and marks it
// completed in a single transaction. On error nothing is written and the
// status is left as it was. An empty batch only completes the recording.
func (ds *DataStore) BatchInsertDetections(ctx context.Context, filename string, detections []Detection) error {
	for i := range detections {
		if detections[i].Filename != filename {
			return validationError("detection belongs to another recording", "filename", detections[i].Filename)
		}
	}

	start := time.Now()
	err := ds.db(ctx).Transaction(func(tx *gorm.DB) error {
		if len(detections) > 0 {
			if err := tx.CreateInBatches(detections, detectionBatchSize).Error; err != nil {
				return err
			}
		}
		now := time.Now()
		res := tx.Model(&ProcessingStatus{}).
			Where("filename = ?", filename).
			Updates(map[string]any{"status": StatusCompleted, "completed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Create(&ProcessingStatus{Filename: filename, Status: StatusCompleted, CompletedAt: &now}).Error
		}
		return nil
	})
	if err != nil {
		return dbError(err, "batch_insert_detections",
			"filename", filename,
			"detections", len(detections))
	}

	ds.Logger.Debug("batch inserted detections",
		logger.String("filename", filename),
		logger.Int("detections", len(detections)),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// CompletedFiles returns the filenames whose processing completed.
func (ds *DataStore) CompletedFiles(ctx context.Context) ([]string, error) {
	var names []string
	if err := ds.db(ctx).Model(&ProcessingStatus{}).
		Where("status = ?", StatusCompleted).
		Order("filename").
		Pluck("filename", &names).Error; err != nil {
		return nil, dbError(err, "completed_files")
	}
	return names, nil
}

// StatusCounts returns the number of recordings per processing state.
func (ds *DataStore) StatusCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := ds.db(ctx).Model(&ProcessingStatus{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, dbError(err, "status_counts")
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// CountDetections returns the number of detections for filename, or for all
// recordings when filename is empty.
func (ds *DataStore) CountDetections(ctx context.Context, filename string) (int64, error) {
	var count int64
	q := ds.db(ctx).Model(&Detection{})
	if filename != "" {
		q = q.Where("filename = ?", filename)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, dbError(err, "count_detections", "filename", filename)
	}
	return count, nil
}
