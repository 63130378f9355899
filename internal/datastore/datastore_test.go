package datastore

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-walker/internal/conf"
	"github.com/tphakala/birdnet-walker/internal/errors"
	"github.com/tphakala/birdnet-walker/internal/logger"
)

func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	store := &SQLiteStore{
		DataStore: DataStore{Logger: logger.NewSlogLogger(io.Discard, logger.LogLevelError)},
		Path:      filepath.Join(t.TempDir(), "birdnet_analysis.db"),
	}
	require.NoError(t, store.Open())
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func testRecording(name string, ts time.Time) *Metadata {
	lat, lon := 50.0755, 14.4378
	return &Metadata{
		Filename:        name,
		TimestampUTC:    FormatTimestamp(ts.UTC()),
		TimestampLocal:  FormatTimestamp(ts),
		Timezone:        "MESZ",
		Serial:          "24F319046907AFE3",
		GPSLat:          &lat,
		GPSLon:          &lon,
		SampleRate:      48000,
		Channels:        1,
		BitDepth:        16,
		DurationSeconds: 60,
		Gain:            "MED",
		Firmware:        "AudioMoth-Firmware-Basic (1.11.0)",
	}
}

func testDetections(filename string, n int) []Detection {
	out := make([]Detection, n)
	for i := range n {
		idx := int64(i)
		out[i] = Detection{
			Filename:          filename,
			SegmentStartUTC:   fmt.Sprintf("2025-04-16T14:46:%02d+00:00", i*3),
			SegmentStartLocal: fmt.Sprintf("2025-04-16T16:46:%02d+02:00", i*3),
			SegmentEndUTC:     fmt.Sprintf("2025-04-16T14:46:%02d+00:00", i*3+3),
			SegmentEndLocal:   fmt.Sprintf("2025-04-16T16:46:%02d+02:00", i*3+3),
			Timezone:          "MESZ",
			ScientificName:    "Turdus merula",
			LocalName:         "Amsel",
			NameCS:            "Kos černý",
			Confidence:        0.8,
			EmbeddingIdx:      &idx,
		}
	}
	return out
}

func statusOf(t *testing.T, ds Interface, filename string) string {
	t.Helper()
	st, err := ds.Status(context.Background(), filename)
	require.NoError(t, err)
	return st.Status
}

var baseTime = time.Date(2025, 4, 16, 16, 46, 32, 0, time.FixedZone("CEST", 2*3600))

func TestNewSelectsSQLitePerFolder(t *testing.T) {
	settings := &conf.Settings{}
	settings.Output.SQLite.Filename = "birdnet_analysis.db"
	folder := t.TempDir()

	ds := New(settings, folder, logger.NewSlogLogger(io.Discard, logger.LogLevelError))
	store, ok := ds.(*SQLiteStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(folder, "birdnet_analysis.db"), store.Path)

	require.NoError(t, ds.Open())
	require.NoError(t, ds.Close())
	assert.FileExists(t, store.Path)
}

func TestOpenCreatesSchema(t *testing.T) {
	ds := setupTestDB(t)
	m := ds.DB.Migrator()
	assert.True(t, m.HasTable("metadata"))
	assert.True(t, m.HasTable("detections"))
	assert.True(t, m.HasTable("processing_status"))
	assert.True(t, m.HasColumn(&Detection{}, "embedding_idx"))
	assert.True(t, m.HasColumn(&Detection{}, "name_cs"))

	var mode string
	require.NoError(t, ds.DB.Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)
}

func TestInsertMetadataIsIdempotentAndPending(t *testing.T) {
	ctx := context.Background()
	ds := setupTestDB(t)

	rec := testRecording("20250416_164632.WAV", baseTime)
	require.NoError(t, ds.InsertMetadata(ctx, rec))
	require.NoError(t, ds.SetStatus(ctx, rec.Filename, StatusCompleted, ""))

	// second insert must neither duplicate nor reset the status
	require.NoError(t, ds.InsertMetadata(ctx, testRecording("20250416_164632.WAV", baseTime)))

	var count int64
	require.NoError(t, ds.DB.Model(&Metadata{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, StatusCompleted, statusOf(t, ds, rec.Filename))

	got, err := ds.Recording(ctx, rec.Filename)
	require.NoError(t, err)
	assert.Equal(t, rec.TimestampUTC, got.TimestampUTC)
	require.NotNil(t, got.GPSLat)
	assert.InDelta(t, 50.0755, *got.GPSLat, 1e-9)
	assert.Nil(t, got.TemperatureC)
}

func TestInsertMetadataRejectsEmptyFilename(t *testing.T) {
	ds := setupTestDB(t)
	err := ds.InsertMetadata(context.Background(), &Metadata{})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestRecordingNotFound(t *testing.T) {
	ds := setupTestDB(t)
	_, err := ds.Recording(context.Background(), "missing.wav")
	assert.True(t, errors.IsNotFound(err))
}

func TestMissingFiles(t *testing.T) {
	ctx := context.Background()
	ds := setupTestDB(t)
	require.NoError(t, ds.InsertMetadata(ctx,
		testRecording("b.wav", baseTime),
		testRecording("d.wav", baseTime.Add(time.Hour))))

	missing, err := ds.MissingFiles(ctx, []string{"a.wav", "b.wav", "c.wav", "d.wav"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.wav", "c.wav"}, missing)

	missing, err = ds.MissingFiles(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSetStatusTransitions(t *testing.T) {
	ctx := context.Background()
	ds := setupTestDB(t)
	rec := testRecording("a.wav", baseTime)
	require.NoError(t, ds.InsertMetadata(ctx, rec))

	require.NoError(t, ds.SetStatus(ctx, rec.Filename, StatusProcessing, ""))
	st, err := ds.Status(ctx, rec.Filename)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, st.Status)
	assert.NotNil(t, st.StartedAt)
	assert.Nil(t, st.CompletedAt)

	require.NoError(t, ds.SetStatus(ctx, rec.Filename, StatusFailed, "critical diagnostic oom: CUDA out of memory"))
	st, err = ds.Status(ctx, rec.Filename)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	require.NotNil(t, st.ErrorMessage)
	assert.Equal(t, "critical diagnostic oom: CUDA out of memory", *st.ErrorMessage)
	assert.NotNil(t, st.StartedAt, "failed keeps the start time")

	require.NoError(t, ds.SetStatus(ctx, rec.Filename, StatusProcessing, ""))
	st, err = ds.Status(ctx, rec.Filename)
	require.NoError(t, err)
	assert.Nil(t, st.ErrorMessage, "processing clears the previous error")

	require.NoError(t, ds.SetStatus(ctx, rec.Filename, StatusPending, ""))
	st, err = ds.Status(ctx, rec.Filename)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st.Status)
	assert.Nil(t, st.StartedAt)

	err = ds.SetStatus(ctx, rec.Filename, "paused", "")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestBatchInsertDetectionsCompletesFile(t *testing.T) {
	ctx := context.Background()
	ds := setupTestDB(t)
	rec := testRecording("a.wav", baseTime)
	require.NoError(t, ds.InsertMetadata(ctx, rec))
	require.NoError(t, ds.SetStatus(ctx, rec.Filename, StatusProcessing, ""))

	require.NoError(t, ds.BatchInsertDetections(ctx, rec.Filename, testDetections(rec.Filename, 450)))

	n, err := ds.CountDetections(ctx, rec.Filename)
	require.NoError(t, err)
	assert.Equal(t, int64(450), n)

	st, err := ds.Status(ctx, rec.Filename)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.NotNil(t, st.CompletedAt)
}

func TestBatchInsertDetectionsEmptyBatchCompletes(t *testing.T) {
	ctx := context.Background()
	ds := setupTestDB(t)
	require.NoError(t, ds.InsertMetadata(ctx, testRecording("quiet.wav", baseTime)))
	require.NoError(t, ds.SetStatus(ctx, "quiet.wav", StatusProcessing, ""))

	require.NoError(t, ds.BatchInsertDetections(ctx, "quiet.wav", nil))
	assert.Equal(t, StatusCompleted, statusOf(t, ds, "quiet.wav"))
}

func TestBatchInsertDetectionsIsAtomic(t *testing.T) {
	ctx := context.Background()
	ds := setupTestDB(t)
	require.NoError(t, ds.InsertMetadata(ctx, testRecording("a.wav", baseTime)))
	require.NoError(t, ds.SetStatus(ctx, "a.wav", StatusProcessing, ""))

	existing := testDetections("a.wav", 1)
	existing[0].ID = 7
	require.NoError(t, ds.DB.Create(&existing).Error)

	// the last row collides on the primary key in the second INSERT batch
	batch := testDetections("a.wav", 250)
	batch[249].ID = 7
	err := ds.BatchInsertDetections(ctx, "a.wav", batch)
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))

	n, err := ds.CountDetections(ctx, "a.wav")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, StatusProcessing, statusOf(t, ds, "a.wav"))
}

func TestBatchInsertDetectionsRejectsForeignRows(t *testing.T) {
	ds := setupTestDB(t)
	err := ds.BatchInsertDetections(context.Background(), "a.wav", testDetections("b.wav", 1))
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestBatchInsertDetectionsUnknownRecordingFails(t *testing.T) {
	ctx := context.Background()
	ds := setupTestDB(t)
	err := ds.BatchInsertDetections(ctx, "ghost.wav", testDetections("ghost.wav", 2))
	require.Error(t, err)

	n, err := ds.CountDetections(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanupIncompleteFiles(t *testing.T) {
	ctx := context.Background()
	ds := setupTestDB(t)
	for i, name := range []string{"done.wav", "crashed.wav", "failed.wav", "waiting.wav"} {
		require.NoError(t, ds.InsertMetadata(ctx, testRecording(name, baseTime.Add(time.Duration(i)*time.Minute))))
	}

	require.NoError(t, ds.SetStatus(ctx, "done.wav", StatusProcessing, ""))
	require.NoError(t, ds.BatchInsertDetections(ctx, "done.wav", testDetections("done.wav", 3)))

	// a crash after detections hit the table but before the status flip
	require.NoError(t, ds.SetStatus(ctx, "crashed.wav", StatusProcessing, ""))
	stray := testDetections("crashed.wav", 2)
	require.NoError(t, ds.DB.Create(&stray).Error)

	require.NoError(t, ds.SetStatus(ctx, "failed.wav", StatusProcessing, ""))
	require.NoError(t, ds.SetStatus(ctx, "failed.wav", StatusFailed, "fatal"))

	reset, err := ds.CleanupIncompleteFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reset)

	assert.Equal(t, StatusCompleted, statusOf(t, ds, "done.wav"))
	assert.Equal(t, StatusPending, statusOf(t, ds, "crashed.wav"))
	assert.Equal(t, StatusPending, statusOf(t, ds, "failed.wav"))
	assert.Equal(t, StatusPending, statusOf(t, ds, "waiting.wav"))

	n, err := ds.CountDetections(ctx, "crashed.wav")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = ds.CountDetections(ctx, "done.wav")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	st, err := ds.Status(ctx, "failed.wav")
	require.NoError(t, err)
	assert.Nil(t, st.ErrorMessage)
	assert.Nil(t, st.StartedAt)

	reset, err = ds.CleanupIncompleteFiles(ctx)
	require.NoError(t, err)
	assert.Zero(t, reset)
}

func TestRepairOrphanedMetadata(t *testing.T) {
	ctx := context.Background()
	ds := setupTestDB(t)
	require.NoError(t, ds.InsertMetadata(ctx, testRecording("a.wav", baseTime)))
	require.NoError(t, ds.DB.Omit("Detections", "Status").Create(testRecording("orphan.wav", baseTime)).Error)

	repaired, err := ds.RepairOrphanedMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
	assert.Equal(t, StatusPending, statusOf(t, ds, "orphan.wav"))

	repaired, err = ds.RepairOrphanedMetadata(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestPendingFilesOrderedByTimestamp(t *testing.T) {
	ctx := context.Background()
	ds := setupTestDB(t)
	require.NoError(t, ds.InsertMetadata(ctx,
		testRecording("late.wav", baseTime.Add(2*time.Hour)),
		testRecording("early.wav", baseTime),
		testRecording("middle.wav", baseTime.Add(time.Hour)),
		testRecording("done.wav", baseTime.Add(-time.Hour))))
	require.NoError(t, ds.BatchInsertDetections(ctx, "done.wav", nil))

	pending, err := ds.PendingFiles(ctx)
	require.NoError(t, err)
	names := make([]string, len(pending))
	for i := range pending {
		names[i] = pending[i].Filename
	}
	assert.Equal(t, []string{"early.wav", "middle.wav", "late.wav"}, names)

	completed, err := ds.CompletedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"done.wav"}, completed)

	counts, err := ds.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{StatusPending: 3, StatusCompleted: 1}, counts)
}

func TestIndexLifecycle(t *testing.T) {
	ctx := context.Background()
	ds := setupTestDB(t)

	exist, err := ds.IndexesExist(ctx)
	require.NoError(t, err)
	assert.False(t, exist)

	require.NoError(t, ds.CreateIndexes(ctx))
	require.NoError(t, ds.CreateIndexes(ctx))
	exist, err = ds.IndexesExist(ctx)
	require.NoError(t, err)
	assert.True(t, exist)

	require.NoError(t, ds.DropIndexes(ctx))
	exist, err = ds.IndexesExist(ctx)
	require.NoError(t, err)
	assert.False(t, exist)
	for _, idx := range SecondaryIndexes {
		assert.False(t, ds.DB.Migrator().HasIndex(&Detection{}, idx.Name), idx.Name)
	}

	require.NoError(t, ds.DropIndexes(ctx))
}

func TestTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2025, 1, 10, 6, 0, 1, 500000000, time.FixedZone("CET", 3600))
	s := FormatTimestamp(ts)
	assert.Equal(t, "2025-01-10T06:00:01.5+01:00", s)

	parsed, err := ParseTimestamp(s)
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
}

func TestMySQLDSN(t *testing.T) {
	dsn := mysqlDSN(&conf.MySQLConfig{
		Username: "birdnet",
		Password: "secret",
		Database: "walker",
		Host:     "db.local",
		Port:     "3306",
	})
	assert.Contains(t, dsn, "birdnet:secret@tcp(db.local:3306)/walker?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}
