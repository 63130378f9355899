package analysis

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-walker/internal/audiomoth"
	"github.com/tphakala/birdnet-walker/internal/classifier"
	"github.com/tphakala/birdnet-walker/internal/conf"
	"github.com/tphakala/birdnet-walker/internal/datastore"
	"github.com/tphakala/birdnet-walker/internal/logger"
)

var (
	baseTime = time.Date(2025, 6, 14, 4, 0, 0, 0, time.UTC)
	cest     = time.FixedZone("CEST", 2*3600)
)

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError)
}

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.BirdNET = conf.BirdNETConfig{
		Backend:       "fake",
		Confidence:    0.1,
		SegmentLength: 3,
		Overlap:       1.5,
		Latitude:      conf.DefaultLatitude,
		Longitude:     conf.DefaultLongitude,
	}
	s.Embeddings = conf.EmbeddingsConfig{
		Enabled:          true,
		Filename:         conf.DefaultEmbeddingFilename,
		Dimensions:       4,
		ChunkRows:        8,
		CompressionLevel: 1,
	}
	s.Queue = conf.QueueConfig{
		Size:          2,
		SleepInterval: 2 * time.Millisecond,
		WriterTimeout: 5 * time.Second,
	}
	s.Output.SQLite.Filename = conf.DefaultDatabaseFilename
	return s
}

// fakeReader returns canned recordings keyed by base name.
type fakeReader struct {
	recs map[string]audiomoth.Recording
}

func (f *fakeReader) Read(path string) (*audiomoth.Recording, error) {
	rec, ok := f.recs[filepath.Base(path)]
	if !ok {
		return nil, audiomoth.ErrNoTimestamp
	}
	rec.Path = path
	return &rec, nil
}

// recording returns a 9 s recording starting minutes after baseTime.
func recording(name string, minutes int) audiomoth.Recording {
	utc := baseTime.Add(time.Duration(minutes) * time.Minute)
	return audiomoth.Recording{
		Filename:        name,
		TimestampUTC:    utc,
		TimestampLocal:  utc.In(cest),
		Timezone:        "MESZ",
		Serial:          "24F319046907AFE3",
		SampleRate:      48000,
		Channels:        1,
		BitDepth:        16,
		DurationSeconds: 9,
	}
}

// newFolder creates empty WAV files for recs in a fresh directory.
func newFolder(t *testing.T, recs ...audiomoth.Recording) (string, *fakeReader) {
	t.Helper()
	dir := t.TempDir()
	reader := &fakeReader{recs: make(map[string]audiomoth.Recording)}
	for _, rec := range recs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, rec.Filename), nil, 0o600))
		reader.recs[rec.Filename] = rec
	}
	return dir, reader
}

// fakeClassifier records calls and returns canned results.
type fakeClassifier struct {
	mu       sync.Mutex
	calls    []string
	classify func(call int, req classifier.Request) (*classifier.Result, error)
	encode   func(req classifier.Request) (*classifier.Encoding, error)
}

func (f *fakeClassifier) Classify(_ context.Context, req classifier.Request) (*classifier.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, filepath.Base(req.Path))
	n := len(f.calls)
	fn := f.classify
	f.mu.Unlock()
	if fn == nil {
		return defaultResult(), nil
	}
	return fn(n, req)
}

func (f *fakeClassifier) Encode(_ context.Context, req classifier.Request) (*classifier.Encoding, error) {
	if f.encode != nil {
		return f.encode(req)
	}
	return defaultEncoding(), nil
}

func (f *fakeClassifier) Close() error { return nil }

func (f *fakeClassifier) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// defaultResult holds two detections on the first two 3 s windows.
func defaultResult() *classifier.Result {
	return &classifier.Result{Detections: []classifier.Detection{
		{ScientificName: "Parus major", CommonName: "Great Tit", Confidence: 0.82, Start: 0, End: 3},
		{ScientificName: "Erithacus rubecula", CommonName: "European Robin", Confidence: 0.41, Start: 1.5, End: 4.5},
	}}
}

// defaultEncoding holds the five windows of a 9 s recording; window i is
// filled with the value i.
func defaultEncoding() *classifier.Encoding {
	vectors := make([][]float32, 5)
	for i := range vectors {
		v := float32(i)
		vectors[i] = []float32{v, v, v, v}
	}
	return &classifier.Encoding{Vectors: vectors, SegmentLength: 3, Overlap: 1.5}
}

func testNames() *classifier.NameResolver {
	return classifier.NewNameResolver(
		map[string]string{"Parus major": "Kohlmeise", "Erithacus rubecula": "Rotkehlchen"},
		map[string]classifier.Translation{"Parus major": {Czech: "sýkora koňadra"}},
	)
}

// wrappedStore lets tests intercept detection writes of a real store.
type wrappedStore struct {
	datastore.Interface
	insert func(ctx context.Context, filename string, dets []datastore.Detection) error
}

func (w *wrappedStore) BatchInsertDetections(ctx context.Context, filename string, dets []datastore.Detection) error {
	return w.insert(ctx, filename, dets)
}

func newTestProcessor(t *testing.T, settings *conf.Settings, clf classifier.Classifier, reader MetadataReader, wrap func(datastore.Interface) datastore.Interface) *Processor {
	t.Helper()
	p, err := NewProcessor(Options{
		Settings:   settings,
		Classifier: clf,
		Names:      testNames(),
		Reader:     reader,
		OpenStore: func(folder string) datastore.Interface {
			store := datastore.New(settings, folder, quietLogger())
			if wrap != nil {
				return wrap(store)
			}
			return store
		},
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	return p
}

// openResult opens the folder database for assertions.
func openResult(t *testing.T, settings *conf.Settings, folder string) *datastore.SQLiteStore {
	t.Helper()
	store, ok := datastore.New(settings, folder, quietLogger()).(*datastore.SQLiteStore)
	require.True(t, ok)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func statusOf(t *testing.T, store datastore.Interface, filename string) string {
	t.Helper()
	st, err := store.Status(context.Background(), filename)
	require.NoError(t, err)
	return st.Status
}

func detectionsOf(t *testing.T, store *datastore.SQLiteStore, filename string) []datastore.Detection {
	t.Helper()
	var rows []datastore.Detection
	require.NoError(t, store.DB.Where("filename = ?", filename).Order("id").Find(&rows).Error)
	return rows
}

// counter is a goroutine safe call counter.
type counter struct{ n atomic.Int64 }

func (c *counter) inc() int64 { return c.n.Add(1) }
func (c *counter) get() int64 { return c.n.Load() }
