// Package analysis runs the batch pipeline over folders of AudioMoth
// recordings: discovery, startup recovery, classification and persistence.
package analysis

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/birdnet-walker/internal/audiomoth"
	"github.com/tphakala/birdnet-walker/internal/classifier"
	"github.com/tphakala/birdnet-walker/internal/conf"
	"github.com/tphakala/birdnet-walker/internal/datastore"
	"github.com/tphakala/birdnet-walker/internal/embedding"
	"github.com/tphakala/birdnet-walker/internal/errors"
	"github.com/tphakala/birdnet-walker/internal/logger"
	"github.com/tphakala/birdnet-walker/internal/observability"
)

// statusMessageLimit caps the error text stored with a failed recording.
const statusMessageLimit = 200

// writerGracePeriod is how long the orchestrator keeps waiting after the
// writer was told to stop.
var writerGracePeriod = 2 * time.Second

// MetadataReader extracts recording metadata from a WAV file.
type MetadataReader interface {
	Read(path string) (*audiomoth.Recording, error)
}

var _ MetadataReader = (*audiomoth.Reader)(nil)

// Options configure a Processor.
type Options struct {
	Settings   *conf.Settings
	Classifier classifier.Classifier
	Names      *classifier.NameResolver
	Reader     MetadataReader
	Metrics    *observability.Metrics // optional

	// OpenStore returns the relational store for a folder, datastore.New when nil.
	OpenStore func(folder string) datastore.Interface

	Progress io.Writer // progress display, discarded when nil
	Logger   logger.Logger
}

// Processor analyses folders one at a time with a single classifier handle.
type Processor struct {
	settings  *conf.Settings
	clf       classifier.Classifier
	names     *classifier.NameResolver
	reader    MetadataReader
	metrics   *observability.Metrics
	openStore func(folder string) datastore.Interface
	progress  *Progress
	log       logger.Logger
}

// NewProcessor validates opts and returns a Processor.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Settings == nil || opts.Classifier == nil || opts.Reader == nil {
		return nil, errors.Newf("processor needs settings, a classifier and a metadata reader").
			Component("analysis").
			Category(errors.CategoryValidation).
			Build()
	}
	log := opts.Logger
	if log == nil {
		log = GetLogger()
	}
	openStore := opts.OpenStore
	if openStore == nil {
		settings := opts.Settings
		openStore = func(folder string) datastore.Interface {
			return datastore.New(settings, folder, datastore.GetLogger())
		}
	}
	return &Processor{
		settings:  opts.Settings,
		clf:       opts.Classifier,
		names:     opts.Names,
		reader:    opts.Reader,
		metrics:   opts.Metrics,
		openStore: openStore,
		progress:  NewProgress(opts.Progress, log),
		log:       log,
	}, nil
}

// dataPackage is the unit handed from producer to writer. A nil package is
// the shutdown signal.
type dataPackage struct {
	filename   string
	detections []datastore.Detection
}

// folderRun holds the state of one ProcessFolder call.
type folderRun struct {
	*Processor
	folder     string
	root       string
	store      datastore.Interface
	vectors    *embedding.Store
	correlator *embedding.Correlator
	log        logger.Logger
	res        *FolderResult

	processed atomic.Int64
	failed    atomic.Int64
	written   atomic.Int64
}

// ProcessFolder analyses the pending recordings of folder. root is the input
// root the run was started with and is used for store keys when folders share
// one database. The returned result is never nil.
func (p *Processor) ProcessFolder(ctx context.Context, folder, root string) (*FolderResult, error) {
	start := time.Now()
	res := &FolderResult{Folder: folder}
	r := &folderRun{
		Processor: p,
		folder:    filepath.Clean(folder),
		root:      filepath.Clean(root),
		log:       p.log.With(logger.String("folder", folder)),
		res:       res,
	}

	err := r.run(ctx)
	res.Processed = int(r.processed.Load())
	res.Failed = int(r.failed.Load())
	res.Completed = int(r.written.Load())
	res.Elapsed = time.Since(start)
	res.Err = err
	if p.metrics != nil {
		p.metrics.Pipeline.FoldersTotal.WithLabelValues(res.Status()).Inc()
	}
	return res, err
}

func (r *folderRun) run(ctx context.Context) error {
	r.log.Info("processing folder")

	files, err := FindWAVFiles(r.folder)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		r.log.Warn("no WAV files found")
		return nil
	}
	r.log.Info("found WAV files", logger.Int("files", len(files)))

	fl, err := lockFolder(filepath.Join(r.folder, r.settings.Output.SQLite.Filename+".lock"))
	if err != nil {
		return err
	}
	defer unlockFolder(fl)

	r.store = r.openStore(r.folder)
	if err := r.store.Open(); err != nil {
		return err
	}
	defer func() {
		if err := r.store.Close(); err != nil {
			r.log.Error("failed to close database", logger.Error(err))
		}
	}()

	if r.settings.Embeddings.Enabled {
		r.openVectors()
		if r.vectors != nil {
			defer func() {
				if err := r.vectors.Close(); err != nil {
					r.log.Error("failed to close embedding store", logger.Error(err))
				}
			}()
		}
	}

	paths, err := r.discover(ctx, files)
	if err != nil {
		return err
	}
	items, err := r.recover(ctx, paths)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return canceledError(r.folder)
	}

	// Cleanup and index maintenance run to completion even after a shutdown
	// request.
	finishCtx := context.WithoutCancel(ctx)

	var pipelineErr error
	started := time.Now()
	if len(items) == 0 {
		r.log.Info("all files in this folder already processed")
	} else {
		r.log.Info("files to process", logger.Int("files", len(items)))
		r.progress.Start(len(items))
		pipelineErr = r.runPipeline(ctx, items)
	}

	total, err := r.store.CountDetections(finishCtx, "")
	if err != nil {
		r.log.Error("failed to count detections", logger.Error(err))
	} else {
		r.res.Detections = total
	}
	if done := int(r.processed.Load()); done > 0 {
		r.progress.Finish(done, r.res.Detections, time.Since(started))
	}

	r.maintainIndexes(finishCtx)
	r.log.Info("folder complete", logger.Int64("detections", r.res.Detections))

	if pipelineErr != nil {
		return pipelineErr
	}
	if ctx.Err() != nil {
		return canceledError(r.folder)
	}
	return nil
}

// openVectors opens the folder's vector store. Failure disables embeddings
// for the folder; detections are still stored.
func (r *folderRun) openVectors() {
	cfg := r.settings.Embeddings
	path := filepath.Join(r.folder, cfg.Filename)
	vectors, err := embedding.OpenStore(path, embedding.StoreOptions{
		Dimensions:       cfg.Dimensions,
		ChunkRows:        cfg.ChunkRows,
		CompressionLevel: cfg.CompressionLevel,
	}, r.log.Module("embedding"))
	if err != nil {
		r.log.Error("embedding store unavailable, continuing without embeddings",
			logger.String("path", path),
			logger.Error(err))
		return
	}
	r.vectors = vectors
	r.correlator = embedding.NewCorrelator(vectors, cfg.MatchTolerance, r.log.Module("embedding"))
	r.log.Debug("embedding store opened",
		logger.String("path", path),
		logger.Int64("rows", vectors.Len()))
}

// key returns the store key of a file: the base name for a per-folder
// database, the slash separated path below root for a shared one.
func (r *folderRun) key(path string) string {
	if r.settings.Output.MySQL.Enabled {
		if rel, err := filepath.Rel(r.root, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(path)
}

// location is the inverse of key.
func (r *folderRun) location(key string) string {
	if r.settings.Output.MySQL.Enabled {
		return filepath.Join(r.root, filepath.FromSlash(key))
	}
	return filepath.Join(r.folder, key)
}

// discover stores metadata for files not yet in the database and returns the
// on-disk path of every file by store key.
func (r *folderRun) discover(ctx context.Context, files []string) (map[string]string, error) {
	paths := make(map[string]string, len(files))
	keys := make([]string, 0, len(files))
	for _, f := range files {
		k := r.key(f)
		paths[k] = f
		keys = append(keys, k)
	}

	missing, err := r.store.MissingFiles(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return paths, nil
	}

	r.log.Info("extracting metadata for new files", logger.Int("files", len(missing)))
	recs := make([]*audiomoth.Recording, 0, len(missing))
	for _, k := range missing {
		rec, err := r.reader.Read(paths[k])
		if err != nil {
			r.log.Error("failed to extract metadata",
				logger.String("file", k),
				logger.Error(err))
			r.recordFile("unreadable")
			continue
		}
		rec.Filename = k
		recs = append(recs, rec)
	}
	slices.SortStableFunc(recs, func(a, b *audiomoth.Recording) int {
		return a.TimestampUTC.Compare(b.TimestampUTC)
	})

	rows := make([]*datastore.Metadata, len(recs))
	for i, rec := range recs {
		rows[i] = toMetadata(rec)
	}
	if err := r.store.InsertMetadata(ctx, rows...); err != nil {
		return nil, err
	}
	r.log.Info("inserted metadata", logger.Int("files", len(rows)))
	return paths, nil
}

// recover runs the startup recovery sequence and resolves the pending set to
// files on disk.
func (r *folderRun) recover(ctx context.Context, paths map[string]string) ([]*workItem, error) {
	repaired, err := r.store.RepairOrphanedMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if repaired > 0 {
		r.log.Warn("repaired recordings without status", logger.Int("files", repaired))
		r.recordRecovery("repaired", repaired)
	}

	r.log.Info("checking for incomplete files from previous runs")
	reset, err := r.store.CleanupIncompleteFiles(ctx)
	if err != nil {
		return nil, err
	}
	if reset > 0 {
		r.log.Info("reset incomplete files", logger.Int("files", reset))
		r.recordRecovery("reset", reset)
	}
	r.res.Recovered = reset

	if counts, err := r.store.StatusCounts(ctx); err == nil && counts[datastore.StatusCompleted] > 0 {
		r.log.Info("found already completed files", logger.Int64("files", counts[datastore.StatusCompleted]))
	}

	pending, err := r.store.PendingFiles(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]*workItem, 0, len(pending))
	for i := range pending {
		meta := &pending[i]
		loc := r.location(meta.Filename)
		if filepath.Dir(loc) != r.folder {
			// pending in a shared database, belongs to another folder
			continue
		}
		path, ok := paths[meta.Filename]
		if !ok || !fileExists(path) {
			r.log.Warn("pending file no longer on disk, skipping",
				logger.String("file", meta.Filename))
			continue
		}
		item, err := newWorkItem(meta, path)
		if err != nil {
			r.log.Error("invalid metadata, skipping",
				logger.String("file", meta.Filename),
				logger.Error(err))
			continue
		}
		items = append(items, item)
	}
	r.res.Pending = len(items)
	return items, nil
}

// runPipeline classifies items on a producer goroutine and persists them on a
// writer goroutine. Once production ends the writer gets the shutdown signal
// and writertimeout to drain; after that it is stopped.
func (r *folderRun) runPipeline(ctx context.Context, items []*workItem) error {
	queue := make(chan *dataPackage, max(r.settings.Queue.Size, 1))
	writerCtx, cancelWriter := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWriter()

	producerDone := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		r.write(writerCtx, queue)
		return nil
	})
	g.Go(func() error {
		defer close(producerDone)
		r.produce(ctx, items, queue)
		return nil
	})

	writerDone := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(writerDone)
	}()

	<-producerDone
	if ctx.Err() != nil {
		r.log.Warn("shutdown requested, waiting for database writer")
	}

	timeout := r.settings.Queue.WriterTimeout
	if timeout <= 0 {
		timeout = conf.DefaultWriterTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	r.log.Debug("sending shutdown signal to database writer")
	select {
	case queue <- nil:
		select {
		case <-writerDone:
			r.log.Debug("database writer finished")
			return nil
		case <-timer.C:
		}
	case <-timer.C:
	}

	r.log.Warn("database writer did not finish in time, stopping it",
		logger.Duration("timeout", timeout))
	cancelWriter()
	select {
	case <-writerDone:
	case <-time.After(writerGracePeriod):
		r.log.Error("database writer still running after forced stop")
	}
	return errors.New(ErrWriterTimeout).
		Component("analysis").
		Category(errors.CategoryTimeout).
		Context("folder", r.folder).
		Context("timeout", timeout.String()).
		Build()
}

// produce classifies items in order and enqueues their detections.
func (r *folderRun) produce(ctx context.Context, items []*workItem, queue chan<- *dataPackage) {
	// A started recording is analysed to the end. Status writes must land
	// even when the run is being cancelled.
	workCtx := context.WithoutCancel(ctx)

	for _, item := range items {
		if ctx.Err() != nil {
			r.log.Warn("shutdown requested, stopping")
			return
		}
		name := item.meta.Filename

		pkg, err := r.analyze(workCtx, item)
		if err != nil {
			msg := failureMessage(err)
			r.log.Error("skipping file after error",
				logger.String("file", name),
				logger.Error(err))
			if serr := r.store.SetStatus(workCtx, name, datastore.StatusFailed, msg); serr != nil {
				r.log.Error("failed to mark file failed",
					logger.String("file", name),
					logger.Error(serr))
			}
			r.failed.Add(1)
			r.recordFile(datastore.StatusFailed)
		} else if !r.enqueue(ctx, queue, pkg) {
			r.log.Warn("shutdown requested before results were queued, dropping",
				logger.String("file", name))
			return
		}

		done := r.processed.Add(1)
		r.progress.Update(int(done), name)
	}
}

// analyze marks item processing, classifies it and builds its detection rows.
func (r *folderRun) analyze(ctx context.Context, item *workItem) (*dataPackage, error) {
	name := item.meta.Filename
	if err := r.store.SetStatus(ctx, name, datastore.StatusProcessing, ""); err != nil {
		return nil, err
	}

	b := r.settings.BirdNET
	req := item.request(b.Confidence, b.SegmentLength, b.Overlap, b.Latitude, b.Longitude)

	start := time.Now()
	result, err := r.clf.Classify(ctx, req)
	r.recordPrediction(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if result.Diagnostics != "" {
		r.log.Debug("classifier diagnostics",
			logger.String("file", name),
			logger.String("output", result.Diagnostics))
		if kw, found := classifier.ScanDiagnostics(result.Diagnostics); found {
			r.log.Error("critical error in classifier output",
				logger.String("file", name),
				logger.String("keyword", kw),
				logger.String("output", result.Diagnostics))
			return nil, &classifier.ClassificationError{
				File:       name,
				Reason:     "critical diagnostic " + kw,
				Diagnostic: result.Diagnostics,
			}
		}
	}

	idx := r.embed(ctx, item, req, result.Detections)
	rows := buildDetections(item, result.Detections, r.names, idx)
	r.log.Debug("file analysed",
		logger.String("file", name),
		logger.Int("detections", len(rows)),
		logger.Duration("elapsed", time.Since(start)))
	return &dataPackage{filename: name, detections: rows}, nil
}

// embed stores the vectors of segments with detections and returns their
// indices. Any failure is logged and yields nil indices.
func (r *folderRun) embed(ctx context.Context, item *workItem, req classifier.Request, dets []classifier.Detection) []*int64 {
	if r.correlator == nil || len(dets) == 0 {
		return nil
	}
	name := item.meta.Filename

	start := time.Now()
	enc, err := r.clf.Encode(ctx, req)
	if err != nil {
		r.log.Warn("embedding extraction failed, storing detections without embeddings",
			logger.String("file", name),
			logger.Error(err))
		return nil
	}
	if r.metrics != nil {
		r.metrics.BirdNET.RecordEncode(r.settings.BirdNET.Backend, time.Since(start).Seconds())
	}

	before := r.vectors.Len()
	idx, err := r.correlator.Correlate(name, spans(dets), enc.Vectors, enc.SegmentLength, enc.Overlap)
	if err != nil {
		r.log.Error("failed to store embeddings, storing detections without embeddings",
			logger.String("file", name),
			logger.Error(err))
		return nil
	}
	if r.metrics != nil {
		r.metrics.Pipeline.EmbeddingRows.Add(float64(r.vectors.Len() - before))
	}
	return idx
}

// enqueue offers pkg to the writer without blocking, sleeping between
// attempts while the queue is full. It gives up once ctx is cancelled.
func (r *folderRun) enqueue(ctx context.Context, queue chan<- *dataPackage, pkg *dataPackage) bool {
	interval := r.settings.Queue.SleepInterval
	if interval <= 0 {
		interval = conf.DefaultSleepInterval
	}
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.Pipeline.QueueWaitDuration.Observe(time.Since(start).Seconds())
		}
	}()

	for {
		if ctx.Err() != nil {
			return false
		}
		select {
		case queue <- pkg:
			return true
		default:
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}

// write persists packages until the shutdown signal or until ctx is cancelled.
func (r *folderRun) write(ctx context.Context, queue <-chan *dataPackage) {
	for {
		select {
		case <-ctx.Done():
			r.log.Warn("database writer stopped")
			return
		case pkg := <-queue:
			if pkg == nil {
				return
			}
			start := time.Now()
			err := r.store.BatchInsertDetections(ctx, pkg.filename, pkg.detections)
			if r.metrics != nil {
				r.metrics.Pipeline.RecordWrite(time.Since(start).Seconds(), err)
			}
			if err != nil {
				r.log.Error("failed to write detections",
					logger.String("file", pkg.filename),
					logger.Int("detections", len(pkg.detections)),
					logger.Error(err))
				continue
			}
			r.written.Add(1)
			r.recordFile(datastore.StatusCompleted)
			if r.metrics != nil {
				for i := range pkg.detections {
					r.metrics.BirdNET.IncrementDetectionCounter(pkg.detections[i].ScientificName)
				}
			}
		}
	}
}

// maintainIndexes creates the secondary indexes, or drops them in no-index
// mode. Failures are logged.
func (r *folderRun) maintainIndexes(ctx context.Context) {
	if r.settings.Analysis.NoIndex {
		exist, err := r.store.IndexesExist(ctx)
		if err != nil {
			r.log.Error("failed to check indexes", logger.Error(err))
			return
		}
		if exist {
			r.log.Info("removing indexes (no-index mode)")
			if err := r.store.DropIndexes(ctx); err != nil {
				r.log.Error("failed to drop indexes", logger.Error(err))
			}
		}
		return
	}
	if err := r.store.CreateIndexes(ctx); err != nil {
		r.log.Error("failed to create indexes", logger.Error(err))
	}
}

// failureMessage returns the status text for a failed recording.
func failureMessage(err error) string {
	var ce *classifier.ClassificationError
	if errors.As(err, &ce) {
		return ce.StatusMessage(statusMessageLimit)
	}
	return classifier.Truncate(err.Error(), statusMessageLimit)
}

func (r *folderRun) recordFile(status string) {
	if r.metrics != nil {
		r.metrics.Pipeline.RecordFile(status)
	}
}

func (r *folderRun) recordRecovery(action string, n int) {
	if r.metrics != nil {
		r.metrics.Pipeline.RecordRecovery(action, n)
	}
}

func (r *folderRun) recordPrediction(d time.Duration, err error) {
	if r.metrics != nil {
		r.metrics.BirdNET.RecordPrediction(r.settings.BirdNET.Backend, d.Seconds(), err)
	}
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
