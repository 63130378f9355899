package classifier

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/tphakala/birdnet-walker/internal/errors"
	"github.com/tphakala/birdnet-walker/internal/logger"
)

// CommandConfig configures the subprocess backend.
type CommandConfig struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// Command runs an external helper once per call. The helper prints a JSON
// document on stdout; stderr is the model runtime's diagnostic output.
//
//	classify: {"detections":[{"species":"Parus major_Great Tit","confidence":0.8,"start":0,"end":3}]}
//	encode:   {"segment_length":3,"overlap":0.75,"embeddings":[[0.1, ...], ...]}
type Command struct {
	mu      sync.Mutex
	path    string
	args    []string
	timeout time.Duration
	log     logger.Logger
}

// NewCommand resolves the helper executable.
func NewCommand(cfg CommandConfig, log logger.Logger) (*Command, error) {
	if log == nil {
		log = logger.Global().Module("classifier")
	}
	path, err := exec.LookPath(cfg.Path)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("command", cfg.Path).
			Build()
	}
	return &Command{path: path, args: cfg.Args, timeout: cfg.Timeout, log: log}, nil
}

// Classify runs "<helper> classify" for one recording.
func (c *Command) Classify(ctx context.Context, req Request) (*Result, error) {
	args := append(c.baseArgs("classify", req),
		"--lat", formatFloat(req.Latitude),
		"--lon", formatFloat(req.Longitude),
		"--week-date", req.Timestamp.UTC().Format(time.RFC3339),
		"--min-confidence", formatFloat(req.MinConfidence))

	stdout, stderr, err := c.run(ctx, args)
	if err != nil {
		return nil, &ClassificationError{File: filepath.Base(req.Path), Reason: "classifier command failed", Diagnostic: stderr, Err: err}
	}

	doc, err := jason.NewObjectFromBytes(stdout)
	if err != nil {
		return nil, &ClassificationError{File: filepath.Base(req.Path), Reason: "invalid classifier output", Diagnostic: stderr, Err: err}
	}
	items, err := doc.GetObjectArray("detections")
	if err != nil {
		return nil, &ClassificationError{File: filepath.Base(req.Path), Reason: "classifier output has no detections array", Diagnostic: stderr, Err: err}
	}

	result := &Result{Diagnostics: stderr, Detections: make([]Detection, 0, len(items))}
	for i, item := range items {
		det, err := parseDetection(item)
		if err != nil {
			return nil, &ClassificationError{File: filepath.Base(req.Path), Reason: fmt.Sprintf("invalid detection %d", i), Diagnostic: stderr, Err: err}
		}
		result.Detections = append(result.Detections, det)
	}
	return result, nil
}

func parseDetection(item *jason.Object) (Detection, error) {
	species, err := item.GetString("species")
	if err != nil {
		return Detection{}, err
	}
	confidence, err := item.GetFloat64("confidence")
	if err != nil {
		return Detection{}, err
	}
	start, err := item.GetFloat64("start")
	if err != nil {
		return Detection{}, err
	}
	end, err := item.GetFloat64("end")
	if err != nil {
		return Detection{}, err
	}
	sci, common := SplitSpecies(species)
	return Detection{ScientificName: sci, CommonName: common, Confidence: confidence, Start: start, End: end}, nil
}

// Encode runs "<helper> encode" for one recording.
func (c *Command) Encode(ctx context.Context, req Request) (*Encoding, error) {
	stdout, stderr, err := c.run(ctx, c.baseArgs("encode", req))
	if err != nil {
		return nil, &ClassificationError{File: filepath.Base(req.Path), Reason: "encoder command failed", Diagnostic: stderr, Err: err}
	}
	doc, err := jason.NewObjectFromBytes(stdout)
	if err != nil {
		return nil, &ClassificationError{File: filepath.Base(req.Path), Reason: "invalid encoder output", Diagnostic: stderr, Err: err}
	}

	enc := &Encoding{SegmentLength: req.SegmentLength, Overlap: req.Overlap}
	if v, err := doc.GetFloat64("segment_length"); err == nil {
		enc.SegmentLength = v
	}
	if v, err := doc.GetFloat64("overlap"); err == nil {
		enc.Overlap = v
	}
	rows, err := doc.GetValueArray("embeddings")
	if err != nil {
		return nil, &ClassificationError{File: filepath.Base(req.Path), Reason: "encoder output has no embeddings array", Diagnostic: stderr, Err: err}
	}
	enc.Vectors = make([][]float32, len(rows))
	for i, row := range rows {
		values, err := row.Array()
		if err != nil {
			return nil, fmt.Errorf("embedding row %d: %w", i, err)
		}
		vec := make([]float32, len(values))
		for j, v := range values {
			f, err := v.Float64()
			if err != nil {
				return nil, fmt.Errorf("embedding row %d column %d: %w", i, j, err)
			}
			vec[j] = float32(f)
		}
		enc.Vectors[i] = vec
	}
	return enc, nil
}

func (c *Command) baseArgs(verb string, req Request) []string {
	args := make([]string, 0, len(c.args)+16)
	args = append(args, c.args...)
	return append(args, verb,
		"--input", req.Path,
		"--segment-length", formatFloat(req.SegmentLength),
		"--overlap", formatFloat(req.Overlap))
}

// run executes the helper. A recording in flight is not interrupted by
// cancellation of ctx; only the configured timeout stops the helper.
func (c *Command) run(ctx context.Context, args []string) (stdout []byte, stderr string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, c.timeout)
		defer cancel()
	}

	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(runCtx, c.path, args...)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	cmd.WaitDelay = time.Second

	start := time.Now()
	err = cmd.Run()
	c.log.Debug("classifier command finished",
		logger.String("command", filepath.Base(c.path)),
		logger.String("verb", args[len(c.args)]),
		logger.Duration("elapsed", time.Since(start)),
		logger.Int("stderr_bytes", errBuf.Len()))

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = errors.New(fmt.Errorf("classifier command timed out after %s", c.timeout)).
			Component("classifier").
			Category(errors.CategoryTimeout).
			Build()
	}
	return outBuf.Bytes(), errBuf.String(), err
}

// Close is a no-op; the helper does not outlive a call.
func (c *Command) Close() error {
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
