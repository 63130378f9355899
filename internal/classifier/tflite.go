package classifier

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"

	"github.com/tphakala/birdnet-walker/internal/errors"
	"github.com/tphakala/birdnet-walker/internal/logger"
	"github.com/tphakala/birdnet-walker/internal/segment"
)

// TFLiteConfig configures the TensorFlow Lite backend.
type TFLiteConfig struct {
	ModelPath          string
	EmbeddingModelPath string // optional; without it embeddings come from a second output tensor if present
	LabelFile          string // labels in model output order
	Threads            int
	Sensitivity        float64
}

// TFLite runs BirdNET models in-process. Interpreters are not safe for
// concurrent use, so every call holds mu.
type TFLite struct {
	mu          sync.Mutex
	analysis    *tflite.Interpreter
	embedding   *tflite.Interpreter
	labels      []string
	sensitivity float64
	diag        strings.Builder
	log         logger.Logger
}

// NewTFLite loads the models and allocates the interpreters.
func NewTFLite(cfg TFLiteConfig, log logger.Logger) (*TFLite, error) {
	if log == nil {
		log = logger.Global().Module("classifier")
	}
	labels, err := LoadLabelFile(cfg.LabelFile)
	if err != nil {
		return nil, err
	}

	t := &TFLite{
		labels:      labels,
		sensitivity: cfg.Sensitivity,
		log:         log,
	}
	if t.sensitivity <= 0 {
		t.sensitivity = 1.0
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	start := time.Now()
	t.analysis, err = t.newInterpreter(cfg.ModelPath, threads)
	if err != nil {
		return nil, err
	}
	if out := t.analysis.GetOutputTensor(0); out == nil || out.Dim(out.NumDims()-1) != len(labels) {
		t.analysis.Delete()
		return nil, errors.Newf("model output does not match %d labels", len(labels)).
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("label_file", filepath.Base(cfg.LabelFile)).
			Build()
	}

	if cfg.EmbeddingModelPath != "" {
		t.embedding, err = t.newInterpreter(cfg.EmbeddingModelPath, threads)
		if err != nil {
			t.analysis.Delete()
			return nil, err
		}
	}

	log.Info("BirdNET model initialized",
		logger.String("model", filepath.Base(cfg.ModelPath)),
		logger.Int("labels", len(labels)),
		logger.Int("threads", threads),
		logger.Bool("embedding_model", t.embedding != nil),
		logger.Duration("load_time", time.Since(start)))
	return t, nil
}

func (t *TFLite) newInterpreter(path string, threads int) (*tflite.Interpreter, error) {
	modelData, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			Context("model", filepath.Base(path)).
			Build()
	}
	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model").
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("model", filepath.Base(path)).
			Build()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	// The reporter runs synchronously inside Invoke while mu is held
	options.SetErrorReporter(func(msg string, _ any) {
		t.diag.WriteString(msg)
		t.diag.WriteByte('\n')
	}, nil)

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		return nil, errors.Newf("cannot create interpreter").
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("model", filepath.Base(path)).
			Build()
	}
	if status := interp.AllocateTensors(); status != tflite.OK {
		interp.Delete()
		return nil, errors.Newf("tensor allocation failed").
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("model", filepath.Base(path)).
			Build()
	}
	return interp, nil
}

// Classify runs the analysis model over every segment of the recording. The
// model has no location input, so the coordinates in req are not used here.
func (t *TFLite) Classify(_ context.Context, req Request) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.diag.Reset()

	inputs, segs, err := t.prepare(req)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for i, input := range inputs {
		logits, err := invoke(t.analysis, input, 0)
		if err != nil {
			return nil, &ClassificationError{File: filepath.Base(req.Path), Reason: "inference failed", Diagnostic: t.diag.String(), Err: err}
		}
		for j, logit := range logits {
			confidence := sigmoid(float64(logit), t.sensitivity)
			if confidence < req.MinConfidence {
				continue
			}
			sci, common := SplitSpecies(t.labels[j])
			result.Detections = append(result.Detections, Detection{
				ScientificName: sci,
				CommonName:     common,
				Confidence:     confidence,
				Start:          segs[i].Start,
				End:            segs[i].End,
			})
		}
	}
	result.Diagnostics = t.diag.String()
	return result, nil
}

// Encode returns one embedding vector per segment, using the same
// segmentation as Classify.
func (t *TFLite) Encode(_ context.Context, req Request) (*Encoding, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.diag.Reset()

	interp, output := t.embedding, 0
	if interp == nil {
		if t.analysis.GetOutputTensorCount() < 2 {
			return nil, ErrEmbeddingsUnavailable
		}
		interp, output = t.analysis, 1
	}

	inputs, _, err := t.prepare(req)
	if err != nil {
		return nil, err
	}

	enc := &Encoding{
		Vectors:       make([][]float32, 0, len(inputs)),
		SegmentLength: req.SegmentLength,
		Overlap:       req.Overlap,
	}
	for _, input := range inputs {
		vec, err := invoke(interp, input, output)
		if err != nil {
			return nil, &ClassificationError{File: filepath.Base(req.Path), Reason: "embedding extraction failed", Diagnostic: t.diag.String(), Err: err}
		}
		enc.Vectors = append(enc.Vectors, vec)
	}
	return enc, nil
}

// prepare decodes the recording and cuts it into model inputs.
func (t *TFLite) prepare(req Request) ([][]float32, []segment.Segment, error) {
	samples, err := readMono48k(req.Path)
	if err != nil {
		return nil, nil, &ClassificationError{File: filepath.Base(req.Path), Reason: "audio decoding failed", Err: err}
	}
	segs, err := segment.Times(durationOf(samples), req.SegmentLength, req.Overlap)
	if err != nil {
		return nil, nil, err
	}
	return windows(samples, segs, req.SegmentLength), segs, nil
}

// invoke copies input into the interpreter and returns a copy of the output tensor.
func invoke(interp *tflite.Interpreter, input []float32, output int) ([]float32, error) {
	in := interp.GetInputTensor(0)
	if in == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	dst := in.Float32s()
	if len(dst) != len(input) {
		return nil, fmt.Errorf("input tensor expects %d samples, got %d", len(dst), len(input))
	}
	copy(dst, input)

	if status := interp.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	out := interp.GetOutputTensor(output)
	if out == nil {
		return nil, fmt.Errorf("cannot get output tensor %d", output)
	}
	values := make([]float32, out.Dim(out.NumDims()-1))
	copy(values, out.Float32s())
	return values, nil
}

// sigmoid maps a logit to a confidence with sensitivity adjustment.
func sigmoid(x, sensitivity float64) float64 {
	return 1.0 / (1.0 + math.Exp(-sensitivity*x))
}

// Close releases the interpreters.
func (t *TFLite) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.analysis != nil {
		t.analysis.Delete()
		t.analysis = nil
	}
	if t.embedding != nil {
		t.embedding.Delete()
		t.embedding = nil
	}
	return nil
}
