// Package classifier is the boundary to the acoustic model. A Classifier turns
// a recording into species detections and, optionally, one embedding vector
// per analysis segment.
package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/birdnet-walker/internal/errors"
)

// Request describes one recording to analyse.
type Request struct {
	Path          string
	Latitude      float64
	Longitude     float64
	Timestamp     time.Time
	MinConfidence float64
	SegmentLength float64 // seconds
	Overlap       float64 // seconds
}

// Detection is one species occurrence within a recording. Start and End are
// seconds from the file start and equal the boundaries of the segment the
// prediction was made on.
type Detection struct {
	ScientificName string
	CommonName     string
	Confidence     float64
	Start          float64
	End            float64
}

// Result is the outcome of a Classify call. Diagnostics carries free-form
// output the model runtime emitted during the call.
type Result struct {
	Detections  []Detection
	Diagnostics string
}

// Encoding holds one embedding vector per segment, in segment order.
type Encoding struct {
	Vectors       [][]float32
	SegmentLength float64
	Overlap       float64
}

// Classifier is an exclusively owned handle to a loaded model. Calls are
// serialised by the implementation.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*Result, error)
	Encode(ctx context.Context, req Request) (*Encoding, error)
	Close() error
}

// ClassificationError reports a model failure for one recording. The
// recording is marked failed and the run continues.
type ClassificationError struct {
	File       string
	Reason     string
	Diagnostic string // model output that accompanied the failure
	Err        error
}

func (e *ClassificationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "classification of %s failed: %s", e.File, e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// ErrorCategory lets enhanced errors wrapping this one inherit its category.
func (e *ClassificationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryAudioAnalysis
}

// StatusMessage returns the text stored with a failed status, at most limit
// characters.
func (e *ClassificationError) StatusMessage(limit int) string {
	msg := e.Reason
	if e.Diagnostic != "" {
		msg = e.Reason + ": " + e.Diagnostic
	} else if e.Err != nil {
		msg = e.Reason + ": " + e.Err.Error()
	}
	return Truncate(msg, limit)
}

// ErrEmbeddingsUnavailable is returned by Encode when the loaded model has no
// embedding output.
var ErrEmbeddingsUnavailable = errors.NewStd("model does not provide embeddings")

// SplitSpecies splits a "Scientific_Common" label on the first underscore.
// A label without underscore is used for both names.
func SplitSpecies(label string) (scientific, common string) {
	sci, com, ok := strings.Cut(label, "_")
	if !ok {
		return label, label
	}
	return strings.TrimSpace(sci), strings.TrimSpace(com)
}
