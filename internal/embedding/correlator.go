package embedding

import (
	"fmt"
	"math"
	"slices"

	"github.com/tphakala/birdnet-walker/internal/errors"
	"github.com/tphakala/birdnet-walker/internal/logger"
	"github.com/tphakala/birdnet-walker/internal/segment"
)

// Appender receives the vector rows referenced by a batch of detections.
type Appender interface {
	Append(rows [][]float32) (int64, error)
}

// Span is a detection's position within its recording, in seconds.
type Span struct {
	Start float64
	End   float64
}

// Correlator links detections to embedding rows. Only vectors of segments
// that carry at least one detection are stored.
type Correlator struct {
	store     Appender
	tolerance float64
	log       logger.Logger
}

// NewCorrelator returns a Correlator appending to store. With tolerance 0 a
// detection matches a segment only on exact start and end equality.
func NewCorrelator(store Appender, tolerance float64, log logger.Logger) *Correlator {
	if log == nil {
		log = logger.Global().Module("embedding")
	}
	return &Correlator{store: store, tolerance: tolerance, log: log}
}

// Correlate appends the vectors of all matched segments to the store and
// returns one index per span. Unmatched spans get nil. Segment boundaries
// are derived from the vector count with the encoding's length and overlap.
func (c *Correlator) Correlate(file string, spans []Span, vectors [][]float32, length, overlap float64) ([]*int64, error) {
	segments, err := segment.TimesForCount(len(vectors), length, overlap)
	if err != nil {
		return nil, errors.New(err).
			Component("embedding").
			Category(errors.CategoryEmbedding).
			Context("file", file).
			Build()
	}

	matches := MatchSegments(spans, segments, c.tolerance)
	for i, m := range matches {
		if m < 0 {
			c.log.Warn("detection has no matching embedding segment",
				logger.String("file", file),
				logger.Float64("start", spans[i].Start),
				logger.Float64("end", spans[i].End))
		}
	}

	order, compact := Compact(matches)
	out := make([]*int64, len(spans))
	if len(order) == 0 {
		return out, nil
	}

	rows := make([][]float32, len(order))
	for k, seg := range order {
		rows[k] = vectors[seg]
	}
	offset, err := c.store.Append(rows)
	if err != nil {
		return nil, fmt.Errorf("storing embeddings for %s: %w", file, err)
	}

	for i, m := range matches {
		if m < 0 {
			continue
		}
		idx := offset + int64(compact[m])
		out[i] = &idx
	}
	c.log.Debug("stored embeddings",
		logger.String("file", file),
		logger.Int("segments", len(segments)),
		logger.Int("stored", len(order)),
		logger.Int64("offset", offset))
	return out, nil
}

// MatchSegments returns, for every span, the index of the first segment whose
// start and end both lie within tolerance of the span's, or -1.
func MatchSegments(spans []Span, segments []segment.Segment, tolerance float64) []int {
	out := make([]int, len(spans))
	for i, sp := range spans {
		out[i] = -1
		for j, seg := range segments {
			if near(sp.Start, seg.Start, tolerance) && near(sp.End, seg.End, tolerance) {
				out[i] = j
				break
			}
		}
	}
	return out
}

func near(a, b, tolerance float64) bool {
	if tolerance <= 0 {
		return a == b
	}
	return math.Abs(a-b) <= tolerance
}

// Compact returns the distinct matched segment indices in ascending order and
// a map from segment index to its position in that order.
func Compact(matches []int) ([]int, map[int]int) {
	var order []int
	for _, m := range matches {
		if m >= 0 {
			order = append(order, m)
		}
	}
	slices.Sort(order)
	order = slices.Compact(order)

	compact := make(map[int]int, len(order))
	for k, seg := range order {
		compact[seg] = k
	}
	return order, compact
}
