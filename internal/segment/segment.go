// Package segment computes the analysis windows the classifier runs over.
package segment

import (
	"fmt"
)

// Segment is one analysis window in seconds relative to the file start.
type Segment struct {
	Start float64
	End   float64
}

func validate(length, overlap float64) error {
	if length <= 0 {
		return fmt.Errorf("segment length must be positive, got %v", length)
	}
	if overlap < 0 || overlap >= length {
		return fmt.Errorf("overlap must be in [0, %v), got %v", length, overlap)
	}
	return nil
}

// Times returns the windows covering duration seconds. Window i spans
// [i*hop, i*hop+length) with hop = length-overlap. A window is generated while
// the part not shared with its predecessor starts inside the file, that is
// while i*hop+overlap < duration; the first window is always generated for a
// non-empty file.
func Times(duration, length, overlap float64) ([]Segment, error) {
	if err := validate(length, overlap); err != nil {
		return nil, err
	}
	if duration < 0 {
		return nil, fmt.Errorf("duration must not be negative, got %v", duration)
	}
	hop := length - overlap
	var segments []Segment
	for i := 0; float64(i)*hop < duration && (i == 0 || float64(i)*hop+overlap < duration); i++ {
		segments = append(segments, at(i, hop, length))
	}
	return segments, nil
}

// TimesForCount returns exactly n windows using the same formula as Times.
func TimesForCount(n int, length, overlap float64) ([]Segment, error) {
	if err := validate(length, overlap); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("segment count must not be negative, got %d", n)
	}
	hop := length - overlap
	segments := make([]Segment, n)
	for i := range n {
		segments[i] = at(i, hop, length)
	}
	return segments, nil
}

// at computes window i. Start and End are derived from the same product so
// both classifier passes arrive at bit-identical boundaries.
func at(i int, hop, length float64) Segment {
	start := float64(i) * hop
	return Segment{Start: start, End: start + length}
}
