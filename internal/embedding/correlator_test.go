package embedding

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-walker/internal/logger"
	"github.com/tphakala/birdnet-walker/internal/segment"
)

type fakeAppender struct {
	offset int64
	calls  [][][]float32
}

func (f *fakeAppender) Append(rows [][]float32) (int64, error) {
	f.calls = append(f.calls, rows)
	off := f.offset
	f.offset += int64(len(rows))
	return off, nil
}

func testVectors(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range n {
		out[i] = []float32{float32(i), float32(i) + 0.5}
	}
	return out
}

func spanOf(seg segment.Segment) Span {
	return Span{Start: seg.Start, End: seg.End}
}

func TestCorrelateStoresOnlyMatchedSegments(t *testing.T) {
	segs, err := segment.TimesForCount(10, 3, 0.75)
	require.NoError(t, err)

	store := &fakeAppender{offset: 40}
	c := NewCorrelator(store, 0, logger.NewSlogLogger(&bytes.Buffer{}, logger.LogLevelDebug))

	spans := []Span{spanOf(segs[7]), spanOf(segs[2]), spanOf(segs[5]), spanOf(segs[2])}
	idx, err := c.Correlate("a.wav", spans, testVectors(10), 3, 0.75)
	require.NoError(t, err)

	require.Len(t, store.calls, 1)
	stored := store.calls[0]
	require.Len(t, stored, 3)
	assert.Equal(t, []float32{2, 2.5}, stored[0])
	assert.Equal(t, []float32{5, 5.5}, stored[1])
	assert.Equal(t, []float32{7, 7.5}, stored[2])

	require.Len(t, idx, 4)
	for i, want := range []int64{44, 42, 43, 42} {
		require.NotNil(t, idx[i])
		assert.Equal(t, want, *idx[i], "detection %d", i)
	}
}

func TestCorrelateUnmatchedGetsNil(t *testing.T) {
	buf := &bytes.Buffer{}
	store := &fakeAppender{}
	c := NewCorrelator(store, 0, logger.NewSlogLogger(buf, logger.LogLevelWarn))

	spans := []Span{{Start: 0, End: 3}, {Start: 1, End: 4}}
	idx, err := c.Correlate("a.wav", spans, testVectors(4), 3, 1.5)
	require.NoError(t, err)

	require.NotNil(t, idx[0])
	assert.Equal(t, int64(0), *idx[0])
	assert.Nil(t, idx[1])
	assert.Contains(t, buf.String(), "no matching embedding segment")
}

func TestCorrelateNoMatchesDoesNotAppend(t *testing.T) {
	store := &fakeAppender{offset: 7}
	c := NewCorrelator(store, 0, logger.NewSlogLogger(&bytes.Buffer{}, logger.LogLevelError))

	idx, err := c.Correlate("a.wav", []Span{{Start: 100, End: 103}}, testVectors(3), 3, 0)
	require.NoError(t, err)
	assert.Empty(t, store.calls)
	assert.Equal(t, []*int64{nil}, idx)

	idx, err = c.Correlate("b.wav", nil, testVectors(3), 3, 0)
	require.NoError(t, err)
	assert.Empty(t, idx)
	assert.Empty(t, store.calls)
}

func TestMatchSegmentsTolerance(t *testing.T) {
	segs := []segment.Segment{{Start: 0, End: 3}, {Start: 2.25, End: 5.25}}
	spans := []Span{{Start: 2.2500001, End: 5.2500001}}

	assert.Equal(t, []int{-1}, MatchSegments(spans, segs, 0))
	assert.Equal(t, []int{1}, MatchSegments(spans, segs, 1e-3))
}

func TestMatchSegmentsFirstMatchWins(t *testing.T) {
	segs := []segment.Segment{{Start: 0, End: 3}, {Start: 0.1, End: 3.1}}
	assert.Equal(t, []int{0}, MatchSegments([]Span{{Start: 0.05, End: 3.05}}, segs, 0.5))
}

func TestCompact(t *testing.T) {
	order, compact := Compact([]int{7, -1, 2, 5, 2})
	assert.Equal(t, []int{2, 5, 7}, order)
	assert.Equal(t, map[int]int{2: 0, 5: 1, 7: 2}, compact)
}
