package analysis

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/birdnet-walker/internal/logger"
)

func TestComputeStats(t *testing.T) {
	st := computeStats(0, 10, 0)
	assert.Equal(t, "calculating...", st.ETA)
	assert.Zero(t, st.Rate)

	st = computeStats(4, 10, 8*time.Second)
	assert.InDelta(t, 40.0, st.Percent, 1e-9)
	assert.InDelta(t, 0.5, st.Rate, 1e-9)
	assert.Equal(t, "0:00:12", st.ETA)

	st = computeStats(0, 0, time.Second)
	assert.Zero(t, st.Percent)
	assert.Equal(t, "calculating...", st.ETA)
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "0:00:00", formatClock(0))
	assert.Equal(t, "0:01:05", formatClock(65*time.Second+900*time.Millisecond))
	assert.Equal(t, "26:03:04", formatClock(26*time.Hour+3*time.Minute+4*time.Second))
}

func TestProgressLogsWhenNotATerminal(t *testing.T) {
	var display, logs bytes.Buffer
	p := NewProgress(&display, logger.NewSlogLogger(&logs, logger.LogLevelInfo))
	now := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Start(4)
	now = now.Add(4 * time.Second)
	p.Update(2, "20250614_040000.WAV")

	assert.Empty(t, display.String())
	assert.Contains(t, logs.String(), `"current_file":"20250614_040000.WAV"`)
	assert.Contains(t, logs.String(), `"eta":"0:00:04"`)

	p.Finish(4, 17, 8*time.Second)
	assert.Contains(t, display.String(), "Processed 4 files in 0:00:08 (0.50 files/s), 17 detections")
	assert.Contains(t, logs.String(), "processing finished")
}

func TestProgressRedrawsOnTerminal(t *testing.T) {
	var display bytes.Buffer
	p := NewProgress(&display, logger.NewSlogLogger(nil, logger.LogLevelInfo))
	p.interactive = true
	now := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Start(2)
	p.Update(0, "a.wav")
	assert.Contains(t, display.String(), "\r\033[K")
	assert.Contains(t, display.String(), "ETA calculating...")

	display.Reset()
	p.Finish(2, 3, 2*time.Second)
	assert.True(t, bytes.HasPrefix(display.Bytes(), []byte("\n")))
}
