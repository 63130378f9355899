package analysis

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/tphakala/birdnet-walker/internal/logger"
)

// Progress reports per-folder processing progress. On a terminal the status
// line is redrawn in place, otherwise every update becomes a log line.
type Progress struct {
	mu          sync.Mutex
	w           io.Writer
	log         logger.Logger
	interactive bool
	total       int
	start       time.Time
	now         func() time.Time
}

// ProgressStats is one progress snapshot.
type ProgressStats struct {
	Done    int
	Total   int
	Percent float64
	Rate    float64 // files per second
	Elapsed time.Duration
	ETA     string
}

// NewProgress returns a reporter writing to w. A nil w discards the display
// and keeps the log lines.
func NewProgress(w io.Writer, log logger.Logger) *Progress {
	if log == nil {
		log = GetLogger()
	}
	interactive := false
	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		interactive = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	if w == nil {
		w = io.Discard
	}
	return &Progress{w: w, log: log, interactive: interactive, now: time.Now}
}

// Start resets the reporter for total files.
func (p *Progress) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.start = p.now()
	p.log.Info("starting processing", logger.Int("files", total))
}

// Update reports that done files are finished and current was the last one.
func (p *Progress) Update(done int, current string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := computeStats(done, p.total, p.now().Sub(p.start))
	if p.interactive {
		_, _ = fmt.Fprintf(p.w, "\r\033[K📄 %d/%d (%.1f%%) | %s | %.2f files/s | elapsed %s | ETA %s",
			st.Done, st.Total, st.Percent, current, st.Rate, formatClock(st.Elapsed), st.ETA)
		return
	}
	p.log.Info("progress",
		logger.Int("done", st.Done),
		logger.Int("total", st.Total),
		logger.Float64("percent", st.Percent),
		logger.String("current_file", current),
		logger.Float64("files_per_sec", st.Rate),
		logger.String("elapsed", formatClock(st.Elapsed)),
		logger.String("eta", st.ETA))
}

// Finish prints the folder summary.
func (p *Progress) Finish(files int, detections int64, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(files) / elapsed.Seconds()
	}
	if p.interactive {
		_, _ = fmt.Fprintln(p.w)
	}
	_, _ = fmt.Fprintf(p.w, "✅ Processed %d files in %s (%.2f files/s), %d detections in database\n",
		files, formatClock(elapsed), rate, detections)
	p.log.Info("processing finished",
		logger.Int("files", files),
		logger.String("elapsed", formatClock(elapsed)),
		logger.Float64("files_per_sec", rate),
		logger.Int64("detections", detections))
}

// computeStats derives rate, percentage and ETA from the counters.
func computeStats(done, total int, elapsed time.Duration) ProgressStats {
	st := ProgressStats{Done: done, Total: total, Elapsed: elapsed, ETA: "calculating..."}
	if total > 0 {
		st.Percent = float64(done) / float64(total) * 100
	}
	if elapsed > 0 {
		st.Rate = float64(done) / elapsed.Seconds()
	}
	if st.Rate > 0 {
		remaining := float64(max(total-done, 0)) / st.Rate
		st.ETA = formatClock(time.Duration(remaining * float64(time.Second)))
	}
	return st
}

// formatClock renders d as H:MM:SS, truncated to whole seconds.
func formatClock(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", s/3600, (s/60)%60, s%60)
}
