package analysis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tphakala/birdnet-walker/internal/errors"
)

// FolderResult is the outcome of one folder.
type FolderResult struct {
	Folder     string
	Pending    int           // files that were pending after recovery
	Processed  int           // files the producer finished this run
	Failed     int           // files marked failed this run
	Completed  int           // files whose detections were committed this run
	Recovered  int           // files reset by startup recovery
	Detections int64         // detections in the database after the run
	Elapsed    time.Duration // wall time of the folder
	Err        error
}

// Status returns a one-word outcome for display.
func (r *FolderResult) Status() string {
	switch {
	case r.Err == nil:
		return "ok"
	case errors.Is(r.Err, ErrFolderLocked):
		return "locked"
	case errors.Is(r.Err, ErrAnalysisCanceled):
		return "canceled"
	default:
		return "error"
	}
}

// Totals sums files and detections over results.
func Totals(results []*FolderResult) (files int, detections int64) {
	for _, r := range results {
		files += r.Processed
		detections += r.Detections
	}
	return files, detections
}

// RenderSummary renders the per-folder results and their totals as a table.
func RenderSummary(results []*FolderResult) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Folder", "Files", "Failed", "Detections", "Time", "Status"})

	failed := 0
	var elapsed time.Duration
	for _, r := range results {
		failed += r.Failed
		elapsed += r.Elapsed
		tw.AppendRow(table.Row{
			r.Folder,
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Failed),
			strconv.FormatInt(r.Detections, 10),
			formatClock(r.Elapsed),
			r.Status(),
		})
	}

	files, detections := Totals(results)
	tw.AppendFooter(table.Row{
		fmt.Sprintf("%d folders", len(results)),
		strconv.Itoa(files),
		strconv.Itoa(failed),
		strconv.FormatInt(detections, 10),
		formatClock(elapsed),
		"",
	})

	cfgs := []table.ColumnConfig{{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}}
	for i := 2; i <= 5; i++ {
		cfgs = append(cfgs, table.ColumnConfig{Number: i, Align: text.AlignRight, AlignFooter: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(cfgs)
	return tw.Render()
}
