package analysis

import "github.com/tphakala/birdnet-walker/internal/errors"

// ErrAnalysisCanceled is returned when the analysis is canceled by the user
var ErrAnalysisCanceled = errors.NewStd("analysis canceled")

// ErrFolderLocked is returned when another run holds the folder lock
var ErrFolderLocked = errors.NewStd("folder is locked by another run")

// ErrWriterTimeout is returned when the database writer had to be stopped
var ErrWriterTimeout = errors.NewStd("database writer did not finish in time")

// canceledError wraps ErrAnalysisCanceled with the folder being processed.
func canceledError(folder string) error {
	return errors.New(ErrAnalysisCanceled).
		Component("analysis").
		Category(errors.CategoryCancellation).
		Context("folder", folder).
		Build()
}

// ErrNoWAVFiles is returned when the input holds no folder with WAV files
var ErrNoWAVFiles = errors.NewStd("no folders with WAV files found")
