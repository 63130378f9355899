// conf/validate.go

package conf

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateBirdNETSettings(&settings.BirdNET)...)
	ve.Errors = append(ve.Errors, validateAnalysisSettings(&settings.Analysis)...)
	ve.Errors = append(ve.Errors, validateEmbeddingsSettings(&settings.Embeddings)...)
	ve.Errors = append(ve.Errors, validateQueueSettings(&settings.Queue)...)
	ve.Errors = append(ve.Errors, validateOutputSettings(&settings.Output)...)

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry.dsn is required when sentry is enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateBirdNETSettings validates the classifier settings
func validateBirdNETSettings(c *BirdNETConfig) []string {
	var errs []string

	switch c.Backend {
	case BackendTFLite:
		if c.ModelPath == "" {
			errs = append(errs, "birdnet.modelpath is required for the tflite backend")
		}
	case BackendCommand:
		if c.Command.Path == "" {
			errs = append(errs, "birdnet.command.path is required for the command backend")
		}
		if c.Command.Timeout < 0 {
			errs = append(errs, "birdnet.command.timeout must not be negative")
		}
	default:
		errs = append(errs, fmt.Sprintf("birdnet.backend must be %q or %q, got %q", BackendTFLite, BackendCommand, c.Backend))
	}

	if c.Confidence < 0 || c.Confidence > 1 {
		errs = append(errs, fmt.Sprintf("birdnet.confidence must be between 0 and 1, got %v", c.Confidence))
	}
	if c.Sensitivity < 0.1 || c.Sensitivity > 1.5 {
		errs = append(errs, fmt.Sprintf("birdnet.sensitivity must be between 0.1 and 1.5, got %v", c.Sensitivity))
	}
	if c.SegmentLength <= 0 {
		errs = append(errs, "birdnet.segmentlength must be positive")
	}
	if c.Overlap < 0 || c.Overlap >= c.SegmentLength {
		errs = append(errs, fmt.Sprintf("birdnet.overlap must be in [0, %v), got %v", c.SegmentLength, c.Overlap))
	}
	if c.Threads < 0 {
		errs = append(errs, "birdnet.threads must not be negative")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		errs = append(errs, "birdnet.latitude must be between -90 and 90")
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		errs = append(errs, "birdnet.longitude must be between -180 and 180")
	}
	if strings.TrimSpace(c.Language) == "" {
		errs = append(errs, "birdnet.language must not be empty")
	}
	if c.LabelsPath == "" {
		errs = append(errs, "birdnet.labelspath must not be empty")
	}

	return errs
}

func validateAnalysisSettings(c *AnalysisConfig) []string {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return []string{fmt.Sprintf("analysis.timezone %q is not a valid timezone: %v", c.Timezone, err)}
	}
	return nil
}

func validateEmbeddingsSettings(c *EmbeddingsConfig) []string {
	var errs []string
	if c.Dimensions <= 0 {
		errs = append(errs, "embeddings.dimensions must be positive")
	}
	if c.ChunkRows <= 0 {
		errs = append(errs, "embeddings.chunkrows must be positive")
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 4 {
		errs = append(errs, "embeddings.compressionlevel must be between 1 and 4")
	}
	if c.MatchTolerance < 0 {
		errs = append(errs, "embeddings.matchtolerance must not be negative")
	}
	if c.Enabled && c.Filename == "" {
		errs = append(errs, "embeddings.filename must not be empty")
	}
	return errs
}

func validateQueueSettings(c *QueueConfig) []string {
	var errs []string
	if c.Size < 1 {
		errs = append(errs, "queue.size must be at least 1")
	}
	if c.SleepInterval <= 0 {
		errs = append(errs, "queue.sleepinterval must be positive")
	}
	if c.WriterTimeout <= 0 {
		errs = append(errs, "queue.writertimeout must be positive")
	}
	return errs
}

func validateOutputSettings(c *OutputConfig) []string {
	var errs []string
	if !c.MySQL.Enabled {
		if c.SQLite.Filename == "" {
			errs = append(errs, "output.sqlite.filename must not be empty")
		}
		return errs
	}
	if c.MySQL.Host == "" {
		errs = append(errs, "output.mysql.host must not be empty")
	}
	if c.MySQL.Database == "" {
		errs = append(errs, "output.mysql.database must not be empty")
	}
	if c.MySQL.Username == "" {
		errs = append(errs, "output.mysql.username must not be empty")
	}
	return errs
}
