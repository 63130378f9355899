// model.go this code defines the data model for the analysis database
package datastore

import "time"

// Processing states of a recording
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// TimestampLayout is the ISO-8601 text form used for every stored timestamp.
const TimestampLayout = "2006-01-02T15:04:05.999999-07:00"

// Metadata is one recording. Rows are written once at discovery and never
// changed afterwards.
type Metadata struct {
	ID              uint     `gorm:"primaryKey"`
	Filename        string   `gorm:"size:512;not null;uniqueIndex:idx_metadata_filename"`
	TimestampUTC    string   `gorm:"column:timestamp_utc;size:40;not null"`
	TimestampLocal  string   `gorm:"column:timestamp_local;size:40;not null"`
	Timezone        string   `gorm:"size:16;not null"`
	Serial          string   `gorm:"size:64"`
	GPSLat          *float64 `gorm:"column:gps_lat"`
	GPSLon          *float64 `gorm:"column:gps_lon"`
	SampleRate      int      `gorm:"column:sample_rate"`
	Channels        int      `gorm:"column:channels"`
	BitDepth        int      `gorm:"column:bit_depth"`
	DurationSeconds float64  `gorm:"column:duration_seconds"`
	TemperatureC    *float64 `gorm:"column:temperature_c"`
	BatteryVoltage  *float64 `gorm:"column:battery_voltage"`
	Gain            string   `gorm:"size:32"`
	Firmware        string   `gorm:"size:128"`

	Detections []Detection       `gorm:"foreignKey:Filename;references:Filename;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Status     *ProcessingStatus `gorm:"foreignKey:Filename;references:Filename;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName overrides gorm's pluralised default.
func (Metadata) TableName() string { return "metadata" }

// Detection is one species occurrence inside a recording. Secondary indexes
// are managed explicitly, see CreateIndexes.
type Detection struct {
	ID                uint    `gorm:"primaryKey;autoIncrement"`
	Filename          string  `gorm:"size:512;not null"`
	SegmentStartUTC   string  `gorm:"column:segment_start_utc;size:40;not null"`
	SegmentStartLocal string  `gorm:"column:segment_start_local;size:40;not null"`
	SegmentEndUTC     string  `gorm:"column:segment_end_utc;size:40;not null"`
	SegmentEndLocal   string  `gorm:"column:segment_end_local;size:40;not null"`
	Timezone          string  `gorm:"size:16;not null"`
	ScientificName    string  `gorm:"size:255;not null"`
	LocalName         string  `gorm:"size:255"`
	NameCS            string  `gorm:"column:name_cs;size:255"`
	Confidence        float64 `gorm:"not null"`
	EmbeddingIdx      *int64  `gorm:"column:embedding_idx"`
}

func (Detection) TableName() string { return "detections" }

// ProcessingStatus tracks a recording through
// pending -> processing -> completed|failed.
type ProcessingStatus struct {
	Filename     string     `gorm:"primaryKey;size:512"`
	Status       string     `gorm:"size:16;not null;index:idx_processing_status_status"`
	StartedAt    *time.Time `gorm:"column:started_at"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
	ErrorMessage *string    `gorm:"type:text"`
}

func (ProcessingStatus) TableName() string { return "processing_status" }

// FormatTimestamp renders t in the stored text form.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseTimestamp parses a stored timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
