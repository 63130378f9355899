// Package audiomoth extracts recording metadata from AudioMoth WAV files.
//
// The timestamp, GPS position and device telemetry come from the GUANO
// ("guan") chunk; the LIST/INFO/ICMT comment written by older firmware is used
// as a fallback for fields the GUANO block does not carry.
package audiomoth

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/wav"

	"github.com/tphakala/birdnet-walker/internal/errors"
	"github.com/tphakala/birdnet-walker/internal/logger"
)

// ErrNoTimestamp is returned when neither GUANO nor ICMT carry a timestamp.
var ErrNoTimestamp = errors.NewStd("no timestamp found in recording metadata")

// Recording is the metadata of one audio file.
type Recording struct {
	Filename        string // key in the store, base name or path relative to the input root
	Path            string // absolute path on disk
	TimestampUTC    time.Time
	TimestampLocal  time.Time
	Timezone        string // MEZ/MESZ or zone abbreviation
	Serial          string
	GPSLat          *float64
	GPSLon          *float64
	SampleRate      int
	Channels        int
	BitDepth        int
	DurationSeconds float64
	TemperatureC    *float64
	BatteryVoltage  *float64
	Gain            string
	Firmware        string
}

// Reader extracts Recordings from WAV files.
type Reader struct {
	loc *time.Location
	log logger.Logger
}

// NewReader returns a Reader converting timestamps to loc. A nil loc uses
// Europe/Berlin.
func NewReader(loc *time.Location, log logger.Logger) (*Reader, error) {
	if loc == nil {
		var err error
		loc, err = time.LoadLocation("Europe/Berlin")
		if err != nil {
			return nil, fmt.Errorf("loading default timezone: %w", err)
		}
	}
	if log == nil {
		log = logger.Global().Module("audiomoth")
	}
	return &Reader{loc: loc, log: log}, nil
}

// Location returns the zone used for local timestamps.
func (r *Reader) Location() *time.Location {
	return r.loc
}

// Read extracts the metadata of the WAV file at path. The returned error is
// categorised as file parsing; callers skip the file.
func (r *Reader) Read(path string) (*Recording, error) {
	rec, err := r.read(path)
	if err != nil {
		return nil, errors.New(err).
			Component("audiomoth").
			Category(errors.CategoryFileParsing).
			Context("operation", "extract_metadata").
			Context("file", filepath.Base(path)).
			Build()
	}
	return rec, nil
}

func (r *Reader) read(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file format")
	}
	if decoder.SampleRate == 0 || decoder.NumChans == 0 || decoder.BitDepth == 0 {
		return nil, fmt.Errorf("incomplete WAV format header")
	}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("rewinding file: %w", err)
	}
	chunks, err := readChunks(f)
	if err != nil {
		return nil, err
	}

	rec := &Recording{
		Filename:   filepath.Base(path),
		Path:       path,
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
	}
	if abs, err := filepath.Abs(path); err == nil {
		rec.Path = abs
	}
	frameSize := int64(rec.Channels) * int64(rec.BitDepth/8)
	if chunks.hasData && frameSize > 0 {
		frames := chunks.dataSize / frameSize
		rec.DurationSeconds = float64(frames) / float64(rec.SampleRate)
	}

	warn := func(key, value string, err error) {
		r.log.Warn("unparseable metadata value",
			logger.String("file", rec.Filename),
			logger.String("key", key),
			logger.String("value", value),
			logger.Error(err))
	}
	if chunks.guano != "" {
		applyGuano(rec, chunks.guano, warn)
	}
	if chunks.comment != "" {
		applyComment(rec, chunks.comment, warn)
	}

	if rec.TimestampUTC.IsZero() {
		return nil, ErrNoTimestamp
	}
	rec.TimestampLocal = rec.TimestampUTC.In(r.loc)
	rec.Timezone = ZoneLabel(rec.TimestampLocal)

	r.log.Debug("metadata extracted",
		logger.String("file", rec.Filename),
		logger.Time("timestamp_local", rec.TimestampLocal),
		logger.String("timezone", rec.Timezone))
	return rec, nil
}

// HasGPS reports whether the recording carries a position fix.
func (rec *Recording) HasGPS() bool {
	return rec.GPSLat != nil && rec.GPSLon != nil
}
