package analysis

import (
	"fmt"
	"math"
	"time"

	"github.com/tphakala/birdnet-walker/internal/audiomoth"
	"github.com/tphakala/birdnet-walker/internal/classifier"
	"github.com/tphakala/birdnet-walker/internal/datastore"
	"github.com/tphakala/birdnet-walker/internal/embedding"
)

// toMetadata converts an extracted recording into its database row.
func toMetadata(rec *audiomoth.Recording) *datastore.Metadata {
	return &datastore.Metadata{
		Filename:        rec.Filename,
		TimestampUTC:    datastore.FormatTimestamp(rec.TimestampUTC.UTC()),
		TimestampLocal:  datastore.FormatTimestamp(rec.TimestampLocal),
		Timezone:        rec.Timezone,
		Serial:          rec.Serial,
		GPSLat:          rec.GPSLat,
		GPSLon:          rec.GPSLon,
		SampleRate:      rec.SampleRate,
		Channels:        rec.Channels,
		BitDepth:        rec.BitDepth,
		DurationSeconds: rec.DurationSeconds,
		TemperatureC:    rec.TemperatureC,
		BatteryVoltage:  rec.BatteryVoltage,
		Gain:            rec.Gain,
		Firmware:        rec.Firmware,
	}
}

// workItem is one pending recording resolved back to disk.
type workItem struct {
	meta *datastore.Metadata
	path string
	utc  time.Time
	loc  time.Time
}

func newWorkItem(meta *datastore.Metadata, path string) (*workItem, error) {
	utc, err := datastore.ParseTimestamp(meta.TimestampUTC)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp_utc of %s: %w", meta.Filename, err)
	}
	local, err := datastore.ParseTimestamp(meta.TimestampLocal)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp_local of %s: %w", meta.Filename, err)
	}
	return &workItem{meta: meta, path: path, utc: utc, loc: local}, nil
}

// request builds the classifier call for the item. Recordings without a
// position fix use lat/lon.
func (w *workItem) request(minConfidence, length, overlap, lat, lon float64) classifier.Request {
	if w.meta.GPSLat != nil && w.meta.GPSLon != nil {
		lat, lon = *w.meta.GPSLat, *w.meta.GPSLon
	}
	return classifier.Request{
		Path:          w.path,
		Latitude:      lat,
		Longitude:     lon,
		Timestamp:     w.utc,
		MinConfidence: minConfidence,
		SegmentLength: length,
		Overlap:       overlap,
	}
}

// spans returns the in-file positions of detections.
func spans(dets []classifier.Detection) []embedding.Span {
	out := make([]embedding.Span, len(dets))
	for i, d := range dets {
		out[i] = embedding.Span{Start: d.Start, End: d.End}
	}
	return out
}

// seconds converts a file offset into a duration, rounded to the microsecond
// precision of the stored timestamps.
func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s*1e6)) * time.Microsecond
}

// buildDetections turns classifier output into detection rows. idx may be nil
// or hold one embedding index per detection.
func buildDetections(w *workItem, dets []classifier.Detection, names *classifier.NameResolver, idx []*int64) []datastore.Detection {
	rows := make([]datastore.Detection, len(dets))
	for i, d := range dets {
		n := names.Resolve(d.ScientificName)
		start, end := seconds(d.Start), seconds(d.End)
		rows[i] = datastore.Detection{
			Filename:          w.meta.Filename,
			SegmentStartUTC:   datastore.FormatTimestamp(w.utc.Add(start)),
			SegmentStartLocal: datastore.FormatTimestamp(w.loc.Add(start)),
			SegmentEndUTC:     datastore.FormatTimestamp(w.utc.Add(end)),
			SegmentEndLocal:   datastore.FormatTimestamp(w.loc.Add(end)),
			Timezone:          w.meta.Timezone,
			ScientificName:    n.Scientific,
			LocalName:         n.Local,
			NameCS:            n.Czech,
			Confidence:        d.Confidence,
		}
		if i < len(idx) {
			rows[i].EmbeddingIdx = idx[i]
		}
	}
	return rows
}
