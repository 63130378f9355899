package audiomoth

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-walker/internal/errors"
	"github.com/tphakala/birdnet-walker/internal/logger"
)

// wavSpec describes a synthetic WAV file
type wavSpec struct {
	sampleRate int
	channels   int
	bitDepth   int
	frames     int
	icmt       string // LIST/INFO/ICMT text, omitted when empty
	guano      string // guan chunk text, omitted when empty
}

func chunk(id string, body []byte) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString(id)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(body)))
	buf.Write(body)
	if len(body)%2 == 1 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func buildWAV(spec wavSpec) []byte {
	blockAlign := spec.channels * spec.bitDepth / 8
	fmtBody := &bytes.Buffer{}
	_ = binary.Write(fmtBody, binary.LittleEndian, uint16(1))
	_ = binary.Write(fmtBody, binary.LittleEndian, uint16(spec.channels))
	_ = binary.Write(fmtBody, binary.LittleEndian, uint32(spec.sampleRate))
	_ = binary.Write(fmtBody, binary.LittleEndian, uint32(spec.sampleRate*blockAlign))
	_ = binary.Write(fmtBody, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(fmtBody, binary.LittleEndian, uint16(spec.bitDepth))

	body := &bytes.Buffer{}
	body.WriteString("WAVE")
	body.Write(chunk("fmt ", fmtBody.Bytes()))
	if spec.icmt != "" {
		info := append([]byte("INFO"), chunk("ICMT", []byte(spec.icmt))...)
		body.Write(chunk("LIST", info))
	}
	body.Write(chunk("data", make([]byte, spec.frames*blockAlign)))
	if spec.guano != "" {
		body.Write(chunk("guan", []byte(spec.guano)))
	}

	out := &bytes.Buffer{}
	out.WriteString("RIFF")
	_ = binary.Write(out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func writeWAV(t *testing.T, name string, spec wavSpec) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, buildWAV(spec), 0o600))
	return path
}

func newTestReader(t *testing.T) *Reader {
	t.Helper()
	r, err := NewReader(nil, logger.NewSlogLogger(nil, logger.LogLevelDebug))
	require.NoError(t, err)
	return r
}

const sampleGuano = "GUANO|Version:1.0\n" +
	"Make:Open Acoustic Devices\n" +
	"Model:AudioMoth\n" +
	"Serial:24F319046907A8C1\n" +
	"Firmware Version:1.11.0\n" +
	"Timestamp:2025-04-16T16:46:32Z\n" +
	"Loc Position:51.123456 13.654321\n" +
	"Temperature Int:17.2\n" +
	"OAD|Battery Voltage:4.1\n" +
	"OAD|Recording Settings:48000 GAIN 2 LPF 0 HPF 0\n"

func TestReadGuano(t *testing.T) {
	path := writeWAV(t, "20250416_164632.WAV", wavSpec{
		sampleRate: 48000, channels: 1, bitDepth: 16, frames: 48000 * 2,
		guano: sampleGuano,
	})

	rec, err := newTestReader(t).Read(path)
	require.NoError(t, err)

	assert.Equal(t, "20250416_164632.WAV", rec.Filename)
	assert.Equal(t, "24F319046907A8C1", rec.Serial)
	assert.Equal(t, "1.11.0", rec.Firmware)
	assert.Equal(t, "2", rec.Gain)
	assert.Equal(t, time.Date(2025, 4, 16, 16, 46, 32, 0, time.UTC), rec.TimestampUTC)
	assert.Equal(t, 18, rec.TimestampLocal.Hour())
	assert.Equal(t, "MESZ", rec.Timezone)
	require.True(t, rec.HasGPS())
	assert.InDelta(t, 51.123456, *rec.GPSLat, 1e-9)
	assert.InDelta(t, 13.654321, *rec.GPSLon, 1e-9)
	require.NotNil(t, rec.TemperatureC)
	assert.InDelta(t, 17.2, *rec.TemperatureC, 1e-9)
	require.NotNil(t, rec.BatteryVoltage)
	assert.InDelta(t, 4.1, *rec.BatteryVoltage, 1e-9)
	assert.Equal(t, 48000, rec.SampleRate)
	assert.Equal(t, 1, rec.Channels)
	assert.Equal(t, 16, rec.BitDepth)
	assert.InDelta(t, 2.0, rec.DurationSeconds, 1e-9)
}

func TestReadCommentFallback(t *testing.T) {
	path := writeWAV(t, "winter.wav", wavSpec{
		sampleRate: 32000, channels: 1, bitDepth: 16, frames: 32000,
		icmt: "Recorded at 07:15:00 12/01/2025 (UTC) by AudioMoth 24F319046907A8C1 at medium gain while battery was 3.9V and temperature was -2.5C.",
	})

	rec, err := newTestReader(t).Read(path)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 1, 12, 7, 15, 0, 0, time.UTC), rec.TimestampUTC)
	assert.Equal(t, "MEZ", rec.Timezone)
	assert.Equal(t, 8, rec.TimestampLocal.Hour())
	require.NotNil(t, rec.TemperatureC)
	assert.InDelta(t, -2.5, *rec.TemperatureC, 1e-9)
	require.NotNil(t, rec.BatteryVoltage)
	assert.InDelta(t, 3.9, *rec.BatteryVoltage, 1e-9)
	assert.False(t, rec.HasGPS())
	assert.InDelta(t, 1.0, rec.DurationSeconds, 1e-9)
}

func TestReadGuanoTakesPrecedenceOverComment(t *testing.T) {
	path := writeWAV(t, "both.wav", wavSpec{
		sampleRate: 48000, channels: 2, bitDepth: 16, frames: 4800,
		icmt:  "Recorded at 01:00:00 01/01/2020 (UTC) by AudioMoth while battery was 3.0V and temperature was 5.0C. ",
		guano: sampleGuano,
	})

	rec, err := newTestReader(t).Read(path)
	require.NoError(t, err)

	assert.Equal(t, 2025, rec.TimestampUTC.Year())
	assert.InDelta(t, 17.2, *rec.TemperatureC, 1e-9)
	assert.InDelta(t, 4.1, *rec.BatteryVoltage, 1e-9)
	assert.InDelta(t, 0.1, rec.DurationSeconds, 1e-9)
}

func TestReadMissingTimestamp(t *testing.T) {
	path := writeWAV(t, "nots.wav", wavSpec{
		sampleRate: 48000, channels: 1, bitDepth: 16, frames: 100,
		guano: "GUANO|Version:1.0\nSerial:ABC\n",
	})

	_, err := newTestReader(t).Read(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTimestamp)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}

func TestReadNotAWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not audio"), 0o600))

	_, err := newTestReader(t).Read(path)
	assert.Error(t, err)
}

func TestParseGuanoTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-04-16T16:46:32Z", time.Date(2025, 4, 16, 16, 46, 32, 0, time.UTC)},
		{"2025-04-16T18:46:32+02:00", time.Date(2025, 4, 16, 16, 46, 32, 0, time.UTC)},
		{"2025-04-16T16:46:32.500", time.Date(2025, 4, 16, 16, 46, 32, 500_000_000, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseGuanoTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}

	_, err := parseGuanoTimestamp("yesterday")
	assert.Error(t, err)
}

func TestZoneLabel(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	assert.Equal(t, "MESZ", ZoneLabel(time.Date(2025, 7, 1, 12, 0, 0, 0, berlin)))
	assert.Equal(t, "MEZ", ZoneLabel(time.Date(2025, 1, 1, 12, 0, 0, 0, berlin)))
	assert.Equal(t, "UTC", ZoneLabel(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)))
}
