package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records = append(records, rec)
	}
	return records
}

func TestModuleLoggerFieldsAndModule(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug).Module("datastore").Module("recovery")

	log.Info("reset files",
		String("path", "/tmp/a.db"),
		Int("count", 3),
		Float64("ratio", 0.123456),
		Duration("elapsed", 1500*time.Millisecond))

	records := decodeLines(t, buf)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "reset files", rec["msg"])
	assert.Equal(t, "datastore.recovery", rec["module"])
	assert.Equal(t, "/tmp/a.db", rec["path"])
	assert.InDelta(t, 3, rec["count"], 0)
	assert.InDelta(t, 0.123, rec["ratio"], 1e-9)
	assert.Equal(t, "1.5s", rec["elapsed"])
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelWarn)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Log(LogLevelError, "shown too")

	assert.Len(t, decodeLines(t, buf), 2)
}

func TestWithDoesNotLeakIntoParent(t *testing.T) {
	buf := &bytes.Buffer{}
	parent := NewSlogLogger(buf, LogLevelInfo).Module("analysis")
	child := parent.With(String("file", "a.wav"))

	child.Info("child")
	parent.Info("parent")

	records := decodeLines(t, buf)
	require.Len(t, records, 2)
	assert.Equal(t, "a.wav", records[0]["file"])
	assert.NotContains(t, records[1], "file")
}

func TestWithContextAddsRunID(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo)

	log.WithContext(WithRunID(context.Background(), "run-1")).Info("started")
	log.WithContext(context.Background()).Info("no id")

	records := decodeLines(t, buf)
	require.Len(t, records, 2)
	assert.Equal(t, "run-1", records[0]["run_id"])
	assert.NotContains(t, records[1], "run_id")
}

func TestErrorFieldNil(t *testing.T) {
	f := Error(nil)
	assert.Equal(t, "error", f.Key)
	assert.Nil(t, f.Value)
}

func TestCentralLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "analyzer.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput: &FileOutput{
			Enabled: true,
			Path:    path,
			MaxSize: 1,
			Level:   "debug",
		},
	})
	require.NoError(t, err)

	cl.Module("cli").Info("hello", String("lang", "de"))
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"module":"cli"`)
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}
