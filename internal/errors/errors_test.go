package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestBuildDefaults(t *testing.T) {
	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuildInheritsWrappedCategory(t *testing.T) {
	inner := New(NewStd("disk full")).Category(CategoryDatabase).Build()
	outer := New(fmt.Errorf("insert failed: %w", inner)).Build()

	assert.Equal(t, CategoryDatabase, outer.Category)
	assert.True(t, IsCategory(outer, CategoryDatabase))
}

func TestIsMatchesSentinelThroughWrapping(t *testing.T) {
	sentinel := NewStd("analysis canceled")
	ee := New(fmt.Errorf("stopping: %w", sentinel)).
		Component("analysis").
		Category(CategoryCancellation).
		Build()

	assert.True(t, Is(ee, sentinel))
	assert.True(t, Is(ee, &EnhancedError{Category: CategoryCancellation}))
	assert.False(t, IsNotFound(ee))
}

func TestContextIsCopied(t *testing.T) {
	ee := New(NewStd("x")).Context("file", "a.wav").Timing("classify", 0).Build()

	ctx := ee.GetContext()
	ctx["file"] = "mutated"

	assert.Equal(t, "a.wav", ee.GetContext()["file"])
	assert.Equal(t, "classify", ee.GetContext()["operation"])
}

func TestInvalidPriorityFallsBackToMedium(t *testing.T) {
	ee := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.Priority)
}

func TestReporterOnlyReceivesHighPriority(t *testing.T) {
	r := &recordingReporter{}
	SetTelemetryReporter(r)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	New(NewStd("minor")).Priority(PriorityLow).Build()
	high := New(NewStd("major")).Priority(PriorityHigh).Build()

	require.Len(t, r.reported, 1)
	assert.Same(t, high, r.reported[0])
	assert.True(t, high.IsReported())
}

func TestScrubPaths(t *testing.T) {
	got := scrubPaths("open /home/anna/recordings/20250416_164632.WAV: no such file")
	assert.Equal(t, "open [PATH]: no such file", got)
}
