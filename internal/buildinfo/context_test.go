package buildinfo

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextValues(t *testing.T) {
	tests := []struct {
		name      string
		ctx       *Context
		version   string
		buildDate string
	}{
		{"nil context", nil, UnknownValue, UnknownValue},
		{"empty fields", &Context{}, UnknownValue, UnknownValue},
		{"injected", &Context{Version: "v0.3.1", BuildDate: "2025-06-14"}, "v0.3.1", "2025-06-14"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.buildDate, tt.ctx.GetBuildDate())
		})
	}
}

func TestNewContextAssignsRunID(t *testing.T) {
	a := NewContext("v0.3.1", "")
	b := NewContext("v0.3.1", "")

	_, err := uuid.Parse(a.GetRunID())
	require.NoError(t, err)
	assert.NotEqual(t, a.GetRunID(), b.GetRunID())
	assert.Equal(t, UnknownValue, a.GetBuildDate())
}

func TestContextImplementsBuildInfo(t *testing.T) {
	var info BuildInfo = NewContext("dev", "")
	assert.Equal(t, "dev", info.GetVersion())
}
