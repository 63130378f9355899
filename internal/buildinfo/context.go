// Package buildinfo contains build-time metadata and the identity of the
// current run, separate from user configuration
package buildinfo

import "github.com/google/uuid"

// UnknownValue is reported for metadata that was not injected at build time
const UnknownValue = "unknown"

// BuildInfo provides an interface for accessing build-time metadata.
type BuildInfo interface {
	// GetVersion returns the build version string
	GetVersion() string
	// GetBuildDate returns the build date string
	GetBuildDate() string
	// GetRunID returns the identifier of this process run
	GetRunID() string
}

// Context contains build-time metadata that is not user-configurable.
// It is created once at startup.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string

	// RunID tags every log record and telemetry event of one run
	RunID string
}

// NewContext returns build metadata with a fresh run ID.
func NewContext(version, buildDate string) *Context {
	return &Context{
		Version:   version,
		BuildDate: buildDate,
		RunID:     uuid.NewString(),
	}
}

func valueOrUnknown(v string) string {
	if v == "" {
		return UnknownValue
	}
	return v
}

// GetVersion implements BuildInfo.GetVersion
func (c *Context) GetVersion() string {
	if c == nil {
		return UnknownValue
	}
	return valueOrUnknown(c.Version)
}

// GetBuildDate implements BuildInfo.GetBuildDate
func (c *Context) GetBuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return valueOrUnknown(c.BuildDate)
}

// GetRunID implements BuildInfo.GetRunID
func (c *Context) GetRunID() string {
	if c == nil {
		return UnknownValue
	}
	return valueOrUnknown(c.RunID)
}
