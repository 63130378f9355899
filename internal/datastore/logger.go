package datastore

import (
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/birdnet-walker/internal/logger"
)

// DefaultSlowQueryThreshold is the duration after which a statement is logged
// as slow. VACUUM and index builds on large folders are expected to exceed it.
const DefaultSlowQueryThreshold = 1 * time.Second

// GetLogger returns the datastore module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}

// createGormLogger routes GORM output into the datastore logger.
func createGormLogger(log logger.Logger) gormlogger.Interface {
	return logger.NewGormLoggerAdapter(log, DefaultSlowQueryThreshold)
}
