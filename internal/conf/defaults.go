// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Analysis constants shared with the pipeline
const (
	DefaultConfidence    = 0.09
	DefaultOverlap       = 0.75
	DefaultSegmentLength = 3.0
	DefaultLanguage      = "de"
	DefaultTimezone      = "Europe/Berlin"
	// Geographic center of Germany, used when a recording carries no GPS fix
	DefaultLatitude  = 51.1657
	DefaultLongitude = 13.7372

	DefaultDatabaseFilename  = "birdnet_analysis.db"
	DefaultEmbeddingFilename = "birdnet_embeddings.zst"
	DefaultDimensions        = 1024
	DefaultChunkRows         = 1000

	DefaultQueueSize     = 2
	DefaultSleepInterval = 100 * time.Millisecond
	DefaultWriterTimeout = 60 * time.Second
)

// SetDefaults sets default values for the configuration.
func SetDefaults() {
	viper.SetDefault("debug", false)

	viper.SetDefault("birdnet.backend", BackendTFLite)
	viper.SetDefault("birdnet.modelpath", "models/BirdNET_GLOBAL_6K_V2.4_Model_FP32.tflite")
	viper.SetDefault("birdnet.embeddingmodelpath", "")
	viper.SetDefault("birdnet.labelspath", "labels")
	viper.SetDefault("birdnet.labelfile", "")
	viper.SetDefault("birdnet.language", DefaultLanguage)
	viper.SetDefault("birdnet.translationtable", "")
	viper.SetDefault("birdnet.threads", 0)
	viper.SetDefault("birdnet.sensitivity", 1.0)
	viper.SetDefault("birdnet.confidence", DefaultConfidence)
	viper.SetDefault("birdnet.overlap", DefaultOverlap)
	viper.SetDefault("birdnet.segmentlength", DefaultSegmentLength)
	viper.SetDefault("birdnet.latitude", DefaultLatitude)
	viper.SetDefault("birdnet.longitude", DefaultLongitude)
	viper.SetDefault("birdnet.command.path", "")
	viper.SetDefault("birdnet.command.args", []string{})
	viper.SetDefault("birdnet.command.timeout", 10*time.Minute)

	viper.SetDefault("analysis.recursive", false)
	viper.SetDefault("analysis.noindex", false)
	viper.SetDefault("analysis.timezone", DefaultTimezone)

	viper.SetDefault("embeddings.enabled", true)
	viper.SetDefault("embeddings.filename", DefaultEmbeddingFilename)
	viper.SetDefault("embeddings.dimensions", DefaultDimensions)
	viper.SetDefault("embeddings.chunkrows", DefaultChunkRows)
	viper.SetDefault("embeddings.compressionlevel", 3)
	viper.SetDefault("embeddings.matchtolerance", 0.0)

	viper.SetDefault("queue.size", DefaultQueueSize)
	viper.SetDefault("queue.sleepinterval", DefaultSleepInterval)
	viper.SetDefault("queue.writertimeout", DefaultWriterTimeout)

	viper.SetDefault("output.sqlite.filename", DefaultDatabaseFilename)
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "birdnet")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "birdnet")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("logging.defaultlevel", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.fileoutput.enabled", true)
	viper.SetDefault("logging.fileoutput.path", "birdnet_analyzer.log")
	viper.SetDefault("logging.fileoutput.maxsize", 10)
	viper.SetDefault("logging.fileoutput.maxage", 7)
	viper.SetDefault("logging.fileoutput.maxrotatedfiles", 0)
	viper.SetDefault("logging.fileoutput.compress", false)
	viper.SetDefault("logging.fileoutput.level", "debug")

	viper.SetDefault("metrics.textfile", "")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
