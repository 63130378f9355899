// config.go: settings struct for birdnet-walker and functions to load and render it.
package conf

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/birdnet-walker/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix is prepended to every environment override, e.g.
// BIRDNET_WALKER_BIRDNET_CONFIDENCE=0.2
const EnvPrefix = "BIRDNET_WALKER"

// Backend names accepted by birdnet.backend
const (
	BackendTFLite  = "tflite"
	BackendCommand = "command"
)

// CommandConfig configures the external classifier helper process.
type CommandConfig struct {
	Path    string        `yaml:"path" mapstructure:"path"`       // executable to run
	Args    []string      `yaml:"args" mapstructure:"args"`       // extra arguments placed before the per-call flags
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"` // per-call timeout, 0 disables
}

// BirdNETConfig contains settings for the classifier and species labels.
type BirdNETConfig struct {
	Backend            string        `yaml:"backend" mapstructure:"backend"`                       // tflite or command
	ModelPath          string        `yaml:"modelpath" mapstructure:"modelpath"`                   // analysis model file
	EmbeddingModelPath string        `yaml:"embeddingmodelpath" mapstructure:"embeddingmodelpath"` // optional separate embedding model
	LabelsPath         string        `yaml:"labelspath" mapstructure:"labelspath"`                 // directory with <lang>.txt files
	LabelFile          string        `yaml:"labelfile" mapstructure:"labelfile"`                   // model output label order, defaults to <labelspath>/en_us.txt
	Language           string        `yaml:"language" mapstructure:"language"`                     // label language for local_name
	TranslationTable   string        `yaml:"translationtable" mapstructure:"translationtable"`     // optional CSV with scientific,en,de,cs columns
	Threads            int           `yaml:"threads" mapstructure:"threads"`                       // interpreter threads, 0 uses all cores
	Sensitivity        float64       `yaml:"sensitivity" mapstructure:"sensitivity"`               // sigmoid sensitivity
	Confidence         float64       `yaml:"confidence" mapstructure:"confidence"`                 // minimum detection confidence
	Overlap            float64       `yaml:"overlap" mapstructure:"overlap"`                       // segment overlap in seconds
	SegmentLength      float64       `yaml:"segmentlength" mapstructure:"segmentlength"`           // segment length in seconds
	Latitude           float64       `yaml:"latitude" mapstructure:"latitude"`                     // used when a recording has no GPS fix
	Longitude          float64       `yaml:"longitude" mapstructure:"longitude"`
	Command            CommandConfig `yaml:"command" mapstructure:"command"`
}

// AnalysisConfig contains settings for folder traversal.
type AnalysisConfig struct {
	Recursive bool   `yaml:"recursive" mapstructure:"recursive"` // process every subfolder containing WAV files
	NoIndex   bool   `yaml:"noindex" mapstructure:"noindex"`     // drop secondary indexes instead of creating them
	Timezone  string `yaml:"timezone" mapstructure:"timezone"`   // zone used for local timestamps
}

// EmbeddingsConfig contains settings for the vector store.
type EmbeddingsConfig struct {
	Enabled          bool    `yaml:"enabled" mapstructure:"enabled"`
	Filename         string  `yaml:"filename" mapstructure:"filename"`                 // vector store file name inside each folder
	Dimensions       int     `yaml:"dimensions" mapstructure:"dimensions"`             // row width
	ChunkRows        int     `yaml:"chunkrows" mapstructure:"chunkrows"`               // rows per compressed frame
	CompressionLevel int     `yaml:"compressionlevel" mapstructure:"compressionlevel"` // 1 fastest .. 4 best
	MatchTolerance   float64 `yaml:"matchtolerance" mapstructure:"matchtolerance"`     // seconds, 0 requires exact equality
}

// QueueConfig contains settings for the producer/writer handoff.
type QueueConfig struct {
	Size          int           `yaml:"size" mapstructure:"size"`
	SleepInterval time.Duration `yaml:"sleepinterval" mapstructure:"sleepinterval"` // wait between enqueue attempts
	WriterTimeout time.Duration `yaml:"writertimeout" mapstructure:"writertimeout"` // shutdown wait before the writer is forced to stop
}

// SQLiteConfig contains settings for the per-folder SQLite database.
type SQLiteConfig struct {
	Filename string `yaml:"filename" mapstructure:"filename"`
}

// MySQLConfig contains settings for a shared MySQL database.
type MySQLConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     string `yaml:"port" mapstructure:"port"`
}

// OutputConfig selects the relational backend.
type OutputConfig struct {
	SQLite SQLiteConfig `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL  MySQLConfig  `yaml:"mysql" mapstructure:"mysql"`
}

// MetricsConfig contains settings for the prometheus textfile export.
type MetricsConfig struct {
	TextFile string `yaml:"textfile" mapstructure:"textfile"` // written after the run when set
}

// SentryConfig contains settings for error telemetry.
type SentryConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// Settings contains all configuration options for birdnet-walker.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	BirdNET    BirdNETConfig        `yaml:"birdnet" mapstructure:"birdnet"`
	Analysis   AnalysisConfig       `yaml:"analysis" mapstructure:"analysis"`
	Embeddings EmbeddingsConfig     `yaml:"embeddings" mapstructure:"embeddings"`
	Queue      QueueConfig          `yaml:"queue" mapstructure:"queue"`
	Output     OutputConfig         `yaml:"output" mapstructure:"output"`
	Logging    logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Metrics    MetricsConfig        `yaml:"metrics" mapstructure:"metrics"`
	Sentry     SentryConfig         `yaml:"sentry" mapstructure:"sentry"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
// An explicit configFile overrides the search paths. When no file is found the
// embedded defaults are used.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults, environment bindings and reads the config file.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	SetDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	for _, path := range GetDefaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	err := viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var configFileNotFoundError viper.ConfigFileNotFoundError
	if !errors.As(err, &configFileNotFoundError) {
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	// No config on disk, fall back to the embedded defaults
	data, err := DefaultConfig()
	if err != nil {
		return err
	}
	return viper.ReadConfig(bytes.NewReader(data))
}

// DefaultConfig returns the embedded default config.yaml.
func DefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// RenderYAML returns the settings as a YAML document.
func RenderYAML(settings *Settings) ([]byte, error) {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return data, nil
}
