package classifier

import (
	"fmt"

	"github.com/tphakala/birdnet-walker/internal/conf"
	"github.com/tphakala/birdnet-walker/internal/logger"
)

var (
	_ Classifier = (*TFLite)(nil)
	_ Classifier = (*Command)(nil)
)

// New creates the backend selected by birdnet.backend.
func New(settings *conf.BirdNETConfig, log logger.Logger) (Classifier, error) {
	switch settings.Backend {
	case conf.BackendTFLite, "":
		return NewTFLite(TFLiteConfig{
			ModelPath:          settings.ModelPath,
			EmbeddingModelPath: settings.EmbeddingModelPath,
			LabelFile:          settings.ResolveLabelFile(),
			Threads:            settings.Threads,
			Sensitivity:        settings.Sensitivity,
		}, log)
	case conf.BackendCommand:
		return NewCommand(CommandConfig{
			Path:    settings.Command.Path,
			Args:    settings.Command.Args,
			Timeout: settings.Command.Timeout,
		}, log)
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", settings.Backend)
	}
}
