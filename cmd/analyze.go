package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-walker/internal/analysis"
	"github.com/tphakala/birdnet-walker/internal/audiomoth"
	"github.com/tphakala/birdnet-walker/internal/buildinfo"
	"github.com/tphakala/birdnet-walker/internal/classifier"
	"github.com/tphakala/birdnet-walker/internal/conf"
	"github.com/tphakala/birdnet-walker/internal/errors"
	"github.com/tphakala/birdnet-walker/internal/logger"
	"github.com/tphakala/birdnet-walker/internal/observability"
)

const sentryFlushTimeout = 2 * time.Second

// analyze runs the batch analysis of root and prints the run summary.
func analyze(cmd *cobra.Command, build *buildinfo.Context, settings *conf.Settings, root string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closeLogger, err := setupLogging(settings)
	if err != nil {
		return err
	}
	defer closeLogger()

	ctx = logger.WithRunID(ctx, build.GetRunID())
	log := logger.Global().Module("main").WithContext(ctx)
	log.Info("starting birdnet-walker",
		logger.String("version", build.GetVersion()),
		logger.String("build_date", build.GetBuildDate()),
		logger.String("input", root))

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, build.GetVersion()); err != nil {
			log.Warn("telemetry disabled", logger.Error(err))
		} else {
			defer errors.FlushSentry(sentryFlushTimeout)
		}
	}

	logMemory(log)

	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("input folder %s does not exist or is not a directory", root)
	}

	names, err := loadNames(&settings.BirdNET, log)
	if err != nil {
		return err
	}

	clf, err := classifier.New(&settings.BirdNET, logger.Global().Module("classifier"))
	if err != nil {
		return err
	}
	defer func() {
		if err := clf.Close(); err != nil {
			log.Warn("failed to release classifier", logger.Error(err))
		}
	}()

	loc, err := time.LoadLocation(settings.Analysis.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %s: %w", settings.Analysis.Timezone, err)
	}
	reader, err := audiomoth.NewReader(loc, logger.Global().Module("audiomoth"))
	if err != nil {
		return err
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	processor, err := analysis.NewProcessor(analysis.Options{
		Settings:   settings,
		Classifier: clf,
		Names:      names,
		Reader:     reader,
		Metrics:    metrics,
		Progress:   cmd.ErrOrStderr(),
		Logger:     logger.Global().Module("analysis").WithContext(ctx),
	})
	if err != nil {
		return err
	}

	results, runErr := processor.Run(ctx, root)
	if len(results) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), analysis.RenderSummary(results))
	}

	if path := settings.Metrics.TextFile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			log.Warn("failed to write metrics", logger.Error(err))
		}
	}

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, analysis.ErrAnalysisCanceled):
		// Interrupted runs resume on the next invocation
		log.Warn("analysis interrupted, rerun to resume")
		return nil
	default:
		return runErr
	}
}

// setupLogging installs the global logger and returns its release function.
func setupLogging(settings *conf.Settings) (func(), error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}
	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	return func() { _ = central.Close() }, nil
}

// validateLanguage checks that lang has a label file in dir.
func validateLanguage(dir, lang string) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("labels directory %s not found", dir)
	}
	langs, err := classifier.Languages(dir)
	if err != nil {
		return fmt.Errorf("failed to list labels in %s: %w", dir, err)
	}
	if len(langs) == 0 {
		return fmt.Errorf("no label files found in %s", dir)
	}
	if !slices.Contains(langs, lang) {
		return fmt.Errorf("invalid language %q, available: %s", lang, strings.Join(langs, ", "))
	}
	return nil
}

// loadNames builds the species name resolver for the configured language.
func loadNames(settings *conf.BirdNETConfig, log logger.Logger) (*classifier.NameResolver, error) {
	if err := validateLanguage(settings.LabelsPath, settings.Language); err != nil {
		return nil, err
	}
	labels, err := classifier.LoadLabels(settings.LabelsPath, settings.Language, log)
	if err != nil {
		return nil, err
	}
	var translations map[string]classifier.Translation
	if settings.TranslationTable != "" {
		translations, err = classifier.LoadTranslations(settings.TranslationTable)
		if err != nil {
			return nil, err
		}
	}
	log.Info("labels loaded",
		logger.String("language", settings.Language),
		logger.Int("labels", len(labels)),
		logger.Int("translations", len(translations)))
	return classifier.NewNameResolver(labels, translations), nil
}

// logMemory logs a snapshot of host memory.
func logMemory(log logger.Logger) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Debug("memory snapshot unavailable", logger.Error(err))
		return
	}
	log.Info("host memory",
		logger.Uint64("total_mb", vm.Total/1024/1024),
		logger.Uint64("available_mb", vm.Available/1024/1024),
		logger.Float64("used_percent", vm.UsedPercent))
}
