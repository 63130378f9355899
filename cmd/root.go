package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/birdnet-walker/cmd/configcmd"
	"github.com/tphakala/birdnet-walker/cmd/languages"
	"github.com/tphakala/birdnet-walker/internal/buildinfo"
	"github.com/tphakala/birdnet-walker/internal/conf"
)

// RootCommand creates and returns the root command. Running it with a folder
// argument analyses that folder.
func RootCommand(build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "birdnet-walker <input_folder>",
		Short: "Batch BirdNET analysis of AudioMoth recordings",
		Long: `Analyses every AudioMoth WAV file in a folder with BirdNET and stores the
detections in a per-folder SQLite database. Interrupted runs resume where they
stopped.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       build.GetVersion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyze(cmd, build, settings, args[0])
		},
	}

	// Defaults must exist before the flags read them
	conf.SetDefaults()
	setupFlags(rootCmd, &configFile)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		return nil
	}

	rootCmd.AddCommand(
		languages.Command(settings),
		configcmd.Command(settings),
	)

	return rootCmd
}

// setupFlags defines the persistent flags and binds them to viper keys so
// they take precedence over the config file and environment.
func setupFlags(rootCmd *cobra.Command, configFile *string) {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(configFile, "config", "", "Path to config file")
	flags.Float64P("confidence", "c", viper.GetFloat64("birdnet.confidence"), "Minimum detection confidence")
	flags.BoolP("recursive", "r", viper.GetBool("analysis.recursive"), "Process every subfolder containing WAV files")
	flags.Bool("no-index", viper.GetBool("analysis.noindex"), "Drop secondary indexes instead of creating them")
	flags.StringP("lang", "l", viper.GetString("birdnet.language"), "Label language for local species names")
	flags.Bool("embeddings", viper.GetBool("embeddings.enabled"), "Store embedding vectors next to the database")
	flags.BoolP("debug", "d", viper.GetBool("debug"), "Enable debug logging")

	bindings := map[string]string{
		"confidence": "birdnet.confidence",
		"recursive":  "analysis.recursive",
		"no-index":   "analysis.noindex",
		"lang":       "birdnet.language",
		"embeddings": "embeddings.enabled",
		"debug":      "debug",
	}
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "error binding flag %s: %v\n", flag, err)
		}
	}
}

// Execute runs the root command and returns the process exit code.
func Execute(build *buildinfo.Context) int {
	if err := RootCommand(build).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
