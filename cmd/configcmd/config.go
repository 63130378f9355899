// Package configcmd implements the config subcommand.
package configcmd

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-walker/internal/conf"
)

// Command creates a new cobra.Command printing the effective configuration.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Prints the configuration after defaults, config file, environment and flags were applied.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := conf.RenderYAML(settings)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	return cmd
}
