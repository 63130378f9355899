package languages

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-walker/internal/classifier"
	"github.com/tphakala/birdnet-walker/internal/conf"
)

// Command creates a new cobra.Command listing the label languages.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "languages",
		Short: "List available label languages",
		Long:  "Lists the <lang>.txt label files found in the configured labels directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			langs, err := classifier.Languages(settings.BirdNET.LabelsPath)
			if err != nil {
				return err
			}
			if len(langs) == 0 {
				return fmt.Errorf("no label files found in %s", settings.BirdNET.LabelsPath)
			}
			for _, lang := range langs {
				fmt.Fprintln(cmd.OutOrStdout(), lang)
			}
			return nil
		},
	}
	return cmd
}
