package main

import (
	"github.com/bitrise-io/go-media-upload/stepconf"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print and validate the configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}

		stepconf.Fprint(cmd.OutOrStdout(), a.cfg)
		a.logger.Println()
		a.logger.Printf("API: %s (%s)", a.cfg.APIBaseURL(), a.cfg.Mode())
		a.logger.Printf("Overlay: %s", a.cfg.Overlay())
		a.logger.Donef("Configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
