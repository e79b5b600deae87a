// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/invowk/guildhost/internal/config"
)

// newConfigCommand creates the `guildhost config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect guildhost configuration",
		Long: `Inspect guildhost configuration.

Configuration is read from:
  - Linux: ~/.config/guildhost/config.cue
  - macOS: ~/Library/Application Support/guildhost/config.cue
  - Windows: %APPDATA%\guildhost\config.cue
  - or config.cue in the working directory

Every key can be overridden from the environment, e.g. GUILDHOST_GATEWAY_TOKEN.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	var reveal bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg, !reveal))
			return nil
		},
	}
	show.Flags().BoolVar(&reveal, "reveal", false, "print tokens and passwords instead of redacting them")
	cfgCmd.AddCommand(show)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file in use",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := config.FilePath(app.loadOptions())
			if err != nil {
				return err
			}
			if path == "" {
				dir, err := config.ConfigDir()
				if err != nil {
					return err
				}
				fmt.Fprintln(app.stdout, SubtitleStyle.Render("no config file found, using defaults; create one at"))
				path = filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt)
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	})

	return cfgCmd
}
