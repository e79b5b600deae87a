// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/invowk/guildhost/internal/issue"
	"github.com/invowk/guildhost/internal/logging"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "guildhost",
		Short: "A modular, multi-guild chat bot host",
		Long: TitleStyle.Render("guildhost") + SubtitleStyle.Render(" - A modular, multi-guild chat bot host") + `

guildhost connects to a chat gateway and runs a catalog of modules for every
guild it serves. Each guild enables its own modules, renames its own commands
and picks its own command prefix; those settings persist across restarts.

` + SubtitleStyle.Render("Examples:") + `
  guildhost serve                     Connect to the gateway and serve guilds
  guildhost modules --graph           Show the module catalog and its edges
  guildhost config show               Show the effective configuration
  guildhost guild export --guild 42   Dump one guild's settings as TOML`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_, err := logging.Setup(app.stderr, logging.Options{
				Level:   app.logLevel,
				Format:  app.logFormat,
				Verbose: app.verbose,
			})
			return err
		},
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/guildhost/config.cue)")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging with timestamps and callers")
	flags.StringVar(&app.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&app.logFormat, "log-format", "text", "log format: text, json, logfmt")

	root.AddCommand(newServeCommand(app))
	root.AddCommand(newModulesCommand(app))
	root.AddCommand(newConfigCommand(app))
	root.AddCommand(newGuildCommand(app))
	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits the process with a non-zero status on error.
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		renderGuidance(app.stderr, err, app.verbose)
		os.Exit(1)
	}
}

// renderGuidance prints the actionable suggestions of err and, when err links
// to a catalog issue, its rendered Markdown.
func renderGuidance(w io.Writer, err error, verbose bool) {
	var ae *issue.ActionableError
	if errors.As(err, &ae) && (ae.HasSuggestions() || verbose) {
		fmt.Fprintln(w, WarningStyle.Render(ae.Format(verbose)))
	}
	if entry := issue.Guidance(err); entry != nil {
		if rendered, renderErr := entry.Render("dark"); renderErr == nil {
			fmt.Fprint(w, rendered)
		}
	}
}
