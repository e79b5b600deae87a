// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"os"

	"github.com/invowk/guildhost/internal/config"
)

type (
	// App wires CLI services and shared dependencies. Every Cobra handler
	// receives the App and reads configuration and output streams through it.
	App struct {
		Config ConfigProvider
		// Env resolves GUILDHOST_* overrides; nil means the process environment.
		Env    func(string) (string, bool)
		stdout io.Writer
		stderr io.Writer

		// Persistent flag values, bound by NewRootCommand.
		configPath string
		verbose    bool
		logLevel   string
		logFormat  string
	}

	// Dependencies defines the injection points for building an App. Nil fields
	// are replaced with production defaults by NewApp.
	Dependencies struct {
		Config ConfigProvider
		Env    func(string) (string, bool)
		Stdout io.Writer
		Stderr io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}
)

// NewApp creates an App from deps.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config: deps.Config,
		Env:    deps.Env,
		stdout: deps.Stdout,
		stderr: deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

func (a *App) loadOptions() config.LoadOptions {
	return config.LoadOptions{ConfigFilePath: a.configPath, Env: a.Env}
}

// LoadConfig loads configuration honoring --config.
func (a *App) LoadConfig(ctx context.Context) (*config.Config, error) {
	return a.Config.Load(ctx, a.loadOptions())
}
