// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/invowk/guildhost/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "guildhost"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "GUILDHOST"

	maxConfigFileSize = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the guildhost configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// FilePath returns the config file that Load would read for opts, or "" when
// none exists and defaults apply.
func FilePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath, nil
	}
	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	for _, candidate := range []string{
		filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt),
		ConfigFileName + "." + ConfigFileExt,
	} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

// loadWithOptions performs option-driven config loading without touching
// package-level state.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	if opts.ConfigFilePath != "" && !fileExists(opts.ConfigFilePath) {
		return nil, "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithIssue(issue.ConfigLoadFailedId).
			WithResource(opts.ConfigFilePath).
			WithSuggestion("Verify the file path is correct").
			WithSuggestion("Use 'guildhost config show' to see the default configuration").
			Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
			BuildError()
	}

	resolvedPath, err := FilePath(opts)
	if err != nil {
		return nil, "", err
	}
	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithIssue(issue.ConfigLoadFailedId).
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("See 'guildhost config --help' for configuration options").
				Wrap(err).
				BuildError()
		}
	}

	lookup := opts.Env
	if lookup == nil {
		lookup = os.LookupEnv
	}
	applyEnv(v, lookup)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithIssue(issue.ConfigLoadFailedId).
			WithResource(resolvedPath).
			WithSuggestion("Check the GUILDHOST_* environment variables as well as the config file").
			Wrap(err).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("bot.name", d.Bot.Name)
	v.SetDefault("bot.version", d.Bot.Version)
	v.SetDefault("bot.author", d.Bot.Author)
	v.SetDefault("bot.description", d.Bot.Description)
	v.SetDefault("defaults.command_prefix", d.Defaults.CommandPrefix)
	v.SetDefault("defaults.unknown_command_reply", d.Defaults.UnknownCommandReply)
	v.SetDefault("store.driver", string(d.Store.Driver))
	v.SetDefault("store.sqlite.path", d.Store.SQLite.Path)
	v.SetDefault("store.neo4j.uri", d.Store.Neo4j.URI)
	v.SetDefault("store.neo4j.user", d.Store.Neo4j.User)
	v.SetDefault("store.neo4j.password", d.Store.Neo4j.Password)
	v.SetDefault("store.neo4j.database", d.Store.Neo4j.Database)
	v.SetDefault("dispatch.workers", d.Dispatch.Workers)
	v.SetDefault("dispatch.queue_capacity", d.Dispatch.QueueCapacity)
	v.SetDefault("dispatch.handler_timeout", d.Dispatch.HandlerTimeout)
	v.SetDefault("gateway.url", d.Gateway.URL)
	v.SetDefault("gateway.namespace", d.Gateway.Namespace)
	v.SetDefault("gateway.token", d.Gateway.Token)
	v.SetDefault("gateway.heartbeat_interval", d.Gateway.HeartbeatInterval)
	v.SetDefault("gateway.heartbeat_timeout", d.Gateway.HeartbeatTimeout)
	v.SetDefault("gateway.reconnect_attempts", d.Gateway.ReconnectAttempts)
	v.SetDefault("gateway.reconnect_delay", d.Gateway.ReconnectDelay)
	v.SetDefault("admin_api.enabled", d.AdminAPI.Enabled)
	v.SetDefault("admin_api.listen", d.AdminAPI.Listen)
	v.SetDefault("admin_api.token", d.AdminAPI.Token)
	v.SetDefault("console.enabled", d.Console.Enabled)
	v.SetDefault("console.host", d.Console.Host)
	v.SetDefault("console.port", d.Console.Port)
	v.SetDefault("console.token", d.Console.Token)
	v.SetDefault("console.host_key_path", d.Console.HostKeyPath)
}

// applyEnv overrides every known key from GUILDHOST_<SECTION>_<KEY>.
// Values stay strings; viper's weak decoding converts them on Unmarshal.
func applyEnv(v *viper.Viper, lookup func(string) (string, bool)) {
	for _, key := range v.AllKeys() {
		if val, ok := lookup(EnvName(key)); ok {
			v.Set(key, val)
		}
	}
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper. Config fields are optional, so the
// unified value is validated without requiring concreteness.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxConfigFileSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", path, len(data), maxConfigFileSize)
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return formatCUEError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return formatCUEError(err, path)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// formatCUEError prefixes each CUE error with the dotted path of the field
// it concerns, e.g. "config.cue: gateway.reconnect_attempts: invalid value".
func formatCUEError(err error, path string) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return fmt.Errorf("%s: %w", path, err)
	}

	lines := make([]string, 0, len(list))
	for _, e := range list {
		parts := cueerrors.Path(e)
		if len(parts) > 0 && strings.HasPrefix(parts[0], "#") {
			parts = parts[1:]
		}
		field := strings.Join(parts, ".")
		msg := e.Error()
		if field != "" {
			msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, field), ":"))
			msg = field + ": " + msg
		}
		lines = append(lines, msg)
	}
	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", path, lines[0])
	}
	return fmt.Errorf("%s: validation failed:\n  %s", path, strings.Join(lines, "\n  "))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GenerateCUE renders cfg as a config file accepted by the schema. Secrets
// are replaced by a placeholder when redact is set.
func GenerateCUE(cfg *Config, redact bool) string {
	secret := func(s string) string {
		if redact && s != "" {
			return "<redacted>"
		}
		return s
	}

	var sb strings.Builder
	sb.WriteString("// Guildhost Configuration File\n\n")

	fmt.Fprintf(&sb, "bot: {\n\tname: %q\n\tversion: %q\n\tauthor: %q\n\tdescription: %q\n}\n",
		cfg.Bot.Name, cfg.Bot.Version, cfg.Bot.Author, cfg.Bot.Description)

	fmt.Fprintf(&sb, "\ndefaults: {\n\tcommand_prefix: %q\n\tunknown_command_reply: %v\n}\n",
		cfg.Defaults.CommandPrefix, cfg.Defaults.UnknownCommandReply)

	sb.WriteString("\nstore: {\n")
	fmt.Fprintf(&sb, "\tdriver: %q\n", cfg.Store.Driver)
	fmt.Fprintf(&sb, "\tsqlite: {\n\t\tpath: %q\n\t}\n", cfg.Store.SQLite.Path)
	fmt.Fprintf(&sb, "\tneo4j: {\n\t\turi: %q\n\t\tuser: %q\n\t\tpassword: %q\n\t\tdatabase: %q\n\t}\n",
		cfg.Store.Neo4j.URI, cfg.Store.Neo4j.User, secret(cfg.Store.Neo4j.Password), cfg.Store.Neo4j.Database)
	sb.WriteString("}\n")

	fmt.Fprintf(&sb, "\ndispatch: {\n\tworkers: %d\n\tqueue_capacity: %d\n\thandler_timeout: %q\n}\n",
		cfg.Dispatch.Workers, cfg.Dispatch.QueueCapacity, cfg.Dispatch.HandlerTimeout.String())

	sb.WriteString("\ngateway: {\n")
	fmt.Fprintf(&sb, "\turl: %q\n\tnamespace: %q\n\ttoken: %q\n", cfg.Gateway.URL, cfg.Gateway.Namespace, secret(cfg.Gateway.Token))
	fmt.Fprintf(&sb, "\theartbeat_interval: %q\n\theartbeat_timeout: %q\n",
		cfg.Gateway.HeartbeatInterval.String(), cfg.Gateway.HeartbeatTimeout.String())
	fmt.Fprintf(&sb, "\treconnect_attempts: %d\n\treconnect_delay: %q\n",
		cfg.Gateway.ReconnectAttempts, cfg.Gateway.ReconnectDelay.String())
	sb.WriteString("}\n")

	fmt.Fprintf(&sb, "\nadmin_api: {\n\tenabled: %v\n\tlisten: %q\n\ttoken: %q\n}\n",
		cfg.AdminAPI.Enabled, cfg.AdminAPI.Listen, secret(cfg.AdminAPI.Token))

	fmt.Fprintf(&sb, "\nconsole: {\n\tenabled: %v\n\thost: %q\n\tport: %d\n\ttoken: %q\n\thost_key_path: %q\n}\n",
		cfg.Console.Enabled, cfg.Console.Host, cfg.Console.Port, secret(cfg.Console.Token), cfg.Console.HostKeyPath)

	return sb.String()
}
