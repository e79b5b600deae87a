// SPDX-License-Identifier: MPL-2.0

// Package config loads guildhost's configuration using Viper with CUE as the file format.
//
// Configuration is read from config.cue in the guildhost configuration directory
// ($XDG_CONFIG_HOME/guildhost on Linux, ~/Library/Application Support/guildhost on
// macOS, %APPDATA%\guildhost on Windows) or from config.cue in the working directory.
// The file is validated against an embedded CUE schema (config_schema.cue) and merged
// over built-in defaults. Every key can be overridden from the environment with the
// GUILDHOST_ prefix, dots becoming underscores: GUILDHOST_GATEWAY_TOKEN,
// GUILDHOST_STORE_SQLITE_PATH and so on.
package config
