// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	// StoreDriverSQLite persists guild settings in a local SQLite file.
	StoreDriverSQLite StoreDriver = "sqlite"
	// StoreDriverNeo4j persists guild settings in a Neo4j database.
	StoreDriverNeo4j StoreDriver = "neo4j"
	// StoreDriverMemory keeps guild settings in memory only.
	StoreDriverMemory StoreDriver = "memory"
)

var (
	// ErrInvalidStoreDriver is returned when a StoreDriver value is not recognized.
	ErrInvalidStoreDriver = errors.New("invalid store driver")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// StoreDriver selects the repository implementation.
	StoreDriver string

	// InvalidStoreDriverError is returned when a StoreDriver value is not recognized.
	// It wraps ErrInvalidStoreDriver for errors.Is() compatibility.
	InvalidStoreDriverError struct {
		Value StoreDriver
	}

	// Config holds the application configuration.
	Config struct {
		Bot      BotConfig      `json:"bot" mapstructure:"bot"`
		Defaults DefaultsConfig `json:"defaults" mapstructure:"defaults"`
		Store    StoreConfig    `json:"store" mapstructure:"store"`
		Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch"`
		Gateway  GatewayConfig  `json:"gateway" mapstructure:"gateway"`
		AdminAPI AdminAPIConfig `json:"admin_api" mapstructure:"admin_api"`
		Console  ConsoleConfig  `json:"console" mapstructure:"console"`
	}

	// BotConfig is the identity reported by the about command.
	BotConfig struct {
		Name        string `json:"name" mapstructure:"name"`
		Version     string `json:"version" mapstructure:"version"`
		Author      string `json:"author" mapstructure:"author"`
		Description string `json:"description" mapstructure:"description"`
	}

	// DefaultsConfig holds the settings written for a guild on first contact.
	DefaultsConfig struct {
		CommandPrefix       string `json:"command_prefix" mapstructure:"command_prefix"`
		UnknownCommandReply bool   `json:"unknown_command_reply" mapstructure:"unknown_command_reply"`
	}

	// StoreConfig selects and configures the persistence backend.
	StoreConfig struct {
		Driver StoreDriver  `json:"driver" mapstructure:"driver"`
		SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
		Neo4j  Neo4jConfig  `json:"neo4j" mapstructure:"neo4j"`
	}

	// SQLiteConfig configures the SQLite repository.
	SQLiteConfig struct {
		Path string `json:"path" mapstructure:"path"`
	}

	// Neo4jConfig configures the Neo4j repository.
	Neo4jConfig struct {
		URI      string `json:"uri" mapstructure:"uri"`
		User     string `json:"user" mapstructure:"user"`
		Password string `json:"password" mapstructure:"password"`
		Database string `json:"database" mapstructure:"database"`
	}

	// DispatchConfig tunes the per-guild dispatcher.
	DispatchConfig struct {
		Workers        int           `json:"workers" mapstructure:"workers"`
		QueueCapacity  int64         `json:"queue_capacity" mapstructure:"queue_capacity"`
		HandlerTimeout time.Duration `json:"handler_timeout" mapstructure:"handler_timeout"`
	}

	// GatewayConfig configures the chat gateway connection and its watchdog.
	GatewayConfig struct {
		URL               string        `json:"url" mapstructure:"url"`
		Namespace         string        `json:"namespace" mapstructure:"namespace"`
		Token             string        `json:"token" mapstructure:"token"`
		HeartbeatInterval time.Duration `json:"heartbeat_interval" mapstructure:"heartbeat_interval"`
		HeartbeatTimeout  time.Duration `json:"heartbeat_timeout" mapstructure:"heartbeat_timeout"`
		ReconnectAttempts uint64        `json:"reconnect_attempts" mapstructure:"reconnect_attempts"`
		ReconnectDelay    time.Duration `json:"reconnect_delay" mapstructure:"reconnect_delay"`
	}

	// AdminAPIConfig configures the admin HTTP API.
	AdminAPIConfig struct {
		Enabled bool   `json:"enabled" mapstructure:"enabled"`
		Listen  string `json:"listen" mapstructure:"listen"`
		Token   string `json:"token" mapstructure:"token"`
	}

	// ConsoleConfig configures the SSH operator console.
	ConsoleConfig struct {
		Enabled     bool   `json:"enabled" mapstructure:"enabled"`
		Host        string `json:"host" mapstructure:"host"`
		Port        int    `json:"port" mapstructure:"port"`
		Token       string `json:"token" mapstructure:"token"`
		HostKeyPath string `json:"host_key_path" mapstructure:"host_key_path"`
	}

	// InvalidConfigError is returned when Config has semantic errors that the
	// schema cannot express. It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			Name:        "guildhost",
			Version:     "dev",
			Author:      "the guildhost authors",
			Description: "A modular chat bot.",
		},
		Defaults: DefaultsConfig{
			CommandPrefix:       "!",
			UnknownCommandReply: true,
		},
		Store: StoreConfig{
			Driver: StoreDriverSQLite,
			SQLite: SQLiteConfig{Path: "guildhost.db"},
			Neo4j: Neo4jConfig{
				URI:      "neo4j://localhost:7687",
				User:     "neo4j",
				Database: "neo4j",
			},
		},
		Dispatch: DispatchConfig{
			Workers:        256,
			QueueCapacity:  64,
			HandlerTimeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			URL:               "http://localhost:3000",
			Namespace:         "/",
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  120 * time.Second,
			ReconnectAttempts: 5,
			ReconnectDelay:    5 * time.Second,
		},
		AdminAPI: AdminAPIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8089",
		},
		Console: ConsoleConfig{
			Host:        "127.0.0.1",
			Port:        2222,
			HostKeyPath: "guildhost_ed25519",
		},
	}
}

func (d StoreDriver) String() string { return string(d) }

// Validate returns an *InvalidStoreDriverError for unknown drivers.
func (d StoreDriver) Validate() error {
	switch d {
	case StoreDriverSQLite, StoreDriverNeo4j, StoreDriverMemory:
		return nil
	default:
		return &InvalidStoreDriverError{Value: d}
	}
}

// Error implements the error interface.
func (e *InvalidStoreDriverError) Error() string {
	return fmt.Sprintf("invalid store driver %q (valid: sqlite, neo4j, memory)", e.Value)
}

// Unwrap returns ErrInvalidStoreDriver for errors.Is() compatibility.
func (e *InvalidStoreDriverError) Unwrap() error { return ErrInvalidStoreDriver }

// Validate checks the constraints that cross fields or that environment
// overrides can break after schema validation. Every violation is collected.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Defaults.CommandPrefix) == "" || strings.ContainsAny(c.Defaults.CommandPrefix, " \t\r\n") {
		errs = append(errs, fmt.Errorf("defaults.command_prefix %q must be non-empty and contain no whitespace", c.Defaults.CommandPrefix))
	}

	if err := c.Store.Driver.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store.driver: %w", err))
	}
	switch c.Store.Driver {
	case StoreDriverSQLite:
		if strings.TrimSpace(c.Store.SQLite.Path) == "" {
			errs = append(errs, errors.New("store.sqlite.path is required for the sqlite driver"))
		}
	case StoreDriverNeo4j:
		if strings.TrimSpace(c.Store.Neo4j.URI) == "" {
			errs = append(errs, errors.New("store.neo4j.uri is required for the neo4j driver"))
		}
	}

	if c.Dispatch.Workers <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.workers must be positive, got %d", c.Dispatch.Workers))
	}
	if c.Dispatch.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.queue_capacity must be positive, got %d", c.Dispatch.QueueCapacity))
	}
	if c.Dispatch.HandlerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.handler_timeout must be positive, got %s", c.Dispatch.HandlerTimeout))
	}

	if c.Gateway.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("gateway.heartbeat_interval must be positive, got %s", c.Gateway.HeartbeatInterval))
	}
	if c.Gateway.HeartbeatTimeout <= c.Gateway.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("gateway.heartbeat_timeout (%s) must exceed gateway.heartbeat_interval (%s)",
			c.Gateway.HeartbeatTimeout, c.Gateway.HeartbeatInterval))
	}
	if c.Gateway.ReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("gateway.reconnect_delay must not be negative, got %s", c.Gateway.ReconnectDelay))
	}

	if c.AdminAPI.Enabled {
		if _, _, err := net.SplitHostPort(c.AdminAPI.Listen); err != nil {
			errs = append(errs, fmt.Errorf("admin_api.listen: %w", err))
		}
	}

	if c.Console.Enabled {
		if c.Console.Token == "" {
			errs = append(errs, errors.New("console.token is required when the console is enabled"))
		}
		if c.Console.Port <= 0 || c.Console.Port > 65535 {
			errs = append(errs, fmt.Errorf("console.port %d out of range", c.Console.Port))
		}
	}

	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	if len(e.FieldErrors) == 1 {
		return "invalid config: " + e.FieldErrors[0].Error()
	}
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config: %d errors:\n  %s", len(e.FieldErrors), strings.Join(msgs, "\n  "))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }
