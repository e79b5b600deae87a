// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidLoadOptions is returned when LoadOptions carry blank paths.
var ErrInvalidLoadOptions = errors.New("invalid load options")

type (
	// LoadOptions defines explicit configuration loading inputs.
	LoadOptions struct {
		// ConfigFilePath forces loading from a specific config file when set.
		ConfigFilePath string
		// ConfigDirPath overrides the config directory lookup when set.
		ConfigDirPath string
		// Env replaces os.LookupEnv for GUILDHOST_* overrides when set.
		Env func(key string) (string, bool)
	}

	// Provider loads configuration from explicit options.
	Provider interface {
		Load(ctx context.Context, opts LoadOptions) (*Config, error)
	}

	// Loaded is a configuration together with the file it came from.
	// Path is empty when only defaults and the environment applied.
	Loaded struct {
		Config *Config
		Path   string
	}

	fileProvider struct{}
)

// NewProvider creates a configuration provider.
func NewProvider() Provider {
	return &fileProvider{}
}

// Load reads configuration from the requested source.
func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	loaded, err := LoadWithPath(ctx, opts)
	if err != nil {
		return nil, err
	}
	return loaded.Config, nil
}

// LoadWithPath loads configuration and reports which file was used.
func LoadWithPath(ctx context.Context, opts LoadOptions) (*Loaded, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cfg, path, err := loadWithOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Loaded{Config: cfg, Path: path}, nil
}

// Validate rejects whitespace-only paths; empty paths mean "not set".
func (o LoadOptions) Validate() error {
	if o.ConfigFilePath != "" && strings.TrimSpace(o.ConfigFilePath) == "" {
		return errors.Join(ErrInvalidLoadOptions, errors.New("config file path is blank"))
	}
	if o.ConfigDirPath != "" && strings.TrimSpace(o.ConfigDirPath) == "" {
		return errors.Join(ErrInvalidLoadOptions, errors.New("config dir path is blank"))
	}
	return nil
}
