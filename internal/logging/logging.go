// SPDX-License-Identifier: MPL-2.0

// Package logging configures the process-wide charmbracelet/log logger that
// every component derives its prefixed logger from.
package logging

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ErrInvalidFormat is returned for an unknown log format.
var ErrInvalidFormat = errors.New("invalid log format")

// Options selects the level and encoding of log output.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is one of text, json, logfmt. Empty means text.
	Format string
	// Verbose forces debug level and adds timestamps and callers.
	Verbose bool
}

// New builds a logger writing to w.
func New(w io.Writer, opts Options) (*log.Logger, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	if opts.Verbose {
		level = log.DebugLevel
	}

	var formatter log.Formatter
	switch strings.ToLower(opts.Format) {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("%w: %q (valid: text, json, logfmt)", ErrInvalidFormat, opts.Format)
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: opts.Verbose || formatter != log.TextFormatter,
		ReportCaller:    opts.Verbose,
		TimeFormat:      time.RFC3339,
	}), nil
}

// Setup builds a logger with New and installs it as the default, so that
// log.Default().WithPrefix(...) in every package picks it up.
func Setup(w io.Writer, opts Options) (*log.Logger, error) {
	logger, err := New(w, opts)
	if err != nil {
		return nil, err
	}
	log.SetDefault(logger)
	return logger, nil
}
