// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"github.com/charmbracelet/log"

	"github.com/invowk/guildhost/pkg/botmod"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Module hosts derive their loggers from it.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithSender sets the outbound sink handed to modules.
func WithSender(s botmod.Sender) Option {
	return func(m *Manager) { m.sender = s }
}

// WithProtectedModule names the base module that every guild runs and that
// can never be disabled.
func WithProtectedModule(id botmod.ModuleID) Option {
	return func(m *Manager) { m.protected = id }
}

// WithDefaults sets the settings written for a guild on first contact.
func WithDefaults(prefix string, unknownCommandReply bool) Option {
	return func(m *Manager) {
		m.defaults.Prefix = prefix
		m.defaults.UnknownCommandReply = unknownCommandReply
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}
