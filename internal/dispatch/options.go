// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/guildhost/pkg/botmod"
)

const (
	// DefaultWorkers is the worker pool size. Guilds beyond it drain on
	// goroutines of their own.
	DefaultWorkers = 256
	// DefaultQueueCapacity is the initial capacity of each guild queue.
	DefaultQueueCapacity = 64
	// DefaultHandlerTimeout bounds a single command or listener call.
	DefaultHandlerTimeout = 30 * time.Second
	// DefaultHelpTerm is suggested in the unknown-command reply when the help
	// command is not registered in a guild.
	DefaultHelpTerm = "help"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSender sets the sink used for replies produced by the dispatcher itself.
func WithSender(s botmod.Sender) Option {
	return func(d *Dispatcher) { d.sender = s }
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueCapacity sets the initial capacity of each guild queue.
func WithQueueCapacity(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueCapacity = n
		}
	}
}

// WithHandlerTimeout bounds each command handler and listener call.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.handlerTimeout = timeout
		}
	}
}

// WithHelpCommand names the command whose current term is suggested in the
// unknown-command reply.
func WithHelpCommand(id botmod.CommandID) Option {
	return func(d *Dispatcher) { d.helpCommand = id }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}
