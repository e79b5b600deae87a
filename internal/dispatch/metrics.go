// SPDX-License-Identifier: MPL-2.0

package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts dispatched events and their outcomes.
type Metrics struct {
	Events   *prometheus.CounterVec
	Commands *prometheus.CounterVec
	Failures *prometheus.CounterVec
	Unknown  prometheus.Counter
	// Overflow counts drains started outside the pool because it was full.
	Overflow prometheus.Counter
}

// NewMetrics creates the dispatch metrics and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guildhost",
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Inbound events by kind (message, reaction, guild_available, admin).",
		}, []string{"kind"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guildhost",
			Subsystem: "dispatch",
			Name:      "commands_total",
			Help:      "Command invocations by result (ok, error, panic).",
		}, []string{"result"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guildhost",
			Subsystem: "dispatch",
			Name:      "handler_failures_total",
			Help:      "Failed handler calls by source (command, message_listener, reaction_listener, task).",
		}, []string{"source"}),
		Unknown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guildhost",
			Subsystem: "dispatch",
			Name:      "unknown_commands_total",
			Help:      "Prefixed messages that matched no command.",
		}),
		Overflow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guildhost",
			Subsystem: "dispatch",
			Name:      "pool_overflow_total",
			Help:      "Guild drains run outside the worker pool because every worker was busy.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Events, m.Commands, m.Failures, m.Unknown, m.Overflow)
	}
	return m
}
