// SPDX-License-Identifier: MPL-2.0

package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts liveness events.
type Metrics struct {
	MissedHeartbeats prometheus.Counter
	Reconnects       *prometheus.CounterVec
	Sent             *prometheus.CounterVec
}

// NewMetrics creates the gateway metrics and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MissedHeartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guildhost",
			Subsystem: "gateway",
			Name:      "missed_heartbeats_total",
			Help:      "Watchdog ticks that found the last heartbeat ack too old.",
		}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guildhost",
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Reconnect runs by result (ok, failed, cancelled).",
		}, []string{"result"}),
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guildhost",
			Subsystem: "gateway",
			Name:      "sent_messages_total",
			Help:      "Outbound messages by result (ok, failed).",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.MissedHeartbeats, m.Reconnects, m.Sent)
	}
	return m
}
