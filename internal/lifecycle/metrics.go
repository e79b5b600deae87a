// SPDX-License-Identifier: MPL-2.0

package lifecycle

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts module lifecycle events.
type Metrics struct {
	Startups    *prometheus.CounterVec
	Teardowns   prometheus.Counter
	Guilds      prometheus.Gauge
	LiveModules prometheus.Gauge
}

// NewMetrics creates the lifecycle metrics and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Startups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guildhost",
			Name:      "module_startups_total",
			Help:      "Module startups by result (ok, failed).",
		}, []string{"result"}),
		Teardowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guildhost",
			Name:      "module_teardowns_total",
			Help:      "Module instances torn down.",
		}),
		Guilds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "guildhost",
			Name:      "guilds",
			Help:      "Guilds with instantiated state.",
		}),
		LiveModules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "guildhost",
			Name:      "live_module_instances",
			Help:      "Module instances running across all guilds.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Startups, m.Teardowns, m.Guilds, m.LiveModules)
	}
	return m
}
