// Copyright (c) 2021 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License version 3 as
// published by the Free Software Foundation.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cmars/pmux/internal/muxer"
)

// metrics holds one API instance's Prometheus collectors. Each API
// gets its own prometheus.Registry rather than registering onto the
// global default one, so that constructing more than one API (as the
// tests do) never hits a duplicate-registration panic.
type metrics struct {
	registry     *prometheus.Registry
	eventsTotal  *prometheus.CounterVec
	childrenLive prometheus.Gauge
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		eventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pmux_events_total",
			Help: "Total events observed by the muxer pump, by event type.",
		}, []string{"type"}),
		childrenLive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pmux_children_live",
			Help: "Number of child processes currently running.",
		}),
	}
	return m
}

// observe updates the collectors from one pump event. live is the
// registry's current live-child count, taken after the event has been
// applied to it.
func (m *metrics) observe(ev muxer.Event, live int) {
	m.eventsTotal.WithLabelValues(eventTypeLabel(ev)).Inc()
	m.childrenLive.Set(float64(live))
}

func eventTypeLabel(ev muxer.Event) string {
	switch ev.(type) {
	case muxer.ChildTerminated:
		return "child_terminated"
	case muxer.ChildWrote:
		return "child_wrote"
	case muxer.FdClosed:
		return "fd_closed"
	case muxer.SignalReceived:
		return "signal_received"
	default:
		return "unknown"
	}
}
