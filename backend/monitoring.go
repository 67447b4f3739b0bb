// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "blockfly"

// Score submission results.
const (
	scoreImproved  = "improved"
	scoreUnchanged = "unchanged"
)

// Metrics holds the Prometheus collectors for the server.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	connections    prometheus.Gauge
	sessions       prometheus.Gauge
	chatMessages   prometheus.Counter
	scores         *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	droppedClients prometheus.Counter
}

// NewMetrics registers the server's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Number of open WebSocket connections",
		}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions",
			Help:      "Number of connections that joined with a display name",
		}),
		chatMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "chat_messages_total",
			Help:      "Total number of accepted chat messages",
		}),
		scores: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "score_submissions_total",
			Help:      "Total number of accepted score submissions by result",
		}, []string{"result"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rejected_events_total",
			Help:      "Total number of rejected client events by reason",
		}, []string{"reason"}),
		droppedClients: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_clients_total",
			Help:      "Total number of clients dropped because their send buffer was full",
		}),
	}
}

func (m *Metrics) setConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) chatAccepted() {
	if m == nil {
		return
	}
	m.chatMessages.Inc()
}

func (m *Metrics) scoreAccepted(changed bool) {
	if m == nil {
		return
	}
	result := scoreUnchanged
	if changed {
		result = scoreImproved
	}
	m.scores.WithLabelValues(result).Inc()
}

func (m *Metrics) eventRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) clientDropped() {
	if m == nil {
		return
	}
	m.droppedClients.Inc()
}
