// File: control/metrics.go
// Package control exposes the server's operational metric set.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/epoll-ws/protocol"
)

// Metrics is the prometheus metric set for one server instance. It
// implements protocol.Observer so the engine reports frame-level events
// without knowing about prometheus.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	Upgrades            prometheus.Counter
	ProtocolErrors      prometheus.Counter

	FramesReceived   *prometheus.CounterVec
	FramesSent       *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	BytesReceived    prometheus.Counter
	BytesSent        prometheus.Counter
	SendQueueDepth   prometheus.Gauge
}

var _ protocol.Observer = (*Metrics)(nil)

// NewMetrics builds the metric set and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_connections_accepted_total",
			Help: "TCP connections accepted.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Currently open client connections.",
		}),
		Upgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_upgrades_total",
			Help: "Successful HTTP to WebSocket upgrades.",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_protocol_errors_total",
			Help: "Connections dropped for RFC 6455 violations.",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_frames_received_total",
			Help: "Frames parsed from clients, by opcode.",
		}, []string{"opcode"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_frames_sent_total",
			Help: "Frames written to clients, by opcode.",
		}, []string{"opcode"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_messages_total",
			Help: "Complete messages delivered to the handler, by opcode.",
		}, []string{"opcode"}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_bytes_received_total",
			Help: "Payload bytes received in data and control frames.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_bytes_sent_total",
			Help: "Wire bytes written to clients.",
		}),
		SendQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_send_queue_depth",
			Help: "Outbound frames waiting for write readiness.",
		}),
	}

	reg.MustRegister(
		m.ConnectionsAccepted, m.ConnectionsActive, m.Upgrades,
		m.ProtocolErrors, m.FramesReceived, m.FramesSent,
		m.MessagesReceived, m.BytesReceived, m.BytesSent,
		m.SendQueueDepth,
	)
	return m
}

// FrameReceived implements protocol.Observer.
func (m *Metrics) FrameReceived(op protocol.Opcode, payloadLen int) {
	m.FramesReceived.WithLabelValues(op.String()).Inc()
	m.BytesReceived.Add(float64(payloadLen))
}

// FrameSent implements protocol.Observer.
func (m *Metrics) FrameSent(op protocol.Opcode, wireLen int) {
	m.FramesSent.WithLabelValues(op.String()).Inc()
	m.BytesSent.Add(float64(wireLen))
}

// MessageDelivered implements protocol.Observer.
func (m *Metrics) MessageDelivered(op protocol.Opcode, payloadLen int) {
	m.MessagesReceived.WithLabelValues(op.String()).Inc()
}

// Upgraded implements protocol.Observer.
func (m *Metrics) Upgraded() { m.Upgrades.Inc() }

// ProtocolError implements protocol.Observer.
func (m *Metrics) ProtocolError() { m.ProtocolErrors.Inc() }
