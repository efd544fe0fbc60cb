/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "wsrelay"
)

// Action classes keep label cardinality bounded regardless of what peers send
const (
	ActionClassKeepAlive = "keep-alive"
	ActionClassPing      = "ping"
	ActionClassPong      = "pong"
	ActionClassOther     = "other"
)

var (
	once     sync.Once
	registry *prometheus.Registry

	// Enabled controls whether collectors are registered with the exposed registry.
	// Collectors are always usable; when disabled they are simply not exported.
	Enabled = false

	// Client transport
	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Number of client transports in each connection state",
		},
		[]string{"state"},
	)

	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of scheduled reconnect attempts",
		},
	)

	ReconnectDelaySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay applied before reconnect attempts",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
	)

	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of envelopes written by the client",
		},
		[]string{"action_class"},
	)

	MessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of envelopes decoded by the client",
		},
		[]string{"action_class"},
	)

	DecodeErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of inbound frames dropped because they could not be decoded",
		},
	)

	// Dispatch registry
	UnhandledActionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unhandled_actions_total",
			Help:      "Total number of inbound envelopes with no matching handler",
		},
	)

	HandlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Total number of failed handler or observer invocations",
		},
		[]string{"kind"},
	)

	// Relay server
	RelayConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_connections_active",
			Help:      "Number of WebSocket connections currently held by the relay",
		},
	)

	RelayFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_frames_total",
			Help:      "Total number of frames received by the relay",
		},
		[]string{"action_class"},
	)

	StaticRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "static_requests_total",
			Help:      "Total number of static file requests served by the relay",
		},
		[]string{"status"},
	)
)

// ActionClass maps an action label onto a bounded label value
func ActionClass(action string) string {
	switch action {
	case ActionClassKeepAlive, ActionClassPing, ActionClassPong:
		return action
	default:
		return ActionClassOther
	}
}

// MoveConnectionState moves one transport from one state to another.
// An empty from records a newly created transport.
func MoveConnectionState(from, to string) {
	if from == to {
		return
	}
	if from != "" {
		ConnectionState.WithLabelValues(from).Dec()
	}
	ConnectionState.WithLabelValues(to).Inc()
}

func initRegistry() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		ConnectionState,
		ReconnectsTotal,
		ReconnectDelaySeconds,
		MessagesSentTotal,
		MessagesReceivedTotal,
		DecodeErrorsTotal,
		UnhandledActionsTotal,
		HandlerErrorsTotal,
		RelayConnectionsActive,
		RelayFramesTotal,
		StaticRequestsTotal,
	)
}

// Init initializes the metrics registry with all collectors.
// Set Enabled before the first call.
func Init() *prometheus.Registry {
	once.Do(func() {
		if !Enabled {
			registry = prometheus.NewRegistry()
			return
		}
		initRegistry()
	})

	return registry
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return Init()
	}
	return registry
}
