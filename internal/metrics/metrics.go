// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery results used as the "result" label of BroadcastDeliveries.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
)

var (
	PositionsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "positions_saved_total",
			Help: "Total number of positions appended to the position log",
		},
	)

	PositionSaveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "position_save_errors_total",
			Help: "Total number of uploads that could not be appended to the position log",
		},
	)

	BroadcastDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_deliveries_total",
			Help: "Per-viewer broadcast delivery attempts by result",
		},
		[]string{"result"},
	)

	LiveViewers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_viewers",
			Help: "Number of live viewer connections currently registered",
		},
	)

	MQTTPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mqtt_publish_errors_total",
			Help: "Total number of failed MQTT mirror publishes",
		},
	)
)

// RecordDelivery counts one broadcast delivery attempt.
func RecordDelivery(err error) {
	if err != nil {
		BroadcastDeliveries.WithLabelValues(ResultFailed).Inc()
		return
	}
	BroadcastDeliveries.WithLabelValues(ResultDelivered).Inc()
}
