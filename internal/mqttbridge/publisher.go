// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mqttbridge mirrors accepted positions to an MQTT broker.
package mqttbridge

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/relabs-tech/position_api/internal/logging"
	"github.com/relabs-tech/position_api/internal/metrics"
	"github.com/relabs-tech/position_api/internal/position"
)

const publishTimeout = 5 * time.Second

// Publisher publishes positions as retained messages on one topic.
type Publisher struct {
	client mqtt.Client
	topic  string
}

// Connect dials broker and returns a publisher for topic.
func Connect(broker, clientID, topic string) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	logging.Info().Str("broker", broker).Str("topic", topic).Msg("connected to MQTT broker")

	return newPublisher(client, topic), nil
}

func newPublisher(client mqtt.Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

// Publish sends p as JSON, retained, QoS 0.
func (p *Publisher) Publish(last position.Last) error {
	payload, err := json.Marshal(last)
	if err != nil {
		return fmt.Errorf("mqtt payload: %w", err)
	}

	token := p.client.Publish(p.topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		metrics.MQTTPublishErrors.Inc()
		return fmt.Errorf("mqtt publish to %s: timeout", p.topic)
	}
	if err := token.Error(); err != nil {
		metrics.MQTTPublishErrors.Inc()
		return fmt.Errorf("mqtt publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
