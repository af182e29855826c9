// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/relabs-tech/position_api/internal/config"
	"github.com/relabs-tech/position_api/internal/logging"
	"github.com/relabs-tech/position_api/internal/position"
)

// RunConsoleMQTT prints every position published on the MQTT mirror topic.
func RunConsoleMQTT(cfg *config.Config) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-console")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	logging.Info().Str("broker", cfg.MQTTBroker).Msg("console: connected to MQTT broker")

	token := client.Subscribe(cfg.MQTTTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		printPosition(os.Stdout, msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	logging.Info().Str("topic", cfg.MQTTTopic).Msg("console: subscribed")

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logging.Info().Msg("console: shutting down")
	client.Disconnect(250)
	return nil
}

func printPosition(w io.Writer, payload []byte) {
	var p position.Last
	if err := json.Unmarshal(payload, &p); err != nil {
		logging.Warn().Err(err).Msg("console: position unmarshal error")
		return
	}
	fmt.Fprintf(w, "[POS ]  time=%s lat=%.6f lon=%.6f\n", p.Time, p.Lat, p.Lon)
}
