// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvFile is the development file used to seed values missing from
// the process environment.
const DefaultEnvFile = ".env"

// Config holds all application configuration values.
// Keys are the environment variable names.
type Config struct {
	// Credentials
	APIKey     string `koanf:"API_KEY"`
	DashUser   string `koanf:"DASH_USER"`
	DashPasswd string `koanf:"DASH_PASSWD"`

	// Storage
	DataFile string `koanf:"DATA_FILE"`

	// Web Server
	WebAddr           string        `koanf:"WEB_ADDR"`
	TemplateDir       string        `koanf:"TEMPLATE_DIR"`
	StaticDir         string        `koanf:"STATIC_DIR"`
	WSReceiveInterval time.Duration `koanf:"WS_RECEIVE_INTERVAL"`
	UploadRateLimit   int           `koanf:"UPLOAD_RATE_LIMIT"` // requests per minute per IP, 0 disables
	CORSOrigins       []string      `koanf:"CORS_ORIGINS"`
	ShutdownTimeout   time.Duration `koanf:"SHUTDOWN_TIMEOUT"`

	// Logging
	LogLevel  string `koanf:"LOG_LEVEL"`
	LogFormat string `koanf:"LOG_FORMAT"`

	// MQTT mirror; empty broker disables it
	MQTTBroker   string `koanf:"MQTT_BROKER"`
	MQTTClientID string `koanf:"MQTT_CLIENT_ID"`
	MQTTTopic    string `koanf:"MQTT_TOPIC"`

	// GPS producer
	GPSSerialPort string `koanf:"GPS_SERIAL_PORT"`
	GPSBaudRate   int    `koanf:"GPS_BAUD_RATE"`
	UploadURL     string `koanf:"UPLOAD_URL"`
}

// Credentials is the credential store: the API key for producers and the
// basic-auth pair for the dashboard. Empty fields never match anything.
type Credentials struct {
	APIKey   string
	Username string
	Password string
}

// Credentials returns the credential store built from the loaded values.
func (c *Config) Credentials() Credentials {
	return Credentials{
		APIKey:   c.APIKey,
		Username: c.DashUser,
		Password: c.DashPasswd,
	}
}

// Default returns a Config with every default applied and no credentials.
func Default() *Config {
	return &Config{
		DataFile:          "dane.csv",
		WebAddr:           ":8000",
		TemplateDir:       "templates",
		StaticDir:         "static",
		WSReceiveInterval: 10 * time.Second,
		UploadRateLimit:   0,
		CORSOrigins:       []string{},
		ShutdownTimeout:   10 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		MQTTClientID:      "position-api",
		MQTTTopic:         "positions/last",
		GPSSerialPort:     "/dev/serial0",
		GPSBaudRate:       9600,
		UploadURL:         "http://localhost:8000/upload_position",
	}
}

// Load builds the configuration from, in increasing priority: defaults, the
// optional env file at envFile, and the process environment. A missing env
// file is not an error. Credentials are never validated.
func Load(envFile string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := k.Load(file.Provider(envFile), dotenv.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat env file %s: %w", envFile, err)
		}
	}

	if err := k.Load(env.Provider("", ".", strings.TrimSpace), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := splitList(k, "CORS_ORIGINS"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList turns a comma-separated string value into a string slice.
func splitList(k *koanf.Koanf, key string) error {
	raw, ok := k.Get(key).(string)
	if !ok {
		return nil
	}
	items := []string{}
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	if err := k.Set(key, items); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// validate checks the non-credential fields.
func (c *Config) validate() error {
	if c.DataFile == "" {
		return fmt.Errorf("DATA_FILE is required")
	}
	if c.WebAddr == "" {
		return fmt.Errorf("WEB_ADDR is required")
	}
	if c.WSReceiveInterval <= 0 {
		return fmt.Errorf("WS_RECEIVE_INTERVAL must be positive, got %s", c.WSReceiveInterval)
	}
	if c.UploadRateLimit < 0 {
		return fmt.Errorf("UPLOAD_RATE_LIMIT must be >= 0, got %d", c.UploadRateLimit)
	}
	if c.GPSBaudRate <= 0 {
		return fmt.Errorf("GPS_BAUD_RATE must be positive, got %d", c.GPSBaudRate)
	}
	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		return fmt.Errorf("MQTT_TOPIC is required when MQTT_BROKER is set")
	}
	return nil
}
