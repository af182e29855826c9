// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"github.com/spf13/pflag"

	"github.com/relabs-tech/position_api/internal/app"
	"github.com/relabs-tech/position_api/internal/config"
	"github.com/relabs-tech/position_api/internal/logging"
)

func main() {
	envFile := pflag.String("env-file", config.DefaultEnvFile, "dotenv file seeding values missing from the environment")
	pflag.Parse()

	cfg, err := app.Bootstrap(*envFile)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Info().Str("upload_url", cfg.UploadURL).Msg("starting GPS producer (NMEA → position API)")

	if err := app.RunGPSProducer(cfg); err != nil {
		logging.Fatal().Err(err).Msg("fatal")
	}
}
