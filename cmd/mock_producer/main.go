// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/relabs-tech/position_api/internal/app"
	"github.com/relabs-tech/position_api/internal/config"
	"github.com/relabs-tech/position_api/internal/logging"
)

func main() {
	envFile := pflag.String("env-file", config.DefaultEnvFile, "dotenv file seeding values missing from the environment")
	lat := pflag.Float64("lat", 52.23, "latitude of the track centre")
	lon := pflag.Float64("lon", 21.01, "longitude of the track centre")
	interval := pflag.Duration("interval", time.Second, "time between uploads")
	pflag.Parse()

	cfg, err := app.Bootstrap(*envFile)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Info().Str("upload_url", cfg.UploadURL).Msg("starting mock position producer")

	if err := app.RunMockProducer(cfg, *lat, *lon, *interval); err != nil {
		logging.Fatal().Err(err).Msg("fatal")
	}
}
