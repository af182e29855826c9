// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/position_api/internal/config"
	"github.com/relabs-tech/position_api/internal/gps"
	"github.com/relabs-tech/position_api/internal/logging"
)

// RunMockProducer uploads a synthetic circular track around lat,lon every
// interval until interrupted.
func RunMockProducer(cfg *config.Config, lat, lon float64, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return mockProduce(ctx, gps.NewMockSource(lat, lon, 0.005), NewUploader(cfg.UploadURL, cfg.APIKey), interval)
}

func mockProduce(ctx context.Context, src gps.Source, up *Uploader, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		fix, err := src.Next()
		if err != nil {
			logging.Error().Err(err).Msg("mock source error")
			continue
		}
		if err := up.Upload(ctx, fix.Latitude, fix.Longitude); err != nil {
			logging.Warn().Err(err).Msg("mock upload failed")
			continue
		}
		logging.Info().Float64("lat", fix.Latitude).Float64("lon", fix.Longitude).Msg("uploaded mock fix")
	}
}
