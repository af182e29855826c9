// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/position_api/internal/config"
	"github.com/relabs-tech/position_api/internal/gps"
	"github.com/relabs-tech/position_api/internal/logging"
)

// RunGPSProducer opens the GPS serial port, parses NMEA sentences, and
// uploads every valid RMC fix to cfg.UploadURL.
func RunGPSProducer(cfg *config.Config) error {
	serialOpts := serial.OpenOptions{
		PortName:              cfg.GPSSerialPort,
		BaudRate:              uint(cfg.GPSBaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return err
	}
	defer port.Close()
	logging.Info().Str("port", serialOpts.PortName).Uint("baud", serialOpts.BaudRate).Msg("GPS serial port opened")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	err = produceFixes(ctx, port, NewUploader(cfg.UploadURL, cfg.APIKey))
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// produceFixes reads NMEA lines from r until EOF or a read error and
// uploads each valid RMC fix. Parse and upload failures are logged and
// skipped.
func produceFixes(ctx context.Context, r io.Reader, up *Uploader) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			handleLine(ctx, line, up)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			logging.Error().Err(err).Msg("GPS read error")
			return err
		}
	}
}

func handleLine(ctx context.Context, line string, up *Uploader) {
	fix, ok, err := gps.ParseLine(line)
	if err != nil {
		// noisy receiver or partial sentence
		logging.Debug().Err(err).Str("line", line).Msg("NMEA parse error")
		return
	}
	if !ok {
		return
	}
	if !fix.Valid() {
		logging.Debug().Str("validity", fix.Validity).Msg("skipping void GPS fix")
		return
	}

	if err := up.Upload(ctx, fix.Latitude, fix.Longitude); err != nil {
		logging.Warn().Err(err).Msg("GPS upload failed")
		return
	}
	logging.Info().Float64("lat", fix.Latitude).Float64("lon", fix.Longitude).Msg("uploaded GPS fix")
}
