// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"math"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// Source is anything that can provide fixes over time.
type Source interface {
	Next() (Fix, error)
}

type mockSource struct {
	lat, lon, radius float64
	step             int
}

// NewMockSource creates a source that walks a circle of radius degrees
// around lat,lon, one degree of arc per fix.
func NewMockSource(lat, lon, radius float64) Source {
	return &mockSource{lat: lat, lon: lon, radius: radius}
}

func (m *mockSource) Next() (Fix, error) {
	angle := float64(m.step) * math.Pi / 180
	m.step++

	now := time.Now().UTC()
	return Fix{
		Time:      now.Format("15:04:05"),
		Date:      now.Format("02/01/06"),
		Latitude:  m.lat + m.radius*math.Sin(angle),
		Longitude: m.lon + m.radius*math.Cos(angle),
		Validity:  nmea.ValidRMC,
	}, nil
}
