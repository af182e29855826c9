// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"errors"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// ErrNotSentence is returned by ParseLine for lines that are not NMEA.
var ErrNotSentence = errors.New("not an NMEA sentence")

// Fix is one GPS fix read from a receiver.
type Fix struct {
	Time      string  `json:"time"`     // e.g. "12:34:56.0000"
	Date      string  `json:"date"`     // e.g. "06/12/25"
	Latitude  float64 `json:"lat"`      // decimal degrees
	Longitude float64 `json:"lon"`      // decimal degrees
	Validity  string  `json:"validity"` // "A" (valid) / "V" (void)
}

// Valid reports whether the receiver flagged the fix as usable.
func (f Fix) Valid() bool {
	return f.Validity == nmea.ValidRMC
}

// FromRMC builds a fix from an RMC sentence.
func FromRMC(m nmea.RMC) Fix {
	return Fix{
		Time:      m.Time.String(),
		Date:      m.Date.String(),
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Validity:  m.Validity,
	}
}

// ParseLine parses one line from the receiver. ok is false for sentences
// other than RMC; those are skipped. Partial or noisy lines return an error.
func ParseLine(line string) (fix Fix, ok bool, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false, ErrNotSentence
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, false, err
	}

	if sentence.DataType() != nmea.TypeRMC {
		return Fix{}, false, nil
	}
	return FromRMC(sentence.(nmea.RMC)), true, nil
}
