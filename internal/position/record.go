// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package position

import "time"

// TimestampLayout is the server-assigned timestamp format, "YYYY-MM-DD HH:MM:SS".
const TimestampLayout = "2006-01-02 15:04:05"

// Sentinel times returned by ReadLast when there is nothing to read.
const (
	NoData    = "No data"
	EmptyFile = "Empty File"
)

// Record is one accepted position as persisted in the log.
type Record struct {
	Timestamp string
	Latitude  float64
	Longitude float64
}

// NewRecord stamps a position with the server time t (local time, second precision).
func NewRecord(t time.Time, lat, lon float64) Record {
	return Record{
		Timestamp: t.Format(TimestampLayout),
		Latitude:  lat,
		Longitude: lon,
	}
}

// Last is the wire form of a position for /location, /ws and the MQTT mirror.
type Last struct {
	Time string  `json:"time"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Last returns the wire form of r.
func (r Record) Last() Last {
	return Last{Time: r.Timestamp, Lat: r.Latitude, Lon: r.Longitude}
}
