// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package position

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Header is the first line of every log file.
var Header = []string{"timestamp", "latitude", "longitude"}

// ErrMalformedRecord is returned by ReadLast when the last line is not a
// timestamp,latitude,longitude triple. A log holding only its header
// reports this too: the header is not skipped.
var ErrMalformedRecord = errors.New("malformed position record")

// Log is the append-only CSV position log.
//
// Appends from this process are serialized; readers take no lock and may
// observe a partially written line. Other processes appending to the same
// file are not coordinated with.
type Log struct {
	path string
	mu   sync.Mutex
}

// NewLog returns a log backed by the file at path. The file is created on
// the first Append.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the backing file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes r as one CSV line, preceded by the header when the file did
// not exist yet. Header and record go out in a single write call.
func (l *Log) Append(r Record) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, statErr := os.Stat(l.path)
	existed := statErr == nil

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if !existed {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("encode header: %w", err)
		}
	}
	row := []string{
		r.Timestamp,
		strconv.FormatFloat(r.Latitude, 'f', -1, 64),
		strconv.FormatFloat(r.Longitude, 'f', -1, 64),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open position log: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close position log: %w", cerr)
		}
	}()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write position log: %w", err)
	}
	return nil
}

// ReadLast returns the most recent record. A missing file yields the NoData
// sentinel and a file with no lines the EmptyFile sentinel, both at 0,0.
func (l *Log) ReadLast() (Last, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return Last{Time: NoData}, nil
	}
	if err != nil {
		return Last{}, fmt.Errorf("read position log: %w", err)
	}

	lines := strings.SplitAfter(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return Last{Time: EmptyFile}, nil
	}

	return parseLine(lines[len(lines)-1])
}

func parseLine(line string) (Last, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < 3 {
		return Last{}, fmt.Errorf("%w: %q", ErrMalformedRecord, line)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return Last{}, fmt.Errorf("%w: latitude: %v", ErrMalformedRecord, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return Last{}, fmt.Errorf("%w: longitude: %v", ErrMalformedRecord, err)
	}
	return Last{Time: fields[0], Lat: lat, Lon: lon}, nil
}
