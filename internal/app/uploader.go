// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/position_api/internal/auth"
)

// Uploader posts positions to a running position API.
type Uploader struct {
	url    string
	apiKey string
	client *http.Client
}

// NewUploader returns an uploader for the /upload_position endpoint at url.
func NewUploader(url, apiKey string) *Uploader {
	return &Uploader{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Upload sends one position. Any status other than 200 is an error carrying
// the server's detail message.
func (u *Uploader) Upload(ctx context.Context, lat, lon float64) error {
	body, err := json.Marshal(savedData{Latitude: lat, Longitude: lon})
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.APIKeyHeader, u.apiKey)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload position: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var detail struct {
			Detail string `json:"detail"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &detail) != nil || detail.Detail == "" {
			detail.Detail = string(raw)
		}
		return fmt.Errorf("upload position: %s: %s", resp.Status, detail.Detail)
	}
	return nil
}
