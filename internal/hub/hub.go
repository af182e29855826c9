// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package hub keeps the set of live viewer connections and fans positions
// out to them.
//
// A viewer is registered by Connect (or Add) and stays registered until
// Disconnect, even if deliveries to it keep failing. Broadcast reports one
// Delivery per viewer instead of stopping at the first failure.
package hub

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/position_api/internal/logging"
	"github.com/relabs-tech/position_api/internal/metrics"
)

const writeWait = 10 * time.Second

// Conn is the part of *websocket.Conn the hub needs.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Viewer is one registered live connection.
type Viewer struct {
	id   uint64
	conn Conn
	wmu  sync.Mutex // one writer at a time per connection
}

// ID returns the viewer's registration number. IDs increase in
// registration order.
func (v *Viewer) ID() uint64 {
	return v.id
}

// Receive blocks until the next message from the viewer arrives and
// discards it. A non-nil error means the connection is gone.
func (v *Viewer) Receive() error {
	_, _, err := v.conn.ReadMessage()
	return err
}

func (v *Viewer) send(data []byte) error {
	v.wmu.Lock()
	defer v.wmu.Unlock()
	if err := v.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return v.conn.WriteMessage(websocket.TextMessage, data)
}

// Delivery is the outcome of sending one broadcast to one viewer.
type Delivery struct {
	ViewerID uint64
	Err      error
}

// Hub is the registry of active viewers.
type Hub struct {
	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	log      zerolog.Logger

	mu      sync.RWMutex
	viewers map[*Viewer]struct{}
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:     logging.With("hub"),
		viewers: make(map[*Viewer]struct{}),
	}
}

// Connect performs the websocket handshake on r and registers the resulting
// connection. On failure the upgrader has already replied to the client.
func (h *Hub) Connect(w http.ResponseWriter, r *http.Request) (*Viewer, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket handshake: %w", err)
	}
	return h.Add(conn), nil
}

// Add registers an already established connection.
func (h *Hub) Add(conn Conn) *Viewer {
	v := &Viewer{id: h.nextID.Add(1), conn: conn}

	h.mu.Lock()
	h.viewers[v] = struct{}{}
	n := len(h.viewers)
	metrics.LiveViewers.Set(float64(n))
	h.mu.Unlock()

	h.log.Info().Uint64("viewer", v.id).Int("viewers", n).Msg("viewer connected")
	return v
}

// Disconnect deregisters v and closes its connection.
func (h *Hub) Disconnect(v *Viewer) {
	h.mu.Lock()
	delete(h.viewers, v)
	n := len(h.viewers)
	metrics.LiveViewers.Set(float64(n))
	h.mu.Unlock()

	_ = v.conn.Close()
	h.log.Info().Uint64("viewer", v.id).Int("viewers", n).Msg("viewer disconnected")
}

// Len returns the number of registered viewers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// snapshot returns the registered viewers in registration order.
func (h *Hub) snapshot() []*Viewer {
	h.mu.RLock()
	out := make([]*Viewer, 0, len(h.viewers))
	for v := range h.viewers {
		out = append(out, v)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Broadcast encodes payload as JSON once and sends it to every registered
// viewer. Failed deliveries are logged and counted; they neither stop the
// fan-out nor deregister the viewer. The only error returned is an encoding
// failure, in which case nothing is sent.
func (h *Hub) Broadcast(payload any) ([]Delivery, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode broadcast: %w", err)
	}

	viewers := h.snapshot()
	results := make([]Delivery, 0, len(viewers))
	for _, v := range viewers {
		err := v.send(data)
		metrics.RecordDelivery(err)
		if err != nil {
			h.log.Warn().Err(err).Uint64("viewer", v.id).Msg("broadcast delivery failed")
		}
		results = append(results, Delivery{ViewerID: v.id, Err: err})
	}
	return results, nil
}

// Close closes every registered connection without deregistering it. Each
// viewer's receive loop then fails and takes the normal Disconnect path.
func (h *Hub) Close() {
	for _, v := range h.snapshot() {
		v.wmu.Lock()
		_ = v.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = v.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		v.wmu.Unlock()
		_ = v.conn.Close()
	}
}
