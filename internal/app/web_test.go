// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/position_api/internal/config"
	"github.com/relabs-tech/position_api/internal/hub"
	"github.com/relabs-tech/position_api/internal/logging"
	"github.com/relabs-tech/position_api/internal/position"
)

//nolint:gochecknoinits // keep test output quiet
func init() {
	logging.Init(logging.Config{Output: io.Discard})
}

const testAPIKey = "SECRET"

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

type testEnv struct {
	cfg    *config.Config
	hub    *hub.Hub
	server *Server
	http   *httptest.Server
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	templates := filepath.Join(dir, "templates")
	static := filepath.Join(dir, "static")
	for _, d := range []string{templates, static} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	page := "<html><body>live position map</body></html>"
	if err := os.WriteFile(filepath.Join(templates, "index.html"), []byte(page), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(static, "app.js"), []byte("console.log('map')"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.APIKey = testAPIKey
	cfg.DashUser = "admin"
	cfg.DashPasswd = "hunter2"
	cfg.DataFile = filepath.Join(dir, "positions.csv")
	cfg.TemplateDir = templates
	cfg.StaticDir = static
	cfg.WSReceiveInterval = 20 * time.Millisecond
	return cfg
}

func newTestEnv(t *testing.T, cfg *config.Config, mirror Mirror) *testEnv {
	t.Helper()
	h := hub.New()
	s := NewServer(cfg, position.NewLog(cfg.DataFile), h, mirror)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return &testEnv{cfg: cfg, hub: h, server: s, http: ts}
}

func (e *testEnv) upload(t *testing.T, key string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/upload_position", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) location(t *testing.T) position.Last {
	t.Helper()
	resp, err := http.Get(e.http.URL + "/location")
	if err != nil {
		t.Fatalf("GET /location: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /location status = %d", resp.StatusCode)
	}
	var last position.Last
	if err := json.NewDecoder(resp.Body).Decode(&last); err != nil {
		t.Fatalf("decode /location: %v", err)
	}
	return last
}

func (e *testEnv) dialWS(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForViewers(t *testing.T, h *hub.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("viewers = %d, want %d", h.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHealthcheck(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	resp, err := http.Get(env.http.URL + "/healthcheck")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "OK" || body["service"] != "Position API" {
		t.Errorf("body = %v", body)
	}
}

func TestLocationWithoutData(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	if got := env.location(t); got != (position.Last{Time: "No data"}) {
		t.Errorf("location = %+v, want No data sentinel", got)
	}
}

func TestUploadThenLocation(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	resp := env.upload(t, testAPIKey, `{"latitude": 52.23, "longitude": 21.01}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Message   string             `json:"message"`
		SavedData map[string]float64 `json:"saved_data"`
	}
	decodeBody(t, resp, &body)
	if body.Message != "Data saved correctly" {
		t.Errorf("message = %q", body.Message)
	}
	if body.SavedData["latitude"] != 52.23 || body.SavedData["longitude"] != 21.01 {
		t.Errorf("saved_data = %v", body.SavedData)
	}

	last := env.location(t)
	if last.Lat != 52.23 || last.Lon != 21.01 {
		t.Errorf("location = %+v", last)
	}
	if !timestampPattern.MatchString(last.Time) {
		t.Errorf("time %q is not YYYY-MM-DD HH:MM:SS", last.Time)
	}
}

func TestLocationReturnsLastOfMany(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	coords := [][2]float64{{10, 20}, {-45.5, 170.25}, {0, 0}, {89.999, -179.999}}
	for _, c := range coords {
		body, _ := json.Marshal(map[string]float64{"latitude": c[0], "longitude": c[1]})
		if resp := env.upload(t, testAPIKey, string(body)); resp.StatusCode != http.StatusOK {
			t.Fatalf("upload status = %d", resp.StatusCode)
		}
	}

	last := env.location(t)
	want := coords[len(coords)-1]
	if last.Lat != want[0] || last.Lon != want[1] {
		t.Errorf("location = %+v, want %v", last, want)
	}
}

func TestUploadRejectsBadAPIKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"missing", ""},
		{"wrong", "not-the-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig(t), nil)

			resp := env.upload(t, tt.key, `{"latitude": 1, "longitude": 2}`)
			if resp.StatusCode != http.StatusForbidden {
				t.Fatalf("status = %d, want 403", resp.StatusCode)
			}
			if _, err := os.Stat(env.cfg.DataFile); !os.IsNotExist(err) {
				t.Errorf("position log touched on rejected upload (stat err %v)", err)
			}
			if got := env.location(t); got.Time != "No data" {
				t.Errorf("location = %+v", got)
			}
		})
	}
}

func TestUploadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `latitude=1`},
		{"missing longitude", `{"latitude": 1.5}`},
		{"null latitude", `{"latitude": null, "longitude": 2}`},
		{"string coordinate", `{"latitude": "north", "longitude": 2}`},
		{"empty object", `{}`},
		{"trailing data", `{"latitude": 1, "longitude": 2} {"latitude": 9}garbage`},
		{"two objects", `{"latitude": 1, "longitude": 2}{"latitude": 3, "longitude": 4}`},
		{"boolean coordinate", `{"latitude": true, "longitude": 2}`},
		{"non-finite string", `{"latitude": "NaN", "longitude": 2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig(t), nil)

			resp := env.upload(t, testAPIKey, tt.body)
			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422", resp.StatusCode)
			}
			if _, err := os.Stat(env.cfg.DataFile); !os.IsNotExist(err) {
				t.Error("position log written for invalid body")
			}
		})
	}
}

func TestUploadAcceptsZeroCoordinates(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	resp := env.upload(t, testAPIKey, `{"latitude": 0, "longitude": 0}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := env.location(t); !timestampPattern.MatchString(got.Time) {
		t.Errorf("location = %+v", got)
	}
}

func TestUploadAcceptsNumericStrings(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	resp := env.upload(t, testAPIKey, `{"latitude": "52.23", "longitude": " 21.01 "}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		SavedData map[string]float64 `json:"saved_data"`
	}
	decodeBody(t, resp, &body)
	if body.SavedData["latitude"] != 52.23 || body.SavedData["longitude"] != 21.01 {
		t.Errorf("saved_data = %v", body.SavedData)
	}
	if last := env.location(t); last.Lat != 52.23 || last.Lon != 21.01 {
		t.Errorf("location = %+v", last)
	}
}

func TestDashboardBasicAuth(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	tests := []struct {
		name   string
		user   string
		pass   string
		send   bool
		status int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"wrong credentials", "admin", "wrong", true, http.StatusUnauthorized},
		{"correct credentials", "admin", "hunter2", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/", nil)
			if tt.send {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status == http.StatusUnauthorized {
				if got := resp.Header.Get("WWW-Authenticate"); got != "Basic" {
					t.Errorf("WWW-Authenticate = %q", got)
				}
				return
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), "live position map") {
				t.Errorf("dashboard body = %q", body)
			}
		})
	}
}

func TestDashboardMissingTemplate(t *testing.T) {
	cfg := testConfig(t)
	cfg.TemplateDir = filepath.Join(t.TempDir(), "nowhere")
	env := newTestEnv(t, cfg, nil)

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/", nil)
	req.SetBasicAuth("admin", "hunter2")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestStaticAssets(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	resp, err := http.Get(env.http.URL + "/static/app.js")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)
	env.upload(t, testAPIKey, `{"latitude": 1, "longitude": 2}`)

	resp, err := http.Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("positions_saved_total")) {
		t.Error("positions_saved_total missing from /metrics")
	}
}

func TestUploadRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.UploadRateLimit = 1
	env := newTestEnv(t, cfg, nil)

	if resp := env.upload(t, testAPIKey, `{"latitude": 1, "longitude": 2}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("first upload status = %d", resp.StatusCode)
	}
	if resp := env.upload(t, testAPIKey, `{"latitude": 1, "longitude": 2}`); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second upload status = %d, want 429", resp.StatusCode)
	}
}

func TestLiveViewerReceivesNewPositionsOnly(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	// accepted before the viewer connects; must not be replayed
	env.upload(t, testAPIKey, `{"latitude": 1, "longitude": 1}`)

	conn := env.dialWS(t)
	waitForViewers(t, env.hub, 1)

	if resp := env.upload(t, testAPIKey, `{"latitude": 52.23, "longitude": 21.01}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg position.Last
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read live message: %v", err)
	}
	if msg.Lat != 52.23 || msg.Lon != 21.01 {
		t.Errorf("live message = %+v, want the position sent after connecting", msg)
	}
	if !timestampPattern.MatchString(msg.Time) {
		t.Errorf("live message time %q", msg.Time)
	}
	if last := env.location(t); last != msg {
		t.Errorf("live message %+v differs from /location %+v", msg, last)
	}
}

func TestLiveViewersAllReceive(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	conns := []*websocket.Conn{env.dialWS(t), env.dialWS(t), env.dialWS(t)}
	waitForViewers(t, env.hub, len(conns))

	env.upload(t, testAPIKey, `{"latitude": 3.5, "longitude": -7.25}`)

	for i, c := range conns {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg position.Last
		if err := c.ReadJSON(&msg); err != nil {
			t.Fatalf("viewer %d: %v", i, err)
		}
		if msg.Lat != 3.5 || msg.Lon != -7.25 {
			t.Errorf("viewer %d got %+v", i, msg)
		}
	}
}

func TestLiveViewerDisconnectDeregisters(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	conn := env.dialWS(t)
	waitForViewers(t, env.hub, 1)

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	waitForViewers(t, env.hub, 0)
}

func TestLiveViewerKeepsReadingClientMessages(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	conn := env.dialWS(t)
	waitForViewers(t, env.hub, 1)

	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
	}
	if env.hub.Len() != 1 {
		t.Errorf("viewers = %d, client messages must not end the connection", env.hub.Len())
	}
}

type recordingMirror struct {
	mu   sync.Mutex
	got  []position.Last
	fail error
}

func (m *recordingMirror) Publish(last position.Last) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, last)
	return m.fail
}

func TestUploadMirrorsPosition(t *testing.T) {
	mirror := &recordingMirror{}
	env := newTestEnv(t, testConfig(t), mirror)

	env.upload(t, testAPIKey, `{"latitude": 52.23, "longitude": 21.01}`)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if len(mirror.got) != 1 || mirror.got[0].Lat != 52.23 || mirror.got[0].Lon != 21.01 {
		t.Errorf("mirror got %+v", mirror.got)
	}
}

func TestUploadSucceedsWhenMirrorFails(t *testing.T) {
	mirror := &recordingMirror{fail: io.ErrClosedPipe}
	env := newTestEnv(t, testConfig(t), mirror)

	if resp := env.upload(t, testAPIKey, `{"latitude": 1, "longitude": 2}`); resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.ShutdownTimeout = time.Second
	h := hub.New()
	s := NewServer(cfg, position.NewLog(cfg.DataFile), h, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	wsURL := "ws://" + ln.Addr().String() + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForViewers(t, h, 1)

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	waitForViewers(t, h, 0)
}

func TestCORSOnPublicRoutes(t *testing.T) {
	cfg := testConfig(t)
	cfg.CORSOrigins = []string{"https://map.example.com"}
	env := newTestEnv(t, cfg, nil)

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/healthcheck", nil)
	req.Header.Set("Origin", "https://map.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://map.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
