// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/position_api/internal/auth"
	"github.com/relabs-tech/position_api/internal/config"
	"github.com/relabs-tech/position_api/internal/hub"
	"github.com/relabs-tech/position_api/internal/logging"
	"github.com/relabs-tech/position_api/internal/metrics"
	"github.com/relabs-tech/position_api/internal/mqttbridge"
	"github.com/relabs-tech/position_api/internal/position"
)

const (
	dashboardTemplate = "index.html"
	maxUploadBytes    = 1 << 20
	serviceName       = "Position API"
	savedMessage      = "Data saved correctly"
)

// Mirror receives every accepted position after it has been logged.
type Mirror interface {
	Publish(position.Last) error
}

// uploadRequest is the /upload_position body. Pointers tell a missing field
// apart from 0.
type uploadRequest struct {
	Latitude  *coordinate `json:"latitude" validate:"required"`
	Longitude *coordinate `json:"longitude" validate:"required"`
}

// coordinate is a finite float given as a JSON number or a numeric string.
type coordinate float64

func (c *coordinate) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("%s is not a number", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%s is not a finite number", raw)
	}
	*c = coordinate(f)
	return nil
}

type savedData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type uploadResponse struct {
	Message   string    `json:"message"`
	SavedData savedData `json:"saved_data"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Server wires the position log, the hub and the credential guard to HTTP.
type Server struct {
	cfg      *config.Config
	store    *position.Log
	hub      *hub.Hub
	guard    *auth.Guard
	mirror   Mirror
	page     *template.Template
	validate *validator.Validate
	now      func() time.Time
}

// NewServer builds a server. mirror may be nil. A missing dashboard
// template is logged and makes "/" answer 500; the rest keeps working.
func NewServer(cfg *config.Config, store *position.Log, h *hub.Hub, mirror Mirror) *Server {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})

	s := &Server{
		cfg:      cfg,
		store:    store,
		hub:      h,
		guard:    auth.NewGuard(cfg.Credentials()),
		mirror:   mirror,
		validate: validate,
		now:      time.Now,
	}

	page, err := template.ParseFiles(filepath.Join(cfg.TemplateDir, dashboardTemplate))
	if err != nil {
		logging.Warn().Err(err).Str("dir", cfg.TemplateDir).Msg("dashboard template not loaded")
	} else {
		s.page = page
	}
	return s
}

// Routes returns the HTTP handler for all endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.With(s.guard.RequireBasic).Get("/", s.handleDashboard)

	r.Group(func(r chi.Router) {
		r.Use(s.corsHandler())
		r.Get("/location", s.handleLocation)
		r.Get("/healthcheck", s.handleHealth)
	})

	r.Group(func(r chi.Router) {
		if s.cfg.UploadRateLimit > 0 {
			r.Use(httprate.LimitByIP(s.cfg.UploadRateLimit, time.Minute))
		}
		r.Use(s.guard.RequireAPIKey)
		r.Post("/upload_position", s.handleUpload)
	})

	r.Get("/ws", s.handleWS)
	r.Handle("/metrics", promhttp.Handler())

	if info, err := os.Stat(s.cfg.StaticDir); err == nil && info.IsDir() {
		fs := http.FileServer(http.Dir(s.cfg.StaticDir))
		r.Handle("/static/*", http.StripPrefix("/static/", fs))
	}

	return r
}

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	if len(s.cfg.CORSOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:         300,
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.page == nil {
		writeDetail(w, http.StatusInternalServerError, "dashboard unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, nil); err != nil {
		logging.Error().Err(err).Msg("dashboard render error")
	}
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	last, err := s.store.ReadLast()
	if err != nil {
		logging.Error().Err(err).Str("file", s.store.Path()).Msg("read last position failed")
		writeDetail(w, http.StatusInternalServerError, "could not read last position")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "OK", Service: serviceName})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}

	// Unmarshal rejects anything after the top-level object.
	var req uploadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, validationDetail(err))
		return
	}

	lat, lon := float64(*req.Latitude), float64(*req.Longitude)
	rec := position.NewRecord(s.now(), lat, lon)
	if err := s.store.Append(rec); err != nil {
		metrics.PositionSaveErrors.Inc()
		logging.Error().Err(err).Str("file", s.store.Path()).Msg("append position failed")
		writeDetail(w, http.StatusInternalServerError, "could not save position")
		return
	}
	metrics.PositionsSaved.Inc()

	last := rec.Last()
	if results, err := s.hub.Broadcast(last); err != nil {
		logging.Error().Err(err).Msg("broadcast failed")
	} else {
		failed := 0
		for _, d := range results {
			if d.Err != nil {
				failed++
			}
		}
		logging.Debug().Int("viewers", len(results)).Int("failed", failed).Msg("position broadcast")
	}

	if s.mirror != nil {
		if err := s.mirror.Publish(last); err != nil {
			logging.Warn().Err(err).Msg("mqtt mirror publish failed")
		}
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Message:   savedMessage,
		SavedData: savedData{Latitude: lat, Longitude: lon},
	})
}

// handleWS registers the caller as a live viewer and then, until the
// connection drops, waits WSReceiveInterval and reads one client message.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	viewer, err := s.hub.Connect(w, r)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("live viewer handshake failed")
		return
	}
	defer s.hub.Disconnect(viewer)

	ctx := r.Context()
	timer := time.NewTimer(s.cfg.WSReceiveInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := viewer.Receive(); err != nil {
			logging.Debug().Err(err).Uint64("viewer", viewer.ID()).Msg("live viewer gone")
			return
		}
		timer.Reset(s.cfg.WSReceiveInterval)
	}
}

// Serve runs the HTTP server on ln until ctx is cancelled, then closes all
// live viewers and shuts down within cfg.ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.hub.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// RunWeb serves the position API until SIGINT or SIGTERM.
func RunWeb(cfg *config.Config) error {
	var mirror Mirror
	if cfg.MQTTBroker != "" {
		pub, err := mqttbridge.Connect(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic)
		if err != nil {
			return err
		}
		defer pub.Close()
		mirror = pub
	}

	s := NewServer(cfg, position.NewLog(cfg.DataFile), hub.New(), mirror)

	ln, err := net.Listen("tcp", cfg.WebAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.WebAddr, err)
	}
	logging.Info().Str("addr", ln.Addr().String()).Str("data_file", cfg.DataFile).Msg("web server listening")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = s.Serve(ctx, ln)
	logging.Info().Msg("web server stopped")
	return err
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: field %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("json encode error")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
