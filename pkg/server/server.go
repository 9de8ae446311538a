package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"

	"github.com/metergrid/metergrid/pkg/live"
	"github.com/metergrid/metergrid/pkg/log"
	"github.com/metergrid/metergrid/pkg/metrics"
	"github.com/metergrid/metergrid/pkg/shelly"
	"github.com/metergrid/metergrid/pkg/storage"
	"github.com/metergrid/metergrid/pkg/types"
)

// Deps are the shared components the HTTP API exposes. main fills them in
// after flag parsing and before Run; Metrics is optional.
type Deps struct {
	Directory *types.Directory
	Store     *storage.Store
	Ring      *live.RingStore
	Today     *live.TodayMeter
	Poller    *live.Poller
	Shelly    *shelly.Client
	Metrics   *metrics.Metrics
}

// Server serves the read-mostly JSON API over the live store and the on-disk
// history, plus the websocket live stream.
type Server struct {
	deps *Deps
	hub  *Hub

	listenAddr string
	serverName string
	httpServer *http.Server
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(deps *Deps) *Server {
	srv := &Server{
		deps:       deps,
		hub:        NewHub(),
		serverName: "metergrid",
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
	})
	return srv
}

// Hub returns the websocket fan-out hub so the polling pipeline can publish
// into it.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupHandler() http.Handler {
	m := s.deps.Metrics

	apiMux := http.NewServeMux()
	apiMux.Handle("GET /api/devices", m.WrapHandler("devices", http.HandlerFunc(s.handleDevices)))
	apiMux.Handle("GET /api/live", m.WrapHandler("live", http.HandlerFunc(s.handleLive)))
	apiMux.Handle("GET /api/today", m.WrapHandler("today", http.HandlerFunc(s.handleToday)))
	apiMux.Handle("GET /api/status", m.WrapHandler("status", http.HandlerFunc(s.handleStatus)))
	apiMux.Handle("GET /api/history", m.WrapHandler("history", http.HandlerFunc(s.handleHistory)))
	apiMux.Handle("POST /api/switch", m.WrapHandler("switch", http.HandlerFunc(s.handleSwitch)))

	mux := http.NewServeMux()
	mux.Handle("/api/", apiMux)
	mux.HandleFunc("/ws", s.handleWS)
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.serverNameMiddleware(gziphandler.GzipHandler(mux))
}

func (s *Server) serverNameMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capture server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.deps.Directory.Devices())
}

// handleLive returns the ring store snapshot, either for one device
// (?device=key) or for all.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("device")
	if key == "" {
		writeJSON(w, s.deps.Ring.SnapshotAll())
		return
	}
	if _, ok := s.deps.Directory.Device(key); !ok {
		writeJSONError(w, "unknown device", http.StatusNotFound)
		return
	}
	writeJSON(w, s.deps.Ring.Snapshot(key))
}

type todayEntry struct {
	DeviceKey  string  `json:"deviceKey"`
	DeviceName string  `json:"deviceName"`
	KWHToday   float64 `json:"kwhToday"`
	Baseline   string  `json:"baselineThrough,omitempty"`
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	devices := s.deps.Directory.Devices()
	out := make([]todayEntry, 0, len(devices))
	for _, d := range devices {
		e := todayEntry{
			DeviceKey:  d.Key,
			DeviceName: d.Name,
			KWHToday:   s.deps.Today.Total(d.Key),
		}
		if wm := s.deps.Today.Watermark(d.Key); !wm.IsZero() {
			e.Baseline = wm.UTC().Format(time.RFC3339)
		}
		out = append(out, e)
	}
	writeJSON(w, out)
}

type statusEntry struct {
	DeviceKey         string `json:"deviceKey"`
	ConsecutiveErrors int    `json:"consecutiveErrors"`
	NextDue           string `json:"nextDue,omitempty"`
}

// handleStatus reports per-device poll health for status rendering.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	devices := s.deps.Directory.Devices()
	out := make([]statusEntry, 0, len(devices))
	for _, d := range devices {
		e := statusEntry{DeviceKey: d.Key}
		if errCount, due, ok := s.deps.Poller.State(d.Key); ok {
			e.ConsecutiveErrors = errCount
			if !due.IsZero() {
				e.NextDue = due.UTC().Format(time.RFC3339)
			}
		}
		out = append(out, e)
	}
	writeJSON(w, out)
}

type switchRequest struct {
	Device string `json:"device"`
	On     bool   `json:"on"`
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	d, ok := s.deps.Directory.Device(req.Device)
	if !ok {
		writeJSONError(w, "unknown device", http.StatusNotFound)
		return
	}
	if d.Kind != types.KindSwitch {
		writeJSONError(w, "device is not a switch", http.StatusBadRequest)
		return
	}
	res, err := s.deps.Shelly.SetSwitch(ctx, d.Host, d.MeterID, req.On)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "switch command failed",
			slog.String("device", d.Key), slog.Any("error", err))
		writeJSONError(w, "switch command failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, res)
}
