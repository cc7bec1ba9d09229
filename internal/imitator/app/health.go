package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bdobrica/Mimic/common/spec/backend"
	"github.com/bdobrica/Mimic/common/version"
	"github.com/bdobrica/Mimic/internal/imitator/orchestrator"
)

// HealthServer exposes /health and /status. It is optional; the imitator
// runs without it when HTTPAddr is empty.
type HealthServer struct {
	addr      string
	store     statusProvider
	stats     statsProvider
	backends  backendLister
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
}

type statusProvider interface {
	ActiveCount(ctx context.Context) (int, error)
	GetBackend(ctx context.Context) (string, error)
}

type statsProvider interface {
	Stats() map[orchestrator.Outcome]int64
}

type backendLister interface {
	Configured() []backend.Kind
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status              string           `json:"status"`
	Version             string           `json:"version"`
	Commit              string           `json:"commit"`
	BuildTime           string           `json:"build_time"`
	StartedAt           time.Time        `json:"started_at"`
	UptimeSecs          float64          `json:"uptime_seconds"`
	ActiveConversations int              `json:"active_conversations"`
	ActiveBackend       string           `json:"active_backend"`
	ConfiguredBackends  []backend.Kind   `json:"configured_backends"`
	Outcomes            map[string]int64 `json:"outcomes"`
}

// NewHealthServer creates the server without starting it. Any provider may
// be nil.
func NewHealthServer(addr string, sp statusProvider, stats statsProvider, backends backendLister) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		addr:      addr,
		store:     sp,
		stats:     stats,
		backends:  backends,
		startedAt: time.Now(),
		mux:       mux,
	}
	mux.HandleFunc("GET /health", hs.handleHealth)
	mux.HandleFunc("GET /status", hs.handleStatus)
	return hs
}

// ServeHTTP implements http.Handler.
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Start listens in the background and returns once the port is open.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}
	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		slog.Info("health server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("health server stopped", "err", err)
		}
	}()
	return nil
}

// Stop shuts the server down.
func (h *HealthServer) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Warn("health server shutdown error", "err", err)
	}
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
		Outcomes:   map[string]int64{},
	}
	if h.store != nil {
		if n, err := h.store.ActiveCount(r.Context()); err == nil {
			resp.ActiveConversations = n
		} else {
			resp.Status = "degraded"
		}
		if b, err := h.store.GetBackend(r.Context()); err == nil {
			resp.ActiveBackend = b
		}
	}
	if h.backends != nil {
		resp.ConfiguredBackends = h.backends.Configured()
	}
	if h.stats != nil {
		for k, v := range h.stats.Stats() {
			resp.Outcomes[string(k)] = v
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: failed to encode JSON response", "err", err)
	}
}
