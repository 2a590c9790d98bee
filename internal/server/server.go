// Package server is the relay's transport front: it upgrades WebSocket
// connections, feeds inbound directives to the router, and exposes the
// health and storage-notification endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fileferry/fileferry/internal/config"
	"github.com/fileferry/fileferry/internal/hub"
	"github.com/fileferry/fileferry/internal/localopen"
	"github.com/fileferry/fileferry/internal/registry"
	"github.com/fileferry/fileferry/internal/router"
	"github.com/fileferry/fileferry/pkg/protocol"
)

// Server wires the hub, registry, and router behind an HTTP front.
type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger

	hub    *hub.Hub
	reg    *registry.Registry
	router *router.Router

	connectLimiter *ipLimiter
	connLimiter    *connLimiter

	httpSrv *http.Server
}

// New creates a relay server from the given configuration.
func New(cfg config.ServerConfig, logger *slog.Logger) *Server {
	h := hub.New()
	reg := registry.New(h)

	connectRate := float64(cfg.ConnectsPerMin) / 60.0
	if cfg.ConnectsPerMin <= 0 {
		connectRate = 0
	}

	return &Server{
		cfg:            cfg,
		logger:         logger,
		hub:            h,
		reg:            reg,
		router:         router.New(h, reg, localopen.Exec{}, logger),
		connectLimiter: newIPLimiter(connectRate, cfg.ConnectsBurst),
		connLimiter:    newConnLimiter(cfg.MaxConnections),
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/notify", s.handleNotify)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.logger.Info("relay listening", "addr", s.cfg.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// Notify hands the router a storage-mutation event from an in-process
// collaborator. Returns false for kinds outside the storage set.
func (s *Server) Notify(kind protocol.Kind, ev protocol.StorageEvent) bool {
	return s.router.Notify(kind, ev)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":          true,
		"connections": s.hub.Count(),
	})
}

// notifyRequest is the body of POST /notify, sent by the storage
// collaborator when it mutates file state.
type notifyRequest struct {
	Event    string `json:"event"`
	FileID   string `json:"fileId"`
	Filename string `json:"filename"`
	Owner    string `json:"owner,omitempty"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.NotifyToken != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.NotifyToken {
		sendError(w, http.StatusUnauthorized, "invalid notify token")
		return
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Filename == "" {
		sendError(w, http.StatusBadRequest, "missing filename")
		return
	}

	ev := protocol.StorageEvent{FileID: req.FileID, Filename: req.Filename, Owner: req.Owner}
	if !s.router.Notify(protocol.Kind(req.Event), ev) {
		sendError(w, http.StatusBadRequest, "unknown event: "+req.Event)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
