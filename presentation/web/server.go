// Package web hosts the local HTTP control plane the UI polls and drives
// the lobby through. It implements no session logic itself.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"terracotta/application/logging"
	"terracotta/lobby"
)

type Server struct {
	http     *http.Server
	lobby    *lobby.Orchestrator
	logger   logging.Logger
	port     int
	listener net.Listener
}

// NewServer wires the control-plane routes. Port 0 lets the kernel pick;
// the bound port is returned by Start.
func NewServer(orchestrator *lobby.Orchestrator, logger logging.Logger, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		lobby:  orchestrator,
		logger: logger,
		port:   port,
		http: &http.Server{
			Handler:           withJSONMiddleware(mux, logger),
			ReadHeaderTimeout: 2 * time.Second,
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
	}

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/state/waiting", s.handleWaiting)
	mux.HandleFunc("/state/scanning", s.handleScanning)
	mux.HandleFunc("/state/guesting", s.handleGuesting)

	return s
}

// Start binds the loopback listener and serves in the background. The
// control plane is local-only by construction.
func (s *Server) Start() (int, error) {
	listener, listenErr := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if listenErr != nil {
		return 0, fmt.Errorf("web: cannot bind control listener: %w", listenErr)
	}
	s.listener = listener

	go func() {
		if serveErr := s.http.Serve(listener); !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Printf("web: serve ended: %s", serveErr)
		}
	}()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lobby.Status())
}

func (s *Server) handleWaiting(w http.ResponseWriter, r *http.Request) {
	s.lobby.Reset()
	writeJSON(w, http.StatusOK, s.lobby.Status())
}

func (s *Server) handleScanning(w http.ResponseWriter, r *http.Request) {
	if !s.lobby.RequestScan() {
		writeJSON(w, http.StatusConflict, apiError{Error: "scan not possible in the current state"})
		return
	}
	writeJSON(w, http.StatusOK, s.lobby.Status())
}

func (s *Server) handleGuesting(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("room")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "room query parameter is required"})
		return
	}
	if !s.lobby.RequestGuest(code) {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "cannot join the given room"})
		return
	}
	writeJSON(w, http.StatusOK, s.lobby.Status())
}

type apiError struct {
	Error string `json:"error"`
}

func withJSONMiddleware(next http.Handler, logger logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
		logger.Printf("web: %s %s %dms", r.Method, r.URL.Path, time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
