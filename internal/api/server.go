// Package api provides the authenticated REST front end for the relay board.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sweeney/relay-board/internal/relay"
	"github.com/sweeney/relay-board/internal/status"
)

// Controller is the relay surface the server drives. *relay.Handle
// satisfies it.
type Controller interface {
	Valid(id int) bool
	On(id int) error
	Off(id int) error
	AllOff() error
	Status() ([]relay.Status, error)
}

// Server serves the relay REST API over HTTP.
type Server struct {
	httpServer *http.Server
	relays     Controller
	auth       *Authenticator
	tracker    *status.Tracker
	logger     *slog.Logger
}

// Option configures New.
type Option func(*Server)

// WithStatus exposes the tracker on GET /status.
func WithStatus(tracker *status.Tracker) Option {
	return func(s *Server) { s.tracker = tracker }
}

// New creates a Server bound to addr. Every route except /health requires
// a bearer token accepted by auth.
func New(addr string, relays Controller, auth *Authenticator, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{relays: relays, auth: auth, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", Health)
	mux.Handle("POST /relay/{id}/on", auth.Require(http.HandlerFunc(s.handleOn)))
	mux.Handle("POST /relay/{id}/off", auth.Require(http.HandlerFunc(s.handleOff)))
	mux.Handle("POST /relay/all/off", auth.Require(http.HandlerFunc(s.handleAllOff)))
	mux.Handle("GET /relay/status", auth.Require(http.HandlerFunc(s.handleStatus)))
	if s.tracker != nil {
		mux.Handle("GET /status", auth.Require(http.HandlerFunc(s.handleDaemonStatus)))
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           RequestID(AccessLog(logger, mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
