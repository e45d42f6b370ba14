package mcpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sweeney/relay-board/internal/api"
)

// DefaultEndpoint is where the streamable HTTP transport is mounted.
const DefaultEndpoint = "/mcp"

// ServeStdio serves s over in/out until ctx is done or in is closed.
// Transport errors go to logger; stdout carries only protocol frames.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, logger *slog.Logger) error {
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// HTTPServer serves the streamable HTTP transport behind bearer auth, plus
// an unauthenticated /health.
type HTTPServer struct {
	httpServer *http.Server
	streamable *server.StreamableHTTPServer
}

// NewHTTPServer mounts s at endpoint on addr.
func NewHTTPServer(addr string, s *server.MCPServer, endpoint string, auth *api.Authenticator, logger *slog.Logger) *HTTPServer {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	streamable := server.NewStreamableHTTPServer(s, server.WithEndpointPath(endpoint))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", api.Health)
	mux.Handle(endpoint, auth.Require(streamable))

	return &HTTPServer{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           api.RequestID(api.AccessLog(logger, mux)),
			ReadHeaderTimeout: 10 * time.Second,
		},
		streamable: streamable,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (h *HTTPServer) Handler() http.Handler {
	return h.httpServer.Handler
}

// Serve accepts connections on the given listener.
func (h *HTTPServer) Serve(ln net.Listener) error {
	return h.httpServer.Serve(ln)
}

// Shutdown closes MCP sessions, then drains the HTTP server.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return errors.Join(h.streamable.Shutdown(ctx), h.httpServer.Shutdown(ctx))
}
