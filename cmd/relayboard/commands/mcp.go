package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweeney/relay-board/internal/api"
	"github.com/sweeney/relay-board/internal/config"
	"github.com/sweeney/relay-board/internal/mcpserver"
	"github.com/sweeney/relay-board/internal/printer"
)

// MCP transports.
const (
	transportStdio = "stdio"
	transportHTTP  = "http"
)

var mcpTransport string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve relay tools over the Model Context Protocol",
	Long: `Serve the relay_on, relay_off, relay_all_off and relay_status tools.

With --transport stdio (the default) the server speaks MCP on stdin/stdout,
logs to stderr and reads settings from the environment only.
With --transport http it serves the streamable HTTP transport at mcp.endpoint
on bind_address, behind the same bearer token as the REST API.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVarP(&mcpTransport, "transport", "t", transportStdio, "transport: stdio or http")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	ctx, cancel := withSignals(cmd.Context(), sig)
	defer cancel()

	switch mcpTransport {
	case transportStdio:
		cfg, err := config.LoadEnv()
		if err != nil {
			return printer.Error("Configuration error", err.Error(), nil)
		}
		logger, _, err := newLogger(cfg)
		if err != nil {
			return err
		}
		if err := serveMCPStdio(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), logger); err != nil {
			return printer.Error("relayboard mcp failed", err.Error(), nil)
		}
		return nil

	case transportHTTP:
		path := resolveConfigPath()
		cfg, err := loadHTTPConfig(path)
		if err != nil {
			return err
		}
		logger, level, err := newLogger(cfg)
		if err != nil {
			return err
		}
		ln, err := listen(cfg.BindAddress)
		if err != nil {
			return err
		}
		if err := serveMCPHTTP(ctx, cfg, path, ln, logger, level); err != nil {
			return printer.Error("relayboard mcp failed", err.Error(), nil)
		}
		return nil

	default:
		return printer.Error(fmt.Sprintf("Unknown transport %q", mcpTransport), "", []string{
			"--transport " + transportStdio,
			"--transport " + transportHTTP,
		})
	}
}

// serveMCPStdio serves MCP on in/out until ctx is done or in is closed.
func serveMCPStdio(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, logger *slog.Logger) error {
	rt, err := newRuntime(cfg, "mcp", logger)
	if err != nil {
		return err
	}
	rt.start()

	err = mcpserver.ServeStdio(ctx, mcpserver.New(rt.handle, logger, version), in, out, logger)
	reason := shutdownReason(ctx)
	if err != nil {
		reason = "ERROR"
	}
	rt.stop(reason)
	return err
}

// serveMCPHTTP serves the streamable HTTP transport on ln until ctx is done.
func serveMCPHTTP(ctx context.Context, cfg *config.Config, path string, ln net.Listener, logger *slog.Logger, level *slog.LevelVar) error {
	auth, err := api.NewAuthenticator(cfg.AuthToken, cfg.AuthTokenBcrypt)
	if err != nil {
		ln.Close()
		return err
	}
	rt, err := newRuntime(cfg, "mcp", logger)
	if err != nil {
		ln.Close()
		return err
	}
	rt.start()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go watchConfig(watchCtx, path, auth, level, logger)

	srv := mcpserver.NewHTTPServer(cfg.BindAddress, mcpserver.New(rt.handle, logger, version), cfg.MCP.Endpoint, auth, logger)
	serveErr := serveHTTP(ctx, srv, ln, logger)

	reason := shutdownReason(ctx)
	if serveErr != nil {
		reason = "ERROR"
	}
	rt.stop(reason)
	return serveErr
}
