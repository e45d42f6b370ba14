package commands

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweeney/relay-board/internal/api"
	"github.com/sweeney/relay-board/internal/config"
	"github.com/sweeney/relay-board/internal/printer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the authenticated REST API",
	Long: `Serve the relay REST API on bind_address.

Every route except GET /health requires "Authorization: Bearer <auth_token>".
The board is claimed on the first request, and released on SIGINT or SIGTERM.
Changes to auth_token and log_level in the config file apply without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	ctx, cancel := withSignals(cmd.Context(), sig)
	defer cancel()

	if err := serve(ctx, cfg, path, ln, logger, level); err != nil {
		return printer.Error("relayboard serve failed", err.Error(), nil)
	}
	return nil
}

// serve runs the REST daemon on ln until ctx is done.
func serve(ctx context.Context, cfg *config.Config, path string, ln net.Listener, logger *slog.Logger, level *slog.LevelVar) error {
	auth, err := api.NewAuthenticator(cfg.AuthToken, cfg.AuthTokenBcrypt)
	if err != nil {
		ln.Close()
		return err
	}
	rt, err := newRuntime(cfg, "serve", logger)
	if err != nil {
		ln.Close()
		return err
	}
	rt.start()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go watchConfig(watchCtx, path, auth, level, logger)

	srv := api.New(cfg.BindAddress, rt.handle, auth, logger, api.WithStatus(rt.tracker))
	serveErr := serveHTTP(ctx, srv, ln, logger)

	reason := shutdownReason(ctx)
	if serveErr != nil {
		reason = "ERROR"
	}
	rt.stop(reason)
	return serveErr
}
