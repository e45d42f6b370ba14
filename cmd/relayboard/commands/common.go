package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/relay-board/internal/api"
	"github.com/sweeney/relay-board/internal/config"
	"github.com/sweeney/relay-board/internal/gpio"
	"github.com/sweeney/relay-board/internal/logging"
	"github.com/sweeney/relay-board/internal/mqtt"
	"github.com/sweeney/relay-board/internal/printer"
	"github.com/sweeney/relay-board/internal/relay"
	"github.com/sweeney/relay-board/internal/status"
)

const (
	shutdownTimeout = 5 * time.Second
	forwarderQueue  = 64
)

// Factories for hardware and broker connections. Tests replace them.
var (
	chipFactory      = newChip
	publisherFactory = newPublisher
)

func newChip(cfg *config.Config) (gpio.Chip, error) {
	if cfg.GPIO.Backend == config.BackendCdev {
		return gpio.NewCdevChip(cfg.GPIO.Chip, cfg.CdevAddresses()), nil
	}
	chip, err := gpio.NewPeriphChip()
	if err != nil {
		return nil, err
	}
	return chip, nil
}

func newPublisher(cfg *config.Config, logger *slog.Logger, onConn func(bool)) (mqtt.Publisher, error) {
	pub, err := mqtt.NewRealPublisher(mqtt.Config{
		Broker:             cfg.MQTT.Broker,
		ClientID:           cfg.MQTT.ClientID,
		Prefix:             cfg.MQTT.TopicPrefix,
		Logger:             logger,
		OnConnectionChange: onConn,
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// openBoard returns the handle's constructor for the configured backend.
func openBoard(cfg *config.Config, logger *slog.Logger) relay.OpenFunc {
	return func() (*relay.Board, error) {
		chip, err := chipFactory(cfg)
		if err != nil {
			return nil, fmt.Errorf("open gpio %s: %w", cfg.GPIO.Backend, err)
		}
		board, err := relay.New(chip, cfg.Layout(),
			relay.WithRollback(cfg.GPIO.Rollback),
			relay.WithLogger(logger),
		)
		if err != nil {
			logger.Error("relay board construction failed", "error", err)
			return nil, err
		}
		logger.Info("relay board ready", "backend", cfg.GPIO.Backend, "relays", len(cfg.GPIO.Relays))
		return board, nil
	}
}

// runtime is everything a front end shares: the relay handle, the activity
// tracker and the optional MQTT publisher fed from handle events.
type runtime struct {
	logger  *slog.Logger
	tracker *status.Tracker
	handle  *relay.Handle
	pub     mqtt.Publisher
	fwd     *mqtt.Forwarder
}

func newRuntime(cfg *config.Config, mode string, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{logger: logger}
	rt.tracker = status.NewTracker(time.Now(), status.Config{
		Mode:        mode,
		Backend:     cfg.GPIO.Backend,
		BindAddress: cfg.BindAddress,
		Broker:      cfg.MQTT.Broker,
	}, cfg.Layout())

	listener := rt.tracker.Record
	if cfg.MQTTEnabled() {
		pub, err := publisherFactory(cfg, logger, rt.tracker.SetMQTTConnected)
		if err != nil {
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		rt.pub = pub
		rt.fwd = mqtt.NewForwarder(pub, logger, forwarderQueue)
		listener = func(ev relay.Event) {
			rt.tracker.Record(ev)
			rt.fwd.Send(ev)
		}
	}

	rt.handle = relay.NewHandle(openBoard(cfg, logger), cfg.Layout(), relay.WithListener(listener))
	return rt, nil
}

// start announces the process on MQTT.
func (rt *runtime) start() {
	rt.publishSystem(mqtt.EventStartup, "")
}

// stop releases the board, drains pending relay messages and announces the
// shutdown. It never fails.
func (rt *runtime) stop(reason string) {
	rt.handle.Close()
	if rt.pub == nil {
		return
	}
	rt.fwd.Close()
	rt.publishSystem(mqtt.EventShutdown, reason)
	if err := rt.pub.Close(); err != nil {
		rt.logger.Warn("mqtt close failed", "error", err)
	}
}

func (rt *runtime) publishSystem(event, reason string) {
	if rt.pub == nil {
		return
	}
	if cs, ok := rt.pub.(mqtt.ConnectionStatus); ok {
		rt.tracker.SetMQTTConnected(cs.IsConnected())
	}
	snap := rt.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := rt.pub.PublishSystem(ev); err != nil {
		rt.logger.Warn("failed to publish system event", "event", event, "error", err)
		return
	}
	rt.logger.Info("published system event", "event", event)
}

// loadHTTPConfig loads path and checks the settings an HTTP front end needs.
func loadHTTPConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, printer.Error("Configuration error", err.Error(), []string{
			"Set CONFIG_PATH or --config to a valid JSON or YAML file",
		})
	}
	if err := cfg.ValidateHTTP(); err != nil {
		return nil, printer.Error("Configuration error", fmt.Sprintf("%s: %v", path, err), nil)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar, error) {
	logger, level, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return nil, nil, printer.Error("Configuration error", err.Error(), nil)
	}
	return logger, level, nil
}

func listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, printer.Error("Cannot bind "+addr, err.Error(), nil)
	}
	return ln, nil
}

// watchConfig applies auth and log level changes from path until ctx is
// done. Everything else in the file needs a restart.
func watchConfig(ctx context.Context, path string, auth *api.Authenticator, level *slog.LevelVar, logger *slog.Logger) {
	err := config.Watch(ctx, path, logger, func(cfg *config.Config) {
		if err := cfg.ValidateHTTP(); err != nil {
			logger.Warn("ignoring config reload", "error", err)
			return
		}
		if err := auth.Set(cfg.AuthToken, cfg.AuthTokenBcrypt); err != nil {
			logger.Warn("ignoring config reload", "error", err)
			return
		}
		if l, err := logging.ParseLevel(cfg.LogLevel); err == nil {
			level.Set(l)
		}
	})
	if err != nil {
		logger.Warn("config watch stopped", "path", path, "error", err)
	}
}

// httpService is implemented by api.Server and mcpserver.HTTPServer.
type httpService interface {
	Serve(ln net.Listener) error
	Shutdown(ctx context.Context) error
}

// serveHTTP runs srv on ln until ctx is done, then drains it.
func serveHTTP(ctx context.Context, srv httpService, ln net.Listener, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("listening", "addr", ln.Addr().String())

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", shutdownReason(ctx))
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return serveErr
}

// signalCause records which signal cancelled a context.
type signalCause struct {
	sig os.Signal
}

func (s signalCause) Error() string {
	return "received " + signalName(s.sig)
}

// withSignals returns a context cancelled when sig delivers.
func withSignals(parent context.Context, sig <-chan os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case s := <-sig:
			cancel(signalCause{sig: s})
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// shutdownReason names the signal that cancelled ctx, or STOPPED.
func shutdownReason(ctx context.Context) string {
	var sc signalCause
	if errors.As(context.Cause(ctx), &sc) {
		return signalName(sc.sig)
	}
	return "STOPPED"
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return s.String()
}
