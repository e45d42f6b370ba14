package commands

import (
	"errors"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/sweeney/relay-board/internal/config"
	"github.com/sweeney/relay-board/internal/printer"
	"github.com/sweeney/relay-board/internal/relay"
)

// testSequenceOptions lets tests skip the real relay timings.
var testSequenceOptions []relay.Option

var testSequenceCmd = &cobra.Command{
	Use:   "test-sequence",
	Short: "Click every relay on then off",
	Long: `Claim the board directly, switch each relay on for one second and off
for half a second in ascending order, then release the board.

Only the gpio section of the config file is used. A missing file falls back
to the default wiring.`,
	Args: cobra.NoArgs,
	RunE: runTestSequence,
}

func init() {
	rootCmd.AddCommand(testSequenceCmd)
}

func runTestSequence(cmd *cobra.Command, args []string) error {
	cfg, err := loadGPIOConfig(resolveConfigPath())
	if err != nil {
		return printer.Error("Configuration error", err.Error(), nil)
	}
	logger, _, err := newLogger(cfg)
	if err != nil {
		return err
	}

	printer.Banner("Rock Pi E - Relay Board Controller")
	printer.Info("Backend %s, relays %v\n", cfg.GPIO.Backend, cfg.Layout().IDs())

	chip, err := chipFactory(cfg)
	if err != nil {
		return printer.Error("Cannot open GPIO", err.Error(), nil)
	}
	opts := append([]relay.Option{
		relay.WithRollback(cfg.GPIO.Rollback),
		relay.WithLogger(logger),
	}, testSequenceOptions...)
	board, err := relay.New(chip, cfg.Layout(), opts...)
	if err != nil {
		return printer.Error("Relay board initialization failed", err.Error(), nil)
	}
	defer board.Release()
	printer.Success("RelayBoard initialized successfully\n")

	if err := board.TestSequence(printer.Stdout()); err != nil {
		return printer.Error("Test sequence failed", err.Error(), nil)
	}
	return nil
}

// loadGPIOConfig reads path. When no --config was given and the file does
// not exist, it falls back to defaults plus environment overrides.
func loadGPIOConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if configPath == "" && errors.Is(err, fs.ErrNotExist) {
		printer.Warning("No config file at %s, using the default wiring\n", path)
		return config.LoadEnv()
	}
	return nil, err
}
