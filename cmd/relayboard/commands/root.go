package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sweeney/relay-board/internal/config"
)

var (
	version = "dev"
	commit  string
	date    string

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "relayboard",
	Short: "Relay board controller",
	Long: `relayboard drives the relays on a Rock Pi E relay board.

It serves either an authenticated REST API (serve) or a Model Context
Protocol tool server (mcp), and can click through every relay to check
the wiring (test-sequence).`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Errors have already been printed when it
// returns.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version reported by --version and to MCP clients.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $CONFIG_PATH or "+config.DefaultPath+")")
}

// resolveConfigPath prefers --config over CONFIG_PATH.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.Path()
}
