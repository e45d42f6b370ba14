// Command relayboard switches GPIO-backed relays over REST or MCP.
package main

import (
	"os"

	"github.com/sweeney/relay-board/cmd/relayboard/commands"
)

// Version information, set at build time with -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// Errors are printed by the printer package before they get here.
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
