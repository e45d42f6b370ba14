// Package mcpserver exposes the relay board as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sweeney/relay-board/internal/relay"
)

// Name is reported to MCP clients during initialization.
const Name = "relay-board"

// Instructions is the server's self-description for clients.
const Instructions = "Relay control"

// Controller is the relay surface the tools drive. *relay.Handle
// satisfies it.
type Controller interface {
	Layout() relay.Layout
	On(id int) error
	Off(id int) error
	AllOff() error
	Status() ([]relay.Status, error)
}

type tools struct {
	relays Controller
	logger *slog.Logger
}

// New builds an MCP server with the relay_on, relay_off, relay_all_off and
// relay_status tools registered.
func New(relays Controller, logger *slog.Logger, version string) *server.MCPServer {
	s := server.NewMCPServer(Name, version,
		server.WithToolCapabilities(false),
		server.WithInstructions(Instructions),
		server.WithRecovery(),
	)

	t := &tools{relays: relays, logger: logger}
	ids := describeIDs(relays.Layout())

	s.AddTool(mcp.NewTool("relay_on",
		mcp.WithDescription("Turn a relay on"),
		mcp.WithNumber("relay", mcp.Required(), mcp.Description("Relay number ("+ids+")")),
	), t.handleOn)

	s.AddTool(mcp.NewTool("relay_off",
		mcp.WithDescription("Turn a relay off"),
		mcp.WithNumber("relay", mcp.Required(), mcp.Description("Relay number ("+ids+")")),
	), t.handleOff)

	s.AddTool(mcp.NewTool("relay_all_off",
		mcp.WithDescription("Turn every relay off"),
	), t.handleAllOff)

	s.AddTool(mcp.NewTool("relay_status",
		mcp.WithDescription("Read the current state of every relay"),
	), t.handleStatus)

	return s
}

func (t *tools) handleOn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := relayArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.relays.On(id); err != nil {
		t.logger.Error("relay_on failed", "relay", id, "error", err)
		return nil, err
	}
	t.logger.Info("relay switched", "relay", id, "state", relay.StateOn, "via", "mcp")
	return mcp.NewToolResultText(fmt.Sprintf("Relay %d ON", id)), nil
}

func (t *tools) handleOff(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := relayArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.relays.Off(id); err != nil {
		t.logger.Error("relay_off failed", "relay", id, "error", err)
		return nil, err
	}
	t.logger.Info("relay switched", "relay", id, "state", relay.StateOff, "via", "mcp")
	return mcp.NewToolResultText(fmt.Sprintf("Relay %d OFF", id)), nil
}

func (t *tools) handleAllOff(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.relays.AllOff(); err != nil {
		t.logger.Error("relay_all_off failed", "error", err)
		return nil, err
	}
	t.logger.Info("all relays off", "via", "mcp")
	return mcp.NewToolResultText("All OFF"), nil
}

func (t *tools) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	states, err := t.relays.Status()
	if err != nil {
		t.logger.Error("relay_status failed", "error", err)
		return nil, err
	}
	lines := make([]string, len(states))
	for i, s := range states {
		lines[i] = fmt.Sprintf("Relay %d: %s", s.ID, s.State)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

// relayArg extracts the integral "relay" argument. JSON numbers arrive as
// float64.
func relayArg(req mcp.CallToolRequest) (int, error) {
	v, ok := req.GetArguments()["relay"]
	if !ok {
		return 0, fmt.Errorf("missing required argument %q", "relay")
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, fmt.Errorf("argument %q must be an integer", "relay")
		}
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("argument %q must be an integer", "relay")
	}
}

func describeIDs(l relay.Layout) string {
	ids := l.IDs()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
