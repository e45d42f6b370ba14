package mcpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/relay-board/internal/api"
	"github.com/sweeney/relay-board/internal/gpio"
	"github.com/sweeney/relay-board/internal/logging"
	"github.com/sweeney/relay-board/internal/relay"
)

func newTestHandle(t *testing.T) (*relay.Handle, *gpio.FakeChip) {
	t.Helper()
	chip := gpio.NewFakeChip()
	h := relay.NewHandle(func() (*relay.Board, error) {
		return relay.New(chip, relay.DefaultLayout())
	}, relay.DefaultLayout())
	t.Cleanup(h.Close)
	return h, chip
}

func newTestClient(t *testing.T, h *relay.Handle) *client.Client {
	t.Helper()
	s := New(h, logging.Discard(), "test")

	c, err := client.NewInProcessClient(s)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "relay-test", Version: "1.0.0"}
	res, err := c.Initialize(ctx, initReq)
	require.NoError(t, err)
	assert.Equal(t, Name, res.ServerInfo.Name)
	assert.Equal(t, Instructions, res.Instructions)
	return c
}

func callTool(t *testing.T, c *client.Client, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.CallTool(context.Background(), req)
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func TestListTools(t *testing.T) {
	h, _ := newTestHandle(t)
	c := newTestClient(t, h)

	res, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"relay_on", "relay_off", "relay_all_off", "relay_status"}, names)
}

func TestRelayOnOffTools(t *testing.T) {
	h, chip := newTestHandle(t)
	c := newTestClient(t, h)

	res, err := callTool(t, c, "relay_on", map[string]any{"relay": 3})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Relay 3 ON", textOf(t, res))
	assert.Equal(t, gpio.High, chip.Line(85).Level())

	res, err = callTool(t, c, "relay_off", map[string]any{"relay": 3})
	require.NoError(t, err)
	assert.Equal(t, "Relay 3 OFF", textOf(t, res))
	assert.Equal(t, gpio.Low, chip.Line(85).Level())
}

func TestRelayAllOffTool(t *testing.T) {
	h, chip := newTestHandle(t)
	c := newTestClient(t, h)
	require.NoError(t, h.On(1))
	require.NoError(t, h.On(2))

	res, err := callTool(t, c, "relay_all_off", nil)
	require.NoError(t, err)
	assert.Equal(t, "All OFF", textOf(t, res))
	assert.Equal(t, gpio.Low, chip.Line(60).Level())
	assert.Equal(t, gpio.Low, chip.Line(27).Level())
}

func TestRelayStatusTool(t *testing.T) {
	h, _ := newTestHandle(t)
	c := newTestClient(t, h)
	require.NoError(t, h.On(4))

	res, err := callTool(t, c, "relay_status", nil)
	require.NoError(t, err)
	assert.Equal(t, "Relay 1: off\nRelay 2: off\nRelay 3: off\nRelay 4: on", textOf(t, res))
}

func TestBadArgumentsAreToolErrors(t *testing.T) {
	h, chip := newTestHandle(t)
	c := newTestClient(t, h)

	for _, args := range []map[string]any{
		nil,
		{"relay": "two"},
		{"relay": 1.5},
		{"relay": true},
	} {
		res, err := callTool(t, c, "relay_on", args)
		require.NoError(t, err, "args %v", args)
		assert.True(t, res.IsError, "args %v", args)
	}
	assert.Zero(t, chip.WriteCount())
}

func TestBoardErrorsAreInternalErrors(t *testing.T) {
	h, chip := newTestHandle(t)
	c := newTestClient(t, h)
	chip.WriteErrors[27] = errors.New("i/o error")

	_, err := callTool(t, c, "relay_on", map[string]any{"relay": 2})
	assert.Error(t, err)

	_, err = callTool(t, c, "relay_on", map[string]any{"relay": 9})
	assert.Error(t, err, "unknown relay is a board error")

	res, err := callTool(t, c, "relay_on", map[string]any{"relay": 1})
	require.NoError(t, err, "server keeps serving after errors")
	assert.Equal(t, "Relay 1 ON", textOf(t, res))
}

func TestRelayArg(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		want    int
		wantErr bool
	}{
		{"float", map[string]any{"relay": float64(2)}, 2, false},
		{"int", map[string]any{"relay": 4}, 4, false},
		{"missing", map[string]any{}, 0, true},
		{"fraction", map[string]any{"relay": 2.5}, 0, true},
		{"string", map[string]any{"relay": "2"}, 0, true},
		{"huge", map[string]any{"relay": 1e12}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mcp.CallToolRequest{}
			req.Params.Arguments = tt.args
			got, err := relayArg(req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServeStdio(t *testing.T) {
	h, _ := newTestHandle(t)
	s := New(h, logging.Discard(), "test")

	in, inW := io.Pipe()
	t.Cleanup(func() { inW.Close() })
	var out strings.Builder

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ServeStdio(ctx, s, in, &syncWriter{w: &out, cancel: cancel}, logging.Discard()) }()

	_, err := io.WriteString(inW, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	require.NoError(t, err)

	assert.NoError(t, <-done)
	assert.Contains(t, out.String(), `"id":1`)
}

// syncWriter cancels the server once the first response is written.
type syncWriter struct {
	w      io.Writer
	cancel context.CancelFunc
}

func (s *syncWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.cancel()
	return n, err
}

func TestHTTPServerAuthAndHealth(t *testing.T) {
	h, _ := newTestHandle(t)
	auth, err := api.NewAuthenticator("tok", "")
	require.NoError(t, err)
	srv := NewHTTPServer(":0", New(h, logging.Discard(), "test"), "", auth, logging.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(api.RequestIDHeader))

	initBody := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"` +
		mcp.LATEST_PROTOCOL_VERSION + `","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`

	post := func(token string) (*http.Response, string) {
		req, err := http.NewRequest(http.MethodPost, ts.URL+DefaultEndpoint, strings.NewReader(initBody))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp, string(body)
	}

	resp, _ = post("")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = post("nope")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := post("tok")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, Name)
}
