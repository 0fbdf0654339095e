package toolserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolmesh/toolmeshd/pkg/config"
)

// fakeServerScript is a minimal stdio tool server: it answers the
// four handshake-time requests (initialize, tools/list,
// resources/list, prompts/list) with canned results in order, then
// answers every subsequent request with a one-line tools/call result.
// It echoes back whatever "id" it was sent so response correlation
// can be exercised for real.
const fakeServerScript = `
i=0
while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  case $i in
    0) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"protocolVersion\":\"2025-03-26\",\"capabilities\":{},\"serverInfo\":{\"name\":\"fake\",\"version\":\"1.0\"}}}" ;;
    1) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"tools\":[{\"name\":\"echo\",\"description\":\"echoes input\",\"inputSchema\":{}}]}}" ;;
    2) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"resources\":[]}}" ;;
    3) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"prompts\":[]}}" ;;
    *) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"ok\"}]}}" ;;
  esac
  i=$((i+1))
done
`

func fakeServerConfig(name string) config.ToolServer {
	cfg := config.ToolServer{
		Name:      name,
		Transport: config.TransportStdio,
		Command:   "/bin/sh",
		Args:      []string{"-c", fakeServerScript},
		Enabled:   true,
		Timeout:   5 * time.Second,
	}
	cfg.SetDefaults()
	return cfg
}

func TestClient_ConnectHandshakeAndCallTool(t *testing.T) {
	c := New("fake", fakeServerConfig("fake"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	assert.True(t, c.IsHealthy())

	tools := c.AvailableTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)

	result, err := c.CallTool(ctx, "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "ok", result.Content[0].Text)
}

func TestClient_HealthCheckRefreshesCapabilities(t *testing.T) {
	c := New("fake", fakeServerConfig("fake"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	assert.True(t, c.HealthCheck(ctx))
}

func TestClient_DisconnectIsIdempotent(t *testing.T) {
	c := New("fake", fakeServerConfig("fake"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	assert.False(t, c.IsHealthy())
}

func TestClient_ConnectFailsForMissingCommand(t *testing.T) {
	cfg := config.ToolServer{
		Name:      "missing",
		Transport: config.TransportStdio,
		Command:   "/no/such/binary-toolmesh-test",
		Enabled:   true,
	}
	cfg.SetDefaults()
	c := New("missing", cfg)

	err := c.Connect(context.Background())
	require.Error(t, err)
}

func TestClient_ConnectTimesOutAgainstUnresponsiveServer(t *testing.T) {
	cfg := config.ToolServer{
		Name:      "silent",
		Transport: config.TransportStdio,
		Command:   "/bin/sh",
		Args:      []string{"-c", "cat >/dev/null"},
		Enabled:   true,
		Timeout:   200 * time.Millisecond,
	}
	cfg.SetDefaults()
	c := New("silent", cfg)

	err := c.Connect(context.Background())
	require.Error(t, err)
}
