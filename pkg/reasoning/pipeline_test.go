package reasoning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolmesh/toolmeshd/pkg/catalog"
	"github.com/toolmesh/toolmeshd/pkg/chatapi"
	"github.com/toolmesh/toolmeshd/pkg/config"
	"github.com/toolmesh/toolmeshd/pkg/invoker"
	"github.com/toolmesh/toolmeshd/pkg/toolserver"
)

// trackerServerScript publishes "authenticate" and "find_assigned"
// tools, mirroring the task-management fallback plan's required
// tool names. Requests 1-3 (handshake) and 4-6 (the catalog's
// discovery pass) get the list results; every later request gets a
// tools/call result.
const trackerServerScript = `
i=0
while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  case $i in
    0) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"protocolVersion\":\"2025-03-26\",\"capabilities\":{},\"serverInfo\":{\"name\":\"tracker\",\"version\":\"1.0\"}}}" ;;
    1|4) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"tools\":[{\"name\":\"authenticate\",\"description\":\"auth\",\"inputSchema\":{}},{\"name\":\"find_assigned\",\"description\":\"list assigned tickets\",\"inputSchema\":{}}]}}" ;;
    2|5) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"resources\":[]}}" ;;
    3|6) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"prompts\":[]}}" ;;
    *) echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"TICKET-1\"}]}}" ;;
  esac
  i=$((i+1))
done
`

func setupTrackerPipeline(t *testing.T) *Pipeline {
	t.Helper()
	reg := toolserver.NewRegistry()
	cfg := config.ToolServer{
		Name:      "tracker",
		Transport: config.TransportStdio,
		Command:   "/bin/sh",
		Args:      []string{"-c", trackerServerScript},
		Enabled:   true,
		Timeout:   5 * time.Second,
	}
	cfg.SetDefaults()
	require.NoError(t, reg.Register(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, reg.ConnectAll(ctx))
	t.Cleanup(reg.DisconnectAll)

	cat := catalog.New(reg)
	cat.DiscoverAll(ctx)

	inv := invoker.New(reg, cat, invoker.StrategyFirstAvailable)

	reasoningCfg := config.Reasoning{Enabled: true, Model: "", MaxReplanCycles: 0}
	return New(reasoningCfg, inv, cat, "", "")
}

func TestPipeline_RunFoldsToolResultsIntoSystemMessage(t *testing.T) {
	p := setupTrackerPipeline(t)

	req := chatapi.Request{
		Model: "gpt-test",
		Messages: []chatapi.Message{
			{Role: "user", Content: "what tickets are assigned to me?"},
		},
		Stream: true,
	}

	var events []chatapi.Chunk
	out := p.Run(context.Background(), req, func(c chatapi.Chunk) { events = append(events, c) })

	require.NotEmpty(t, events)
	assert.Contains(t, events[0].Choices[0].Delta.Content, "Analyzing")
	last := events[len(events)-1]
	assert.Contains(t, last.Choices[0].Delta.Content, "complete")

	require.Len(t, out.Messages, 2)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Contains(t, out.Messages[0].Content, "TICKET-1")
	assert.Equal(t, "user", out.Messages[1].Role)
}

func TestPipeline_RunIsNoOpWhenDisabled(t *testing.T) {
	p := setupTrackerPipeline(t)
	p.cfg.Enabled = false

	req := chatapi.Request{Messages: []chatapi.Message{{Role: "user", Content: "hi"}}}
	out := p.Run(context.Background(), req, func(chatapi.Chunk) { t.Fatal("no events expected when disabled") })

	assert.Equal(t, req, out)
}

func TestPipeline_EventsPrecedeAugmentedRequestConstruction(t *testing.T) {
	p := setupTrackerPipeline(t)

	req := chatapi.Request{Messages: []chatapi.Message{{Role: "user", Content: "find my assigned tickets"}}}

	var phaseOrder []string
	p.Run(context.Background(), req, func(c chatapi.Chunk) {
		phaseOrder = append(phaseOrder, c.Choices[0].Delta.Content)
	})

	require.NotEmpty(t, phaseOrder)
	assert.Equal(t, "🔍 Analyzing...", phaseOrder[0])
	assert.Equal(t, "✅ Analysis complete.", phaseOrder[len(phaseOrder)-1])
}
