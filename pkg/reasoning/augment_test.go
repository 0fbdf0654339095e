package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolmesh/toolmeshd/pkg/chatapi"
)

func TestAugmentRequest_NoOpWhenNothingCollected(t *testing.T) {
	req := chatapi.Request{Messages: []chatapi.Message{{Role: "user", Content: "hi"}}}
	out := augmentRequest(req, nil)
	assert.Equal(t, req, out)
}

func TestAugmentRequest_FoldsSystemMessagesAndToolResults(t *testing.T) {
	req := chatapi.Request{
		Messages: []chatapi.Message{
			{Role: "system", Content: "be concise"},
			{Role: "user", Content: "what are my tickets?"},
		},
	}
	collected := []ContextItem{
		{Success: true, ToolName: "find_assigned", ServerName: "tracker", Result: "TICKET-1, TICKET-2"},
	}

	out := augmentRequest(req, collected)

	require.Len(t, out.Messages, 2)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Contains(t, out.Messages[0].Content, "be concise")
	assert.Contains(t, out.Messages[0].Content, "find_assigned")
	assert.Contains(t, out.Messages[0].Content, "TICKET-1, TICKET-2")
	assert.Equal(t, "user", out.Messages[1].Role)
}

func TestAugmentRequest_DropsPriorSystemMessagesIntoTheUnifiedOne(t *testing.T) {
	req := chatapi.Request{
		Messages: []chatapi.Message{
			{Role: "system", Content: "first"},
			{Role: "system", Content: "second"},
			{Role: "assistant", Content: "earlier reply"},
			{Role: "user", Content: "follow up"},
		},
	}
	collected := []ContextItem{{Success: true, ToolName: "t", ServerName: "s", Result: "r"}}

	out := augmentRequest(req, collected)

	systemCount := 0
	for _, m := range out.Messages {
		if m.Role == "system" {
			systemCount++
		}
	}
	assert.Equal(t, 1, systemCount)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Equal(t, "assistant", out.Messages[1].Role)
	assert.Equal(t, "user", out.Messages[2].Role)
}

func TestLatestUserMessage_ReturnsLastUserRole(t *testing.T) {
	req := chatapi.Request{Messages: []chatapi.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}}
	assert.Equal(t, "second", latestUserMessage(req))
}
