package reasoning

import (
	"fmt"
	"strings"

	"github.com/toolmesh/toolmeshd/pkg/chatapi"
)

// augmentRequest folds collected tool results into a single leading
// system message (spec §4.5.6): pre-existing system messages are
// concatenated with a labeled block of tool results, any existing
// system messages are removed, and the new message is inserted at
// position 0 ahead of every other message, preserved in order.
func augmentRequest(req chatapi.Request, collected []ContextItem) chatapi.Request {
	if len(collected) == 0 {
		return req
	}

	var systemParts []string
	var rest []chatapi.Message
	for _, m := range req.Messages {
		if m.Role == "system" {
			systemParts = append(systemParts, stripReasoningArtifacts(m.Content))
		} else {
			rest = append(rest, m)
		}
	}

	var toolBlock strings.Builder
	toolBlock.WriteString("Tool results gathered to answer this request:\n")
	for _, item := range collected {
		status := "succeeded"
		if !item.Success {
			status = "failed"
		}
		fmt.Fprintf(&toolBlock, "- %s (%s) %s: %s\n", item.ToolName, item.ServerName, status, item.Result)
	}

	systemParts = append(systemParts, toolBlock.String())
	unified := chatapi.Message{Role: "system", Content: strings.Join(systemParts, "\n\n")}

	out := req
	out.Messages = append([]chatapi.Message{unified}, rest...)
	return out
}

// latestUserMessage returns the content of the last user-authored
// message, the pipeline's input text (spec §4.5.1).
func latestUserMessage(req chatapi.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}
