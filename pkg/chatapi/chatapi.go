// Package chatapi defines the OpenAI-compatible chat-completions
// request/response shapes shared by the client-facing HTTP boundary,
// the reasoning pipeline's request augmentation, and the upstream
// client (spec §6.1, §6.3).
package chatapi

import "encoding/json"

// Message is one element of a chat-completions messages array.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the client-facing request body (spec §6.1). Stream must
// be true; non-streaming requests are rejected by the HTTP boundary.
type Request struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      *float64  `json:"temperature,omitempty"`
	TopP             *float64  `json:"top_p,omitempty"`
	MaxTokens        *int      `json:"max_tokens,omitempty"`
	Stream           bool      `json:"stream"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
}

// Delta is one SSE chunk's choice delta in the upstream envelope.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Choice is one element of a streaming chunk's choices array.
type Choice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Chunk is one upstream/synthetic SSE data payload.
type Chunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// ContentChunk builds a minimal streaming chunk carrying a single
// content delta, the shape the reasoning pipeline's synthetic events
// and the upstream passthrough both produce.
func ContentChunk(id, model, content string) Chunk {
	return Chunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Model:   model,
		Choices: []Choice{{Index: 0, Delta: Delta{Content: content}}},
	}
}

// Encode renders the chunk as a single `data: {...}\n\n` SSE frame.
func (c Chunk) Encode() []byte {
	body, _ := json.Marshal(c)
	out := make([]byte, 0, len(body)+8)
	out = append(out, "data: "...)
	out = append(out, body...)
	out = append(out, '\n', '\n')
	return out
}

// DoneFrame is the terminal SSE line every stream must end with
// exactly once (spec §8 invariant 5).
const DoneFrame = "data: [DONE]\n\n"

// ErrorChunk is the synthetic error payload emitted before [DONE] on
// a fatal failure (spec §7 "User-visible failure").
type ErrorChunk struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// EncodeError renders a synthetic error event.
func EncodeError(message string) []byte {
	var e ErrorChunk
	e.Error.Message = message
	e.Error.Type = "toolmesh_error"
	body, _ := json.Marshal(e)
	out := make([]byte, 0, len(body)+8)
	out = append(out, "data: "...)
	out = append(out, body...)
	out = append(out, '\n', '\n')
	return out
}
