package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/toolmesh/toolmeshd/pkg/chatapi"
	"github.com/toolmesh/toolmeshd/pkg/httpclient"
)

// llmRequest is the non-streaming completion request each phase agent
// sends to the configured reasoning model. It deliberately omits tool
// definitions: phase agents reason in text/JSON, they never issue
// native function calls themselves.
type llmRequest struct {
	Model       string            `json:"model"`
	Messages    []chatapi.Message `json:"messages"`
	Temperature float64           `json:"temperature"`
	Stream      bool              `json:"stream"`
}

type llmChoice struct {
	Message chatapi.Message `json:"message"`
}

type llmResponse struct {
	Choices []llmChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// llmClient issues single-shot, non-streaming chat completions against
// the same upstream the reasoning pipeline augments, used by every
// phase's LLM-backed backend to obtain a JSON-structured judgment.
type llmClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *httpclient.Client
}

func newLLMClient(baseURL, apiKey, model string) *llmClient {
	return &llmClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: httpclient.New(
			httpclient.WithMaxRetries(2),
			httpclient.WithBaseDelay(500*time.Millisecond),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}
}

// complete sends system+user prompts and returns the assistant's raw
// text content, expected by callers to be a JSON object.
func (c *llmClient) complete(ctx context.Context, system, user string) (string, error) {
	reqBody := llmRequest{
		Model: c.model,
		Messages: []chatapi.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
		Stream:      false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal reasoning request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build reasoning request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reasoning model request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read reasoning response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reasoning model returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed llmResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode reasoning response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("reasoning model error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("reasoning model returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

// extractJSON trims Markdown code fences models sometimes wrap JSON
// in before handing it to json.Unmarshal.
func extractJSON(text string) string {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```json")
		t = strings.TrimPrefix(t, "```")
		t = strings.TrimSuffix(t, "```")
		t = strings.TrimSpace(t)
	}
	return t
}
