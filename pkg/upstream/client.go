// Package upstream relays an augmented chat-completions request to the
// configured OpenAI-compatible provider and streams its SSE response
// back byte-for-byte, the final hop of the proxy (spec §6.3).
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/toolmesh/toolmeshd/pkg/chatapi"
	"github.com/toolmesh/toolmeshd/pkg/config"
	"github.com/toolmesh/toolmeshd/pkg/errs"
)

// Client streams chat-completions responses from an upstream
// OpenAI-compatible endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a Client from upstream configuration.
func New(cfg config.Upstream) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{},
	}
}

// errorBody mirrors the minimal OpenAI error envelope, used only to
// surface a readable message when the upstream returns non-200.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Stream issues the request upstream and invokes onLine once per raw
// SSE line (including the blank separator lines and the terminal
// `data: [DONE]`), relaying the upstream's bytes verbatim rather than
// re-encoding them — any reshaping would risk diverging from whatever
// the upstream provider actually sent.
func (c *Client) Stream(ctx context.Context, req chatapi.Request, onLine func(line string)) error {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			return fmt.Errorf("%w: %s", errs.ErrUpstream, eb.Error.Message)
		}
		return fmt.Errorf("%w: status %d", errs.ErrUpstream, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUpstream, err)
	}
	return nil
}
