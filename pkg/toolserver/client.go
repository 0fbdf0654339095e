// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolmesh/toolmeshd/pkg/config"
	"github.com/toolmesh/toolmeshd/pkg/errs"
	"github.com/toolmesh/toolmeshd/pkg/httpclient"
)

const (
	protocolVersion = "2025-03-26"
	clientName      = "toolmeshd"
	clientVersion   = "1.0"
	shutdownGrace   = 2 * time.Second
)

// pendingCall is the slot a single in-flight request occupies while
// its response is awaited (spec §4.1, design notes "response-pending
// map keyed by id").
type pendingCall struct {
	response chan *Response
}

// Client owns exactly one subprocess (stdio transport) and speaks the
// line-delimited JSON-RPC protocol of spec §6.2 over its stdin/stdout.
// http-sse transport is handled by httpClient in http.go.
//
// Concurrency contract: at most one in-flight request per client.
// Write/read access to the subprocess is serialized by callMu; the
// pending map is separately guarded because the reader goroutine
// writes to it concurrently with a caller registering a new entry.
type Client struct {
	name string
	cfg  config.ToolServer

	callMu sync.Mutex // serializes calls: single in-flight per client

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	httpClient *httpclient.Client
	healthy    bool

	pendingMu sync.Mutex
	pending   map[int64]*pendingCall

	nextID int64

	toolsMu   sync.RWMutex
	tools     []ToolDescriptor
	resources []ResourceDescriptor
	prompts   []PromptDescriptor

	readerDone chan struct{}
}

// New constructs a client for one tool server. It does not connect.
func New(name string, cfg config.ToolServer) *Client {
	return &Client{
		name:    name,
		cfg:     cfg,
		pending: make(map[int64]*pendingCall),
	}
}

// Name returns the owning server's name.
func (c *Client) Name() string { return c.name }

// IsHealthy reports whether the client believes its transport is
// usable. It does not perform I/O.
func (c *Client) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// Connect spawns the subprocess (stdio) and performs the initialize
// handshake. Fails if the process exits before the handshake
// completes, if the handshake response is malformed, or after
// cfg.Timeout.
func (c *Client) Connect(ctx context.Context) error {
	switch c.cfg.Transport {
	case config.TransportStdio:
		return c.connectStdio(ctx)
	case config.TransportHTTPSSE:
		return c.connectHTTP(ctx)
	default:
		return fmt.Errorf("%w: unknown transport %q", errs.ErrConfigInvalid, c.cfg.Transport)
	}
}

func (c *Client) connectStdio(ctx context.Context) error {
	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Env = mergeEnv(os.Environ(), c.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", errs.ErrProtocol, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", errs.ErrProtocol, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", errs.ErrProtocol, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: starting %s: %v", errs.ErrServerUnhealthy, c.cfg.Command, err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.mu.Unlock()

	c.readerDone = make(chan struct{})
	go c.readLoop(stdout)
	go drainStderr(c.name, stderr)

	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.handshake(hctx); err != nil {
		_ = c.terminateProcess()
		return err
	}

	c.mu.Lock()
	c.healthy = true
	c.mu.Unlock()
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	params, _ := json.Marshal(InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      ClientInfo{Name: clientName, Version: clientVersion},
	})

	var result InitializeResult
	if err := c.call(ctx, MethodInitialize, params, &result); err != nil {
		return fmt.Errorf("%w: handshake with %s: %v", errs.ErrProtocol, c.name, err)
	}

	return c.refreshCapabilities(ctx)
}

// Discover re-pulls tools/resources/prompts from the server, for use
// by the capability index's discovery fan-out (spec §4.3).
func (c *Client) Discover(ctx context.Context) error {
	return c.refreshCapabilities(ctx)
}

// refreshCapabilities issues the three list methods and caches their
// results for the introspection accessors (spec §4.1).
func (c *Client) refreshCapabilities(ctx context.Context) error {
	var tools ToolsListResult
	if err := c.call(ctx, MethodToolsList, nil, &tools); err != nil {
		return err
	}
	var resources ResourcesListResult
	if err := c.call(ctx, MethodResourcesList, nil, &resources); err != nil {
		return err
	}
	var prompts PromptsListResult
	if err := c.call(ctx, MethodPromptsList, nil, &prompts); err != nil {
		return err
	}

	c.toolsMu.Lock()
	c.tools = tools.Tools
	c.resources = resources.Resources
	c.prompts = prompts.Prompts
	c.toolsMu.Unlock()
	return nil
}

// Disconnect sends a best-effort shutdown, waits up to 2s, then
// forcibly terminates. Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cmd := c.cmd
	healthy := c.healthy
	c.healthy = false
	c.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if !healthy && c.cfg.Transport == config.TransportHTTPSSE {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	_ = cmd.Process.Signal(os.Interrupt)

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		_ = cmd.Process.Kill()
		<-done
	}
	c.dropAllPending(errs.ErrCancelled)
	return nil
}

func (c *Client) terminateProcess() error {
	c.mu.Lock()
	cmd := c.cmd
	c.healthy = false
	c.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Kill()
	return nil
}

// HealthCheck issues tools/list, resources/list and prompts/list
// (refreshCapabilities) and refreshes the cached capabilities as a
// side effect (spec §4.1).
func (c *Client) HealthCheck(ctx context.Context) bool {
	if !c.IsHealthy() {
		return false
	}
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.refreshCapabilities(hctx); err != nil {
		c.mu.Lock()
		c.healthy = false
		c.mu.Unlock()
		return false
	}
	return true
}

// CallTool invokes tools/call and returns its decoded content blocks.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	params, _ := json.Marshal(CallToolParams{Name: name, Arguments: args})
	var result CallToolResult
	if err := c.callWithTimeout(ctx, MethodToolsCall, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetResource invokes resources/read.
func (c *Client) GetResource(ctx context.Context, uri string) (*ReadResourceResult, error) {
	params, _ := json.Marshal(ReadResourceParams{URI: uri})
	var result ReadResourceResult
	if err := c.callWithTimeout(ctx, MethodResourcesRead, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPrompt invokes prompts/get.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]any) (*GetPromptResult, error) {
	params, _ := json.Marshal(GetPromptParams{Name: name, Arguments: args})
	var result GetPromptResult
	if err := c.callWithTimeout(ctx, MethodPromptsGet, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AvailableTools returns the handshake/health-reported tool list.
func (c *Client) AvailableTools() []ToolDescriptor {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	out := make([]ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

// AvailableResources returns the handshake/health-reported resource list.
func (c *Client) AvailableResources() []ResourceDescriptor {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	out := make([]ResourceDescriptor, len(c.resources))
	copy(out, c.resources)
	return out
}

// AvailablePrompts returns the handshake/health-reported prompt list.
func (c *Client) AvailablePrompts() []PromptDescriptor {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	out := make([]PromptDescriptor, len(c.prompts))
	copy(out, c.prompts)
	return out
}

func (c *Client) callWithTimeout(ctx context.Context, method string, params json.RawMessage, out any) error {
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.call(cctx, method, params, out)
}

// call serializes one request/response round trip. Only one call may
// be in flight per client at a time (spec §4.1 concurrency contract).
func (c *Client) call(ctx context.Context, method string, params json.RawMessage, out any) error {
	if c.cfg.Transport == config.TransportHTTPSSE {
		return c.callHTTP(ctx, method, params, out)
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	id := atomic.AddInt64(&c.nextID, 1)
	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	slot := &pendingCall{response: make(chan *Response, 1)}
	c.pendingMu.Lock()
	c.pending[id] = slot
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("%w: %s not connected", errs.ErrProtocol, c.name)
	}

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: encoding request: %v", errs.ErrProtocol, err)
	}
	line = append(line, '\n')
	if _, err := stdin.Write(line); err != nil {
		c.markUnhealthy()
		return fmt.Errorf("%w: writing to %s: %v", errs.ErrProtocol, c.name, err)
	}

	select {
	case resp, ok := <-slot.response:
		if !ok {
			return fmt.Errorf("%w: connection to %s closed", errs.ErrProtocol, c.name)
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %s", resp.Error.Error(), method)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("%w: decoding result of %s: %v", errs.ErrProtocol, method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s %s", errs.ErrTimeout, c.name, method)
	}
}

// readLoop scans newline-delimited JSON responses from stdout and
// dispatches each to its pending slot by id. A malformed line or an
// unknown id forces the client unhealthy and drops in-flight calls.
func (c *Client) readLoop(stdout io.Reader) {
	defer close(c.readerDone)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			slog.Warn("malformed response from tool server", "server", c.name, "error", err)
			c.markUnhealthy()
			c.dropAllPending(errs.ErrProtocol)
			continue
		}

		c.pendingMu.Lock()
		slot, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()

		if !ok {
			slog.Warn("response with unknown id from tool server", "server", c.name, "id", resp.ID)
			c.markUnhealthy()
			c.dropAllPending(errs.ErrProtocol)
			continue
		}
		slot.response <- &resp
	}

	c.dropAllPending(errs.ErrProtocol)
}

func (c *Client) markUnhealthy() {
	c.mu.Lock()
	c.healthy = false
	c.mu.Unlock()
}

func (c *Client) dropAllPending(cause error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, slot := range c.pending {
		close(slot.response)
		delete(c.pending, id)
	}
	_ = cause
}

func drainStderr(server string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Debug("tool server stderr", "server", server, "line", scanner.Text())
	}
}

func mergeEnv(base []string, overrides map[string]string) []string {
	out := append([]string{}, base...)
	for k, v := range overrides {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
