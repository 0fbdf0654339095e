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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/toolmesh/toolmeshd/pkg/errs"
	"github.com/toolmesh/toolmeshd/pkg/httpclient"
)

// connectHTTP performs the initialize handshake against an http-sse
// tool server. Unlike stdio there is no subprocess to spawn; the
// "connection" is the reusable httpclient.Client plus a verified
// handshake round trip.
func (c *Client) connectHTTP(ctx context.Context) error {
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c.mu.Lock()
	c.httpClient = httpclient.New(
		httpclient.WithMaxRetries(c.cfg.RetryAttempts),
		httpclient.WithBaseDelay(c.cfg.RetryDelay),
	)
	c.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.handshake(hctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.healthy = true
	c.mu.Unlock()
	return nil
}

// callHTTP performs one JSON-RPC round trip as a single POST to the
// tool server's URL, carrying any configured headers.
func (c *Client) callHTTP(ctx context.Context, method string, params json.RawMessage, out any) error {
	c.mu.Lock()
	hc := c.httpClient
	c.mu.Unlock()
	if hc == nil {
		return fmt.Errorf("%w: %s not connected", errs.ErrProtocol, c.name)
	}

	id := atomic.AddInt64(&c.nextID, 1)
	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: encoding request: %v", errs.ErrProtocol, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request to %s: %v", errs.ErrProtocol, c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := hc.Do(httpReq)
	if err != nil {
		c.markUnhealthy()
		return fmt.Errorf("%w: calling %s: %v", errs.ErrServerUnhealthy, c.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response from %s: %v", errs.ErrProtocol, c.name, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s returned HTTP %d: %s", errs.ErrServerUnhealthy, c.name, resp.StatusCode, string(data))
	}

	var rpcResp Response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("%w: decoding response from %s: %v", errs.ErrProtocol, c.name, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %s", rpcResp.Error.Error(), method)
	}
	if out != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("%w: decoding result of %s: %v", errs.ErrProtocol, method, err)
		}
	}
	return nil
}
