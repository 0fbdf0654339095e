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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toolmesh/toolmeshd/pkg/config"
	"github.com/toolmesh/toolmeshd/pkg/errs"
	"github.com/toolmesh/toolmeshd/pkg/scheduler"
)

// maxConsecutiveHealthFailures is the flapping threshold: a server
// that fails this many health checks in a row is demoted to
// StatusError rather than cycled back through reconnect attempts
// indefinitely.
const maxConsecutiveHealthFailures = 3

// Runtime is the per-server record the registry tracks (spec §3.2):
// the static config, the live client handle (nil until connected),
// and the bookkeeping the state machine and health monitor need.
type Runtime struct {
	Config config.ToolServer
	Status Status

	Client *Client

	LastConnectionAttempt time.Time
	LastHealthCheck       time.Time
	ConnectionAttempts    int
	ConsecutiveFailures   int
	LastError             string

	ToolCount     int
	ResourceCount int
	PromptCount   int
}

// Registry owns the fleet of tool-server runtimes (C2): connecting,
// disconnecting, and periodically health-checking each one, while
// exposing a consistent snapshot to the capability index and invoker.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]*Runtime

	healthTicker *scheduler.Ticker
	healthActive bool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[string]*Runtime)}
}

// Register adds a tool server definition in StatusDisabled or
// StatusDisconnected depending on cfg.Enabled. Re-registering an
// existing name replaces its config but keeps any live client
// disconnected first.
func (r *Registry) Register(cfg config.ToolServer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.runtimes[cfg.Name]; ok && existing.Client != nil {
		_ = existing.Client.Disconnect()
	}

	status := StatusDisconnected
	if !cfg.Enabled {
		status = StatusDisabled
	}
	r.runtimes[cfg.Name] = &Runtime{Config: cfg, Status: status}
	return nil
}

// Unregister disconnects (if connected) and removes a tool server.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.runtimes[name]
	if !ok {
		return fmt.Errorf("%w: unknown tool server %q", errs.ErrNoServer, name)
	}
	if rt.Client != nil {
		_ = rt.Client.Disconnect()
	}
	delete(r.runtimes, name)
	return nil
}

// Get returns a copy of the named runtime's bookkeeping, or false if
// it's not registered.
func (r *Registry) Get(name string) (Runtime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[name]
	if !ok {
		return Runtime{}, false
	}
	return *rt, true
}

// List returns a snapshot of every registered runtime.
func (r *Registry) List() []Runtime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Runtime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		out = append(out, *rt)
	}
	return out
}

// Client returns the live client for a connected server, or nil.
func (r *Registry) Client(name string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[name]
	if !ok || rt.Status != StatusConnected {
		return nil
	}
	return rt.Client
}

// ConnectAll connects every enabled, not-yet-connected server
// concurrently through an errgroup (no concurrency limit). Individual failures are
// recorded on the runtime rather than aborting the others.
func (r *Registry) ConnectAll(ctx context.Context) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.runtimes))
	for name, rt := range r.runtimes {
		if rt.Config.Enabled && rt.Status != StatusConnected {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			r.connectOne(gctx, name)
			return nil
		})
	}
	return g.Wait()
}

func (r *Registry) connectOne(ctx context.Context, name string) {
	r.mu.Lock()
	rt, ok := r.runtimes[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	rt.Status = StatusConnecting
	rt.LastConnectionAttempt = time.Now()
	rt.ConnectionAttempts++
	client := New(name, rt.Config)
	r.mu.Unlock()

	err := client.Connect(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok = r.runtimes[name]
	if !ok {
		_ = client.Disconnect()
		return
	}
	if err != nil {
		slog.Warn("tool server connect failed", "server", name, "error", err)
		rt.Status = StatusError
		rt.LastError = err.Error()
		return
	}
	rt.Client = client
	rt.Status = StatusConnected
	rt.LastError = ""
	rt.ConsecutiveFailures = 0
	rt.ConnectionAttempts = 0
	rt.ToolCount = len(client.AvailableTools())
	rt.ResourceCount = len(client.AvailableResources())
	rt.PromptCount = len(client.AvailablePrompts())
}

// DisconnectAll disconnects every connected server.
func (r *Registry) DisconnectAll() {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		if rt.Client != nil {
			clients = append(clients, rt.Client)
		}
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			_ = c.Disconnect()
		}(c)
	}
	wg.Wait()

	r.mu.Lock()
	for _, rt := range r.runtimes {
		if rt.Status == StatusConnected || rt.Status == StatusError {
			rt.Status = StatusDisconnected
			rt.Client = nil
		}
	}
	r.mu.Unlock()
}

// StartHealthMonitoring launches a background ticker that health
// checks every connected server every interval, until ctx is
// cancelled or Stop is called. Idempotent: a second call is a no-op
// while one is already running.
func (r *Registry) StartHealthMonitoring(ctx context.Context, interval time.Duration) {
	r.mu.Lock()
	if r.healthActive {
		r.mu.Unlock()
		return
	}
	r.healthActive = true
	r.healthTicker = scheduler.Start(ctx, interval, r.healthCheckAll)
	r.mu.Unlock()
}

// StopHealthMonitoring halts the background health monitor, waiting
// for the in-flight tick (if any) to finish.
func (r *Registry) StopHealthMonitoring() {
	r.mu.Lock()
	if !r.healthActive {
		r.mu.Unlock()
		return
	}
	t := r.healthTicker
	r.healthActive = false
	r.mu.Unlock()
	t.Stop()
}

// healthCheckAll is the background tick driving both halves of spec
// §4.2's state machine: connected servers are health checked (and
// demoted to StatusError on repeated failure), while enabled servers
// that are StatusError or StatusDisconnected get a reconnect attempt,
// budgeted by each server's configured RetryAttempts, so a server that
// dropped out eventually rejoins the fleet on its own rather than
// staying dead until the process restarts.
func (r *Registry) healthCheckAll(ctx context.Context) {
	r.mu.RLock()
	type target struct {
		name   string
		client *Client
	}
	targets := make([]target, 0, len(r.runtimes))
	var reconnectCandidates []string
	for name, rt := range r.runtimes {
		if rt.Client != nil {
			targets = append(targets, target{name, rt.Client})
			continue
		}
		if rt.Config.Enabled && (rt.Status == StatusError || rt.Status == StatusDisconnected) &&
			rt.ConnectionAttempts < rt.Config.RetryAttempts {
			reconnectCandidates = append(reconnectCandidates, name)
		}
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			ok := t.client.HealthCheck(gctx)
			r.recordHealthResult(t.name, ok)
			return nil
		})
	}
	for _, name := range reconnectCandidates {
		name := name
		g.Go(func() error {
			r.connectOne(gctx, name)
			return nil
		})
	}
	_ = g.Wait()
}

// recordHealthResult updates the flapping counter (spec notes on
// consecutive health failures) and demotes to StatusError once the
// threshold is crossed, rather than leaving a half-dead server
// marked StatusConnected.
func (r *Registry) recordHealthResult(name string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.runtimes[name]
	if !ok {
		return
	}
	rt.LastHealthCheck = time.Now()
	if healthy {
		rt.ConsecutiveFailures = 0
		rt.Status = StatusConnected
		if rt.Client != nil {
			rt.ToolCount = len(rt.Client.AvailableTools())
			rt.ResourceCount = len(rt.Client.AvailableResources())
			rt.PromptCount = len(rt.Client.AvailablePrompts())
		}
		return
	}
	rt.ConsecutiveFailures++
	if rt.ConsecutiveFailures >= maxConsecutiveHealthFailures {
		rt.Status = StatusError
		rt.LastError = "exceeded consecutive health check failure threshold"
		if rt.Client != nil {
			_ = rt.Client.Disconnect()
			rt.Client = nil
		}
	}
}
