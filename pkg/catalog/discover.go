package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/invopop/jsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/toolmesh/toolmeshd/pkg/scheduler"
	"github.com/toolmesh/toolmeshd/pkg/toolserver"
)

// DiscoverAll fans out discovery across every connected server whose
// cache entry is stale, concurrently. One server's failure is logged
// and does not affect the others (spec §4.3 "exceptions in one
// server must not poison another").
func (c *Catalog) DiscoverAll(ctx context.Context) {
	c.discoverAllConcurrent(ctx)
}

func (c *Catalog) isFresh(server string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.discovery[server]
	if !ok {
		return false
	}
	return time.Since(snap.lastDiscovery) < discoveryCacheTTL
}

// discoverAllConcurrent is shared by DiscoverAll and the background
// auto-discovery timer.
func (c *Catalog) discoverAllConcurrent(ctx context.Context) {
	type target struct {
		name   string
		client *toolserver.Client
	}
	var targets []target
	for _, rt := range c.registry.List() {
		if rt.Status != toolserver.StatusConnected || rt.Client == nil {
			continue
		}
		if c.isFresh(rt.Config.Name) {
			continue
		}
		targets = append(targets, target{rt.Config.Name, rt.Client})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			if err := t.client.Discover(gctx); err != nil {
				slog.Warn("discovery failed", "server", t.name, "error", err)
				return nil
			}
			c.mergeServer(t.name, t.client)
			return nil
		})
	}
	_ = g.Wait()
}

// parseInputSchema decodes a tool's raw inputSchema into a typed
// jsonschema.Schema so callers (the reasoning pipeline's prompt
// formatting) can read required parameters instead of grepping raw
// JSON. A malformed schema is logged and left nil rather than
// rejecting the whole tool.
func parseInputSchema(toolName string, raw []byte) *jsonschema.Schema {
	if len(raw) == 0 {
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		slog.Warn("tool input schema is not valid JSON Schema", "tool", toolName, "error", err)
		return nil
	}
	return &schema
}

// mergeServer atomically replaces every entry owned by server: old
// entries remain visible right up until the new set is installed
// (spec §5 atomic-per-server re-merge invariant).
func (c *Catalog) mergeServer(server string, client *toolserver.Client) {
	newTools := make(map[string]*ToolEntry)
	for _, t := range client.AvailableTools() {
		newTools[t.Name] = &ToolEntry{
			Name:         t.Name,
			ServerName:   server,
			Description:  t.Description,
			InputSchema:  parseInputSchema(t.Name, t.InputSchema),
			Availability: toolserver.AvailabilityAvailable,
			LastChecked:  time.Now(),
		}
	}
	newResources := make(map[string]*ResourceEntry)
	for _, r := range client.AvailableResources() {
		newResources[r.URI] = &ResourceEntry{
			URI:          r.URI,
			ServerName:   server,
			Name:         r.Name,
			Description:  r.Description,
			MimeType:     r.MimeType,
			Availability: toolserver.AvailabilityAvailable,
		}
	}
	newPrompts := make(map[string]*PromptEntry)
	for _, p := range client.AvailablePrompts() {
		newPrompts[p.Name] = &PromptEntry{
			Name:        p.Name,
			ServerName:  server,
			Description: p.Description,
			Arguments:   p.Arguments,
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearServerLocked(server)

	for name, entry := range newTools {
		c.insertToolLocked(name, entry)
	}
	for uri, entry := range newResources {
		c.resources[uri] = entry
	}
	for name, entry := range newPrompts {
		c.insertPromptLocked(name, entry)
	}

	c.discovery[server] = &serverDiscoverySnapshot{lastDiscovery: time.Now()}
}

// clearServerLocked removes every entry owned by server and the
// dangling side-index references to it (spec §3.3 invariant). Callers
// must hold c.mu.
func (c *Catalog) clearServerLocked(server string) {
	for name, e := range c.tools {
		if e.ServerName == server {
			delete(c.tools, name)
			if set := c.toolServers[name]; set != nil {
				delete(set, server)
				if len(set) == 0 {
					delete(c.toolServers, name)
				}
			}
		}
	}
	for uri, e := range c.resources {
		if e.ServerName == server {
			delete(c.resources, uri)
		}
	}
	for name, e := range c.prompts {
		if e.ServerName == server {
			delete(c.prompts, name)
			if set := c.promptServers[name]; set != nil {
				delete(set, server)
				if len(set) == 0 {
					delete(c.promptServers, name)
				}
			}
		}
	}
}

// insertToolLocked inserts a tool entry, qualifying the name as
// "{server}.{name}" if a different server already owns the bare name
// (spec §3.3 name-collision resolution: "the second registration
// qualifies its copy"). Callers must hold c.mu.
func (c *Catalog) insertToolLocked(name string, entry *ToolEntry) {
	key := name
	if existing, ok := c.tools[key]; ok && existing.ServerName != entry.ServerName {
		key = entry.ServerName + "." + name
		slog.Info("tool name collision, qualifying", "name", name, "server", entry.ServerName, "qualified", key)
	}
	entry.Name = name
	c.tools[key] = entry

	if c.toolServers[name] == nil {
		c.toolServers[name] = make(map[string]bool)
	}
	c.toolServers[name][entry.ServerName] = true
}

// insertPromptLocked mirrors insertToolLocked for prompts.
func (c *Catalog) insertPromptLocked(name string, entry *PromptEntry) {
	key := name
	if existing, ok := c.prompts[key]; ok && existing.ServerName != entry.ServerName {
		key = entry.ServerName + "." + name
		slog.Info("prompt name collision, qualifying", "name", name, "server", entry.ServerName, "qualified", key)
	}
	entry.Name = name
	c.prompts[key] = entry

	if c.promptServers[name] == nil {
		c.promptServers[name] = make(map[string]bool)
	}
	c.promptServers[name][entry.ServerName] = true
}

// StartAutoDiscovery launches a background ticker mirroring
// DiscoverAll on an interval, until ctx is cancelled or Stop is
// called. Idempotent while already running.
func (c *Catalog) StartAutoDiscovery(ctx context.Context, interval time.Duration) {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.ticker = scheduler.Start(ctx, interval, c.discoverAllConcurrent)
	c.mu.Unlock()
}

// StopAutoDiscovery halts the background discovery timer.
func (c *Catalog) StopAutoDiscovery() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	t := c.ticker
	c.active = false
	c.mu.Unlock()
	t.Stop()
}
