// Package catalog implements the capability index (C3): the unified,
// de-duplicated view of every tool, resource and prompt published by
// the connected tool-server fleet, built by discovery fan-out over
// the registry and consumed by the invoker and the reasoning
// pipeline.
package catalog

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/toolmesh/toolmeshd/pkg/scheduler"
	"github.com/toolmesh/toolmeshd/pkg/toolserver"
)

const discoveryCacheTTL = 5 * time.Minute

// ToolEntry is one catalog record for a tool (spec §3.3).
type ToolEntry struct {
	Name           string
	ServerName     string
	Description    string
	InputSchema    *jsonschema.Schema
	Availability   toolserver.Availability
	UsageCount     int
	LastUsed       time.Time
	ResponseTimeMs int64
	LastChecked    time.Time
	LastError      string
}

// ResourceEntry is one catalog record for a resource.
type ResourceEntry struct {
	URI          string
	ServerName   string
	Name         string
	Description  string
	MimeType     string
	Availability toolserver.Availability
	AccessCount  int
}

// PromptEntry is one catalog record for a prompt.
type PromptEntry struct {
	Name        string
	ServerName  string
	Description string
	Arguments   []toolserver.PromptArgument
}

// Summary is the aggregate shape returned by CapabilitySummary.
type Summary struct {
	TotalTools     int
	TotalResources int
	TotalPrompts   int
	ServerCount    int
}

// UsageStat is one row of the UsageStatistics report.
type UsageStat struct {
	Name       string
	ServerName string
	UsageCount int
	LastUsed   time.Time
}

// serverDiscoverySnapshot tracks when a server's capabilities were
// last pulled, so discover_all can skip servers inside the cache
// window (spec §4.3, §3.3 invariant).
type serverDiscoverySnapshot struct {
	lastDiscovery time.Time
}

// Catalog holds the three parallel capability indexes plus the
// servers_for side index, merging per-server discovery results
// atomically (spec §3.3, §5 "Catalog mutations during discovery are
// atomic per server").
type Catalog struct {
	registry *toolserver.Registry

	mu        sync.RWMutex
	tools     map[string]*ToolEntry
	resources map[string]*ResourceEntry
	prompts   map[string]*PromptEntry

	// servers tracks, per logical name, the set of servers that
	// publish it — the side index from spec §3.3.
	toolServers   map[string]map[string]bool
	promptServers map[string]map[string]bool

	discovery map[string]*serverDiscoverySnapshot

	ticker *scheduler.Ticker
	active bool
}

// New builds a catalog backed by the given registry. The registry is
// the sole source of truth for which servers exist and which clients
// are live; the catalog never mutates it.
func New(registry *toolserver.Registry) *Catalog {
	return &Catalog{
		registry:      registry,
		tools:         make(map[string]*ToolEntry),
		resources:     make(map[string]*ResourceEntry),
		prompts:       make(map[string]*PromptEntry),
		toolServers:   make(map[string]map[string]bool),
		promptServers: make(map[string]map[string]bool),
		discovery:     make(map[string]*serverDiscoverySnapshot),
	}
}

// AllTools returns a snapshot of every tool entry.
func (c *Catalog) AllTools() []ToolEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolEntry, 0, len(c.tools))
	for _, e := range c.tools {
		out = append(out, *e)
	}
	return out
}

// AllResources returns a snapshot of every resource entry.
func (c *Catalog) AllResources() []ResourceEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ResourceEntry, 0, len(c.resources))
	for _, e := range c.resources {
		out = append(out, *e)
	}
	return out
}

// AllPrompts returns a snapshot of every prompt entry.
func (c *Catalog) AllPrompts() []PromptEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PromptEntry, 0, len(c.prompts))
	for _, e := range c.prompts {
		out = append(out, *e)
	}
	return out
}

// Tool looks up a single tool entry by its (possibly qualified) name.
func (c *Catalog) Tool(name string) (ToolEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tools[name]
	if !ok {
		return ToolEntry{}, false
	}
	return *e, true
}

// ToolsForServer returns every tool entry owned by the named server.
func (c *Catalog) ToolsForServer(server string) []ToolEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ToolEntry
	for _, e := range c.tools {
		if e.ServerName == server {
			out = append(out, *e)
		}
	}
	return out
}

// SearchTools performs a substring match over name and description.
func (c *Catalog) SearchTools(query string, caseSensitive bool) []ToolEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !caseSensitive {
		query = strings.ToLower(query)
	}
	var out []ToolEntry
	for _, e := range c.tools {
		name, desc := e.Name, e.Description
		if !caseSensitive {
			name, desc = strings.ToLower(name), strings.ToLower(desc)
		}
		if strings.Contains(name, query) || strings.Contains(desc, query) {
			out = append(out, *e)
		}
	}
	return out
}

// ServersFor returns the set of servers publishing a given tool or
// prompt name (the side index of spec §3.3), sorted by server name so
// callers see a stable order.
func (c *Catalog) ServersFor(name string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.toolServers[name]
	if len(set) == 0 {
		set = c.promptServers[name]
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// CapabilitySummary reports aggregate counts across all catalogs.
func (c *Catalog) CapabilitySummary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	servers := make(map[string]bool)
	for _, e := range c.tools {
		servers[e.ServerName] = true
	}
	for _, e := range c.resources {
		servers[e.ServerName] = true
	}
	for _, e := range c.prompts {
		servers[e.ServerName] = true
	}
	return Summary{
		TotalTools:     len(c.tools),
		TotalResources: len(c.resources),
		TotalPrompts:   len(c.prompts),
		ServerCount:    len(servers),
	}
}

// UsageStatistics reports per-tool usage counters, most-used first.
func (c *Catalog) UsageStatistics() []UsageStat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]UsageStat, 0, len(c.tools))
	for _, e := range c.tools {
		out = append(out, UsageStat{
			Name:       e.Name,
			ServerName: e.ServerName,
			UsageCount: e.UsageCount,
			LastUsed:   e.LastUsed,
		})
	}
	sortUsageStatsDesc(out)
	return out
}

// MostUsed returns the n tools with the highest usage count, most
// used first. Ties break by name for determinism.
func (c *Catalog) MostUsed(n int) []ToolEntry {
	c.mu.RLock()
	entries := make([]ToolEntry, 0, len(c.tools))
	for _, e := range c.tools {
		entries = append(entries, *e)
	}
	c.mu.RUnlock()

	sortToolEntriesByUsageDesc(entries)
	if n >= 0 && n < len(entries) {
		entries = entries[:n]
	}
	return entries
}

// Stale returns every tool entry whose owning server has not been
// discovered within ttl — candidates for a forced re-discovery.
func (c *Catalog) Stale(ttl time.Duration) []ToolEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	var out []ToolEntry
	for server, snap := range c.discovery {
		if now.Sub(snap.lastDiscovery) <= ttl {
			continue
		}
		for _, e := range c.tools {
			if e.ServerName == server {
				out = append(out, *e)
			}
		}
	}
	return out
}

// RecordToolUsage increments the usage counter and updates last-used
// and response-time bookkeeping for a tool (spec §4.3 accounting).
// response_time_ms is a last-value, not an average, by design — see
// the fastest_response strategy note in invoker.
func (c *Catalog) RecordToolUsage(name string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tools[name]
	if !ok {
		return
	}
	e.UsageCount++
	e.LastUsed = time.Now()
	e.ResponseTimeMs = elapsed.Milliseconds()
}

// UpdateToolAvailability re-queries the owning server's tool list and
// sets the availability enum for a single tool.
func (c *Catalog) UpdateToolAvailability(name string) {
	c.mu.Lock()
	e, ok := c.tools[name]
	if !ok {
		c.mu.Unlock()
		return
	}
	server := e.ServerName
	c.mu.Unlock()

	client := c.registry.Client(server)
	if client == nil {
		c.mu.Lock()
		if e, ok := c.tools[name]; ok {
			e.Availability = toolserver.AvailabilityUnknown
		}
		c.mu.Unlock()
		return
	}

	found := toolserver.AvailabilityUnavailable
	for _, t := range client.AvailableTools() {
		if t.Name == e.Name {
			found = toolserver.AvailabilityAvailable
			break
		}
	}
	c.mu.Lock()
	if e, ok := c.tools[name]; ok {
		e.Availability = found
		e.LastChecked = time.Now()
	}
	c.mu.Unlock()
}
