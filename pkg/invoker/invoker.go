// Package invoker implements the unified tool invoker (C4): the
// single entry point the reasoning pipeline uses to call a tool,
// read a resource or fetch a prompt, applying filters, caching,
// candidate selection and usage accounting on top of the catalog and
// registry.
package invoker

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/toolmesh/toolmeshd/pkg/catalog"
	"github.com/toolmesh/toolmeshd/pkg/errs"
	"github.com/toolmesh/toolmeshd/pkg/toolserver"
)

// Strategy selects among multiple healthy candidate servers
// publishing the same tool (spec §4.4 step 5).
type Strategy string

const (
	StrategyFirstAvailable  Strategy = "first_available"
	StrategyRoundRobin      Strategy = "round_robin"
	StrategyFastestResponse Strategy = "fastest_response"
	StrategyLeastUsed       Strategy = "least_used"
	StrategyRandom          Strategy = "random"
)

// Filter is a predicate evaluated before every dispatch; returning
// false denies the call (spec §4.4 step 1).
type Filter func(toolName string, arguments map[string]any) bool

// Options customizes one call (spec §4.4).
type Options struct {
	ServerName string
	CacheTTL   time.Duration
	Timeout    time.Duration
	NoCache    bool
	AllowGlobs []string
	DenyGlobs  []string
}

// Result is the outcome of a single tool invocation (spec §4.4 step 7).
type Result struct {
	Success         bool
	Result          any
	ErrorMessage    string
	ServerName      string
	ExecutionTimeMs int64
	ToolName        string
}

// BatchRequest is one element of an ExecuteBatch call.
type BatchRequest struct {
	ToolName  string
	Arguments map[string]any
	Options   Options
}

// Invoker is the C4 unified tool invoker.
type Invoker struct {
	registry *toolserver.Registry
	catalog  *catalog.Catalog
	cache    *resultCache
	strategy Strategy

	filtersMu sync.RWMutex
	filters   []Filter

	rrMu sync.Mutex
	rr   map[string]int
}

// New builds an invoker over the given registry and catalog, using
// strategy to pick among multiple healthy candidates.
func New(registry *toolserver.Registry, cat *catalog.Catalog, strategy Strategy) *Invoker {
	if strategy == "" {
		strategy = StrategyFirstAvailable
	}
	return &Invoker{
		registry: registry,
		catalog:  cat,
		cache:    newResultCache(),
		strategy: strategy,
		rr:       make(map[string]int),
	}
}

// RegisterFilter adds a predicate filter run before every dispatch.
func (inv *Invoker) RegisterFilter(f Filter) {
	inv.filtersMu.Lock()
	defer inv.filtersMu.Unlock()
	inv.filters = append(inv.filters, f)
}

// ExecuteTool runs the full per-call protocol of spec §4.4.
func (inv *Invoker) ExecuteTool(ctx context.Context, toolName string, arguments map[string]any, opts Options) Result {
	start := time.Now()

	if !matchesGlobPolicy(toolName, opts.AllowGlobs, opts.DenyGlobs) {
		return errResult(toolName, "denied by allow/deny glob policy: "+errs.ErrDeniedByFilter.Error())
	}

	inv.filtersMu.RLock()
	filters := append([]Filter(nil), inv.filters...)
	inv.filtersMu.RUnlock()
	for _, f := range filters {
		if !f(toolName, arguments) {
			return errResult(toolName, "rejected by registered filter: "+errs.ErrDeniedByFilter.Error())
		}
	}

	key := cacheKey(toolName, opts.ServerName, arguments)
	if !opts.NoCache {
		if cached, ok := inv.cache.get(key); ok {
			if r, ok := cached.(Result); ok {
				return r
			}
		}
	}

	candidates, err := inv.candidates(toolName, opts.ServerName)
	if err != nil {
		return errResult(toolName, err.Error())
	}
	if len(candidates) == 0 {
		return errResult(toolName, fmt.Sprintf("%s: no healthy server offers tool %q", errs.ErrNoServer, toolName))
	}

	chosen := inv.selectCandidate(toolName, candidates)

	callCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	callResult, callErr := chosen.client.CallTool(callCtx, unqualify(toolName), arguments)
	elapsed := time.Since(start)

	if callErr != nil {
		return Result{
			Success:         false,
			ErrorMessage:    callErr.Error(),
			ServerName:      chosen.server,
			ExecutionTimeMs: elapsed.Milliseconds(),
			ToolName:        toolName,
		}
	}

	inv.catalog.RecordToolUsage(chosen.catalogKey, elapsed)

	result := Result{
		Success:         true,
		Result:          callResult,
		ServerName:      chosen.server,
		ExecutionTimeMs: elapsed.Milliseconds(),
		ToolName:        toolName,
	}
	if !opts.NoCache {
		inv.cache.put(key, result, chosen.server, opts.CacheTTL)
	}
	return result
}

// ExecuteBatch runs several tool calls either concurrently (bounded
// by maxConcurrent) or sequentially, preserving request order in the
// returned slice either way (spec §4.4).
func (inv *Invoker) ExecuteBatch(ctx context.Context, requests []BatchRequest, parallel bool, maxConcurrent int) []Result {
	results := make([]Result, len(requests))

	if !parallel {
		for i, req := range requests {
			results[i] = inv.ExecuteTool(ctx, req.ToolName, req.Arguments, req.Options)
		}
		return results
	}

	if maxConcurrent <= 0 {
		maxConcurrent = len(requests)
	}
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	var wg sync.WaitGroup
	for i, req := range requests {
		i, req := i, req
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = errResult(req.ToolName, errs.ErrCancelled.Error()+": batch cancelled before dispatch")
				return
			}
			defer sem.Release(1)
			results[i] = inv.ExecuteTool(ctx, req.ToolName, req.Arguments, req.Options)
		}()
	}
	wg.Wait()
	return results
}

// GetResource reads a resource by URI. The owning server is resolved
// via the catalog unless overridden in options.
func (inv *Invoker) GetResource(ctx context.Context, uri string, opts Options) Result {
	start := time.Now()
	server := opts.ServerName
	if server == "" {
		for _, e := range inv.catalog.AllResources() {
			if e.URI == uri {
				server = e.ServerName
				break
			}
		}
	}
	if server == "" {
		return errResult(uri, fmt.Sprintf("%s: no server owns resource %q", errs.ErrNoServer, uri))
	}
	client := inv.registry.Client(server)
	if client == nil {
		return errResult(uri, fmt.Sprintf("%s: server %q is not connected", errs.ErrNoServer, server))
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	result, err := client.GetResource(callCtx, uri)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Success: false, ErrorMessage: err.Error(), ServerName: server, ExecutionTimeMs: elapsed.Milliseconds(), ToolName: uri}
	}
	return Result{Success: true, Result: result, ServerName: server, ExecutionTimeMs: elapsed.Milliseconds(), ToolName: uri}
}

// GetPrompt fetches a rendered prompt by name, analogous to GetResource.
func (inv *Invoker) GetPrompt(ctx context.Context, name string, arguments map[string]any, opts Options) Result {
	start := time.Now()
	server := opts.ServerName
	if server == "" {
		if servers := inv.catalog.ServersFor(name); len(servers) > 0 {
			server = servers[0]
		}
	}
	if server == "" {
		return errResult(name, fmt.Sprintf("%s: no server owns prompt %q", errs.ErrNoServer, name))
	}
	client := inv.registry.Client(server)
	if client == nil {
		return errResult(name, fmt.Sprintf("%s: server %q is not connected", errs.ErrNoServer, server))
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	result, err := client.GetPrompt(callCtx, name, arguments)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Success: false, ErrorMessage: err.Error(), ServerName: server, ExecutionTimeMs: elapsed.Milliseconds(), ToolName: name}
	}
	return Result{Success: true, Result: result, ServerName: server, ExecutionTimeMs: elapsed.Milliseconds(), ToolName: name}
}

type candidate struct {
	server     string
	client     *toolserver.Client
	entry      catalog.ToolEntry
	catalogKey string
}

// candidates finds the healthy servers eligible to serve toolName
// (spec §4.4 step 3).
func (inv *Invoker) candidates(toolName, serverOverride string) ([]candidate, error) {
	if serverOverride != "" {
		client := inv.registry.Client(serverOverride)
		if client == nil {
			return nil, fmt.Errorf("%w: server %q is not healthy", errs.ErrNoServer, serverOverride)
		}
		key, entry := inv.toolEntryFor(toolName, serverOverride)
		return []candidate{{server: serverOverride, client: client, entry: entry, catalogKey: key}}, nil
	}

	servers := inv.catalog.ServersFor(toolName)
	if len(servers) == 0 {
		if entry, ok := inv.catalog.Tool(toolName); ok {
			servers = []string{entry.ServerName}
		}
	}

	var out []candidate
	for _, s := range servers {
		client := inv.registry.Client(s)
		if client == nil {
			continue
		}
		key, entry := inv.toolEntryFor(toolName, s)
		out = append(out, candidate{server: s, client: client, entry: entry, catalogKey: key})
	}
	return out, nil
}

// toolEntryFor resolves the catalog key and entry a specific server's
// copy of toolName was recorded under, following the
// bare-name-vs-qualified split name collisions create (spec §3.3).
func (inv *Invoker) toolEntryFor(toolName, server string) (string, catalog.ToolEntry) {
	if entry, ok := inv.catalog.Tool(toolName); ok && entry.ServerName == server {
		return toolName, entry
	}
	qualified := server + "." + toolName
	entry, _ := inv.catalog.Tool(qualified)
	return qualified, entry
}

// selectCandidate applies the configured execution strategy (spec
// §4.4 step 5).
func (inv *Invoker) selectCandidate(toolName string, candidates []candidate) candidate {
	if len(candidates) == 1 {
		return candidates[0]
	}

	switch inv.strategy {
	case StrategyRoundRobin:
		inv.rrMu.Lock()
		idx := inv.rr[toolName] % len(candidates)
		inv.rr[toolName]++
		inv.rrMu.Unlock()
		return candidates[idx]

	case StrategyFastestResponse:
		// Last-observed response_time_ms, not a moving average — this
		// is intentional (spec §9) and can be unstable under
		// contention since a single slow sample sticks until the next
		// call refreshes it.
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.entry.ResponseTimeMs < best.entry.ResponseTimeMs {
				best = c
			}
		}
		return best

	case StrategyLeastUsed:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.entry.UsageCount < best.entry.UsageCount {
				best = c
			}
		}
		return best

	case StrategyRandom:
		return candidates[rand.Intn(len(candidates))]

	default: // StrategyFirstAvailable
		return candidates[0]
	}
}

func errResult(toolName, message string) Result {
	return Result{Success: false, ErrorMessage: message, ToolName: toolName}
}

// matchesGlobPolicy implements the allow/deny glob layer from
// mcp_tool_selector.py: deny takes precedence, then an empty allow
// list means "allow everything not denied".
func matchesGlobPolicy(name string, allow, deny []string) bool {
	for _, pattern := range deny {
		if ok, _ := filepath.Match(pattern, name); ok {
			return false
		}
	}
	if len(allow) == 0 {
		return true
	}
	for _, pattern := range allow {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// unqualify strips a "{server}." prefix added by catalog name-collision
// qualification, since the wire protocol call uses the tool's bare
// name as the owning server understands it.
func unqualify(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return name
}
