package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolmesh/toolmeshd/pkg/toolserver"
)

func newTestCatalog() *Catalog {
	return New(toolserver.NewRegistry())
}

func insertTool(c *Catalog, server, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertToolLocked(name, &ToolEntry{Name: name, ServerName: server, Availability: toolserver.AvailabilityAvailable})
}

func TestCatalog_NameCollisionQualifiesSecondServer(t *testing.T) {
	c := newTestCatalog()
	insertTool(c, "a", "search")
	insertTool(c, "b", "search")

	_, existsBare := c.Tool("search")
	assert.True(t, existsBare)

	_, existsQualified := c.Tool("b.search")
	assert.True(t, existsQualified)

	servers := c.ServersFor("search")
	assert.ElementsMatch(t, []string{"a", "b"}, servers)
}

func TestCatalog_ClearServerRemovesOnlyItsEntries(t *testing.T) {
	c := newTestCatalog()
	insertTool(c, "a", "one")
	insertTool(c, "b", "two")

	c.mu.Lock()
	c.clearServerLocked("a")
	c.mu.Unlock()

	_, aGone := c.Tool("one")
	assert.False(t, aGone)
	_, bStays := c.Tool("two")
	assert.True(t, bStays)

	assert.Empty(t, c.ServersFor("one"))
}

func TestCatalog_RecordToolUsageIncrementsCounter(t *testing.T) {
	c := newTestCatalog()
	insertTool(c, "a", "one")

	c.RecordToolUsage("one", 42*time.Millisecond)
	entry, ok := c.Tool("one")
	require.True(t, ok)
	assert.Equal(t, 1, entry.UsageCount)
	assert.Equal(t, int64(42), entry.ResponseTimeMs)
	assert.False(t, entry.LastUsed.IsZero())
}

func TestCatalog_MostUsedOrdersDescending(t *testing.T) {
	c := newTestCatalog()
	insertTool(c, "a", "low")
	insertTool(c, "a", "high")
	insertTool(c, "a", "mid")

	c.RecordToolUsage("low", time.Millisecond)
	for i := 0; i < 3; i++ {
		c.RecordToolUsage("high", time.Millisecond)
	}
	for i := 0; i < 2; i++ {
		c.RecordToolUsage("mid", time.Millisecond)
	}

	top := c.MostUsed(2)
	require.Len(t, top, 2)
	assert.Equal(t, "high", top[0].Name)
	assert.Equal(t, "mid", top[1].Name)
}

func TestCatalog_SearchToolsIsCaseInsensitiveByDefault(t *testing.T) {
	c := newTestCatalog()
	c.mu.Lock()
	c.insertToolLocked("FindTickets", &ToolEntry{Name: "FindTickets", ServerName: "a", Description: "Finds assigned Tickets"})
	c.mu.Unlock()

	results := c.SearchTools("tickets", false)
	assert.Len(t, results, 1)

	resultsSensitive := c.SearchTools("tickets", true)
	assert.Empty(t, resultsSensitive)
}

func TestCatalog_CapabilitySummaryCountsDistinctServers(t *testing.T) {
	c := newTestCatalog()
	insertTool(c, "a", "one")
	insertTool(c, "b", "two")

	summary := c.CapabilitySummary()
	assert.Equal(t, 2, summary.TotalTools)
	assert.Equal(t, 2, summary.ServerCount)
}
