package catalog

import "sort"

func sortUsageStatsDesc(stats []UsageStat) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].UsageCount != stats[j].UsageCount {
			return stats[i].UsageCount > stats[j].UsageCount
		}
		return stats[i].Name < stats[j].Name
	})
}

func sortToolEntriesByUsageDesc(entries []ToolEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UsageCount != entries[j].UsageCount {
			return entries[i].UsageCount > entries[j].UsageCount
		}
		return entries[i].Name < entries[j].Name
	})
}
