package types

import "sort"

// SortEntries applies the retrieval ordering contract: importance
// descending, ties broken by creation time descending. The sort is stable,
// so equal keys keep their relative order and no other criterion can
// reorder them. Every result set the broker or an adapter returns passes
// through this one function.
func SortEntries(entries []*MemoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Importance != entries[j].Importance {
			return entries[i].Importance > entries[j].Importance
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}
