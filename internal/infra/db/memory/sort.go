package memory

import "sort"

// sortByOrder sorts items by first-insertion order. Caller holds s.mu.
func sortByOrder[T any](s *Store, kind string, items []T, id func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		return s.ord[kind+":"+id(items[i])] < s.ord[kind+":"+id(items[j])]
	})
}
