package tracker

import "sort"

// evictsBefore is the single eviction order used everywhere the tracker has
// to choose victims: larger priority numbers go first, then older entries.
func evictsBefore(a, b *entry) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.seq < b.seq
}

// pickVictims returns the first n entries in eviction order.
func pickVictims(entries []*entry, n int) []*entry {
	if n <= 0 {
		return nil
	}
	sorted := append([]*entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return evictsBefore(sorted[i], sorted[j])
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

func clampPriority(p int) int {
	switch {
	case p == 0:
		return PriorityDefault
	case p < PriorityHighest:
		return PriorityHighest
	case p > PriorityLowest:
		return PriorityLowest
	default:
		return p
	}
}
