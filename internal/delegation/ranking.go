package delegation

import "sort"

// SortByConfidence orders patterns best-first: confidence level descending,
// then confidence score descending, then name ascending so equal candidates
// rank deterministically.
func SortByConfidence(patterns []Pattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		li, lj := patterns[i].Tracker().Level(), patterns[j].Tracker().Level()
		if li != lj {
			return li > lj
		}
		si, sj := patterns[i].Tracker().Score(), patterns[j].Tracker().Score()
		if si != sj {
			return si > sj
		}
		return patterns[i].Name() < patterns[j].Name()
	})
}
