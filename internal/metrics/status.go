package metrics

import "sort"

// FailureRow is the failure count for one target/error-kind pair.
type FailureRow struct {
	Target string
	Kind   string
	Count  int
}

// FlattenFailures converts per-target error breakdowns into rows sorted by
// descending count, then by target/kind for stability.
func FlattenFailures(stats []TargetStats) []FailureRow {
	var rows []FailureRow
	for _, s := range stats {
		for kind, count := range s.Errors {
			rows = append(rows, FailureRow{Target: s.Target, Kind: kind, Count: count})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			if rows[i].Target == rows[j].Target {
				return rows[i].Kind < rows[j].Kind
			}
			return rows[i].Target < rows[j].Target
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
