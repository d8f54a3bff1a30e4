package models

import "slices"

// SortForDisplay returns the tasks ordered for presentation: incomplete
// tasks first, then completed ones, each group by ascending deadline.
// Tasks without a usable deadline sort first within their group. The sort
// is stable and the input slice is left untouched.
func SortForDisplay(tasks []Task) []Task {
	sorted := slices.Clone(tasks)
	slices.SortStableFunc(sorted, func(a, b Task) int {
		if a.Completed != b.Completed {
			if a.Completed {
				return 1
			}
			return -1
		}
		return a.Deadline.Compare(b.Deadline)
	})
	return sorted
}
