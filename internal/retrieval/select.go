package retrieval

import "sort"

// Select applies the filter to a path namespace and returns the selected
// paths in sorted order. It performs no I/O; the Copier executes the
// selection.
func Select(paths []string, f *Filter) []string {
	var selected []string
	for _, p := range paths {
		if f.Match(p) {
			selected = append(selected, p)
		}
	}
	sort.Strings(selected)
	return selected
}
