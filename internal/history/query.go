package history

import (
	"sort"
	"strings"
)

// Default paging limits used when the Service is built without overrides.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// normalize fixes a query's paging fields so FilterSortPage can rely on
// PageIndex >= 1 and 1 <= PageSize <= maxSize.
func normalize(q Query, defaultSize, maxSize int) Query {
	if q.PageIndex < 1 {
		q.PageIndex = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultSize
	}
	if q.PageSize > maxSize {
		q.PageSize = maxSize
	}
	return q
}

// Matches reports whether r passes every filter set in q. Time bounds are
// compared as strings, which is chronological because of TimeLayout.
func Matches(r Record, q Query) bool {
	if !blank(q.Title) && !containsFold(r.Title, q.Title) {
		return false
	}
	if !blank(q.Username) && !containsFold(r.Username, q.Username) {
		return false
	}
	if !blank(q.StartTime) && r.CreatedAt < q.StartTime {
		return false
	}
	if !blank(q.EndTime) && r.CreatedAt > q.EndTime {
		return false
	}
	return true
}

// SortNewestFirst orders records by createdAt descending. Equal timestamps
// keep their incoming order.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt > records[j].CreatedAt
	})
}

// FilterSortPage filters candidates by q, sorts the survivors newest first,
// and returns the requested 1-indexed page together with the number of
// survivors. A page past the end is empty; total is unaffected. q's paging
// fields must already be normalized.
func FilterSortPage(candidates []Record, q Query) ([]Record, int) {
	filtered := make([]Record, 0, len(candidates))
	for _, r := range candidates {
		if Matches(r, q) {
			filtered = append(filtered, r)
		}
	}
	SortNewestFirst(filtered)

	total := len(filtered)
	start := (q.PageIndex - 1) * q.PageSize
	if start >= total {
		return []Record{}, total
	}
	end := min(start+q.PageSize, total)
	return filtered[start:end], total
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
