package pagination

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 25
	// MaxLimit caps how many rows any page can request.
	MaxLimit = 100
)

// NormalizeLimit enforces the configured default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// NormalizePage treats anything below 1 as the first page.
func NormalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// FetchWindow is how many newest-first rows a source must return to fill
// page (1-based) and detect that another page exists.
func FetchWindow(page, limit int) int {
	return NormalizePage(page)*NormalizeLimit(limit) + 1
}

// Bounds returns the [start, end) slice of total rows for page, and whether
// rows remain after it. start == end means the page is empty.
func Bounds(total, page, limit int) (start, end int, hasMore bool) {
	limit = NormalizeLimit(limit)
	start = (NormalizePage(page) - 1) * limit
	if start >= total {
		return total, total, false
	}
	end = start + limit
	if end < total {
		return start, end, true
	}
	return start, total, false
}
