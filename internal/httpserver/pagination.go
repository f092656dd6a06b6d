package httpserver

import (
	"net/http"
	"strconv"
)

// Pagination carries the limit/offset of a list request.
type Pagination struct {
	Limit  int
	Offset int
}

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// Page reads ?page= and ?limit= query parameters. Pages are zero
// based; limits are clamped to a sane range.
func Page(r *http.Request) Pagination {
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, maxPageSize)
		}
	}

	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page = n
		}
	}

	return Pagination{Limit: limit, Offset: page * limit}
}
