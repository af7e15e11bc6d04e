package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
)

var integerRe = regexp.MustCompile(`\A[0-9]+\z`)

// integerParameter parses a query parameter that must be a plain non-negative
// decimal integer. Anything else, including signs and whitespace, is
// rejected.
func integerParameter(v string) (int, bool) {
	if !integerRe.MatchString(v) {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

type pageInfo struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// paginate applies limit/offset query parameters to items. Without a valid
// limit parameter the slice is returned untouched and no pagination header
// is set. With one, the X-Pagination header reports the window and the total
// size before slicing.
func paginate[T any](w http.ResponseWriter, r *http.Request, items []T) []T {
	limit, ok := integerParameter(r.URL.Query().Get("limit"))
	if !ok {
		return items
	}
	offset := 0
	if n, ok := integerParameter(r.URL.Query().Get("offset")); ok {
		offset = n
	}

	header, err := json.Marshal(pageInfo{Limit: limit, Offset: offset, Total: len(items)})
	if err != nil {
		slog.Error("failed to encode pagination header", "error", err)
	} else {
		w.Header().Set("X-Pagination", string(header))
	}

	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
