package common

import (
	"strconv"
	"strings"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// GetPagination parses limit and offset query values. Missing or malformed
// values fall back to the defaults; limit is capped at MaxPageLimit.
func GetPagination(limitParam, offsetParam string) (int, int) {
	limit := DefaultPageLimit
	offset := 0

	if v, err := strconv.Atoi(strings.TrimSpace(limitParam)); err == nil && v > 0 {
		limit = v
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	if v, err := strconv.Atoi(strings.TrimSpace(offsetParam)); err == nil && v > 0 {
		offset = v
	}

	return limit, offset
}

// Page returns the [offset, offset+limit) window of n items, clamped to n.
func Page(n, limit, offset int) (int, int) {
	if offset > n {
		offset = n
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return offset, end
}
