package common

import (
	"testing"
)

func TestGetPagination(t *testing.T) {
	tests := []struct {
		limit          string
		offset         string
		expectedLimit  int
		expectedOffset int
	}{
		{"", "", 50, 0},
		{"10", "20", 10, 20},
		{" 10 ", "", 10, 0},
		{"0", "-1", 50, 0},
		{"abc", "xyz", 50, 0},
		{"100000", "5", 500, 5},
	}

	for _, tt := range tests {
		limit, offset := GetPagination(tt.limit, tt.offset)

		if limit != tt.expectedLimit {
			t.Errorf("limit: %q -> %d, expected: %d", tt.limit, limit, tt.expectedLimit)
		}

		if offset != tt.expectedOffset {
			t.Errorf("offset: %q -> %d, expected: %d", tt.offset, offset, tt.expectedOffset)
		}
	}
}

func TestPage(t *testing.T) {
	tests := []struct {
		n, limit, offset int
		start, end       int
	}{
		{10, 5, 0, 0, 5},
		{10, 5, 8, 8, 10},
		{10, 5, 12, 10, 10},
		{0, 50, 0, 0, 0},
	}

	for _, tt := range tests {
		start, end := Page(tt.n, tt.limit, tt.offset)
		if start != tt.start || end != tt.end {
			t.Errorf("Page(%d, %d, %d) = [%d, %d), expected [%d, %d)", tt.n, tt.limit, tt.offset, start, end, tt.start, tt.end)
		}
	}
}
