package raster

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// ParsePageRange resolves an expression like "1-5, 8, 11-13" into sorted,
// unique 1-based page numbers within [1, pageCount]. An empty expression
// selects every page. Malformed tokens are skipped and reversed ranges are
// swapped, so the result may be empty.
func ParsePageRange(expr string, pageCount int) []int {
	if pageCount <= 0 {
		return nil
	}
	if strings.TrimSpace(expr) == "" {
		all := make([]int, pageCount)
		for i := range all {
			all[i] = i + 1
		}
		return all
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		start, end, ok := parseRangeToken(part)
		if !ok {
			slog.Warn("Ignoring malformed page range token.", "token", part)
			continue
		}
		if start > end {
			start, end = end, start
		}
		if start < 1 {
			start = 1
		}
		if end > pageCount {
			end = pageCount
		}
		for p := start; p <= end; p++ {
			seen[p] = true
		}
	}

	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// parseRangeToken parses either a single page ("3") or a range ("1-5").
func parseRangeToken(part string) (int, int, bool) {
	if lo, hi, found := strings.Cut(part, "-"); found {
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return 0, 0, false
		}
		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return 0, 0, false
		}
		return start, end, true
	}
	page, err := strconv.Atoi(part)
	if err != nil {
		return 0, 0, false
	}
	return page, page, true
}
