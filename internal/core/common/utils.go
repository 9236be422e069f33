package common

import (
	"math"
	"path/filepath"
	"strings"
)

// ImageKey returns the join key for an image file name: its base name with
// the final extension removed. "train/000123.jpg" -> "000123".
func ImageKey(fileName string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	r := math.Round(v*p) / p
	if r == 0 {
		// fold -0 into 0 so sort keys compare equal
		return 0
	}
	return r
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GroupFilter returns a predicate accepting the listed groups. An empty list
// accepts everything.
func GroupFilter(groups []string) func(string) bool {
	if len(groups) == 0 {
		return func(string) bool { return true }
	}
	allowed := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		allowed[g] = struct{}{}
	}
	return func(g string) bool {
		_, ok := allowed[g]
		return ok
	}
}
