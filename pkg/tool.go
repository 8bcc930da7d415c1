package pkg

import "strings"

// Contains check slice have val
func Contains[T comparable](slice []T, val T) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// SplitList splits a comma separated form value, trimming blanks and dropping
// empty and repeated entries
func SplitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v == "" || Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
