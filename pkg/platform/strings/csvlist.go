package strings

import "strings"

// ParseCSVList splits a comma-separated list into trimmed, deduplicated
// elements. An empty or whitespace-only input yields nil.
func ParseCSVList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(s, ","))
}

// JoinCSVList renders elements as a comma-separated list, dropping
// empties and duplicates. The inverse of ParseCSVList.
func JoinCSVList(values []string) string {
	return strings.Join(DedupeAndTrim(values), ",")
}

// AppendCSVList adds value to a comma-separated list if not already
// present, returning the updated list and whether it changed.
func AppendCSVList(list, value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return list, false
	}
	existing := ParseCSVList(list)
	for _, v := range existing {
		if v == value {
			return list, false
		}
	}
	existing = append(existing, value)
	return strings.Join(existing, ","), true
}
