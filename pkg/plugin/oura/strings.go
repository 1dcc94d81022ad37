package oura

import (
	"sort"
	"strings"
)

// titleCase converts a snake_case contributor key into a display title,
// e.g. "stay_active" → "Stay Active"
func titleCase(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		if strings.EqualFold(w, "rem") {
			words[i] = "REM"
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// sortedKeys fixes the block order so repeated normalization of the same
// item is deterministic
func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
