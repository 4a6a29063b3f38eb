package ui

import (
	"sort"

	"github.com/charmbracelet/lipgloss"
)

var idPrefixStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))

// ShortPrefixes returns, for each distinct id, the length of the
// shortest prefix that identifies it unambiguously within the set.
func ShortPrefixes(ids []string) map[string]int {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	sort.Strings(unique)

	// After sorting, an id's closest contenders are its neighbors; one
	// character past the longer shared prefix disambiguates.
	lengths := make(map[string]int, len(unique))
	for i, id := range unique {
		need := 1
		if i > 0 {
			if n := sharedPrefixLen(id, unique[i-1]) + 1; n > need {
				need = n
			}
		}
		if i < len(unique)-1 {
			if n := sharedPrefixLen(id, unique[i+1]) + 1; n > need {
				need = n
			}
		}
		if need > len(id) {
			need = len(id)
		}
		lengths[id] = need
	}
	return lengths
}

func sharedPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// Highlight styles the unambiguous prefix of an id so the student can
// see how little of it they need to type.
func Highlight(id string, prefixLen int) string {
	if prefixLen <= 0 || prefixLen >= len(id) {
		return id
	}
	return idPrefixStyle.Render(id[:prefixLen]) + id[prefixLen:]
}
