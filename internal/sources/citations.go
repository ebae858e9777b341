package sources

import (
	"regexp"
	"strconv"
)

// citationMarker matches free-text citation markers in the forms [3] and
// [src_3]. Decomposition normally emits structured source ids; this parser is
// the fallback for provider output that only carries inline markers.
var citationMarker = regexp.MustCompile(`\[(?:src_)?(\d+)\]`)

// ParseCitationMarkers extracts source ids from inline citation markers.
// Unknown ids (not registered) are dropped, duplicates collapsed, order of
// first appearance preserved. Text with no or malformed markers yields nil.
func ParseCitationMarkers(text string, registered int) []int {
	matches := citationMarker.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(matches))
	var ids []int
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil || id < 1 || id > registered || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
