package policy

import (
	"strconv"
	"strings"
)

// ExtractArgument walks a dotted/indexed path ("a.b", "items[0].id",
// "items.0.id") through a decoded JSON argument map. The second return
// reports whether the path resolved; a nil value at the leaf still counts
// as resolved.
func ExtractArgument(args map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = args
	for _, seg := range splitPath(path) {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// splitPath turns "items[0].id" into ["items", "0", "id"].
func splitPath(path string) []string {
	replaced := strings.NewReplacer("[", ".", "]", "").Replace(path)
	parts := strings.Split(replaced, ".")
	segs := parts[:0]
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}
