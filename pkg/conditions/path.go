package conditions

import "strings"

// Resolve looks up a dotted path in the snapshot. Snapshots may be flattened
// ("item.type" as a single key), nested, or a mix of both, so at every level the
// longest literal key prefix wins before descending into a nested map.
func Resolve(snapshot map[string]any, path string) (any, bool) {
	if snapshot == nil || path == "" {
		return nil, false
	}

	if v, ok := snapshot[path]; ok {
		return v, true
	}

	for i := strings.LastIndexByte(path, '.'); i > 0; i = strings.LastIndexByte(path[:i], '.') {
		head, rest := path[:i], path[i+1:]

		v, ok := snapshot[head]
		if !ok {
			continue
		}

		nested, ok := v.(map[string]any)
		if !ok {
			continue
		}

		if resolved, found := Resolve(nested, rest); found {
			return resolved, true
		}
	}

	return nil, false
}
