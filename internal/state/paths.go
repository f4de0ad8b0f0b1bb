package state

import "strings"

// setPath writes value at a dot-notation path inside the document,
// creating intermediate objects as needed.
func setPath(doc map[string]any, path string, value any) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return
	}
	cur := doc
	for _, seg := range segments[:len(segments)-1] {
		child, ok := cur[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			cur[seg] = child
		}
		cur = child
	}
	cur[segments[len(segments)-1]] = value
}

// deletePath removes the value at a dot-notation path, if present.
func deletePath(doc map[string]any, path string) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return
	}
	cur := doc
	for _, seg := range segments[:len(segments)-1] {
		child, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = child
	}
	delete(cur, segments[len(segments)-1])
}

// splitPath accepts "a.b.c" and "/a/b/c" forms and drops empty segments.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	sep := "."
	if strings.Contains(path, "/") {
		sep = "/"
	}
	var out []string
	for _, seg := range strings.Split(path, sep) {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
