package store

import "strings"

// Join builds a store path from segments, e.g. Join("/apps/gnome15",
// "g19_0", "enabled").
func Join(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(p)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// Base returns the last segment of path.
func Base(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Under reports whether path equals prefix or lies beneath it.
func Under(prefix, path string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

// subtreeRange returns the half-open byte range [lo, hi) holding every
// path strictly beneath prefix. '0' is the byte after '/'.
func subtreeRange(prefix string) (lo, hi string) {
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix + "/", prefix + "0"
}
