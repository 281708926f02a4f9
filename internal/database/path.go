package database

import (
	"fmt"
	"strings"
)

const invalidKeyChars = ".#$[]"

// splitPath returns the non-empty segments of a slash separated path
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// joinPath builds a normalized absolute path from segments
func joinPath(segs []string) string {
	return "/" + strings.Join(segs, "/")
}

// NormalizePath collapses duplicate slashes and guarantees a leading slash
func NormalizePath(path string) string {
	return joinPath(splitPath(path))
}

// ValidatePath reports whether every segment of path is a legal key
func ValidatePath(path string) error {
	for _, seg := range splitPath(path) {
		if err := validateKey(seg); err != nil {
			return err
		}
	}
	return nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if strings.ContainsAny(key, invalidKeyChars) {
		return fmt.Errorf("key %q must not contain any of %q", key, invalidKeyChars)
	}
	return nil
}

// childPath appends key to parent
func childPath(parent, key string) string {
	if parent == "/" {
		return "/" + key
	}
	return parent + "/" + key
}

// lastKey returns the final segment of path, or "" for the root
func lastKey(path string) string {
	segs := splitPath(path)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// related reports whether a change at one path can affect data at the other
func related(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
