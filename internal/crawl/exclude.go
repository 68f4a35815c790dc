package crawl

import (
	"fmt"
	"path"
	"strings"
)

// pathExcluder matches site paths the crawl must not fetch. A pattern
// ending in "/" excludes everything under that directory; a pattern with
// glob metacharacters is matched with path.Match; anything else is exact.
type pathExcluder struct {
	exact    map[string]struct{}
	prefixes []string
	globs    []string
}

func newPathExcluder(patterns []string) *pathExcluder {
	e := &pathExcluder{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if !strings.HasPrefix(value, "/") {
			value = "/" + value
		}
		switch {
		case strings.HasSuffix(value, "/"):
			e.addPrefix(value)
		case strings.ContainsAny(value, "*?["):
			if _, err := path.Match(value, ""); err == nil {
				e.globs = append(e.globs, value)
			}
		default:
			e.exact[value] = struct{}{}
		}
	}
	if len(e.exact) == 0 && len(e.prefixes) == 0 && len(e.globs) == 0 {
		return nil
	}
	return e
}

func (e *pathExcluder) addPrefix(prefix string) {
	for _, existing := range e.prefixes {
		if existing == prefix {
			return
		}
	}
	e.prefixes = append(e.prefixes, prefix)
}

// Excluded reports whether p matches any pattern. A nil excluder matches nothing.
func (e *pathExcluder) Excluded(p string) bool {
	if e == nil {
		return false
	}
	if p == "" {
		p = "/"
	}
	if _, ok := e.exact[p]; ok {
		return true
	}
	for _, prefix := range e.prefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	for _, glob := range e.globs {
		if ok, _ := path.Match(glob, p); ok {
			return true
		}
	}
	return false
}

// ValidatePatterns reports the first glob pattern path.Match rejects.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
	}
	return nil
}
