package session

import (
	"errors"
	"strings"
)

// ErrEmptyProject is returned when a raw project input normalizes to nothing.
var ErrEmptyProject = errors.New("project name normalizes to empty")

// NormalizeProject derives the canonical project identifier from an
// arbitrary path-like or name-like input. The result is a lowercase token
// of [a-z0-9._-] safe for filesystem paths and storage keys. Two raw
// inputs that normalize identically resolve to the same project.
func NormalizeProject(raw string) (string, error) {
	var b strings.Builder
	lastSep := true // collapse leading separators
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastSep = false
		default:
			// Path separators, spaces, and any other byte collapse
			// into a single dash.
			if !lastSep {
				b.WriteByte('-')
				lastSep = true
			}
		}
	}
	name := strings.Trim(b.String(), "-.")
	if name == "" {
		return "", ErrEmptyProject
	}
	return name, nil
}
