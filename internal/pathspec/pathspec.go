// Package pathspec matches relative paths against gitignore-style patterns.
//
// Layers declare `ignore` and `exclude` lists in layer.yaml using the same
// syntax as .gitignore:
//   - a pattern without a slash matches any path component ("*.pyc", "build")
//   - a pattern with a slash is anchored at the layer root ("hooks/relations")
//   - a trailing slash restricts the pattern to directories ("docs/")
//   - a leading "!" re-includes paths matched by an earlier pattern
//   - "**" matches any number of directories
//
// A path is also matched when any of its ancestor directories is, so
// ignoring "tests" ignores everything below it.
package pathspec

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern is a single compiled gitignore line.
type Pattern struct {
	raw      string
	glob     string
	negate   bool
	dirOnly  bool
	anchored bool
}

// String returns the pattern as it was written.
func (p Pattern) String() string {
	return p.raw
}

// Matcher holds an ordered list of patterns. The last matching pattern wins.
type Matcher struct {
	patterns []Pattern
}

// New compiles the given lines into a Matcher.
// Blank lines and lines starting with "#" are skipped.
func New(lines []string) (*Matcher, error) {
	m := &Matcher{}
	for _, line := range lines {
		p, ok, err := compile(line)
		if err != nil {
			return nil, err
		}
		if ok {
			m.patterns = append(m.patterns, p)
		}
	}
	return m, nil
}

// MustNew is like New but panics on an invalid pattern.
func MustNew(lines []string) *Matcher {
	m, err := New(lines)
	if err != nil {
		panic(err)
	}
	return m
}

func compile(line string) (Pattern, bool, error) {
	raw := strings.TrimRight(line, " \t\r")
	p := Pattern{raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" || strings.HasPrefix(s, "#") {
		return p, false, nil
	}
	if strings.HasPrefix(s, "!") {
		p.negate = true
		s = s[1:]
	} else if strings.HasPrefix(s, `\!`) || strings.HasPrefix(s, `\#`) {
		s = s[1:]
	}
	if strings.HasSuffix(s, "/") {
		p.dirOnly = true
		s = strings.TrimRight(s, "/")
	}
	if strings.Contains(s, "/") {
		p.anchored = true
		s = strings.TrimPrefix(s, "/")
	}
	if s == "" {
		return p, false, nil
	}
	if !doublestar.ValidatePattern(s) {
		return p, false, fmt.Errorf("invalid ignore pattern %q", raw)
	}
	p.glob = s
	return p, true, nil
}

// Match reports whether relPath is matched by the pattern list.
// isDir tells whether relPath itself names a directory.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	clean := filepath.ToSlash(filepath.Clean(relPath))
	if clean == "." || clean == "" {
		return false
	}
	parts := strings.Split(clean, "/")

	matched := false
	for _, p := range m.patterns {
		if p.matches(parts, isDir) {
			matched = !p.negate
		}
	}
	return matched
}

func (p Pattern) matches(parts []string, isDir bool) bool {
	for i := range parts {
		candidateIsDir := i < len(parts)-1 || isDir
		if p.dirOnly && !candidateIsDir {
			continue
		}
		var subject string
		if p.anchored {
			subject = path.Join(parts[:i+1]...)
		} else {
			subject = parts[i]
		}
		if ok, _ := doublestar.Match(p.glob, subject); ok {
			return true
		}
	}
	return false
}
