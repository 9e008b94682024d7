package pathspec

import "testing"

func TestMatch(t *testing.T) {
	defaults := []string{".bzr", ".git", "**/.ropeproject", "*.pyc", "*~", ".tox", "build"}

	tests := []struct {
		name     string
		patterns []string
		path     string
		isDir    bool
		want     bool
	}{
		{"basename glob", defaults, "lib/charm/foo.pyc", false, true},
		{"backup file", defaults, "README.md~", false, true},
		{"git dir itself", defaults, ".git", true, true},
		{"inside git dir", defaults, ".git/objects/ab", false, true},
		{"nested ropeproject", defaults, "lib/.ropeproject/config.py", false, true},
		{"top ropeproject", defaults, ".ropeproject", true, true},
		{"build anywhere", defaults, "src/build/out.txt", false, true},
		{"plain file", defaults, "hooks/install", false, false},
		{"similar name", defaults, "builder.py", false, false},
		{"anchored match", []string{"hooks/relations"}, "hooks/relations/mysql/provides.py", false, true},
		{"anchored no match elsewhere", []string{"hooks/relations"}, "lib/hooks/relations", true, false},
		{"leading slash anchors", []string{"/tests"}, "tests/test_a.py", false, true},
		{"leading slash not nested", []string{"/tests"}, "lib/tests/test_a.py", false, false},
		{"dir only skips file", []string{"docs/"}, "docs", false, false},
		{"dir only matches children", []string{"docs/"}, "docs/index.md", false, true},
		{"negation", []string{"*.md", "!README.md"}, "README.md", false, false},
		{"negation keeps others", []string{"*.md", "!README.md"}, "CHANGES.md", false, true},
		{"double star", []string{"lib/**/*.txt"}, "lib/a/b/c.txt", false, true},
		{"comment ignored", []string{"# build"}, "build", true, false},
		{"empty list", nil, "anything", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.patterns)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := m.Match(tt.path, tt.isDir); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestNewInvalidPattern(t *testing.T) {
	if _, err := New([]string{"[unclosed"}); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestNilMatcher(t *testing.T) {
	var m *Matcher
	if m.Match("foo", false) {
		t.Error("nil matcher must not match")
	}
}
