package filesearch

import (
	"os"
	"path/filepath"
	"testing"
)

func loadTestMatcher(t *testing.T, content string) *Matcher {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".gitignore")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadMatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMatcherBasicPatterns(t *testing.T) {
	m := loadTestMatcher(t, `
# comment
*.log
build/
/rooted.txt
`)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"debug.log", false, true},
		{"sub/debug.log", false, true},
		{"debug.logs", false, false},
		{"build", true, true},
		{"build/out.bin", false, true},
		{"rooted.txt", false, true},
		{"sub/rooted.txt", false, false},
		{"kept.go", false, false},
	}
	for _, tt := range tests {
		if got := m.Matches(tt.path, tt.isDir); got != tt.want {
			t.Errorf("Matches(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
		}
	}
}

func TestMatcherNegation(t *testing.T) {
	m := loadTestMatcher(t, "*.log\n!keep.log\n")
	if !m.Matches("noise.log", false) {
		t.Error("noise.log should be ignored")
	}
	if m.Matches("keep.log", false) {
		t.Error("keep.log is negated and must not be ignored")
	}
}

func TestMatcherDoubleStar(t *testing.T) {
	m := loadTestMatcher(t, "**/generated/*.go\n")
	if !m.Matches("a/b/generated/x.go", false) {
		t.Error("** pattern should match nested path")
	}
	if !m.Matches("generated/x.go", false) {
		t.Error("** pattern should match at root")
	}
}

func TestMatcherMissingFile(t *testing.T) {
	m, err := LoadMatcher(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatal(err)
	}
	if m.Matches("anything", false) {
		t.Error("empty matcher must match nothing")
	}
}

func TestMatcherZeroValue(t *testing.T) {
	var m *Matcher
	if m.Matches("x", false) {
		t.Error("nil matcher must match nothing")
	}
}
