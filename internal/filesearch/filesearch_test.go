package filesearch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestSearchFilenames(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"main.go":                    "package main",
		"cmd/server/main.go":         "package main",
		"internal/config/config.go":  "package config",
		"internal/handler/handler.go": "package handler",
		"README.md":                  "# readme",
		"docs/design.md":             "# design",
	})

	searcher, err := NewSearcher(dir)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		pattern     string
		expectCount int
		expectOne   string
	}{
		{"go files", `\.go$`, 4, "cmd/server/main.go"},
		{"config", `config`, 1, "internal/config/config.go"},
		{"markdown", `\.md$`, 2, "docs/design.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := searcher.Search(context.Background(), Options{Pattern: tt.pattern})
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if len(results) != tt.expectCount {
				t.Errorf("results = %d, want %d", len(results), tt.expectCount)
			}
			found := false
			for _, r := range results {
				if r.Path == filepath.FromSlash(tt.expectOne) {
					found = true
				}
			}
			if !found {
				t.Errorf("missing %q in %v", tt.expectOne, results)
			}
		})
	}
}

func TestSearchContent(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"file1.txt": "hello world\nfoo bar\nbaz",
		"file2.txt": "hello universe\ntest line",
		"file3.txt": "no match here",
	})

	searcher, err := NewSearcher(dir)
	if err != nil {
		t.Fatal(err)
	}

	results, err := searcher.Search(context.Background(), Options{
		Pattern:       `hello`,
		ContentSearch: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Line != 1 {
			t.Errorf("line = %d, want 1", r.Line)
		}
	}
}

func TestSearchCaseSensitivity(t *testing.T) {
	dir := writeTree(t, map[string]string{"f.txt": "Hello\nhello"})
	searcher, _ := NewSearcher(dir)

	insensitive, _ := searcher.Search(context.Background(), Options{
		Pattern: "hello", ContentSearch: true,
	})
	if len(insensitive) != 2 {
		t.Errorf("insensitive results = %d, want 2", len(insensitive))
	}

	sensitive, _ := searcher.Search(context.Background(), Options{
		Pattern: "hello", ContentSearch: true, CaseSensitive: true,
	})
	if len(sensitive) != 1 {
		t.Errorf("sensitive results = %d, want 1", len(sensitive))
	}
}

func TestSearchMaxResults(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a.txt": "x", "b.txt": "x", "c.txt": "x", "d.txt": "x",
	})
	searcher, _ := NewSearcher(dir)

	results, err := searcher.Search(context.Background(), Options{
		Pattern: `\.txt$`, MaxResults: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
}

func TestSearchHonorsGitignore(t *testing.T) {
	dir := writeTree(t, map[string]string{
		".gitignore":        "vendor/\n*.log\n",
		"app.go":            "package app",
		"vendor/dep.go":     "package dep",
		"debug.log":         "noise",
		"logs/another.log":  "noise",
	})
	searcher, err := NewSearcher(dir)
	if err != nil {
		t.Fatal(err)
	}

	results, err := searcher.Search(context.Background(), Options{Pattern: `.`})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		switch r.Path {
		case filepath.FromSlash("vendor/dep.go"), "debug.log", filepath.FromSlash("logs/another.log"):
			t.Errorf("ignored path leaked: %s", r.Path)
		}
	}
}

func TestGlob(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"main.go":          "x",
		"pkg/a/one.go":     "x",
		"pkg/a/one_test.go": "x",
		"pkg/readme.md":    "x",
	})
	searcher, _ := NewSearcher(dir)

	matches, err := searcher.Glob(context.Background(), "**/*_test.go", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0] != filepath.FromSlash("pkg/a/one_test.go") {
		t.Errorf("matches = %v", matches)
	}

	all, err := searcher.Glob(context.Background(), "**/*.go", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("go files = %d, want 3: %v", len(all), all)
	}
}

func TestGlobSingleStarStaysInDirectory(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"top.go":     "x",
		"sub/two.go": "x",
	})
	searcher, _ := NewSearcher(dir)

	matches, err := searcher.Glob(context.Background(), "*.go", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0] != "top.go" {
		t.Errorf("matches = %v, want [top.go]", matches)
	}
}

func TestListNonRecursive(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a.txt":       "x",
		"sub/b.txt":   "x",
		"sub/c/d.txt": "x",
	})
	searcher, _ := NewSearcher(dir)

	entries, err := searcher.List(context.Background(), "", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name == filepath.FromSlash("sub/b.txt") {
			t.Error("non-recursive list descended")
		}
	}

	recursive, err := searcher.List(context.Background(), "", true, 0)
	if err != nil {
		t.Fatal(err)
	}
	var sawDeep bool
	for _, e := range recursive {
		if e.Name == filepath.FromSlash("sub/c/d.txt") {
			sawDeep = true
		}
	}
	if !sawDeep {
		t.Error("recursive list missed nested file")
	}
}

func TestFindPaths(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"server.go":      "x",
		"api/server_test.go": "x",
		"api/client.go":  "x",
	})
	searcher, _ := NewSearcher(dir)

	files, err := searcher.FindPaths(context.Background(), `^server`, "file", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("files = %v, want 2 entries", files)
	}

	dirs, err := searcher.FindPaths(context.Background(), `api`, "directory", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 1 || !dirs[0].IsDir {
		t.Errorf("dirs = %v", dirs)
	}
}
