package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseDiagnostics(t *testing.T) {
	output := `# github.com/example/pkg
main.go:10:2: undefined: frobnicate
util/helper.go:3: unused variable x
not a diagnostic line
src/app.ts:42:7: error TS2339: property does not exist
`
	diags := parseDiagnostics(output)
	if len(diags) != 3 {
		t.Fatalf("diagnostics = %d, want 3: %v", len(diags), diags)
	}

	first := diags[0]
	if first["file"] != "main.go" || first["line"] != 10 || first["column"] != 2 {
		t.Errorf("first = %v", first)
	}
	if first["message"] != "undefined: frobnicate" {
		t.Errorf("message = %v", first["message"])
	}

	second := diags[1]
	if second["file"] != "util/helper.go" || second["line"] != 3 {
		t.Errorf("second = %v", second)
	}
	if _, ok := second["column"]; ok {
		t.Error("second should have no column")
	}
}

func TestParseDiagnosticsBounded(t *testing.T) {
	var output string
	for i := 0; i < 300; i++ {
		output += "f.go:1:1: problem\n"
	}
	diags := parseDiagnostics(output)
	if len(diags) != maxDiagnostics {
		t.Errorf("diagnostics = %d, want %d", len(diags), maxDiagnostics)
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		marker string
		want   string
	}{
		{"go.mod", "go"},
		{"Cargo.toml", "rust"},
		{"tsconfig.json", "typescript"},
		{"pyproject.toml", "python"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, tt.marker), []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}
			if got := detectLanguage(dir); got != tt.want {
				t.Errorf("detectLanguage = %q, want %q", got, tt.want)
			}
		})
	}

	// No markers falls back to go.
	if got := detectLanguage(t.TempDir()); got != "go" {
		t.Errorf("fallback = %q, want go", got)
	}
}

func TestDiagnosticsRejectsMissingPath(t *testing.T) {
	tool := NewDiagnosticsTool(t.TempDir())
	if _, err := tool.Execute(context.Background(), []byte(`{"path":"nope"}`)); err == nil {
		t.Error("expected error for missing path")
	}
}
