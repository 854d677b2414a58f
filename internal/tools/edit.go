package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// EditFileTool performs a surgical text replacement: old_text must match
// exactly once unless replace_all is set.
type EditFileTool struct {
	root string
}

// NewEditFileTool creates an edit_file tool anchored at root.
func NewEditFileTool(root string) *EditFileTool { return &EditFileTool{root: root} }

type editFileArgs struct {
	Path       string `json:"path"`
	OldText    string `json:"old_text"`
	NewText    string `json:"new_text"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Make a surgical edit to a file by replacing old_text with new_text. old_text must be unique in the file unless replace_all is set. The result includes a unified diff of the change."
}

func (t *EditFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path":        {"type": "string", "description": "Path to the file to edit"},
			"old_text":    {"type": "string", "description": "The exact text to find and replace"},
			"new_text":    {"type": "string", "description": "The text to replace old_text with"},
			"replace_all": {"type": "boolean", "description": "Replace all occurrences (default: false)"}
		},
		"required": ["path", "old_text", "new_text"]
	}`)
}

func (t *EditFileTool) Permission() Permission { return Write }

func (t *EditFileTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var a editFileArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	switch {
	case a.Path == "":
		return nil, fmt.Errorf("missing required parameter: path")
	case a.OldText == "":
		return nil, fmt.Errorf("missing required parameter: old_text")
	}

	path, err := resolvePath(t.root, a.Path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", a.Path, err)
	}
	content := string(raw)

	count := strings.Count(content, a.OldText)
	if count == 0 {
		return nil, fmt.Errorf("old_text not found in %q", a.Path)
	}
	if !a.ReplaceAll && count > 1 {
		return nil, fmt.Errorf("old_text matches %d times in %q; use replace_all=true or provide more context", count, a.Path)
	}

	var updated string
	replacements := count
	if a.ReplaceAll {
		updated = strings.ReplaceAll(content, a.OldText, a.NewText)
	} else {
		updated = strings.Replace(content, a.OldText, a.NewText, 1)
		replacements = 1
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %q: %w", a.Path, err)
	}

	edits := myers.ComputeEdits(span.URIFromPath(path), content, updated)
	diff := fmt.Sprint(gotextdiff.ToUnified(a.Path, a.Path, content, edits))

	return map[string]any{
		"path":         a.Path,
		"replacements": replacements,
		"diff":         diff,
	}, nil
}
