package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loomcode/loom/internal/filesearch"
)

// defaultResultCap bounds result sets returned by the search tools.
const defaultResultCap = 1000

// ListFilesTool lists a directory, optionally recursively, honoring
// ignore patterns.
type ListFilesTool struct {
	root string
}

// NewListFilesTool creates a list_files tool anchored at root.
func NewListFilesTool(root string) *ListFilesTool { return &ListFilesTool{root: root} }

type listFilesArgs struct {
	Path      string `json:"path,omitempty"`
	Recursive bool   `json:"recursive,omitempty"`
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List files and directories. Respects .gitignore. Supports recursive listing."
}

func (t *ListFilesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path":      {"type": "string", "description": "Directory path to list (default: current directory)"},
			"recursive": {"type": "boolean", "description": "Whether to list recursively (default: false)"}
		}
	}`)
}

func (t *ListFilesTool) Permission() Permission { return ReadOnly }

func (t *ListFilesTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var a listFilesArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}

	searcher, err := filesearch.NewSearcher(t.root)
	if err != nil {
		return nil, err
	}
	entries, err := searcher.List(ctx, a.Path, a.Recursive, defaultResultCap)
	if err != nil {
		return nil, err
	}

	files := make([]map[string]any, len(entries))
	for i, e := range entries {
		kind := "file"
		if e.IsDir {
			kind = "directory"
		}
		files[i] = map[string]any{"name": e.Name, "type": kind}
	}
	return map[string]any{
		"path":  a.Path,
		"files": files,
		"count": len(files),
	}, nil
}

// GlobTool enumerates files matching a glob pattern.
type GlobTool struct {
	root string
}

// NewGlobTool creates a glob tool anchored at root.
func NewGlobTool(root string) *GlobTool { return &GlobTool{root: root} }

type globArgs struct {
	Pattern string `json:"pattern"`
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern (e.g. '**/*.go', 'internal/**/*_test.go'). Respects .gitignore."
}

func (t *GlobTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "Glob pattern to match files against"}
		},
		"required": ["pattern"]
	}`)
}

func (t *GlobTool) Permission() Permission { return ReadOnly }

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var a globArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Pattern == "" {
		return nil, fmt.Errorf("missing required parameter: pattern")
	}

	searcher, err := filesearch.NewSearcher(t.root)
	if err != nil {
		return nil, err
	}
	matches, err := searcher.Glob(ctx, a.Pattern, defaultResultCap)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"pattern": a.Pattern,
		"matches": matches,
		"count":   len(matches),
	}, nil
}

// GrepTool searches file contents with a regex.
type GrepTool struct {
	root string
}

// NewGrepTool creates a grep tool anchored at root.
func NewGrepTool(root string) *GrepTool { return &GrepTool{root: root} }

type grepArgs struct {
	Pattern       string `json:"pattern"`
	MaxResults    int    `json:"max_results,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search file contents with a regex pattern. Respects .gitignore. Returns path, line number, and line content for each match."
}

func (t *GrepTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern":        {"type": "string", "description": "Regex pattern to search for"},
			"max_results":    {"type": "integer", "description": "Maximum number of results to return. Default: 100"},
			"case_sensitive": {"type": "boolean", "description": "Enable case-sensitive matching. Default: false"}
		},
		"required": ["pattern"]
	}`)
}

func (t *GrepTool) Permission() Permission { return ReadOnly }

func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var a grepArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Pattern == "" {
		return nil, fmt.Errorf("missing required parameter: pattern")
	}
	if a.MaxResults <= 0 {
		a.MaxResults = 100
	}

	searcher, err := filesearch.NewSearcher(t.root)
	if err != nil {
		return nil, err
	}
	results, err := searcher.Search(ctx, filesearch.Options{
		Pattern:       a.Pattern,
		ContentSearch: true,
		MaxResults:    a.MaxResults,
		CaseSensitive: a.CaseSensitive,
	})
	if err != nil {
		return nil, err
	}

	matches := make([]map[string]any, len(results))
	for i, r := range results {
		matches[i] = map[string]any{"path": r.Path, "line": r.Line, "content": r.Content}
	}
	return map[string]any{
		"pattern": a.Pattern,
		"matches": matches,
		"count":   len(matches),
	}, nil
}

// FindPathTool matches a regex against file and directory names.
type FindPathTool struct {
	root string
}

// NewFindPathTool creates a find_path tool anchored at root.
func NewFindPathTool(root string) *FindPathTool { return &FindPathTool{root: root} }

type findPathArgs struct {
	Pattern string `json:"pattern"`
	Type    string `json:"type,omitempty"`
}

func (t *FindPathTool) Name() string { return "find_path" }

func (t *FindPathTool) Description() string {
	return "Find files and directories by regex against their names. Respects .gitignore. Use this to locate files when you know part of the filename but not the full path."
}

func (t *FindPathTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "Regex pattern to match against file/directory names"},
			"type":    {"type": "string", "enum": ["file", "directory", "any"], "description": "Filter by type (default: any)"}
		},
		"required": ["pattern"]
	}`)
}

func (t *FindPathTool) Permission() Permission { return ReadOnly }

func (t *FindPathTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var a findPathArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Pattern == "" {
		return nil, fmt.Errorf("missing required parameter: pattern")
	}
	if a.Type == "" {
		a.Type = "any"
	}

	searcher, err := filesearch.NewSearcher(t.root)
	if err != nil {
		return nil, err
	}
	entries, err := searcher.FindPaths(ctx, a.Pattern, a.Type, defaultResultCap)
	if err != nil {
		return nil, err
	}

	matches := make([]map[string]any, len(entries))
	for i, e := range entries {
		matches[i] = map[string]any{"path": e.Name, "is_dir": e.IsDir}
	}
	return map[string]any{
		"pattern": a.Pattern,
		"matches": matches,
		"count":   len(matches),
	}, nil
}
