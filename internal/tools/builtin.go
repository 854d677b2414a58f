package tools

// BuiltinRegistry assembles the standard tool set anchored at root. cache
// may be nil to disable fetch caching.
func BuiltinRegistry(root string, cache FetchCache) (*Registry, error) {
	r := NewRegistry()
	all := []Tool{
		NewReadFileTool(root),
		NewWriteFileTool(root),
		NewEditFileTool(root),
		NewListFilesTool(root),
		NewGlobTool(root),
		NewGrepTool(root),
		NewFindPathTool(root),
		NewShellTool(root),
		NewFetchTool(cache),
		NewDiagnosticsTool(root),
		NewNowTool(),
	}
	for _, t := range all {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
