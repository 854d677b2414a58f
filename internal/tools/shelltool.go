package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomcode/loom/internal/shell"
)

const (
	// DefaultShellTimeout bounds a shell command's run time.
	DefaultShellTimeout = 120 * time.Second
	// maxShellTimeout caps model-requested timeouts.
	maxShellTimeout = 600 * time.Second
	// maxShellOutput bounds captured output per stream.
	maxShellOutput = 30000
)

// ShellTool executes commands through the in-process POSIX interpreter.
// The working directory and exported environment persist across calls.
type ShellTool struct {
	sh *shell.Shell
}

// NewShellTool creates a shell tool anchored at root with the default
// blocker set.
func NewShellTool(root string) *ShellTool {
	return &ShellTool{sh: shell.New(root, shell.DefaultBlockFuncs())}
}

type shellArgs struct {
	Command     string `json:"command"`
	TimeoutSecs int    `json:"timeout_secs,omitempty"`
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Execute a shell command in an in-process POSIX interpreter. Returns stdout, stderr, and exit code. The working directory persists between calls. Dangerous commands (sudo, package managers, system modification) are blocked."
}

func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command":      {"type": "string", "description": "The shell command to execute"},
			"timeout_secs": {"type": "integer", "description": "Timeout in seconds (default: 120, max: 600)"}
		},
		"required": ["command"]
	}`)
}

// Permission is Execute statically; the approval layer refines it per
// command through the lexical classifier.
func (t *ShellTool) Permission() Permission { return Execute }

// Dir exposes the interpreter's current working directory.
func (t *ShellTool) Dir() string { return t.sh.Dir() }

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var a shellArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Command == "" {
		return nil, fmt.Errorf("missing required parameter: command")
	}

	timeout := DefaultShellTimeout
	if a.TimeoutSecs > 0 {
		timeout = time.Duration(a.TimeoutSecs) * time.Second
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, err := t.sh.Exec(ctx, a.Command)
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s", timeout)
	}
	if msg := shell.ErrorText(err); msg != "" {
		stderr += msg + "\n"
	}

	return map[string]any{
		"stdout":    truncateMiddle(stdout, maxShellOutput),
		"stderr":    truncateMiddle(stderr, maxShellOutput),
		"exit_code": shell.ExitCode(err),
	}, nil
}
