// Package shell provides an in-process POSIX shell interpreter with
// command blocking for safe LLM-driven execution.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Shell is an in-process POSIX shell with cwd and exported env persisting
// across calls. It is anchored to a root directory; cd outside it is
// clamped back.
type Shell struct {
	mu       sync.Mutex
	root     string
	cwd      string
	env      []string
	blockers []BlockFunc
}

// New creates a Shell rooted at root with the given block functions. An
// empty root anchors at the process working directory.
func New(root string, blockers []BlockFunc) *Shell {
	if root == "" {
		root, _ = os.Getwd()
	}
	return &Shell{
		root:     root,
		cwd:      root,
		env:      os.Environ(),
		blockers: blockers,
	}
}

// Dir returns the shell's current working directory.
func (s *Shell) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// Exec runs a command, returning stdout, stderr, and any error. The
// context bounds execution time.
func (s *Shell) Exec(ctx context.Context, command string) (outStr, errStr string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stdout, stderr bytes.Buffer

	parsed, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return "", "", fmt.Errorf("could not parse command: %w", err)
	}

	runner, err := interp.New(
		interp.StdIO(nil, &stdout, &stderr),
		interp.Interactive(false),
		interp.Env(expand.ListEnviron(s.env...)),
		interp.Dir(s.cwd),
		interp.ExecHandlers(s.blockHandler()),
	)
	if err != nil {
		return "", "", fmt.Errorf("could not create interpreter: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command execution panic: %v", r)
		}
		s.updateFromRunner(runner, &stderr)
		outStr = stdout.String()
		errStr = stderr.String()
	}()

	err = runner.Run(ctx, parsed)
	return stdout.String(), stderr.String(), err
}

// blockHandler wraps command execution with the configured blockers.
func (s *Shell) blockHandler() func(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
		return func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return next(ctx, args)
			}
			for _, bf := range s.blockers {
				if bf(args) {
					return fmt.Errorf("command blocked: %q", args[0])
				}
			}
			return next(ctx, args)
		}
	}
}

// updateFromRunner persists cwd and exported env vars after execution.
// A cwd that escaped the root is clamped back with a note on stderr so
// the model learns why.
func (s *Shell) updateFromRunner(runner *interp.Runner, stderr *bytes.Buffer) {
	dir := runner.Dir
	if dir != s.root && !strings.HasPrefix(dir, s.root+string(os.PathSeparator)) {
		fmt.Fprintf(stderr, "[cd rejected: you are anchored to %s]\n", s.root)
		dir = s.root
	}
	s.cwd = dir

	// runner.Env is only the initial environment; runner.Vars holds the
	// variables as they stand after the run.
	s.env = s.env[:0]
	for name, vr := range runner.Vars {
		if vr.Exported {
			s.env = append(s.env, name+"="+vr.Str)
		}
	}
}

// ExitCode extracts the exit code from an interpreter error. A nil error
// is exit 0; non-exit errors report 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var status interp.ExitStatus
	if errors.As(err, &status) {
		return int(status)
	}
	return 1
}

// ErrorText returns the message of a non-exit-status failure (parse
// errors, blocked commands), or "" for plain exits.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var status interp.ExitStatus
	if errors.As(err, &status) {
		return ""
	}
	return err.Error()
}
