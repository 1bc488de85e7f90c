// Package sandbox provides isolated execution environments for agent trials.
package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/trailbench/trailbench/internal/agent"
)

// Fault wraps a sandbox backend failure. Any fault during a trial's sandbox
// operations is fatal to that trial.
type Fault struct {
	Op  string
	Err error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("sandbox %s: %v", f.Op, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// CommandResult is the outcome of a command run in a sandbox terminal.
type CommandResult struct {
	ExitCode  int
	Output    string
	Truncated bool
}

// Terminal is a command running in the sandbox.
type Terminal interface {
	// Wait blocks until the command exits and returns its result.
	Wait(ctx context.Context) (CommandResult, error)

	// Kill terminates the command. Safe to call after Wait.
	Kill() error

	// Stream yields combined output chunks as they are produced. The channel
	// closes when the command exits or the context is cancelled.
	Stream(ctx context.Context) (<-chan string, error)
}

// TerminalOptions configures a sandbox terminal.
type TerminalOptions struct {
	Cwd string
	Env map[string]string
}

// SessionOptions configures an agent session launch.
type SessionOptions struct {
	Cwd string
	Env map[string]string
}

// Sandbox is an isolated environment hosting the agent process and its
// workspace for one trial.
type Sandbox interface {
	// ReadFile returns the full content of a file.
	ReadFile(ctx context.Context, path string) (string, error)

	// ReadFileRange returns up to limit lines starting at the 1-based line.
	// line <= 1 starts at the beginning; limit <= 0 reads to the end.
	ReadFileRange(ctx context.Context, path string, line, limit int) (string, error)

	// WriteFile replaces a file's content.
	WriteFile(ctx context.Context, path, content string) error

	// UploadFile copies a local file into the sandbox.
	UploadFile(ctx context.Context, localPath, remotePath string) error

	// DownloadFile copies a sandbox file to the host.
	DownloadFile(ctx context.Context, remotePath, localPath string) error

	// Exists reports whether a path exists in the sandbox.
	Exists(ctx context.Context, path string) (bool, error)

	// Terminal prepares a command for execution. The command does not start
	// until Wait or Stream is called.
	Terminal(cmd []string, opts TerminalOptions) Terminal

	// LaunchSession starts the agent process and dials a session connection
	// over its stdio, delivering updates to the client.
	LaunchSession(ctx context.Context, client *agent.Client, dialer agent.Dialer, cmd []string, opts SessionOptions) (agent.Connection, error)

	// Run executes fn within the sandbox's scoped lifetime. Teardown is
	// guaranteed on every exit path.
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// BuildOptions configures a sandbox build.
type BuildOptions struct {
	// Tag names the built image. Empty means a temporary image removed at
	// sandbox teardown.
	Tag string

	// ContextDir is the local build context, mounted nowhere but copied into
	// the image by the containerfile.
	ContextDir string

	// BuildArgs are passed to the image build.
	BuildArgs map[string]string
}

// Builder constructs sandboxes from containerfiles.
type Builder interface {
	Build(ctx context.Context, containerfile string, opts BuildOptions) (Sandbox, error)
}

// SliceLines extracts a line window from content. line is 1-based; values
// <= 1 start at the beginning. limit <= 0 means the rest of the content.
func SliceLines(content string, line, limit int) string {
	if line <= 1 && limit <= 0 {
		return content
	}
	lines := strings.SplitAfter(content, "\n")
	// SplitAfter leaves a trailing empty element when content ends in \n.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	start := 0
	if line > 1 {
		start = line - 1
	}
	if start >= len(lines) {
		return ""
	}
	if limit <= 0 {
		return strings.Join(lines[start:], "")
	}
	end := start + limit
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "")
}
