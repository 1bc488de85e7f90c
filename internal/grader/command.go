package grader

import (
	"context"

	"github.com/trailbench/trailbench/internal/errors"
	"github.com/trailbench/trailbench/internal/sandbox"
)

// Command grades by running a command in the sandbox. Exit code zero is a
// true outcome, anything else false.
type Command struct {
	Cmd []string
	Cwd string

	// Toolchain selects the failure summarizer for the command's output,
	// e.g. "go" or "python". Empty uses generic heuristics.
	Toolchain string
}

// RunInWorkdir returns a Command grader that runs in the task workdir.
func RunInWorkdir(cmd ...string) *Command {
	return &Command{Cmd: cmd}
}

func (c *Command) Grade(ctx context.Context, gc Context) (any, error) {
	cwd := c.Cwd
	if cwd == "" && gc.Task != nil {
		cwd = gc.Task.Workdir()
	}
	terminal := gc.Sandbox.Terminal(c.Cmd, sandbox.TerminalOptions{Cwd: cwd})
	result, err := terminal.Wait(ctx)
	if err != nil {
		return nil, err
	}

	if result.ExitCode != 0 && gc.Logger != nil {
		summaries := errors.NewSummarizer(c.Toolchain).Summarize(result.Output)
		gc.Logger.Debug("grading command failed",
			"exit_code", result.ExitCode,
			"summary", summaries)
	}

	return result.ExitCode == 0, nil
}
