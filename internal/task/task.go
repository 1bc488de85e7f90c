// Package task defines evaluation tasks and their prompting policy.
package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/trailbench/trailbench/internal/protocol"
	"github.com/trailbench/trailbench/internal/sandbox"
	"github.com/trailbench/trailbench/internal/trajectory"
)

// DefaultWorkdir is the container working directory when a task does not set
// one.
const DefaultWorkdir = "/workspace"

// Metadata identifies a task within its benchmark.
type Metadata struct {
	ID          string
	Name        string
	Description string
}

// SetupFunc runs inside the sandbox before the agent session starts. Tasks
// use it to stage fixtures or run preparation commands.
type SetupFunc func(ctx context.Context, sb sandbox.Sandbox) error

// Prompter decides the next prompt for a conversation. Returning a nil block
// slice ends the conversation.
type Prompter interface {
	NextPrompt(ctx context.Context, traj *trajectory.Trajectory) ([]protocol.ContentBlock, error)
}

// PrompterFunc adapts a function to the Prompter interface, for dynamic
// multi-turn tasks that inspect the trajectory between turns.
type PrompterFunc func(ctx context.Context, traj *trajectory.Trajectory) ([]protocol.ContentBlock, error)

func (f PrompterFunc) NextPrompt(ctx context.Context, traj *trajectory.Trajectory) ([]protocol.ContentBlock, error) {
	return f(ctx, traj)
}

// Static returns a Prompter that sends the given blocks exactly once, before
// any message group exists, and ends the conversation afterwards.
func Static(blocks ...protocol.ContentBlock) Prompter {
	return PrompterFunc(func(_ context.Context, traj *trajectory.Trajectory) ([]protocol.ContentBlock, error) {
		if traj != nil && !traj.Empty() {
			return nil, nil
		}
		return blocks, nil
	})
}

// Task is one evaluation unit. RootPath is the build context for the task's
// container image; Containerfile overrides the benchmark default when
// non-empty.
type Task struct {
	Metadata         Metadata
	RootPath         string
	Prompt           Prompter
	Containerfile    string
	ContainerWorkdir string
	ContainerEnv     map[string]string
	Setup            SetupFunc
}

// Workdir returns the container working directory, defaulting when unset.
func (t *Task) Workdir() string {
	if t.ContainerWorkdir == "" {
		return DefaultWorkdir
	}
	return t.ContainerWorkdir
}

// NextPrompt invokes the task's prompt policy against the current trajectory.
func (t *Task) NextPrompt(ctx context.Context, traj *trajectory.Trajectory) ([]protocol.ContentBlock, error) {
	if t.Prompt == nil {
		return nil, fmt.Errorf("task %s has no prompt", t.Metadata.ID)
	}
	return t.Prompt.NextPrompt(ctx, traj)
}

// Trail is a single evaluation attempt of a task.
type Trail struct {
	Index int
	Task  *Task
}

// ResolveContainerfile picks the task's containerfile when set, otherwise the
// benchmark default.
func (tr Trail) ResolveContainerfile(benchmarkDefault string) string {
	if tr.Task.Containerfile != "" {
		return tr.Task.Containerfile
	}
	return benchmarkDefault
}

// ImageTag returns the image tag for this trail's container build. Docker
// tags cannot contain slashes or uppercase, so the task id is normalized.
func (tr Trail) ImageTag() string {
	id := strings.ToLower(strings.ReplaceAll(tr.Task.Metadata.ID, "/", "-"))
	return fmt.Sprintf("%s_%d", id, tr.Index)
}
