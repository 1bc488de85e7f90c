// Package grader defines outcome grading over a finished trial.
package grader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/trailbench/trailbench/internal/sandbox"
	"github.com/trailbench/trailbench/internal/task"
	"github.com/trailbench/trailbench/internal/trajectory"
)

// Context carries everything a grader may inspect. The outcome is the final
// state of the environment, not what the transcript claims, so graders get
// the live sandbox alongside the trajectory.
type Context struct {
	Task       *task.Task
	Trajectory *trajectory.Trajectory
	Sandbox    sandbox.Sandbox

	// Logger may be nil; graders use it for failure diagnostics only.
	Logger *slog.Logger
}

// Grader evaluates one finished trial and returns any outcome value.
type Grader interface {
	Grade(ctx context.Context, gc Context) (any, error)
}

// Func adapts a function to the Grader interface.
type Func func(ctx context.Context, gc Context) (any, error)

func (f Func) Grade(ctx context.Context, gc Context) (any, error) {
	return f(ctx, gc)
}

// Outcome is a grader's normalized result.
type Outcome struct {
	Value any `json:"value"`
}

// Ensure wraps a raw grading result into an Outcome, passing through values
// that already are one.
func Ensure(value any) Outcome {
	if outcome, ok := value.(Outcome); ok {
		return outcome
	}
	return Outcome{Value: value}
}

// Bool reports the outcome as a boolean, false if it is not one.
func (o Outcome) Bool() bool {
	b, ok := o.Value.(bool)
	return ok && b
}

// Fault marks a grading failure for one grader on one trial.
type Fault struct {
	GraderID string
	Err      error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("grader %s: %v", f.GraderID, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Registry is an insertion-ordered, immutable grader collection keyed by
// grader id. The zero value is empty and usable.
type Registry struct {
	ids     []string
	graders map[string]Grader
}

// With returns a copy of the registry with the grader added. Registering an
// existing id replaces the grader but keeps its original position.
func (r Registry) With(id string, g Grader) Registry {
	next := Registry{
		ids:     make([]string, len(r.ids), len(r.ids)+1),
		graders: make(map[string]Grader, len(r.graders)+1),
	}
	copy(next.ids, r.ids)
	for key, value := range r.graders {
		next.graders[key] = value
	}
	if _, exists := next.graders[id]; !exists {
		next.ids = append(next.ids, id)
	}
	next.graders[id] = g
	return next
}

// IDs returns grader ids in registration order.
func (r Registry) IDs() []string {
	ids := make([]string, len(r.ids))
	copy(ids, r.ids)
	return ids
}

// Get returns the grader for an id.
func (r Registry) Get(id string) (Grader, bool) {
	g, ok := r.graders[id]
	return g, ok
}

// Len returns the number of registered graders.
func (r Registry) Len() int {
	return len(r.ids)
}
