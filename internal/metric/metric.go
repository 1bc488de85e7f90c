// Package metric computes values over graded trials and trajectories.
package metric

import (
	"context"
	"fmt"

	"github.com/trailbench/trailbench/internal/grader"
	"github.com/trailbench/trailbench/internal/trajectory"
)

// Trail pairs one grader's outcome with the trajectory it was graded on.
type Trail struct {
	Outcome    grader.Outcome
	Trajectory *trajectory.Trajectory
}

// Trails is every attempt of one task for a single grader.
type Trails []Trail

// OutcomeMetric aggregates across a task's trials. Trails are keyed by
// grader id so a metric can combine several graders' outcomes.
type OutcomeMetric interface {
	Compute(ctx context.Context, trails map[string]Trails) (any, error)
}

// OutcomeFunc adapts a function to OutcomeMetric.
type OutcomeFunc func(ctx context.Context, trails map[string]Trails) (any, error)

func (f OutcomeFunc) Compute(ctx context.Context, trails map[string]Trails) (any, error) {
	return f(ctx, trails)
}

// TrajectoryMetric computes a value from a single trajectory.
type TrajectoryMetric interface {
	Compute(ctx context.Context, traj *trajectory.Trajectory) (any, error)
}

// TrajectoryFunc adapts a function to TrajectoryMetric.
type TrajectoryFunc func(ctx context.Context, traj *trajectory.Trajectory) (any, error)

func (f TrajectoryFunc) Compute(ctx context.Context, traj *trajectory.Trajectory) (any, error) {
	return f(ctx, traj)
}

// Value is a metric's normalized result.
type Value struct {
	Value any `json:"value"`
}

// Ensure wraps a raw metric result into a Value, passing through values that
// already are one.
func Ensure(value any) Value {
	if v, ok := value.(Value); ok {
		return v
	}
	return Value{Value: value}
}

// Fault marks a metric computation failure.
type Fault struct {
	MetricID string
	Err      error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("metric %s: %v", f.MetricID, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Registry is an insertion-ordered, immutable metric collection keyed by
// metric id. The zero value is empty and usable.
type Registry[M any] struct {
	ids     []string
	metrics map[string]M
}

// With returns a copy of the registry with the metric added. Registering an
// existing id replaces the metric but keeps its original position.
func (r Registry[M]) With(id string, m M) Registry[M] {
	next := Registry[M]{
		ids:     make([]string, len(r.ids), len(r.ids)+1),
		metrics: make(map[string]M, len(r.metrics)+1),
	}
	copy(next.ids, r.ids)
	for key, value := range r.metrics {
		next.metrics[key] = value
	}
	if _, exists := next.metrics[id]; !exists {
		next.ids = append(next.ids, id)
	}
	next.metrics[id] = m
	return next
}

// IDs returns metric ids in registration order.
func (r Registry[M]) IDs() []string {
	ids := make([]string, len(r.ids))
	copy(ids, r.ids)
	return ids
}

// Get returns the metric for an id.
func (r Registry[M]) Get(id string) (M, bool) {
	m, ok := r.metrics[id]
	return m, ok
}

// Len returns the number of registered metrics.
func (r Registry[M]) Len() int {
	return len(r.ids)
}

// OutcomeRegistry holds outcome metrics keyed by metric id.
type OutcomeRegistry = Registry[OutcomeMetric]

// TrajectoryRegistry holds trajectory metrics keyed by metric id.
type TrajectoryRegistry = Registry[TrajectoryMetric]
