// Package harness fans (task, trial) executions out under a global
// concurrency bound and aggregates graded trials into per-task metrics.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/trailbench/trailbench/internal/agent"
	"github.com/trailbench/trailbench/internal/bench"
	"github.com/trailbench/trailbench/internal/grader"
	"github.com/trailbench/trailbench/internal/metric"
	"github.com/trailbench/trailbench/internal/runner"
	"github.com/trailbench/trailbench/internal/sandbox"
	"github.com/trailbench/trailbench/internal/store"
	"github.com/trailbench/trailbench/internal/task"
	"github.com/trailbench/trailbench/internal/trajectory"
)

// TaskResult aggregates one task's surviving trials and metric values.
type TaskResult struct {
	Task    task.Metadata
	Trials  []*runner.TrialOutcome
	Metrics map[string]metric.Value

	// TrajectoryMetrics holds per-trial values keyed by metric id, in the
	// same order as Trials.
	TrajectoryMetrics map[string][]metric.Value

	// Err is set when this task's aggregation faulted. Other tasks are
	// unaffected.
	Err error
}

// Result is the final report of one harness run, tasks in load order.
type Result struct {
	AgentID string
	Tasks   []*TaskResult
}

// Options tune one harness run.
type Options struct {
	// TrialCount is the number of trails per task.
	TrialCount int

	// Concurrency bounds how many trials are in their sandbox-active phase
	// at once.
	Concurrency int

	// ConcurrentGrade runs a trial's graders in parallel. Keep false when
	// graders depend on each other.
	ConcurrentGrade bool
}

func (o Options) withDefaults() Options {
	if o.TrialCount <= 0 {
		o.TrialCount = 1
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	return o
}

// Harness runs a benchmark against one agent.
type Harness struct {
	agent     agent.Agent
	benchmark bench.Benchmark
	builder   sandbox.Builder
	dialer    agent.Dialer
	store     *store.Store
	opts      Options
	logger    *slog.Logger

	graders           grader.Registry
	outcomeMetrics    metric.OutcomeRegistry
	trajectoryMetrics metric.TrajectoryRegistry

	mu      sync.Mutex
	results map[string][]*runner.TrialOutcome
}

// New assembles a harness. The benchmark's graders and metrics are
// registered first; WithGrader and friends layer more on top.
func New(a agent.Agent, b bench.Benchmark, builder sandbox.Builder, dialer agent.Dialer, st *store.Store, opts Options, logger *slog.Logger) *Harness {
	return &Harness{
		agent:             a,
		benchmark:         b,
		builder:           builder,
		dialer:            dialer,
		store:             st,
		opts:              opts.withDefaults(),
		logger:            logger,
		graders:           b.Graders(),
		outcomeMetrics:    b.OutcomeMetrics(),
		trajectoryMetrics: b.TrajectoryMetrics(),
		results:           map[string][]*runner.TrialOutcome{},
	}
}

// WithGrader registers an additional grader. The id keys metric Trails.
func (h *Harness) WithGrader(id string, g grader.Grader) *Harness {
	h.graders = h.graders.With(id, g)
	return h
}

// WithOutcomeMetric registers an additional outcome metric.
func (h *Harness) WithOutcomeMetric(id string, m metric.OutcomeMetric) *Harness {
	h.outcomeMetrics = h.outcomeMetrics.With(id, m)
	return h
}

// WithTrajectoryMetric registers an additional trajectory metric.
func (h *Harness) WithTrajectoryMetric(id string, m metric.TrajectoryMetric) *Harness {
	h.trajectoryMetrics = h.trajectoryMetrics.With(id, m)
	return h
}

// Run executes every (task, trial) pair under the global concurrency bound
// and aggregates the survivors. A trial fault only loses that trial.
func (h *Harness) Run(ctx context.Context) (*Result, error) {
	tasks, err := h.benchmark.LoadTasks()
	if err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}

	sem := semaphore.NewWeighted(int64(h.opts.Concurrency))
	var wg sync.WaitGroup

	for _, tk := range tasks {
		for trial := 0; trial < h.opts.TrialCount; trial++ {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return nil, err
			}
			wg.Add(1)
			go func(tk *task.Task, trial int) {
				defer wg.Done()
				defer sem.Release(1)
				h.runTrial(ctx, tk, trial)
			}(tk, trial)
		}
	}
	wg.Wait()

	h.logCompletion(tasks)
	return h.aggregate(ctx, tasks), nil
}

func (h *Harness) runTrial(ctx context.Context, tk *task.Task, trial int) {
	r := &runner.TrailRunner{
		Agent:           h.agent,
		Builder:         h.builder,
		Dialer:          h.dialer,
		Store:           h.store,
		Graders:         h.graders,
		ConcurrentGrade: h.opts.ConcurrentGrade,
		Containerfile:   h.benchmark.Containerfile(),
		Logger:          h.logger,
	}

	outcome, err := r.Run(ctx, task.Trail{Index: trial, Task: tk})
	if err != nil {
		// The failed (task, trial) pair is simply absent from results.
		h.logger.Error("trial failed",
			"task", tk.Metadata.ID,
			"trial", trial,
			"error", err,
		)
		return
	}

	h.mu.Lock()
	h.results[tk.Metadata.ID] = append(h.results[tk.Metadata.ID], outcome)
	h.mu.Unlock()

	h.logger.Info("trial completed",
		"task", tk.Metadata.ID,
		"trial", fmt.Sprintf("%d/%d", trial+1, h.opts.TrialCount),
	)
}

func (h *Harness) logCompletion(tasks []*task.Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, tk := range tasks {
		h.logger.Info("task completed",
			"task", tk.Metadata.ID,
			"succeeded", fmt.Sprintf("%d/%d trials", len(h.results[tk.Metadata.ID]), h.opts.TrialCount),
		)
	}
}

// aggregate builds every task's result concurrently. A fault in one task's
// aggregation never aborts another's.
func (h *Harness) aggregate(ctx context.Context, tasks []*task.Task) *Result {
	results := make([]*TaskResult, len(tasks))
	var wg sync.WaitGroup
	for i, tk := range tasks {
		wg.Add(1)
		go func(i int, tk *task.Task) {
			defer wg.Done()
			results[i] = h.buildTaskResult(ctx, tk)
		}(i, tk)
	}
	wg.Wait()

	return &Result{AgentID: h.agent.ID, Tasks: results}
}

func (h *Harness) buildTaskResult(ctx context.Context, tk *task.Task) *TaskResult {
	h.mu.Lock()
	trials := append([]*runner.TrialOutcome(nil), h.results[tk.Metadata.ID]...)
	h.mu.Unlock()

	result := &TaskResult{
		Task:              tk.Metadata,
		Trials:            trials,
		Metrics:           map[string]metric.Value{},
		TrajectoryMetrics: map[string][]metric.Value{},
	}

	// The replay invariant makes the persisted log the source of truth, so
	// aggregation rebuilds every trajectory from it.
	trajectories := make([]*trajectory.Trajectory, len(trials))
	trailGroups := map[string]metric.Trails{}
	for i, trial := range trials {
		updates, err := store.LoadUpdates(trial.LogPath)
		if err != nil {
			result.Err = err
			return result
		}
		traj, err := trajectory.BuildFrom(updates)
		if err != nil {
			result.Err = err
			return result
		}
		trajectories[i] = &traj
		for graderID, outcome := range trial.Outcomes {
			trailGroups[graderID] = append(trailGroups[graderID], metric.Trail{
				Outcome:    outcome,
				Trajectory: &traj,
			})
		}
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	setErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if result.Err == nil {
			result.Err = err
		}
	}

	for _, id := range h.outcomeMetrics.IDs() {
		m, _ := h.outcomeMetrics.Get(id)
		wg.Add(1)
		go func(id string, m metric.OutcomeMetric) {
			defer wg.Done()
			raw, err := m.Compute(ctx, trailGroups)
			if err != nil {
				setErr(&metric.Fault{MetricID: id, Err: err})
				return
			}
			mu.Lock()
			result.Metrics[id] = metric.Ensure(raw)
			mu.Unlock()
		}(id, m)
	}
	wg.Wait()

	for _, id := range h.trajectoryMetrics.IDs() {
		m, _ := h.trajectoryMetrics.Get(id)
		values := make([]metric.Value, 0, len(trajectories))
		for _, traj := range trajectories {
			raw, err := m.Compute(ctx, traj)
			if err != nil {
				setErr(&metric.Fault{MetricID: id, Err: err})
				return result
			}
			values = append(values, metric.Ensure(raw))
		}
		result.TrajectoryMetrics[id] = values
	}

	return result
}
