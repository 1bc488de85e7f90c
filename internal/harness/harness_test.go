package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailbench/trailbench/internal/agent"
	"github.com/trailbench/trailbench/internal/bench"
	"github.com/trailbench/trailbench/internal/grader"
	"github.com/trailbench/trailbench/internal/metric"
	"github.com/trailbench/trailbench/internal/protocol"
	"github.com/trailbench/trailbench/internal/sandbox"
	"github.com/trailbench/trailbench/internal/store"
	"github.com/trailbench/trailbench/internal/task"
)

// scriptedConn replays one scripted turn per Prompt call.
type scriptedConn struct {
	client *agent.Client
	turns  [][]protocol.SessionUpdate
	turn   int
}

func (c *scriptedConn) NewSession(context.Context, string, []agent.MCPServer) (string, error) {
	return "sess-1", nil
}

func (c *scriptedConn) Prompt(_ context.Context, sessionID string, _ []protocol.ContentBlock) (protocol.StopReason, error) {
	if c.turn < len(c.turns) {
		for _, update := range c.turns[c.turn] {
			c.client.Deliver(sessionID, update)
		}
	}
	c.turn++
	return protocol.StopEndTurn, nil
}

func (c *scriptedConn) Close() error { return nil }

type fakeSandbox struct {
	turns   [][]protocol.SessionUpdate
	builder *fakeBuilder
}

func (f *fakeSandbox) ReadFile(context.Context, string) (string, error) { return "", nil }
func (f *fakeSandbox) ReadFileRange(context.Context, string, int, int) (string, error) {
	return "", nil
}
func (f *fakeSandbox) WriteFile(context.Context, string, string) error    { return nil }
func (f *fakeSandbox) UploadFile(context.Context, string, string) error   { return nil }
func (f *fakeSandbox) DownloadFile(context.Context, string, string) error { return nil }
func (f *fakeSandbox) Exists(context.Context, string) (bool, error)       { return true, nil }
func (f *fakeSandbox) Terminal([]string, sandbox.TerminalOptions) sandbox.Terminal {
	return nil
}

func (f *fakeSandbox) LaunchSession(_ context.Context, client *agent.Client, _ agent.Dialer, _ []string, _ sandbox.SessionOptions) (agent.Connection, error) {
	return &scriptedConn{client: client, turns: f.turns}, nil
}

func (f *fakeSandbox) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	active := f.builder.active.Add(1)
	defer f.builder.active.Add(-1)
	for {
		peak := f.builder.peak.Load()
		if active <= peak || f.builder.peak.CompareAndSwap(peak, active) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return fn(ctx)
}

// fakeBuilder hands out sandboxes and tracks how many are active at once.
type fakeBuilder struct {
	turns [][]protocol.SessionUpdate

	failTags map[string]bool
	active   atomic.Int32
	peak     atomic.Int32

	mu   sync.Mutex
	tags []string
}

func (f *fakeBuilder) Build(_ context.Context, _ string, opts sandbox.BuildOptions) (sandbox.Sandbox, error) {
	f.mu.Lock()
	f.tags = append(f.tags, opts.Tag)
	f.mu.Unlock()
	if f.failTags[opts.Tag] {
		return nil, &sandbox.Fault{Op: "build", Err: errors.New("image build failed")}
	}
	return &fakeSandbox{turns: f.turns, builder: f}, nil
}

type fakeBench struct {
	tasks          []*task.Task
	graders        grader.Registry
	outcomeMetrics metric.OutcomeRegistry
	trajMetrics    metric.TrajectoryRegistry
}

func (b *fakeBench) Metadata() bench.Metadata               { return bench.Metadata{ID: "fake"} }
func (b *fakeBench) LoadTasks() ([]*task.Task, error)       { return b.tasks, nil }
func (b *fakeBench) Containerfile() string                  { return "FROM scratch\n" }
func (b *fakeBench) Graders() grader.Registry               { return b.graders }
func (b *fakeBench) OutcomeMetrics() metric.OutcomeRegistry { return b.outcomeMetrics }
func (b *fakeBench) TrajectoryMetrics() metric.TrajectoryRegistry {
	return b.trajMetrics
}

func singleTurn() [][]protocol.SessionUpdate {
	return [][]protocol.SessionUpdate{{
		protocol.AgentMessageChunk{Content: protocol.TextContent{Text: "done"}},
	}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func namedTasks(ids ...string) []*task.Task {
	tasks := make([]*task.Task, len(ids))
	for i, id := range ids {
		tasks[i] = &task.Task{
			Metadata: task.Metadata{ID: id},
			Prompt:   task.Static(protocol.Text("go")),
		}
	}
	return tasks
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir(), "agent", "fake")
	require.NoError(t, err)
	return s
}

func passGrader(pass bool) grader.Grader {
	return grader.Func(func(context.Context, grader.Context) (any, error) { return pass, nil })
}

func TestConcurrencyBound(t *testing.T) {
	t.Parallel()

	builder := &fakeBuilder{turns: singleTurn()}
	b := &fakeBench{tasks: namedTasks("a", "b", "c")}

	h := New(agent.Agent{ID: "demo", Command: []string{"x"}}, b, builder, nil, newTestStore(t),
		Options{TrialCount: 3, Concurrency: 2}, quietLogger())

	result, err := h.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Tasks, 3)

	assert.LessOrEqual(t, builder.peak.Load(), int32(2), "more sandboxes active than the concurrency bound")
	assert.Len(t, builder.tags, 9)
}

func TestTaskOrderMatchesLoadOrder(t *testing.T) {
	t.Parallel()

	builder := &fakeBuilder{turns: singleTurn()}
	b := &fakeBench{tasks: namedTasks("zeta", "alpha", "mid")}

	h := New(agent.Agent{ID: "demo", Command: []string{"x"}}, b, builder, nil, newTestStore(t),
		Options{TrialCount: 2, Concurrency: 4}, quietLogger())

	result, err := h.Run(context.Background())
	require.NoError(t, err)

	var order []string
	for _, tr := range result.Tasks {
		order = append(order, tr.Task.ID)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, order)
}

func TestTrialFaultIsolation(t *testing.T) {
	t.Parallel()

	builder := &fakeBuilder{
		turns:    singleTurn(),
		failTags: map[string]bool{"flaky_1": true},
	}
	b := &fakeBench{
		tasks:   namedTasks("flaky", "solid"),
		graders: grader.Registry{}.With("pass", passGrader(true)),
	}

	h := New(agent.Agent{ID: "demo", Command: []string{"x"}}, b, builder, nil, newTestStore(t),
		Options{TrialCount: 3, Concurrency: 2}, quietLogger())
	h.WithOutcomeMetric("pass@1", metric.NewPassAtK("pass", 1))

	result, err := h.Run(context.Background())
	require.NoError(t, err)

	flaky, solid := result.Tasks[0], result.Tasks[1]
	assert.Len(t, flaky.Trials, 2, "failed trial should be absent, siblings kept")
	assert.Len(t, solid.Trials, 3)
	require.NoError(t, flaky.Err)
	assert.InDelta(t, 1.0, flaky.Metrics["pass@1"].Value, 1e-9)
}

func TestPassAtKAggregation(t *testing.T) {
	t.Parallel()

	builder := &fakeBuilder{turns: singleTurn()}

	// Grades deterministically by trial order of arrival: 3 of 5 pass.
	var calls atomic.Int32
	flaky := grader.Func(func(context.Context, grader.Context) (any, error) {
		return calls.Add(1) <= 3, nil
	})

	b := &fakeBench{
		tasks:   namedTasks("only"),
		graders: grader.Registry{}.With("correct", flaky),
	}

	h := New(agent.Agent{ID: "demo", Command: []string{"x"}}, b, builder, nil, newTestStore(t),
		Options{TrialCount: 5, Concurrency: 1}, quietLogger())
	h.WithOutcomeMetric("pass@2", metric.NewPassAtK("correct", 2))

	result, err := h.Run(context.Background())
	require.NoError(t, err)

	only := result.Tasks[0]
	require.NoError(t, only.Err)
	got, ok := only.Metrics["pass@2"].Value.(float64)
	require.True(t, ok, "pass@2 value = %#v", only.Metrics["pass@2"].Value)
	assert.True(t, math.Abs(got-0.9) < 1e-9, "pass@2 = %v, want 0.9", got)
}

func TestMetricFaultIsolation(t *testing.T) {
	t.Parallel()

	builder := &fakeBuilder{turns: singleTurn()}

	tasks := namedTasks("poison", "good")
	b := &fakeBench{
		tasks: tasks,
		graders: grader.Registry{}.With("tag", grader.Func(
			func(_ context.Context, gc grader.Context) (any, error) {
				return gc.Task.Metadata.ID, nil
			})),
	}

	poisonAware := metric.OutcomeFunc(func(_ context.Context, trails map[string]metric.Trails) (any, error) {
		for _, trail := range trails["tag"] {
			if trail.Outcome.Value == "poison" {
				return nil, fmt.Errorf("cannot aggregate poisoned outcomes")
			}
		}
		return len(trails["tag"]), nil
	})

	h := New(agent.Agent{ID: "demo", Command: []string{"x"}}, b, builder, nil, newTestStore(t),
		Options{TrialCount: 2, Concurrency: 2}, quietLogger())
	h.WithOutcomeMetric("count", poisonAware)

	result, err := h.Run(context.Background())
	require.NoError(t, err)

	poison, good := result.Tasks[0], result.Tasks[1]

	require.Error(t, poison.Err)
	var fault *metric.Fault
	require.ErrorAs(t, poison.Err, &fault)
	assert.Equal(t, "count", fault.MetricID)

	require.NoError(t, good.Err)
	assert.Equal(t, 2, good.Metrics["count"].Value)
}

func TestTrajectoryMetricsPerTrial(t *testing.T) {
	t.Parallel()

	builder := &fakeBuilder{turns: singleTurn()}
	b := &fakeBench{tasks: namedTasks("only")}

	h := New(agent.Agent{ID: "demo", Command: []string{"x"}}, b, builder, nil, newTestStore(t),
		Options{TrialCount: 2, Concurrency: 2}, quietLogger())
	h.WithTrajectoryMetric("turns", metric.Turns)

	result, err := h.Run(context.Background())
	require.NoError(t, err)

	only := result.Tasks[0]
	require.NoError(t, only.Err)
	values := only.TrajectoryMetrics["turns"]
	require.Len(t, values, 2)
	for _, v := range values {
		assert.Equal(t, 1, v.Value)
	}
}
