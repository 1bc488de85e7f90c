package runner

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailbench/trailbench/internal/agent"
	"github.com/trailbench/trailbench/internal/grader"
	"github.com/trailbench/trailbench/internal/protocol"
	"github.com/trailbench/trailbench/internal/sandbox"
	"github.com/trailbench/trailbench/internal/store"
	"github.com/trailbench/trailbench/internal/task"
	"github.com/trailbench/trailbench/internal/trajectory"
)

// scriptedConn replays one scripted turn of updates per Prompt call.
type scriptedConn struct {
	client *agent.Client
	turns  [][]protocol.SessionUpdate
	turn   int
	closed bool
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

func (c *scriptedConn) Close() error {
	c.closed = true
	return nil
}

type fakeSandbox struct {
	turns [][]protocol.SessionUpdate

	uploads  map[string]string
	conn     *scriptedConn
	tornDown bool
	setupRan bool
}

func newFakeSandbox(turns ...[]protocol.SessionUpdate) *fakeSandbox {
	return &fakeSandbox{turns: turns, uploads: map[string]string{}}
}

func (f *fakeSandbox) ReadFile(context.Context, string) (string, error) { return "", nil }
func (f *fakeSandbox) ReadFileRange(context.Context, string, int, int) (string, error) {
	return "", nil
}
func (f *fakeSandbox) WriteFile(context.Context, string, string) error { return nil }
func (f *fakeSandbox) DownloadFile(context.Context, string, string) error {
	return nil
}
func (f *fakeSandbox) Exists(context.Context, string) (bool, error) { return true, nil }

func (f *fakeSandbox) UploadFile(_ context.Context, localPath, remotePath string) error {
	f.uploads[localPath] = remotePath
	return nil
}

func (f *fakeSandbox) Terminal([]string, sandbox.TerminalOptions) sandbox.Terminal {
	return nil
}

func (f *fakeSandbox) LaunchSession(_ context.Context, client *agent.Client, _ agent.Dialer, _ []string, _ sandbox.SessionOptions) (agent.Connection, error) {
	f.conn = &scriptedConn{client: client, turns: f.turns}
	return f.conn, nil
}

func (f *fakeSandbox) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	defer func() { f.tornDown = true }()
	return fn(ctx)
}

type fakeBuilder struct {
	sandbox       *fakeSandbox
	containerfile string
	opts          sandbox.BuildOptions
}

func (f *fakeBuilder) Build(_ context.Context, containerfile string, opts sandbox.BuildOptions) (sandbox.Sandbox, error) {
	f.containerfile = containerfile
	f.opts = opts
	return f.sandbox, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRunStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir(), "agent", "bench")
	require.NoError(t, err)
	return s
}

func demoTask(id string) *task.Task {
	return &task.Task{
		Metadata: task.Metadata{ID: id},
		Prompt:   task.Static(protocol.Text("fix the failing test")),
	}
}

func oneTurn() []protocol.SessionUpdate {
	return []protocol.SessionUpdate{
		protocol.AgentThoughtChunk{Content: protocol.TextContent{Text: "looking at the test"}},
		protocol.ToolCallStart{ToolCallID: "call-1", Title: "read main.go", Kind: protocol.ToolKindRead, Status: protocol.ToolCallInProgress},
		completedProgress("call-1"),
		protocol.AgentMessageChunk{Content: protocol.TextContent{Text: "fixed"}},
	}
}

func completedProgress(id string) protocol.SessionUpdate {
	status := protocol.ToolCallCompleted
	return protocol.ToolCallProgress{ToolCallID: id, Status: &status}
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	sb := newFakeSandbox(oneTurn())
	builder := &fakeBuilder{sandbox: sb}
	runStore := newRunStore(t)

	graded := grader.Func(func(_ context.Context, gc grader.Context) (any, error) {
		require.NotNil(t, gc.Trajectory)
		assert.False(t, gc.Trajectory.Empty())
		return true, nil
	})

	r := &TrailRunner{
		Agent: agent.Agent{
			ID:           "demo",
			Command:      []string{"demo-agent", "--acp"},
			ConfigPath:   "/host/config.toml",
			ConfigDest:   "/root/.config/demo/config.toml",
			InstallBlock: "RUN install-demo-agent",
		},
		Builder:       builder,
		Store:         runStore,
		Graders:       grader.Registry{}.With("correctness", graded),
		Containerfile: "FROM base\n{agent_install}\n",
		Logger:        discardLogger(),
	}

	outcome, err := r.Run(context.Background(), task.Trail{Index: 0, Task: demoTask("demo-task")})
	require.NoError(t, err)

	assert.Equal(t, "demo-task", outcome.TaskID)
	assert.True(t, outcome.Outcomes["correctness"].Bool())
	assert.Len(t, outcome.Updates, 4)

	// Containerfile resolution substitutes the agent install block.
	assert.Equal(t, "FROM base\nRUN install-demo-agent\n", builder.containerfile)
	assert.Equal(t, "demo-task_0", builder.opts.Tag)

	// Config staging, session close, and sandbox teardown all happened.
	assert.Equal(t, "/root/.config/demo/config.toml", sb.uploads["/host/config.toml"])
	assert.True(t, sb.conn.closed)
	assert.True(t, sb.tornDown)
}

func TestRunPersistsReplayableLog(t *testing.T) {
	t.Parallel()

	sb := newFakeSandbox(oneTurn())
	runStore := newRunStore(t)

	r := &TrailRunner{
		Agent:   agent.Agent{ID: "demo", Command: []string{"demo-agent"}},
		Builder: &fakeBuilder{sandbox: sb},
		Store:   runStore,
		Logger:  discardLogger(),
	}

	outcome, err := r.Run(context.Background(), task.Trail{Index: 1, Task: demoTask("replay-task")})
	require.NoError(t, err)

	persisted, err := runStore.LoadTrial("replay-task", 1)
	require.NoError(t, err)
	require.Equal(t, outcome.Updates, persisted)

	live, err := trajectory.BuildFrom(outcome.Updates)
	require.NoError(t, err)
	replayed, err := trajectory.BuildFrom(persisted)
	require.NoError(t, err)
	assert.True(t, reflect.DeepEqual(live, replayed), "replayed trajectory differs from live one")

	// Thought + completed tool call end the first group, the closing agent
	// message opens a second.
	require.Len(t, replayed.Groups, 2)
}

func TestRunGraderFaultAbortsTrial(t *testing.T) {
	t.Parallel()

	sb := newFakeSandbox(oneTurn())
	failing := grader.Func(func(context.Context, grader.Context) (any, error) {
		return nil, errors.New("tests did not run")
	})

	r := &TrailRunner{
		Agent:   agent.Agent{ID: "demo", Command: []string{"demo-agent"}},
		Builder: &fakeBuilder{sandbox: sb},
		Store:   newRunStore(t),
		Graders: grader.Registry{}.With("broken", failing),
		Logger:  discardLogger(),
	}

	_, err := r.Run(context.Background(), task.Trail{Index: 0, Task: demoTask("faulty")})
	require.Error(t, err)

	var fault *grader.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "broken", fault.GraderID)
	assert.True(t, sb.tornDown, "teardown must run on grading failure")

	// A failed trial leaves no persisted log behind.
	_, statErr := os.Stat(r.Store.TrialPath("faulty", 0))
	assert.True(t, errors.Is(statErr, fs.ErrNotExist))
}

func TestRunProtocolViolationAbortsTrial(t *testing.T) {
	t.Parallel()

	violating := []protocol.SessionUpdate{
		protocol.AgentMessageChunk{Content: protocol.TextContent{Text: "hi"}},
		completedProgress("never-started"),
	}
	sb := newFakeSandbox(violating)

	r := &TrailRunner{
		Agent:   agent.Agent{ID: "demo", Command: []string{"demo-agent"}},
		Builder: &fakeBuilder{sandbox: sb},
		Store:   newRunStore(t),
		Logger:  discardLogger(),
	}

	_, err := r.Run(context.Background(), task.Trail{Index: 0, Task: demoTask("violator")})
	require.Error(t, err)

	var violation *trajectory.ProtocolViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "never-started", violation.ToolCallID)
	assert.True(t, sb.tornDown)
}

func TestRunConcurrentGrading(t *testing.T) {
	t.Parallel()

	sb := newFakeSandbox(oneTurn())
	pass := grader.Func(func(context.Context, grader.Context) (any, error) { return true, nil })
	count := grader.Func(func(_ context.Context, gc grader.Context) (any, error) {
		return len(gc.Trajectory.Messages()), nil
	})

	r := &TrailRunner{
		Agent:           agent.Agent{ID: "demo", Command: []string{"demo-agent"}},
		Builder:         &fakeBuilder{sandbox: sb},
		Store:           newRunStore(t),
		Graders:         grader.Registry{}.With("pass", pass).With("messages", count),
		ConcurrentGrade: true,
		Logger:          discardLogger(),
	}

	outcome, err := r.Run(context.Background(), task.Trail{Index: 0, Task: demoTask("multi-grade")})
	require.NoError(t, err)
	require.Len(t, outcome.Outcomes, 2)
	assert.True(t, outcome.Outcomes["pass"].Bool())
	assert.Equal(t, 3, outcome.Outcomes["messages"].Value)
}

func TestTaskSetupRunsBeforeSession(t *testing.T) {
	t.Parallel()

	sb := newFakeSandbox(oneTurn())
	tk := demoTask("with-setup")
	tk.Setup = func(_ context.Context, got sandbox.Sandbox) error {
		require.Same(t, sb, got)
		sb.setupRan = true
		return nil
	}

	r := &TrailRunner{
		Agent:   agent.Agent{ID: "demo", Command: []string{"demo-agent"}},
		Builder: &fakeBuilder{sandbox: sb},
		Store:   newRunStore(t),
		Logger:  discardLogger(),
	}

	_, err := r.Run(context.Background(), task.Trail{Index: 0, Task: tk})
	require.NoError(t, err)
	assert.True(t, sb.setupRan)
}
