// Package runner executes one trail end to end: sandbox build, agent
// session, prompting loop, grading, and raw-log persistence.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trailbench/trailbench/internal/agent"
	"github.com/trailbench/trailbench/internal/grader"
	"github.com/trailbench/trailbench/internal/protocol"
	"github.com/trailbench/trailbench/internal/sandbox"
	"github.com/trailbench/trailbench/internal/store"
	"github.com/trailbench/trailbench/internal/task"
	"github.com/trailbench/trailbench/internal/trajectory"
)

// TrialOutcome is the immutable product of one trail execution.
type TrialOutcome struct {
	TaskID     string
	TrialIndex int

	// Outcomes holds each grader's normalized result, keyed by grader id.
	Outcomes map[string]grader.Outcome

	// Updates is the trial's verbatim raw update log.
	Updates []protocol.SessionUpdate

	// LogPath is where the raw log was persisted.
	LogPath string
}

// TrailRunner runs a single trail.
type TrailRunner struct {
	Agent           agent.Agent
	Builder         sandbox.Builder
	Dialer          agent.Dialer
	Store           *store.Store
	Graders         grader.Registry
	ConcurrentGrade bool
	Containerfile   string
	Logger          *slog.Logger
}

// Run drives the trail through its whole lifecycle. Any fault aborts this
// trail only; the caller decides what failure means for the run.
func (r *TrailRunner) Run(ctx context.Context, trail task.Trail) (*TrialOutcome, error) {
	tk := trail.Task
	logger := r.Logger.With("task", tk.Metadata.ID, "trial", trail.Index)

	containerfile := r.Agent.FormatContainerfile(trail.ResolveContainerfile(r.Containerfile))
	sb, err := r.Builder.Build(ctx, containerfile, sandbox.BuildOptions{
		Tag:        trail.ImageTag(),
		ContextDir: tk.RootPath,
	})
	if err != nil {
		return nil, fmt.Errorf("building sandbox: %w", err)
	}

	var outcome *TrialOutcome
	err = sb.Run(ctx, func(ctx context.Context) error {
		var runErr error
		outcome, runErr = r.runInSandbox(ctx, trail, sb, logger)
		return runErr
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (r *TrailRunner) runInSandbox(ctx context.Context, trail task.Trail, sb sandbox.Sandbox, logger *slog.Logger) (*TrialOutcome, error) {
	tk := trail.Task

	if err := r.stageArtifacts(ctx, sb); err != nil {
		return nil, err
	}

	if tk.Setup != nil {
		if err := tk.Setup(ctx, sb); err != nil {
			return nil, fmt.Errorf("task setup: %w", err)
		}
	}

	client := agent.NewClient()
	defer client.Close()

	conn, err := sb.LaunchSession(ctx, client, r.Dialer, r.Agent.FormatCommand(), sandbox.SessionOptions{
		Cwd: tk.Workdir(),
		Env: mergeEnv(tk.ContainerEnv, r.Agent.Env),
	})
	if err != nil {
		return nil, fmt.Errorf("launching agent session: %w", err)
	}
	defer func() { _ = conn.Close() }()

	sessionID, err := conn.NewSession(ctx, tk.Workdir(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	// The pump owns builder mutations; snapshots for the prompting loop are
	// taken under the same lock.
	var mu sync.Mutex
	builder := trajectory.NewBuilder()
	pumpErr := make(chan error, 1)
	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()

	go func() {
		defer close(pumpErr)
		for {
			select {
			case <-pumpCtx.Done():
				return
			case update, ok := <-client.Updates(sessionID):
				if !ok {
					return
				}
				mu.Lock()
				err := builder.Append(update)
				mu.Unlock()
				if err != nil {
					pumpErr <- err
					return
				}
			}
		}
	}()

	snapshot := func() *trajectory.Trajectory {
		mu.Lock()
		defer mu.Unlock()
		traj := builder.Build()
		return &traj
	}

	for {
		if err := drainPumpErr(pumpErr); err != nil {
			return nil, err
		}
		blocks, err := tk.NextPrompt(ctx, snapshot())
		if err != nil {
			return nil, fmt.Errorf("invoking prompt: %w", err)
		}
		if len(blocks) == 0 {
			break
		}
		stopReason, err := conn.Prompt(ctx, sessionID, blocks)
		if err != nil {
			return nil, fmt.Errorf("prompting agent: %w", err)
		}
		logger.Debug("prompt turn finished", "stop_reason", stopReason)

		// The wire layer delivers a turn's updates before the prompt
		// response, so the turn is fully applied once the stream drains.
		if err := waitStreamDrained(ctx, client, sessionID, pumpErr); err != nil {
			return nil, err
		}
	}

	stopPump()
	if err := <-pumpErr; err != nil {
		return nil, err
	}

	mu.Lock()
	traj := builder.Build()
	updates := builder.Updates()
	mu.Unlock()

	outcomes, err := r.grade(ctx, grader.Context{Task: tk, Trajectory: &traj, Sandbox: sb, Logger: r.Logger})
	if err != nil {
		return nil, err
	}

	logPath, err := r.Store.SaveTrial(tk.Metadata.ID, trail.Index, updates)
	if err != nil {
		return nil, fmt.Errorf("persisting raw log: %w", err)
	}

	return &TrialOutcome{
		TaskID:     tk.Metadata.ID,
		TrialIndex: trail.Index,
		Outcomes:   outcomes,
		Updates:    updates,
		LogPath:    logPath,
	}, nil
}

// stageArtifacts uploads the agent's config and credential files
// concurrently.
func (r *TrailRunner) stageArtifacts(ctx context.Context, sb sandbox.Sandbox) error {
	g, ctx := errgroup.WithContext(ctx)
	if r.Agent.ConfigPath != "" && r.Agent.ConfigDest != "" {
		g.Go(func() error {
			return sb.UploadFile(ctx, r.Agent.ConfigPath, r.Agent.ConfigDest)
		})
	}
	if r.Agent.CredentialPath != "" && r.Agent.CredentialDest != "" {
		g.Go(func() error {
			return sb.UploadFile(ctx, r.Agent.CredentialPath, r.Agent.CredentialDest)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("staging agent artifacts: %w", err)
	}
	return nil
}

// grade runs every registered grader, sequentially by default. Sequential
// order is registration order so graders may depend on earlier ones.
func (r *TrailRunner) grade(ctx context.Context, gc grader.Context) (map[string]grader.Outcome, error) {
	outcomes := make(map[string]grader.Outcome, r.Graders.Len())

	if !r.ConcurrentGrade {
		for _, id := range r.Graders.IDs() {
			g, _ := r.Graders.Get(id)
			raw, err := g.Grade(ctx, gc)
			if err != nil {
				return nil, &grader.Fault{GraderID: id, Err: err}
			}
			outcomes[id] = grader.Ensure(raw)
		}
		return outcomes, nil
	}

	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	for _, id := range r.Graders.IDs() {
		g, _ := r.Graders.Get(id)
		eg.Go(func() error {
			raw, err := g.Grade(ctx, gc)
			if err != nil {
				return &grader.Fault{GraderID: id, Err: err}
			}
			mu.Lock()
			outcomes[id] = grader.Ensure(raw)
			mu.Unlock()
			return nil
		})
	}
	// One grading fault discards the whole trial's grading.
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func waitStreamDrained(ctx context.Context, client *agent.Client, sessionID string, pumpErr <-chan error) error {
	for {
		if err := drainPumpErr(pumpErr); err != nil {
			return err
		}
		if len(client.Updates(sessionID)) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func drainPumpErr(pumpErr <-chan error) error {
	select {
	case err, ok := <-pumpErr:
		if ok && err != nil {
			return err
		}
		return nil
	default:
		return nil
	}
}

func mergeEnv(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range extra {
		merged[key] = value
	}
	return merged
}
