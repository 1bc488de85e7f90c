package metric

import (
	"context"

	"github.com/trailbench/trailbench/internal/protocol"
	"github.com/trailbench/trailbench/internal/trajectory"
)

// Turns counts agent turns, one per agent message.
var Turns TrajectoryMetric = TrajectoryFunc(func(_ context.Context, traj *trajectory.Trajectory) (any, error) {
	turns := 0
	for _, msg := range traj.Messages() {
		if _, ok := msg.(trajectory.AgentMessage); ok {
			turns++
		}
	}
	return turns, nil
})

// ToolCalls counts tool calls across the trajectory.
var ToolCalls TrajectoryMetric = TrajectoryFunc(func(_ context.Context, traj *trajectory.Trajectory) (any, error) {
	calls := 0
	for _, msg := range traj.Messages() {
		if _, ok := msg.(trajectory.ToolCall); ok {
			calls++
		}
	}
	return calls, nil
})

// ApproxTokens estimates total tokens as total text characters divided by
// four.
var ApproxTokens TrajectoryMetric = TrajectoryFunc(func(_ context.Context, traj *trajectory.Trajectory) (any, error) {
	chars := 0
	for _, msg := range traj.Messages() {
		var content []protocol.ContentBlock
		switch m := msg.(type) {
		case trajectory.UserMessage:
			content = m.Content
		case trajectory.AgentMessage:
			content = m.Content
		case trajectory.AgentThought:
			content = m.Content
		}
		for _, block := range content {
			if text, ok := block.(protocol.TextContent); ok {
				chars += len(text.Text)
			}
		}
	}
	return chars / 4, nil
})
