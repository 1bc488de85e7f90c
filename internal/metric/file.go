package metric

import (
	"context"
	"sort"
	"strings"

	"github.com/trailbench/trailbench/internal/protocol"
	"github.com/trailbench/trailbench/internal/trajectory"
)

func toolContents(traj *trajectory.Trajectory) []protocol.ToolCallContent {
	var contents []protocol.ToolCallContent
	for _, msg := range traj.Messages() {
		if call, ok := msg.(trajectory.ToolCall); ok {
			contents = append(contents, call.Content...)
		}
	}
	return contents
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// FilesRead lists unique files surfaced through tool-call resource content,
// identified by file:// URIs.
var FilesRead TrajectoryMetric = TrajectoryFunc(func(_ context.Context, traj *trajectory.Trajectory) (any, error) {
	files := map[string]struct{}{}
	for _, content := range toolContents(traj) {
		chunk, ok := content.(protocol.ContentChunk)
		if !ok {
			continue
		}
		var uri string
		switch block := chunk.Content.(type) {
		case protocol.ResourceContent:
			uri = block.URI
		case protocol.EmbeddedResourceContent:
			uri = block.URI
		default:
			continue
		}
		files[strings.TrimPrefix(uri, "file://")] = struct{}{}
	}
	return sortedKeys(files), nil
})

// FilesEdited lists unique files touched by file-edit tool-call content.
var FilesEdited TrajectoryMetric = TrajectoryFunc(func(_ context.Context, traj *trajectory.Trajectory) (any, error) {
	files := map[string]struct{}{}
	for _, content := range toolContents(traj) {
		if edit, ok := content.(protocol.FileEditContent); ok {
			files[edit.Diff.Path] = struct{}{}
		}
	}
	return sortedKeys(files), nil
})

// ToolKindStats counts tool calls by kind.
var ToolKindStats TrajectoryMetric = TrajectoryFunc(func(_ context.Context, traj *trajectory.Trajectory) (any, error) {
	stats := map[string]int{}
	for _, msg := range traj.Messages() {
		call, ok := msg.(trajectory.ToolCall)
		if !ok || call.Kind == "" {
			continue
		}
		stats[string(call.Kind)]++
	}
	return stats, nil
})
