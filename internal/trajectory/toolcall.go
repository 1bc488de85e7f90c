package trajectory

import "github.com/trailbench/trailbench/internal/protocol"

// toolCallTracker accumulates one tool call's evolving fields across progress
// updates until it reaches a terminal status.
type toolCallTracker struct {
	id      string
	title   string
	kind    protocol.ToolKind
	status  protocol.ToolCallStatus
	content []protocol.ToolCallContent
}

func newToolCallTracker(start protocol.ToolCallStart) *toolCallTracker {
	tracker := &toolCallTracker{
		id:     start.ToolCallID,
		title:  start.Title,
		kind:   start.Kind,
		status: start.Status,
	}
	if start.Content != nil {
		tracker.content = append([]protocol.ToolCallContent(nil), start.Content...)
	}
	return tracker
}

// apply overwrites only the fields the progress event sets. A present content
// list replaces the stored content wholesale, never appends.
func (t *toolCallTracker) apply(progress protocol.ToolCallProgress) {
	if progress.Title != nil {
		t.title = *progress.Title
	}
	if progress.Kind != nil {
		t.kind = *progress.Kind
	}
	if progress.Status != nil {
		t.status = *progress.Status
	}
	if progress.Content != nil {
		t.content = append([]protocol.ToolCallContent(nil), progress.Content...)
	}
}

func (t *toolCallTracker) complete() bool {
	return t.status.Terminal()
}

// build returns the tool call in its current state. It is idempotent and
// valid to call on trackers that never reached completion.
func (t *toolCallTracker) build() ToolCall {
	return ToolCall{
		ID:      t.id,
		Title:   t.title,
		Kind:    t.kind,
		Status:  t.status,
		Content: append([]protocol.ToolCallContent(nil), t.content...),
	}
}
