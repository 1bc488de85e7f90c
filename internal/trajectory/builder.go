package trajectory

import (
	"fmt"

	"github.com/trailbench/trailbench/internal/protocol"
)

// ProtocolViolationError reports an update stream that breaks the session
// protocol's ordering guarantees. It is fatal to the trial.
type ProtocolViolationError struct {
	ToolCallID string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: progress update for unknown tool call id %q", e.ToolCallID)
}

// chunkKind indexes the three bufferable message kinds. The order is the
// fixed flush order.
type chunkKind int

const (
	userChunk chunkKind = iota
	agentChunk
	thoughtChunk
	chunkKinds
)

// Builder is the trajectory state machine. It consumes session updates
// strictly in arrival order and partitions the resulting messages into
// interaction-cycle groups. It is not safe for concurrent use.
type Builder struct {
	groups       [][]Message
	buffers      [chunkKinds][]protocol.ContentBlock
	trackers     map[string]*toolCallTracker
	trackerOrder []string
	updates      []protocol.SessionUpdate
}

// NewBuilder returns an empty builder with one open group.
func NewBuilder() *Builder {
	return &Builder{
		groups:   [][]Message{nil},
		trackers: make(map[string]*toolCallTracker),
	}
}

// Append processes one session update. A progress update for an unknown tool
// call id returns a ProtocolViolationError and leaves all state, including
// the raw update log, unmutated.
func (b *Builder) Append(update protocol.SessionUpdate) error {
	if progress, ok := update.(protocol.ToolCallProgress); ok {
		if _, known := b.trackers[progress.ToolCallID]; !known {
			return &ProtocolViolationError{ToolCallID: progress.ToolCallID}
		}
	}

	b.updates = append(b.updates, update)

	switch u := update.(type) {
	case protocol.UserMessageChunk:
		b.appendChunk(userChunk, u.Content)
	case protocol.AgentMessageChunk:
		b.appendChunk(agentChunk, u.Content)
	case protocol.AgentThoughtChunk:
		b.appendChunk(thoughtChunk, u.Content)
	case protocol.ToolCallStart:
		b.flushBuffers(chunkKinds)
		tracker := newToolCallTracker(u)
		b.trackers[u.ToolCallID] = tracker
		b.trackerOrder = append(b.trackerOrder, u.ToolCallID)
	case protocol.ToolCallProgress:
		tracker := b.trackers[u.ToolCallID]
		tracker.apply(u)
		if tracker.complete() {
			b.appendToCurrent(tracker.build())
			b.removeTracker(u.ToolCallID)
			// A completed tool call always ends the interaction cycle.
			b.groups = append(b.groups, nil)
		}
	default:
		// Informational kinds carry no trajectory state, but stay in the log.
	}
	return nil
}

// appendChunk flushes every open buffer except the matching kind, then
// coalesces the chunk into that buffer.
func (b *Builder) appendChunk(kind chunkKind, content protocol.ContentBlock) {
	b.flushBuffers(kind)
	b.buffers[kind] = append(b.buffers[kind], content)
}

// flushBuffers closes open buffers into the current group in the fixed order
// user, agent, thought, keeping the given kind open. Pass chunkKinds to flush
// everything.
func (b *Builder) flushBuffers(keep chunkKind) {
	for kind := userChunk; kind < chunkKinds; kind++ {
		if kind == keep || len(b.buffers[kind]) == 0 {
			continue
		}
		b.appendToCurrent(bufferedMessage(kind, b.buffers[kind]))
		b.buffers[kind] = nil
	}
}

func (b *Builder) appendToCurrent(msg Message) {
	last := len(b.groups) - 1
	b.groups[last] = append(b.groups[last], msg)
}

func (b *Builder) removeTracker(id string) {
	delete(b.trackers, id)
	for i, other := range b.trackerOrder {
		if other == id {
			b.trackerOrder = append(b.trackerOrder[:i], b.trackerOrder[i+1:]...)
			break
		}
	}
}

func bufferedMessage(kind chunkKind, content []protocol.ContentBlock) Message {
	blocks := append([]protocol.ContentBlock(nil), content...)
	switch kind {
	case userChunk:
		return UserMessage{Content: blocks}
	case agentChunk:
		return AgentMessage{Content: blocks}
	default:
		return AgentThought{Content: blocks}
	}
}

// Build finalizes a snapshot of the trajectory: open buffers are flushed in
// the fixed order and still-open trackers are appended in start order, even
// when incomplete. The builder itself is never mutated, so Build can serve as
// a live view after every update without corrupting later processing.
func (b *Builder) Build() Trajectory {
	groups := make([][]Message, len(b.groups))
	for i, group := range b.groups {
		groups[i] = append([]Message(nil), group...)
	}

	last := len(groups) - 1
	for kind := userChunk; kind < chunkKinds; kind++ {
		if len(b.buffers[kind]) > 0 {
			groups[last] = append(groups[last], bufferedMessage(kind, b.buffers[kind]))
		}
	}
	for _, id := range b.trackerOrder {
		groups[last] = append(groups[last], b.trackers[id].build())
	}

	var result Trajectory
	for _, group := range groups {
		if len(group) > 0 {
			result.Groups = append(result.Groups, MessageGroup{Messages: group})
		}
	}
	return result
}

// Updates returns a copy of the raw update log consumed so far.
func (b *Builder) Updates() []protocol.SessionUpdate {
	return append([]protocol.SessionUpdate(nil), b.updates...)
}

// BuildFrom replays a persisted update sequence through a fresh builder.
// Rebuilding from a raw log yields the same trajectory as live incremental
// construction over the same sequence.
func BuildFrom(updates []protocol.SessionUpdate) (Trajectory, error) {
	builder := NewBuilder()
	for _, update := range updates {
		if err := builder.Append(update); err != nil {
			return Trajectory{}, err
		}
	}
	return builder.Build(), nil
}
