// Package trajectory reconstructs a grouped conversation history from an
// agent session's ordered update stream.
package trajectory

import "github.com/trailbench/trailbench/internal/protocol"

// Message is one semantically complete entry in a trajectory: a coalesced
// user/agent/thought message or a finished tool call.
type Message interface {
	isMessage()
}

// UserMessage is a user message assembled from consecutive user chunks.
type UserMessage struct {
	Content []protocol.ContentBlock
}

// AgentMessage is an agent response assembled from consecutive agent chunks.
type AgentMessage struct {
	Content []protocol.ContentBlock
}

// AgentThought is agent reasoning assembled from consecutive thought chunks.
type AgentThought struct {
	Content []protocol.ContentBlock
}

// ToolCall is the final state of one tool call.
type ToolCall struct {
	ID      string
	Title   string
	Kind    protocol.ToolKind
	Status  protocol.ToolCallStatus
	Content []protocol.ToolCallContent
}

func (UserMessage) isMessage()  {}
func (AgentMessage) isMessage() {}
func (AgentThought) isMessage() {}
func (ToolCall) isMessage()     {}

// MessageGroup holds the messages of one LLM interaction cycle. A cycle ends
// when a tool call completes or the turn ends.
type MessageGroup struct {
	Messages []Message
}

// Trajectory is the reconstructed, grouped conversation history of one trial.
type Trajectory struct {
	Groups []MessageGroup
}

// Messages returns the flattened message view across all groups.
func (t Trajectory) Messages() []Message {
	var messages []Message
	for _, group := range t.Groups {
		messages = append(messages, group.Messages...)
	}
	return messages
}

// Empty reports whether the trajectory has no groups yet.
func (t Trajectory) Empty() bool {
	return len(t.Groups) == 0
}
