package protocol

import (
	"encoding/json"
	"fmt"
)

// StopReason explains why the agent ended a prompt turn.
type StopReason string

const (
	StopEndTurn         StopReason = "end_turn"
	StopMaxTokens       StopReason = "max_tokens"
	StopMaxTurnRequests StopReason = "max_turn_requests"
	StopRefusal         StopReason = "refusal"
	StopCancelled       StopReason = "cancelled"
)

// SessionUpdate is one event from an agent session's update stream.
type SessionUpdate interface {
	isSessionUpdate()
}

// UserMessageChunk is a fragment of a user message echoed by the agent.
type UserMessageChunk struct {
	Content ContentBlock
}

// AgentMessageChunk is a fragment of the agent's visible response.
type AgentMessageChunk struct {
	Content ContentBlock
}

// AgentThoughtChunk is a fragment of the agent's reasoning.
type AgentThoughtChunk struct {
	Content ContentBlock
}

// ToolCallStart announces a new tool call.
type ToolCallStart struct {
	ToolCallID string
	Title      string
	Kind       ToolKind
	Status     ToolCallStatus
	Content    []ToolCallContent
}

// ToolCallProgress reports changes to a previously started tool call.
// Nil fields were not present in the event and keep their prior value;
// a non-nil Content replaces the stored content wholesale.
type ToolCallProgress struct {
	ToolCallID string
	Title      *string
	Kind       *ToolKind
	Status     *ToolCallStatus
	Content    []ToolCallContent
}

// OtherUpdate is an update kind the harness does not interpret (plans,
// available commands, mode changes). The raw event is retained verbatim so
// persisted logs replay byte-for-byte.
type OtherUpdate struct {
	Kind string
	Raw  json.RawMessage
}

func (UserMessageChunk) isSessionUpdate()  {}
func (AgentMessageChunk) isSessionUpdate() {}
func (AgentThoughtChunk) isSessionUpdate() {}
func (ToolCallStart) isSessionUpdate()     {}
func (ToolCallProgress) isSessionUpdate()  {}
func (OtherUpdate) isSessionUpdate()       {}

// Wire discriminators for session updates.
const (
	updateKindUserChunk    = "user_message_chunk"
	updateKindAgentChunk   = "agent_message_chunk"
	updateKindThoughtChunk = "agent_thought_chunk"
	updateKindToolCall     = "tool_call"
	updateKindToolProgress = "tool_call_update"
)

type updateEnvelope struct {
	Kind       string              `json:"sessionUpdate"`
	Content    json.RawMessage     `json:"content,omitempty"`
	ToolCallID string              `json:"toolCallId,omitempty"`
	Title      *string             `json:"title,omitempty"`
	ToolKind   *ToolKind           `json:"kind,omitempty"`
	Status     *ToolCallStatus     `json:"status,omitempty"`
	ToolItems  *ToolCallContentList `json:"toolContent,omitempty"`
}

func toolItems(content []ToolCallContent) *ToolCallContentList {
	if content == nil {
		return nil
	}
	list := ToolCallContentList(content)
	return &list
}

// MarshalUpdate encodes a session update with its kind discriminator.
func MarshalUpdate(update SessionUpdate) ([]byte, error) {
	switch u := update.(type) {
	case UserMessageChunk:
		return marshalChunk(updateKindUserChunk, u.Content)
	case AgentMessageChunk:
		return marshalChunk(updateKindAgentChunk, u.Content)
	case AgentThoughtChunk:
		return marshalChunk(updateKindThoughtChunk, u.Content)
	case ToolCallStart:
		title := u.Title
		env := updateEnvelope{
			Kind:       updateKindToolCall,
			ToolCallID: u.ToolCallID,
			Title:      &title,
			ToolItems:  toolItems(u.Content),
		}
		if u.Kind != "" {
			kind := u.Kind
			env.ToolKind = &kind
		}
		if u.Status != "" {
			status := u.Status
			env.Status = &status
		}
		return json.Marshal(env)
	case ToolCallProgress:
		return json.Marshal(updateEnvelope{
			Kind:       updateKindToolProgress,
			ToolCallID: u.ToolCallID,
			Title:      u.Title,
			ToolKind:   u.Kind,
			Status:     u.Status,
			ToolItems:  toolItems(u.Content),
		})
	case OtherUpdate:
		return u.Raw, nil
	default:
		return nil, fmt.Errorf("unsupported session update %T", update)
	}
}

func marshalChunk(kind string, content ContentBlock) ([]byte, error) {
	inner, err := marshalContent(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(updateEnvelope{Kind: kind, Content: inner})
}

// UnmarshalUpdate decodes a session update by its kind discriminator.
// Unrecognized kinds decode to OtherUpdate with the raw bytes retained.
func UnmarshalUpdate(data []byte) (SessionUpdate, error) {
	var env updateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding session update: %w", err)
	}
	switch env.Kind {
	case updateKindUserChunk, updateKindAgentChunk, updateKindThoughtChunk:
		content, err := unmarshalContent(env.Content)
		if err != nil {
			return nil, err
		}
		switch env.Kind {
		case updateKindUserChunk:
			return UserMessageChunk{Content: content}, nil
		case updateKindAgentChunk:
			return AgentMessageChunk{Content: content}, nil
		default:
			return AgentThoughtChunk{Content: content}, nil
		}
	case updateKindToolCall:
		start := ToolCallStart{ToolCallID: env.ToolCallID}
		if env.ToolItems != nil {
			start.Content = []ToolCallContent(*env.ToolItems)
		}
		if env.Title != nil {
			start.Title = *env.Title
		}
		if env.ToolKind != nil {
			start.Kind = *env.ToolKind
		}
		if env.Status != nil {
			start.Status = *env.Status
		}
		return start, nil
	case updateKindToolProgress:
		progress := ToolCallProgress{
			ToolCallID: env.ToolCallID,
			Title:      env.Title,
			Kind:       env.ToolKind,
			Status:     env.Status,
		}
		if env.ToolItems != nil {
			progress.Content = []ToolCallContent(*env.ToolItems)
		}
		return progress, nil
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return OtherUpdate{Kind: env.Kind, Raw: raw}, nil
	}
}

// UpdateList is an ordered raw update log, round-trippable through JSON.
type UpdateList []SessionUpdate

// MarshalJSON encodes each update with its kind discriminator.
func (l UpdateList) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, len(l))
	for i, update := range l {
		data, err := MarshalUpdate(update)
		if err != nil {
			return nil, err
		}
		items[i] = data
	}
	return json.Marshal(items)
}

// UnmarshalJSON decodes updates by their kind discriminator.
func (l *UpdateList) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	updates := make([]SessionUpdate, len(items))
	for i, item := range items {
		update, err := UnmarshalUpdate(item)
		if err != nil {
			return err
		}
		updates[i] = update
	}
	*l = updates
	return nil
}
