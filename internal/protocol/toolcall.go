package protocol

import (
	"encoding/json"
	"fmt"
)

// ToolKind classifies what a tool call does.
type ToolKind string

const (
	ToolKindRead    ToolKind = "read"
	ToolKindEdit    ToolKind = "edit"
	ToolKindDelete  ToolKind = "delete"
	ToolKindMove    ToolKind = "move"
	ToolKindSearch  ToolKind = "search"
	ToolKindExecute ToolKind = "execute"
	ToolKindThink   ToolKind = "think"
	ToolKindFetch   ToolKind = "fetch"
	ToolKindOther   ToolKind = "other"
)

// ToolCallStatus is the lifecycle state of a tool call.
type ToolCallStatus string

const (
	ToolCallPending    ToolCallStatus = "pending"
	ToolCallInProgress ToolCallStatus = "in_progress"
	ToolCallCompleted  ToolCallStatus = "completed"
	ToolCallFailed     ToolCallStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s ToolCallStatus) Terminal() bool {
	return s == ToolCallCompleted || s == ToolCallFailed
}

// ToolCallContent is one piece of tool-call output.
type ToolCallContent interface {
	isToolCallContent()
}

// ContentChunk wraps a regular content block produced by a tool.
type ContentChunk struct {
	Content ContentBlock
}

// Diff describes a file edit.
type Diff struct {
	Path    string  `json:"path"`
	OldText *string `json:"oldText,omitempty"`
	NewText string  `json:"newText"`
}

// FileEditContent reports a file edit performed by a tool.
type FileEditContent struct {
	Diff Diff
}

// TerminalContent references a terminal the tool is running in.
type TerminalContent struct {
	TerminalID string
}

func (ContentChunk) isToolCallContent()    {}
func (FileEditContent) isToolCallContent() {}
func (TerminalContent) isToolCallContent() {}

const (
	toolContentTypeContent  = "content"
	toolContentTypeDiff     = "diff"
	toolContentTypeTerminal = "terminal"
)

type toolContentEnvelope struct {
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content,omitempty"`
	Path       string          `json:"path,omitempty"`
	OldText    *string         `json:"oldText,omitempty"`
	NewText    string          `json:"newText,omitempty"`
	TerminalID string          `json:"terminalId,omitempty"`
}

func marshalToolContent(content ToolCallContent) ([]byte, error) {
	switch c := content.(type) {
	case ContentChunk:
		inner, err := marshalContent(c.Content)
		if err != nil {
			return nil, err
		}
		return json.Marshal(toolContentEnvelope{Type: toolContentTypeContent, Content: inner})
	case FileEditContent:
		return json.Marshal(toolContentEnvelope{
			Type:    toolContentTypeDiff,
			Path:    c.Diff.Path,
			OldText: c.Diff.OldText,
			NewText: c.Diff.NewText,
		})
	case TerminalContent:
		return json.Marshal(toolContentEnvelope{Type: toolContentTypeTerminal, TerminalID: c.TerminalID})
	default:
		return nil, fmt.Errorf("unsupported tool call content %T", content)
	}
}

func unmarshalToolContent(data []byte) (ToolCallContent, error) {
	var env toolContentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding tool call content: %w", err)
	}
	switch env.Type {
	case toolContentTypeContent:
		inner, err := unmarshalContent(env.Content)
		if err != nil {
			return nil, err
		}
		return ContentChunk{Content: inner}, nil
	case toolContentTypeDiff:
		return FileEditContent{Diff: Diff{Path: env.Path, OldText: env.OldText, NewText: env.NewText}}, nil
	case toolContentTypeTerminal:
		return TerminalContent{TerminalID: env.TerminalID}, nil
	default:
		return nil, fmt.Errorf("unknown tool call content type %q", env.Type)
	}
}

// ToolCallContentList is a JSON-round-trippable slice of tool-call content.
type ToolCallContentList []ToolCallContent

// MarshalJSON encodes each entry with its type discriminator.
func (l ToolCallContentList) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, len(l))
	for i, content := range l {
		data, err := marshalToolContent(content)
		if err != nil {
			return nil, err
		}
		items[i] = data
	}
	return json.Marshal(items)
}

// UnmarshalJSON decodes entries by their type discriminator.
func (l *ToolCallContentList) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	contents := make([]ToolCallContent, len(items))
	for i, item := range items {
		content, err := unmarshalToolContent(item)
		if err != nil {
			return err
		}
		contents[i] = content
	}
	*l = contents
	return nil
}
