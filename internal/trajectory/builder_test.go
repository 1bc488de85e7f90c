package trajectory

import (
	"errors"
	"reflect"
	"testing"

	"github.com/trailbench/trailbench/internal/protocol"
)

func text(s string) protocol.ContentBlock {
	return protocol.TextContent{Text: s}
}

func mustAppend(t *testing.T, b *Builder, updates ...protocol.SessionUpdate) {
	t.Helper()
	for _, u := range updates {
		if err := b.Append(u); err != nil {
			t.Fatalf("Append(%T): %v", u, err)
		}
	}
}

func completedProgress(id string) protocol.ToolCallProgress {
	status := protocol.ToolCallCompleted
	return protocol.ToolCallProgress{ToolCallID: id, Status: &status}
}

func TestCoalescingConsecutiveChunks(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	mustAppend(t, b,
		protocol.AgentMessageChunk{Content: text("A")},
		protocol.AgentMessageChunk{Content: text("B")},
	)

	traj := b.Build()
	if len(traj.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(traj.Groups))
	}
	msgs := traj.Groups[0].Messages
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	agent, ok := msgs[0].(AgentMessage)
	if !ok {
		t.Fatalf("message = %T, want AgentMessage", msgs[0])
	}
	want := []protocol.ContentBlock{text("A"), text("B")}
	if !reflect.DeepEqual(agent.Content, want) {
		t.Errorf("content = %v, want %v", agent.Content, want)
	}
}

func TestKindSwitchFlushesPreviousBuffer(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	mustAppend(t, b,
		protocol.UserMessageChunk{Content: text("x")},
		protocol.AgentMessageChunk{Content: text("y")},
	)

	traj := b.Build()
	if len(traj.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(traj.Groups))
	}
	msgs := traj.Groups[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if _, ok := msgs[0].(UserMessage); !ok {
		t.Errorf("messages[0] = %T, want UserMessage", msgs[0])
	}
	if _, ok := msgs[1].(AgentMessage); !ok {
		t.Errorf("messages[1] = %T, want AgentMessage", msgs[1])
	}
}

func TestCompletedToolCallEndsGroup(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	mustAppend(t, b,
		protocol.AgentThoughtChunk{Content: text("t")},
		protocol.ToolCallStart{ToolCallID: "1", Title: "run tests", Kind: protocol.ToolKindExecute},
		completedProgress("1"),
		protocol.AgentMessageChunk{Content: text("done")},
	)

	traj := b.Build()
	if len(traj.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(traj.Groups))
	}

	first := traj.Groups[0].Messages
	if len(first) != 2 {
		t.Fatalf("first group messages = %d, want 2", len(first))
	}
	if _, ok := first[0].(AgentThought); !ok {
		t.Errorf("first[0] = %T, want AgentThought", first[0])
	}
	call, ok := first[1].(ToolCall)
	if !ok {
		t.Fatalf("first[1] = %T, want ToolCall", first[1])
	}
	if call.ID != "1" || call.Status != protocol.ToolCallCompleted {
		t.Errorf("tool call = %+v, want id 1 completed", call)
	}

	second := traj.Groups[1].Messages
	if len(second) != 1 {
		t.Fatalf("second group messages = %d, want 1", len(second))
	}
	if _, ok := second[0].(AgentMessage); !ok {
		t.Errorf("second[0] = %T, want AgentMessage", second[0])
	}
}

func TestProgressOverwritesOnlySetFields(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	mustAppend(t, b, protocol.ToolCallStart{
		ToolCallID: "1",
		Title:      "read",
		Kind:       protocol.ToolKindRead,
		Status:     protocol.ToolCallInProgress,
		Content: []protocol.ToolCallContent{
			protocol.ContentChunk{Content: text("old")},
		},
	})

	// Status-only progress keeps title, kind, and content.
	status := protocol.ToolCallFailed
	mustAppend(t, b, protocol.ToolCallProgress{ToolCallID: "1", Status: &status})

	traj := b.Build()
	call := traj.Groups[0].Messages[0].(ToolCall)
	if call.Title != "read" || call.Kind != protocol.ToolKindRead {
		t.Errorf("call = %+v, unset fields should keep prior values", call)
	}
	if call.Status != protocol.ToolCallFailed {
		t.Errorf("status = %q, want failed", call.Status)
	}
	if len(call.Content) != 1 {
		t.Errorf("content = %v, want the original single chunk", call.Content)
	}
}

func TestProgressContentReplacesWholesale(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	mustAppend(t, b, protocol.ToolCallStart{
		ToolCallID: "1",
		Title:      "edit",
		Content: []protocol.ToolCallContent{
			protocol.ContentChunk{Content: text("one")},
			protocol.ContentChunk{Content: text("two")},
		},
	})

	status := protocol.ToolCallCompleted
	mustAppend(t, b, protocol.ToolCallProgress{
		ToolCallID: "1",
		Status:     &status,
		Content: []protocol.ToolCallContent{
			protocol.ContentChunk{Content: text("replacement")},
		},
	})

	call := b.Build().Groups[0].Messages[0].(ToolCall)
	if len(call.Content) != 1 {
		t.Fatalf("content length = %d, want 1 (replaced, not appended)", len(call.Content))
	}
}

func TestUnknownToolCallIDIsProtocolViolation(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	mustAppend(t, b, protocol.AgentMessageChunk{Content: text("before")})
	before := b.Build()

	err := b.Append(completedProgress("missing"))
	var violation *ProtocolViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("err = %v, want ProtocolViolationError", err)
	}
	if violation.ToolCallID != "missing" {
		t.Errorf("ToolCallID = %q, want missing", violation.ToolCallID)
	}

	// The trajectory and raw log are unmutated.
	if !reflect.DeepEqual(b.Build(), before) {
		t.Error("trajectory mutated by rejected update")
	}
	if len(b.Updates()) != 1 {
		t.Errorf("raw log has %d updates, want 1", len(b.Updates()))
	}
}

func TestBuildIsNonDestructiveSnapshot(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	mustAppend(t, b, protocol.AgentMessageChunk{Content: text("partial")})

	// A live view mid-buffer must not drain the buffer.
	live := b.Build()
	if len(live.Groups) != 1 {
		t.Fatalf("live groups = %d, want 1", len(live.Groups))
	}

	mustAppend(t, b, protocol.AgentMessageChunk{Content: text(" more")})
	final := b.Build()
	agent := final.Groups[0].Messages[0].(AgentMessage)
	if len(agent.Content) != 2 {
		t.Errorf("content blocks = %d, want 2 (coalescing survived snapshot)", len(agent.Content))
	}

	if !reflect.DeepEqual(b.Build(), final) {
		t.Error("repeated Build calls disagree")
	}
}

func TestBuildIncludesIncompleteTrackers(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	mustAppend(t, b,
		protocol.ToolCallStart{ToolCallID: "a", Title: "first", Status: protocol.ToolCallInProgress},
		protocol.ToolCallStart{ToolCallID: "b", Title: "second", Status: protocol.ToolCallPending},
	)

	traj := b.Build()
	msgs := traj.Groups[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2 incomplete tool calls", len(msgs))
	}
	if msgs[0].(ToolCall).ID != "a" || msgs[1].(ToolCall).ID != "b" {
		t.Errorf("incomplete tool calls out of start order: %+v", msgs)
	}
}

func TestIgnoredKindsKeptInRawLogOnly(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	mustAppend(t, b,
		protocol.OtherUpdate{Kind: "plan", Raw: []byte(`{"sessionUpdate":"plan"}`)},
		protocol.AgentMessageChunk{Content: text("hi")},
	)

	traj := b.Build()
	if len(traj.Groups) != 1 || len(traj.Groups[0].Messages) != 1 {
		t.Errorf("ignored update leaked into trajectory: %+v", traj)
	}
	if len(b.Updates()) != 2 {
		t.Errorf("raw log has %d updates, want 2", len(b.Updates()))
	}
}

func TestReplayInvariant(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	status := protocol.ToolCallCompleted
	mustAppend(t, b,
		protocol.UserMessageChunk{Content: text("solve it")},
		protocol.AgentThoughtChunk{Content: text("planning")},
		protocol.AgentThoughtChunk{Content: text(" steps")},
		protocol.ToolCallStart{ToolCallID: "1", Title: "edit", Kind: protocol.ToolKindEdit},
		protocol.ToolCallProgress{ToolCallID: "1", Status: &status},
		protocol.AgentMessageChunk{Content: text("all done")},
		protocol.OtherUpdate{Kind: "current_mode_update", Raw: []byte(`{"sessionUpdate":"current_mode_update"}`)},
	)
	live := b.Build()

	replayed, err := BuildFrom(b.Updates())
	if err != nil {
		t.Fatalf("BuildFrom: %v", err)
	}
	if !reflect.DeepEqual(replayed, live) {
		t.Errorf("replay mismatch:\n got %#v\nwant %#v", replayed, live)
	}
}
