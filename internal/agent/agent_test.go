package agent

import (
	"testing"

	"github.com/trailbench/trailbench/internal/protocol"
)

func TestFormatContainerfile(t *testing.T) {
	t.Parallel()

	a := Agent{ID: "demo", InstallBlock: "RUN npm install -g demo-agent"}

	got := a.FormatContainerfile("FROM debian:stable\n{agent_install}\nWORKDIR /workspace\n")
	want := "FROM debian:stable\nRUN npm install -g demo-agent\nWORKDIR /workspace\n"
	if got != want {
		t.Errorf("FormatContainerfile = %q, want %q", got, want)
	}

	// Templates without the placeholder pass through unchanged.
	plain := "FROM debian:stable\n"
	if got := a.FormatContainerfile(plain); got != plain {
		t.Errorf("FormatContainerfile = %q, want unchanged", got)
	}
}

func TestFormatCommandCopies(t *testing.T) {
	t.Parallel()

	a := Agent{Command: []string{"demo-agent", "--stdio"}}
	cmd := a.FormatCommand()
	cmd[0] = "mutated"
	if a.Command[0] != "demo-agent" {
		t.Error("FormatCommand should return a copy")
	}
}

func TestClientStreamsPreserveOrder(t *testing.T) {
	t.Parallel()

	c := NewClient()
	for i := 0; i < 10; i++ {
		c.Deliver("s1", protocol.AgentMessageChunk{Content: protocol.TextContent{Text: string(rune('a' + i))}})
	}
	c.Deliver("s2", protocol.UserMessageChunk{Content: protocol.TextContent{Text: "other session"}})

	stream := c.Updates("s1")
	for i := 0; i < 10; i++ {
		update := <-stream
		chunk, ok := update.(protocol.AgentMessageChunk)
		if !ok {
			t.Fatalf("update %d = %T, want AgentMessageChunk", i, update)
		}
		if text := chunk.Content.(protocol.TextContent).Text; text != string(rune('a'+i)) {
			t.Errorf("update %d = %q, out of order", i, text)
		}
	}

	c.Close()
	if _, ok := <-c.Updates("s1"); ok {
		t.Error("stream should be closed")
	}
}
