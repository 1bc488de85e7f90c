package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trailbench/trailbench/internal/protocol"
	"github.com/trailbench/trailbench/internal/store"
	"github.com/trailbench/trailbench/internal/trajectory"
)

var replayCmd = &cobra.Command{
	Use:   "replay <updates.json>",
	Short: "Render a persisted trial log as a transcript",
	Long: `Rebuilds the conversation trajectory from a trial's raw update log and
prints it grouped by interaction cycle.

The raw log is the source of truth: replay produces exactly the
trajectory the harness saw live.

Examples:
  trailbench replay runs/2026-08-30T120000-claude/suite-alpha/trial-0/updates.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		updates, err := store.LoadUpdates(args[0])
		if err != nil {
			return fmt.Errorf("loading updates: %w", err)
		}

		traj, err := trajectory.BuildFrom(updates)
		if err != nil {
			return fmt.Errorf("rebuilding trajectory: %w", err)
		}

		fmt.Print(formatTranscript(traj))
		return nil
	},
}

func formatTranscript(traj trajectory.Trajectory) string {
	var b strings.Builder

	for i, group := range traj.Groups {
		fmt.Fprintf(&b, "───── cycle %d ─────\n", i+1)
		for _, msg := range group.Messages {
			switch m := msg.(type) {
			case trajectory.UserMessage:
				fmt.Fprintf(&b, "user: %s\n", renderBlocks(m.Content))
			case trajectory.AgentMessage:
				fmt.Fprintf(&b, "agent: %s\n", renderBlocks(m.Content))
			case trajectory.AgentThought:
				fmt.Fprintf(&b, "thought: %s\n", renderBlocks(m.Content))
			case trajectory.ToolCall:
				fmt.Fprintf(&b, "tool [%s] %s -> %s\n", m.Kind, m.Title, m.Status)
				for _, item := range m.Content {
					if line := renderToolContent(item); line != "" {
						fmt.Fprintf(&b, "  %s\n", line)
					}
				}
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

func renderBlocks(blocks []protocol.ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		switch c := block.(type) {
		case protocol.TextContent:
			parts = append(parts, c.Text)
		case protocol.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s]", c.MimeType))
		case protocol.AudioContent:
			parts = append(parts, fmt.Sprintf("[audio %s]", c.MimeType))
		case protocol.ResourceContent:
			parts = append(parts, fmt.Sprintf("[resource %s]", c.URI))
		case protocol.EmbeddedResourceContent:
			if c.Text != nil {
				parts = append(parts, *c.Text)
			} else {
				parts = append(parts, fmt.Sprintf("[resource %s]", c.URI))
			}
		}
	}
	return strings.Join(parts, " ")
}

func renderToolContent(item protocol.ToolCallContent) string {
	switch c := item.(type) {
	case protocol.ContentChunk:
		return renderBlocks([]protocol.ContentBlock{c.Content})
	case protocol.FileEditContent:
		return fmt.Sprintf("edit %s", c.Diff.Path)
	case protocol.TerminalContent:
		return fmt.Sprintf("terminal %s", c.TerminalID)
	}
	return ""
}
