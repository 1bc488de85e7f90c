// Package report renders harness results for terminals, markdown, and JSON.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/trailbench/trailbench/internal/harness"
	"github.com/trailbench/trailbench/internal/metric"
)

// FormatTerminal returns the run summary for terminal output.
func FormatTerminal(result *harness.Result) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&sb, " TRAILBENCH                                    agent: %s\n", result.AgentID)
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	sb.WriteString("\n")

	for _, tr := range result.Tasks {
		fmt.Fprintf(&sb, " %s\n", tr.Task.ID)
		sb.WriteString(" ─────────────────────────────────────────────────────────\n")
		if tr.Err != nil {
			fmt.Fprintf(&sb, " ⚠ aggregation failed: %v\n\n", tr.Err)
			continue
		}
		fmt.Fprintf(&sb, " trials: %d\n", len(tr.Trials))
		for _, id := range sortedMetricIDs(tr.Metrics) {
			fmt.Fprintf(&sb, " %-20s %s\n", id, formatValue(tr.Metrics[id].Value))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// GenerateMarkdown returns a human-readable markdown report.
func GenerateMarkdown(result *harness.Result) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Trailbench Report: %s\n\n", result.AgentID)
	fmt.Fprintf(&sb, "**Generated:** %s\n\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Tasks:** %d\n\n", len(result.Tasks))
	sb.WriteString("---\n\n")

	for _, tr := range result.Tasks {
		fmt.Fprintf(&sb, "## %s\n\n", tr.Task.ID)
		if tr.Task.Name != "" {
			fmt.Fprintf(&sb, "**Name:** %s\n\n", tr.Task.Name)
		}
		if tr.Err != nil {
			fmt.Fprintf(&sb, "**Aggregation failed:** `%v`\n\n", tr.Err)
			continue
		}
		fmt.Fprintf(&sb, "**Trials:** %d\n\n", len(tr.Trials))

		if len(tr.Metrics) > 0 {
			sb.WriteString("| Metric | Value |\n|---|---|\n")
			for _, id := range sortedMetricIDs(tr.Metrics) {
				fmt.Fprintf(&sb, "| %s | %s |\n", id, formatValue(tr.Metrics[id].Value))
			}
			sb.WriteString("\n")
		}

		if len(tr.TrajectoryMetrics) > 0 {
			sb.WriteString("**Per-trial trajectory metrics:**\n\n")
			ids := make([]string, 0, len(tr.TrajectoryMetrics))
			for id := range tr.TrajectoryMetrics {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				values := make([]string, 0, len(tr.TrajectoryMetrics[id]))
				for _, v := range tr.TrajectoryMetrics[id] {
					values = append(values, formatValue(v.Value))
				}
				fmt.Fprintf(&sb, "- %s: %s\n", id, strings.Join(values, ", "))
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// summary is the JSON shape written next to the run's raw logs.
type summary struct {
	AgentID string        `json:"agent_id"`
	Tasks   []taskSummary `json:"tasks"`
}

type taskSummary struct {
	ID                string           `json:"id"`
	Name              string           `json:"name,omitempty"`
	Trials            int              `json:"trials"`
	Metrics           map[string]any   `json:"metrics,omitempty"`
	TrajectoryMetrics map[string][]any `json:"trajectory_metrics,omitempty"`
	Error             string           `json:"error,omitempty"`
	Outcomes          []map[string]any `json:"outcomes,omitempty"`
}

// WriteSummary writes summary.json and report.md into the run directory.
func WriteSummary(dir string, result *harness.Result) error {
	s := summary{AgentID: result.AgentID}
	for _, tr := range result.Tasks {
		ts := taskSummary{
			ID:     tr.Task.ID,
			Name:   tr.Task.Name,
			Trials: len(tr.Trials),
		}
		if tr.Err != nil {
			ts.Error = tr.Err.Error()
		}
		if len(tr.Metrics) > 0 {
			ts.Metrics = map[string]any{}
			for id, v := range tr.Metrics {
				ts.Metrics[id] = v.Value
			}
		}
		if len(tr.TrajectoryMetrics) > 0 {
			ts.TrajectoryMetrics = map[string][]any{}
			for id, values := range tr.TrajectoryMetrics {
				for _, v := range values {
					ts.TrajectoryMetrics[id] = append(ts.TrajectoryMetrics[id], v.Value)
				}
			}
		}
		for _, trial := range tr.Trials {
			outcomes := map[string]any{"trial": trial.TrialIndex}
			for graderID, outcome := range trial.Outcomes {
				outcomes[graderID] = outcome.Value
			}
			ts.Outcomes = append(ts.Outcomes, outcomes)
		}
		s.Tasks = append(s.Tasks, ts)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.json"), data, 0644); err != nil {
		return fmt.Errorf("writing summary.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(GenerateMarkdown(result)), 0644); err != nil {
		return fmt.Errorf("writing report.md: %w", err)
	}
	return nil
}

func sortedMetricIDs(metrics map[string]metric.Value) []string {
	ids := make([]string, 0, len(metrics))
	for id := range metrics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "-"
	case bool:
		if v {
			return "✓"
		}
		return "✗"
	case float64:
		return fmt.Sprintf("%.4g", v)
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
