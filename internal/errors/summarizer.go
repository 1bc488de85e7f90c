// Package errors condenses grading-command output into short diagnostics.
package errors

import (
	"regexp"
	"strconv"
	"strings"
)

// maxFallbackLines bounds the summary when no pattern matches.
const maxFallbackLines = 5

// Pattern maps a regex over tool output to a human-readable summary.
// Capture groups substitute into $1, $2, ... placeholders.
type Pattern struct {
	Regex   *regexp.Regexp
	Summary string
}

// Summarizer extracts short failure summaries from the output of a grading
// command, typically a test runner or compiler.
type Summarizer struct {
	patterns []Pattern
}

// NewSummarizer returns a summarizer tuned to the given toolchain. Unknown
// toolchains fall back to generic error-line heuristics.
func NewSummarizer(toolchain string) *Summarizer {
	var patterns []Pattern

	switch toolchain {
	case "go":
		patterns = goPatterns
	case "rust":
		patterns = rustPatterns
	case "typescript", "javascript":
		patterns = tsPatterns
	case "python":
		patterns = pythonPatterns
	default:
		patterns = genericPatterns
	}

	return &Summarizer{patterns: patterns}
}

// Summarize returns deduplicated failure summaries found in output, or the
// first non-decorative lines when nothing matches.
func (s *Summarizer) Summarize(output string) []string {
	var summaries []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(output, "\n") {
		for _, p := range s.patterns {
			matches := p.Regex.FindStringSubmatch(line)
			if matches == nil {
				continue
			}
			summary := p.Summary
			for i, match := range matches[1:] {
				placeholder := "$" + strconv.Itoa(i+1)
				summary = strings.ReplaceAll(summary, placeholder, match)
			}
			if !seen[summary] {
				seen[summary] = true
				summaries = append(summaries, summary)
			}
		}
	}

	if len(summaries) == 0 {
		return firstLines(output)
	}

	return summaries
}

// firstLines returns the leading non-empty, non-decorative output lines.
func firstLines(output string) []string {
	var result []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if len(result) >= maxFallbackLines {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "===") || strings.HasPrefix(line, "---") {
			continue
		}
		result = append(result, line)
	}
	return result
}

var goPatterns = []Pattern{
	{regexp.MustCompile(`DATA RACE`), "Race condition detected"},
	{regexp.MustCompile(`fatal error: all goroutines are asleep - deadlock!?`), "Deadlock detected"},
	{regexp.MustCompile(`undefined: (\w+)`), "Undefined: $1"},
	{regexp.MustCompile(`cannot use (.+) \(.*?\) as (.+)`), "Type mismatch: $1 cannot be used as $2"},
	{regexp.MustCompile(`imported and not used: "(.+)"`), "Unused import: $1"},
	{regexp.MustCompile(`missing return`), "Missing return statement"},
	{regexp.MustCompile(`panic: (.+)`), "Panic: $1"},
	{regexp.MustCompile(`--- FAIL: (\S+)`), "Test failed: $1"},
	{regexp.MustCompile(`FAIL\s+(\S+)\s+\[build failed\]`), "Build failed: $1"},
}

var rustPatterns = []Pattern{
	{regexp.MustCompile(`error\[(E\d+)\]: (.+)`), "$1: $2"},
	{regexp.MustCompile(`thread '.+' panicked at (.+)`), "Panic: $1"},
	{regexp.MustCompile(`test (\S+) \.\.\. FAILED`), "Test failed: $1"},
	{regexp.MustCompile(`error: could not compile (.+)`), "Build failed: $1"},
}

var tsPatterns = []Pattern{
	{regexp.MustCompile(`error (TS\d+): (.+)`), "$1: $2"},
	{regexp.MustCompile(`(\w*Error): (.+)`), "$1: $2"},
	{regexp.MustCompile(`✕ (.+)`), "Test failed: $1"},
	{regexp.MustCompile(`FAIL (\S+)`), "Test failed: $1"},
}

var pythonPatterns = []Pattern{
	{regexp.MustCompile(`^E\s+(\w+Error): (.+)`), "$1: $2"},
	{regexp.MustCompile(`^(\w+Error): (.+)`), "$1: $2"},
	{regexp.MustCompile(`FAILED (\S+)`), "Test failed: $1"},
	{regexp.MustCompile(`ERROR (\S+)`), "Test errored: $1"},
}

var genericPatterns = []Pattern{
	{regexp.MustCompile(`(?i)^error[:\s]+(.+)`), "Error: $1"},
	{regexp.MustCompile(`(?i)fatal[:\s]+(.+)`), "Fatal: $1"},
	{regexp.MustCompile(`command not found: (\S+)`), "Command not found: $1"},
	{regexp.MustCompile(`No such file or directory`), "File not found"},
	{regexp.MustCompile(`Permission denied`), "Permission denied"},
}
