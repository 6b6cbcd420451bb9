// Package compress implements the context compressor: a char/4 token
// estimate over the message history and, once a threshold is crossed, a
// summarize-the-middle strategy that keeps the system prompt and the most
// recent turns intact. A single synchronous call rather than a stateful
// per-session manager, because the orchestrator already owns per-run
// sequencing.
package compress

import (
	"context"
	"fmt"
	"strings"

	"github.com/autoagent/core/internal/provider"
)

// Compression thresholds and bounds.
const (
	TokenThreshold   = 65000
	MinMessageCount  = 6
	PreserveTailSize = 4
	MiddleBudgetKiB  = 6 * 1024
)

// Summarizer performs the auxiliary LLM call used to compress the middle
// of the history. cmd/autoagentd supplies AnthropicSummarizer or
// OpenAISummarizer (summarizer.go); tests supply a fake.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// EstimateTokens approximates the history's token count as character
// count / 4 across all messages, string and structured content alike.
func EstimateTokens(messages []provider.Message) int {
	total := 0
	for _, m := range messages {
		total += m.CountEstimate()
	}
	return total
}

// NeedsCompression reports whether the threshold gate is crossed:
// estimate >= 65000 AND history has >= 6 messages.
func NeedsCompression(messages []provider.Message) bool {
	return EstimateTokens(messages) >= TokenThreshold && len(messages) >= MinMessageCount
}

// Compress, when over threshold, preserves index 0 (the system prompt)
// and the last 4 messages, summarizes the remaining middle
// via an auxiliary LLM call bounded to a 6KiB transcript, and replace the
// middle with one synthetic user message carrying the summary. Falls back
// to truncation on summarizer failure. Idempotent: returns the input
// unchanged when already under threshold.
func Compress(ctx context.Context, messages []provider.Message, summarizer Summarizer) ([]provider.Message, error) {
	if !NeedsCompression(messages) {
		return messages, nil
	}

	tailStart := len(messages) - PreserveTailSize
	if tailStart < 1 {
		tailStart = 1
	}
	middle := messages[1:tailStart]
	if len(middle) == 0 {
		return messages, nil
	}

	transcript := buildBoundedTranscript(middle, MiddleBudgetKiB)

	summaryText, err := trySummarize(ctx, summarizer, transcript)
	if err != nil {
		summaryText = truncationFallback(middle)
	}

	compacted := make([]provider.Message, 0, 2+PreserveTailSize)
	compacted = append(compacted, messages[0])
	compacted = append(compacted, provider.Message{
		Role:    "user",
		Content: fmt.Sprintf("[conversation history summary]\n%s", summaryText),
	})
	compacted = append(compacted, messages[tailStart:]...)
	return compacted, nil
}

func trySummarize(ctx context.Context, summarizer Summarizer, transcript string) (string, error) {
	if summarizer == nil {
		return "", fmt.Errorf("compress: no summarizer configured")
	}
	return summarizer.Summarize(ctx, transcript)
}

// buildBoundedTranscript renders messages as "role: content" lines,
// truncating from the front once the byte budget is exceeded; the
// auxiliary call only needs the most recent portion of the middle to
// produce a useful summary.
func buildBoundedTranscript(messages []provider.Message, budgetBytes int) string {
	var lines []string
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		line := fmt.Sprintf("%s: %s", m.Role, flattenContent(m))
		if total+len(line) > budgetBytes {
			break
		}
		lines = append(lines, line)
		total += len(line)
	}
	// restore chronological order
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

func flattenContent(m provider.Message) string {
	if m.Content != "" {
		return m.Content
	}
	var parts []string
	for _, tc := range m.ToolCalls {
		parts = append(parts, fmt.Sprintf("[tool_call %s(%s)]", tc.Name, tc.Input))
	}
	for _, tr := range m.ToolResults {
		parts = append(parts, fmt.Sprintf("[tool_result %s]", tr.Content))
	}
	return strings.Join(parts, " ")
}

// truncationFallback is the no-network fallback when the auxiliary call
// fails: a deterministic, local summary built from message content rather
// than an LLM round-trip.
func truncationFallback(messages []provider.Message) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("(auto-truncated summary of %d earlier messages)\n", len(messages)))
	for _, m := range messages {
		content := flattenContent(m)
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		if content == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", m.Role, content)
	}
	return b.String()
}
