package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Adapter holds the HTTP client shared across calls to either wire
// protocol, behind one Kind-dispatching type instead of one struct per
// provider.
type Adapter struct {
	httpClient *http.Client
}

// NewAdapter builds an Adapter with a bounded HTTP client; the caller
// supplies retry/circuit-breaking via internal/resilience, which wraps
// CallStreaming rather than duplicating backoff here.
func NewAdapter() *Adapter {
	return &Adapter{httpClient: &http.Client{Timeout: 120 * time.Second}}
}

// CallStreaming dispatches to the wire-protocol-specific streamer and
// returns a normalized Turn.
func (a *Adapter) CallStreaming(ctx context.Context, kind Kind, baseURL, apiKey, model, systemPrompt string, messages []Message, maxTokens int, tools []Tool, onDelta OnDelta) (Turn, error) {
	switch kind {
	case KindOpenAI:
		return callOpenAIStreaming(ctx, a.httpClient, baseURL, apiKey, model, systemPrompt, messages, maxTokens, tools, onDelta)
	case KindAnthropic:
		return callAnthropicStreaming(ctx, a.httpClient, baseURL, apiKey, model, systemPrompt, messages, maxTokens, tools, onDelta)
	default:
		return Turn{}, fmt.Errorf("provider: unknown kind %q", kind)
	}
}

// BuildToolResultMessages folds tool results back into history in the
// active provider's shape: OpenAI-style emits one role=tool message per
// result; Anthropic-style emits a single role=user message carrying the
// full result set in ToolResults, serialized to tool_result blocks when
// the request body is built.
func BuildToolResultMessages(kind Kind, results []ToolResult) []Message {
	switch kind {
	case KindAnthropic:
		if len(results) == 0 {
			return nil
		}
		return []Message{{Role: "user", ToolResults: results}}
	default:
		messages := make([]Message, 0, len(results))
		for _, r := range results {
			messages = append(messages, Message{
				Role:       "tool",
				Content:    r.Content,
				ToolCallID: r.ID,
			})
		}
		return messages
	}
}

// CachedResponse is what the optional prompt cache (disabled by default)
// returns for a fingerprint hit.
type CachedResponse struct {
	TextContent  string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
}

// NormalizeCachedResponse lifts a cache hit into a Turn:
// a cache hit already carries the normalized shape regardless of which
// wire protocol originally produced it, so this is a straight lift into a
// Turn rather than a protocol-specific decode.
func NormalizeCachedResponse(kind Kind, cached CachedResponse) Turn {
	return Turn{
		TextContent:  cached.TextContent,
		ToolCalls:    cached.ToolCalls,
		InputTokens:  cached.InputTokens,
		OutputTokens: cached.OutputTokens,
	}
}
