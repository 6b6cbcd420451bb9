package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// openAIChunk mirrors the subset of an OpenAI chat.completion.chunk the
// adapter needs, grounded on sashabaranov/go-openai's ChatCompletionStreamResponse.
type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// callOpenAIStreaming issues a streaming chat completion against an
// OpenAI-shaped endpoint and accumulates the SSE stream into a Turn.
func callOpenAIStreaming(ctx context.Context, httpClient *http.Client, baseURL, apiKey, model, systemPrompt string, messages []Message, maxTokens int, tools []Tool, onDelta OnDelta) (Turn, error) {
	body := buildOpenAIRequestBody(model, systemPrompt, messages, maxTokens, tools)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/chat/completions", strings.NewReader(body))
	if err != nil {
		return Turn{}, fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := httpClient.Do(req)
	if err != nil {
		return Turn{}, fmt.Errorf("provider: openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return Turn{}, NewHTTPError("openai", model, resp.StatusCode, respBody)
	}

	return accumulateOpenAIStream(resp.Body, onDelta)
}

type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

// accumulateOpenAIStream reads SSE `data:` lines, accumulates tool-call
// argument fragments by index, and stops at the `[DONE]` sentinel.
func accumulateOpenAIStream(body io.Reader, onDelta OnDelta) (Turn, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var text strings.Builder
	calls := make(map[int]*toolCallAccumulator)
	var order []int
	var inputTokens, outputTokens int

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			break
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			inputTokens = chunk.Usage.PromptTokens
			outputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if onDelta != nil {
				onDelta(Delta{Kind: DeltaText, Text: delta.Content})
			}
		}
		for _, tc := range delta.ToolCalls {
			acc, ok := calls[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{}
				calls[tc.Index] = acc
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				acc.args.WriteString(tc.Function.Arguments)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Turn{}, fmt.Errorf("provider: openai stream read: %w", err)
	}

	if onDelta != nil {
		onDelta(Delta{Kind: DeltaDone})
	}

	turn := Turn{
		TextContent:  text.String(),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}
	for _, idx := range order {
		acc := calls[idx]
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:    acc.id,
			Name:  acc.name,
			Input: json.RawMessage(acc.args.String()),
		})
	}
	return turn, nil
}

func buildOpenAIRequestBody(model, systemPrompt string, messages []Message, maxTokens int, tools []Tool) string {
	type oaiFunctionCall struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}
	type oaiToolCall struct {
		ID       string          `json:"id"`
		Type     string          `json:"type"`
		Function oaiFunctionCall `json:"function"`
	}
	type oaiMessage struct {
		Role       string        `json:"role"`
		Content    string        `json:"content,omitempty"`
		ToolCallID string        `json:"tool_call_id,omitempty"`
		ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	}
	var out []oaiMessage
	if systemPrompt != "" {
		out = append(out, oaiMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		// The system prompt is passed separately; a system message kept in
		// history would be sent twice.
		if m.Role == "system" {
			continue
		}
		msg := oaiMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args := string(tc.Input)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, oaiToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: oaiFunctionCall{Name: tc.Name, Arguments: args},
			})
		}
		out = append(out, msg)
	}

	type oaiTool struct {
		Type     string `json:"type"`
		Function struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
		} `json:"function"`
	}
	var oaiTools []oaiTool
	for _, t := range tools {
		var ot oaiTool
		ot.Type = "function"
		ot.Function.Name = t.Name()
		ot.Function.Description = t.Description()
		ot.Function.Parameters = t.Schema()
		oaiTools = append(oaiTools, ot)
	}

	reqBody := struct {
		Model        string          `json:"model"`
		Messages     []oaiMessage    `json:"messages"`
		Stream       bool            `json:"stream"`
		MaxTokens    int             `json:"max_tokens,omitempty"`
		Tools        []oaiTool       `json:"tools,omitempty"`
		StreamOpts   json.RawMessage `json:"stream_options,omitempty"`
	}{
		Model:      model,
		Messages:   out,
		Stream:     true,
		MaxTokens:  maxTokens,
		Tools:      oaiTools,
		StreamOpts: json.RawMessage(`{"include_usage":true}`),
	}
	encoded, _ := json.Marshal(reqBody)
	return string(encoded)
}
