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

// anthropicEvent covers the subset of Anthropic's SSE event union the
// adapter consumes.
type anthropicEvent struct {
	Type    string `json:"type"`
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func callAnthropicStreaming(ctx context.Context, httpClient *http.Client, baseURL, apiKey, model, systemPrompt string, messages []Message, maxTokens int, tools []Tool, onDelta OnDelta) (Turn, error) {
	body := buildAnthropicRequestBody(model, systemPrompt, messages, maxTokens, tools)
	url := strings.TrimRight(baseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return Turn{}, fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := httpClient.Do(req)
	if err != nil {
		return Turn{}, fmt.Errorf("provider: anthropic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return Turn{}, NewHTTPError("anthropic", model, resp.StatusCode, respBody)
	}

	return accumulateAnthropicStream(resp.Body, onDelta)
}

// accumulateAnthropicStream dispatches on event type, accumulating
// input_json_delta fragments per block index and JSON-parsing them at
// content_block_stop.
func accumulateAnthropicStream(body io.Reader, onDelta OnDelta) (Turn, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var text strings.Builder
	var toolCalls []ToolCall
	var currentID, currentName string
	var currentInput strings.Builder
	inToolBlock := false
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

		var event anthropicEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message.Usage.InputTokens > 0 {
				inputTokens = event.Message.Usage.InputTokens
			}
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				inToolBlock = true
				currentID = event.ContentBlock.ID
				currentName = event.ContentBlock.Name
				currentInput.Reset()
			}
		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					text.WriteString(event.Delta.Text)
					if onDelta != nil {
						onDelta(Delta{Kind: DeltaText, Text: event.Delta.Text})
					}
				}
			case "input_json_delta":
				currentInput.WriteString(event.Delta.PartialJSON)
			}
		case "content_block_stop":
			if inToolBlock {
				toolCalls = append(toolCalls, ToolCall{
					ID:    currentID,
					Name:  currentName,
					Input: json.RawMessage(currentInput.String()),
				})
				inToolBlock = false
			}
		case "message_delta":
			if event.Usage.OutputTokens > 0 {
				outputTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			if onDelta != nil {
				onDelta(Delta{Kind: DeltaDone})
			}
			return Turn{
				TextContent:  text.String(),
				ToolCalls:    toolCalls,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}, nil
		case "error":
			return Turn{}, fmt.Errorf("provider: anthropic stream error event")
		}
	}
	if err := scanner.Err(); err != nil {
		return Turn{}, fmt.Errorf("provider: anthropic stream read: %w", err)
	}
	if onDelta != nil {
		onDelta(Delta{Kind: DeltaDone})
	}
	return Turn{
		TextContent:  text.String(),
		ToolCalls:    toolCalls,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, nil
}

func buildAnthropicRequestBody(model, systemPrompt string, messages []Message, maxTokens int, tools []Tool) string {
	// anthBlock is one content block: text, tool_use, or tool_result,
	// selected by Type with the unused fields omitted.
	type anthBlock struct {
		Type      string          `json:"type"`
		Text      string          `json:"text,omitempty"`
		ID        string          `json:"id,omitempty"`
		Name      string          `json:"name,omitempty"`
		Input     json.RawMessage `json:"input,omitempty"`
		ToolUseID string          `json:"tool_use_id,omitempty"`
		Content   string          `json:"content,omitempty"`
		IsError   bool            `json:"is_error,omitempty"`
	}
	type anthMessage struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}
	var out []anthMessage
	for _, m := range messages {
		// The system prompt travels in the top-level system field, never as
		// a message; Anthropic roles are only user and assistant.
		if m.Role == "system" {
			continue
		}
		role := m.Role
		if role == "tool" {
			role = "user"
		}

		if len(m.ToolCalls) == 0 && len(m.ToolResults) == 0 {
			out = append(out, anthMessage{Role: role, Content: m.Content})
			continue
		}

		var blocks []anthBlock
		if m.Content != "" {
			blocks = append(blocks, anthBlock{Type: "text", Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			input := tc.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, anthBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
		}
		for _, tr := range m.ToolResults {
			blocks = append(blocks, anthBlock{Type: "tool_result", ToolUseID: tr.ID, Content: tr.Content, IsError: tr.IsError})
		}
		out = append(out, anthMessage{Role: role, Content: blocks})
	}

	type anthTool struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"input_schema"`
	}
	var anthTools []anthTool
	for _, t := range tools {
		anthTools = append(anthTools, anthTool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}

	if maxTokens <= 0 {
		maxTokens = 4096
	}

	reqBody := struct {
		Model     string        `json:"model"`
		System    string        `json:"system,omitempty"`
		Messages  []anthMessage `json:"messages"`
		MaxTokens int           `json:"max_tokens"`
		Stream    bool          `json:"stream"`
		Tools     []anthTool    `json:"tools,omitempty"`
	}{
		Model:     model,
		System:    systemPrompt,
		Messages:  out,
		MaxTokens: maxTokens,
		Stream:    true,
		Tools:     anthTools,
	}
	encoded, _ := json.Marshal(reqBody)
	return string(encoded)
}
