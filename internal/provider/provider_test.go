package provider

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAccumulateOpenAIStreamTextAndToolCall(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"read_file","arguments":"{\"pa"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"x\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`,
		`data: [DONE]`,
		``,
	}, "\n")

	var deltas []Delta
	turn, err := accumulateOpenAIStream(strings.NewReader(sse), func(d Delta) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.TextContent != "Hello" {
		t.Fatalf("expected concatenated text, got %q", turn.TextContent)
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].ID != "call_1" || turn.ToolCalls[0].Name != "read_file" {
		t.Fatalf("unexpected tool calls: %+v", turn.ToolCalls)
	}
	if string(turn.ToolCalls[0].Input) != `{"path":"x"}` {
		t.Fatalf("expected accumulated arguments, got %q", turn.ToolCalls[0].Input)
	}
	if turn.InputTokens != 10 || turn.OutputTokens != 5 {
		t.Fatalf("expected usage from final chunk, got %+v", turn)
	}
	if len(deltas) == 0 || deltas[len(deltas)-1].Kind != DeltaDone {
		t.Fatalf("expected a terminal done delta")
	}
}

func TestAccumulateAnthropicStreamTextAndToolCall(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"type":"message_start","message":{"usage":{"input_tokens":20}}}`,
		`data: {"type":"content_block_start","content_block":{"type":"text"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi there"}}`,
		`data: {"type":"content_block_stop"}`,
		`data: {"type":"content_block_start","content_block":{"type":"tool_use","id":"toolu_1","name":"search_code"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"query\":"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"\"foo\"}"}}`,
		`data: {"type":"content_block_stop"}`,
		`data: {"type":"message_delta","usage":{"output_tokens":7}}`,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n")

	turn, err := accumulateAnthropicStream(strings.NewReader(sse), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.TextContent != "Hi there" {
		t.Fatalf("expected text content, got %q", turn.TextContent)
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].ID != "toolu_1" || turn.ToolCalls[0].Name != "search_code" {
		t.Fatalf("unexpected tool calls: %+v", turn.ToolCalls)
	}
	if string(turn.ToolCalls[0].Input) != `{"query":"foo"}` {
		t.Fatalf("expected accumulated JSON, got %q", turn.ToolCalls[0].Input)
	}
	if turn.InputTokens != 20 || turn.OutputTokens != 7 {
		t.Fatalf("expected usage from message_start/message_delta, got %+v", turn)
	}
}

func TestBuildToolResultMessagesOpenAIOnePerResult(t *testing.T) {
	results := []ToolResult{
		{ID: "call_1", Content: "ok"},
		{ID: "call_2", Content: "fail", IsError: true},
	}
	messages := BuildToolResultMessages(KindOpenAI, results)
	if len(messages) != 2 {
		t.Fatalf("expected one message per result, got %d", len(messages))
	}
	if messages[0].Role != "tool" || messages[0].ToolCallID != "call_1" {
		t.Fatalf("unexpected message: %+v", messages[0])
	}
}

func TestBuildToolResultMessagesAnthropicSingleUserMessage(t *testing.T) {
	results := []ToolResult{
		{ID: "toolu_1", Content: "ok"},
		{ID: "toolu_2", Content: "fail", IsError: true},
	}
	messages := BuildToolResultMessages(KindAnthropic, results)
	if len(messages) != 1 {
		t.Fatalf("expected a single user message, got %d", len(messages))
	}
	if messages[0].Role != "user" || len(messages[0].ToolResults) != 2 {
		t.Fatalf("unexpected message: %+v", messages[0])
	}
}

func TestBuildToolResultMessagesEmpty(t *testing.T) {
	if got := BuildToolResultMessages(KindAnthropic, nil); got != nil {
		t.Fatalf("expected nil for empty results, got %+v", got)
	}
}

func TestBuildOpenAIRequestBodyCarriesToolCalls(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "do it"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "call_1", Name: "write_file", Input: json.RawMessage(`{"path":"a"}`)}}},
		{Role: "tool", Content: "ok", ToolCallID: "call_1"},
	}
	body := buildOpenAIRequestBody("gpt-test", "sys", messages, 128, nil)

	var decoded struct {
		Messages []struct {
			Role       string `json:"role"`
			Content    string `json:"content"`
			ToolCallID string `json:"tool_call_id"`
			ToolCalls  []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"messages"`
	}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}

	// system prompt once, then user, assistant, tool.
	if len(decoded.Messages) != 4 {
		t.Fatalf("got %d messages, want 4: %s", len(decoded.Messages), body)
	}
	if decoded.Messages[0].Role != "system" || decoded.Messages[1].Role != "user" {
		t.Fatalf("unexpected leading messages: %s", body)
	}

	assistant := decoded.Messages[2]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 {
		t.Fatalf("assistant message lost its tool calls: %s", body)
	}
	tc := assistant.ToolCalls[0]
	if tc.ID != "call_1" || tc.Type != "function" || tc.Function.Name != "write_file" || tc.Function.Arguments != `{"path":"a"}` {
		t.Fatalf("unexpected tool call: %+v", tc)
	}

	tool := decoded.Messages[3]
	if tool.Role != "tool" || tool.ToolCallID != "call_1" || tool.Content != "ok" {
		t.Fatalf("unexpected tool message: %+v", tool)
	}
}

func TestBuildAnthropicRequestBodyCarriesToolBlocks(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "do it"},
		{Role: "assistant", Content: "on it", ToolCalls: []ToolCall{{ID: "toolu_1", Name: "search_code", Input: json.RawMessage(`{"query":"foo"}`)}}},
		{Role: "user", ToolResults: []ToolResult{{ID: "toolu_1", Content: "3 hits"}, {ID: "toolu_2", Content: "boom", IsError: true}}},
	}
	body := buildAnthropicRequestBody("claude-test", "sys", messages, 128, nil)

	var decoded struct {
		System   string `json:"system"`
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if decoded.System != "sys" {
		t.Fatalf("system prompt missing: %s", body)
	}
	// the system message must not survive as a conversation message.
	if len(decoded.Messages) != 3 {
		t.Fatalf("got %d messages, want 3: %s", len(decoded.Messages), body)
	}

	type block struct {
		Type      string          `json:"type"`
		Text      string          `json:"text"`
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Input     json.RawMessage `json:"input"`
		ToolUseID string          `json:"tool_use_id"`
		Content   string          `json:"content"`
		IsError   bool            `json:"is_error"`
	}

	var assistantBlocks []block
	if err := json.Unmarshal(decoded.Messages[1].Content, &assistantBlocks); err != nil {
		t.Fatalf("assistant content is not a block array: %v", err)
	}
	if len(assistantBlocks) != 2 || assistantBlocks[0].Type != "text" || assistantBlocks[1].Type != "tool_use" {
		t.Fatalf("unexpected assistant blocks: %+v", assistantBlocks)
	}
	if assistantBlocks[1].ID != "toolu_1" || assistantBlocks[1].Name != "search_code" || string(assistantBlocks[1].Input) != `{"query":"foo"}` {
		t.Fatalf("unexpected tool_use block: %+v", assistantBlocks[1])
	}

	var resultBlocks []block
	if err := json.Unmarshal(decoded.Messages[2].Content, &resultBlocks); err != nil {
		t.Fatalf("tool-result content is not a block array: %v", err)
	}
	if len(resultBlocks) != 2 {
		t.Fatalf("expected both tool results, got %+v", resultBlocks)
	}
	if resultBlocks[0].Type != "tool_result" || resultBlocks[0].ToolUseID != "toolu_1" || resultBlocks[0].Content != "3 hits" {
		t.Fatalf("unexpected tool_result block: %+v", resultBlocks[0])
	}
	if !resultBlocks[1].IsError {
		t.Fatalf("error flag lost: %+v", resultBlocks[1])
	}
}
