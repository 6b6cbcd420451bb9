package toolset

import (
	"context"
	"encoding/json"
)

// Asker is implemented by the user-prompt coordinator. AskUserTool
// delegates to it rather than doing any work itself.
type Asker interface {
	Ask(ctx context.Context, turnNumber int, promptText string) (string, error)
}

// AskUserTool implements ask_user.
type AskUserTool struct {
	asker      Asker
	turnNumber int
}

func NewAskUserTool(asker Asker, turnNumber int) *AskUserTool {
	return &AskUserTool{asker: asker, turnNumber: turnNumber}
}

func (t *AskUserTool) Name() string        { return "ask_user" }
func (t *AskUserTool) Description() string { return "Ask the operator a question and block until answered." }
func (t *AskUserTool) ReadOnly() bool      { return false }

func (t *AskUserTool) Schema() json.RawMessage {
	return jsonSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{"type": "string", "description": "The question to show the operator."},
		},
		"required": []string{"question"},
	})
}

func (t *AskUserTool) Execute(ctx context.Context, params json.RawMessage) (Result, error) {
	var input struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}

	answer, err := t.asker.Ask(ctx, t.turnNumber, input.Question)
	if err != nil {
		return errorResult("%v", err), nil
	}
	return okResult("Operator answer: " + answer), nil
}
