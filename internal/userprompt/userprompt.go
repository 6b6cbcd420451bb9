// Package userprompt implements the ask_user tool's create-then-poll
// lifecycle: create a prompt record, poll the control plane once per
// second, and resolve to answered/expired/cancelled.
package userprompt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is a prompt's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnswered  Status = "answered"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Expiry is how long a prompt waits for an operator answer.
const Expiry = 15 * time.Minute

// PollInterval is deliberately coarse: a human typing an answer has a
// long natural latency. Variable rather than const so tests can shrink
// it.
var PollInterval = 1 * time.Second

var (
	ErrPromptExpired   = errors.New("userprompt: expired")
	ErrPromptCancelled = errors.New("userprompt: cancelled")
)

// Prompt is the UserPrompt record.
type Prompt struct {
	PromptID     string
	RunID        string
	ThreadID     string
	TurnNumber   int
	PromptText   string
	Status       Status
	ResponseText string
	ExpiresAt    time.Time
}

// ControlPlane is the subset of the control-plane HTTP client the
// coordinator needs: create the prompt record and poll its status.
type ControlPlane interface {
	CreatePrompt(ctx context.Context, runID, threadID string, turnNumber int, promptText string) (*Prompt, error)
	GetPrompt(ctx context.Context, promptID string) (*Prompt, error)
}

// StatusEmitter publishes the `type=ask_user` status event when the
// prompt is created.
type StatusEmitter interface {
	EmitAskUser(promptID string)
}

// Ask implements the full ask_user contract: create the prompt record,
// emit the ask_user status event, poll the control plane once per second
// until answered/expired/cancelled, or until ctx is cancelled (the run's
// own cancellation signal).
func Ask(ctx context.Context, cp ControlPlane, emitter StatusEmitter, runID, threadID string, turnNumber int, promptText string) (string, error) {
	prompt, err := cp.CreatePrompt(ctx, runID, threadID, turnNumber, promptText)
	if err != nil {
		return "", fmt.Errorf("userprompt: create: %w", err)
	}
	if emitter != nil {
		emitter.EmitAskUser(prompt.PromptID)
	}
	return wait(ctx, cp, prompt.PromptID)
}

func wait(ctx context.Context, cp ControlPlane, promptID string) (string, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			prompt, err := cp.GetPrompt(ctx, promptID)
			if err != nil {
				return "", fmt.Errorf("userprompt: poll: %w", err)
			}
			switch prompt.Status {
			case StatusAnswered:
				return prompt.ResponseText, nil
			case StatusExpired:
				return "", ErrPromptExpired
			case StatusCancelled:
				return "", ErrPromptCancelled
			case StatusPending:
				continue
			}
		}
	}
}

// SyntheticToolResult formats the operator's answer as the tool-result
// string injected back into the conversation for the ask_user call.
func SyntheticToolResult(answer string) string {
	return "Operator answer: " + answer
}
