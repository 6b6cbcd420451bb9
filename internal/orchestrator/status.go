package orchestrator

// EventType names the kind of status event emitted to a live listener
// (e.g. `autoagentd run`'s stdout stream). Distinct from TraceEvent
// (internal/tracebuf): status events are ephemeral and for the operator
// watching a run; traces are the durable, control-plane-owned audit log.
type EventType string

const (
	EventTokenDelta          EventType = "token_delta"
	EventAssistantMessage    EventType = "assistant_message"
	EventToolCall            EventType = "tool_call"
	EventToolResult          EventType = "tool_result"
	EventAskUser             EventType = "ask_user"
	EventCompleted           EventType = "completed"
	EventError               EventType = "error"
	EventFollowUpSuggestions EventType = "follow_up_suggestions"
)

// StatusEvent is one entry in the run's live status stream. State is set
// only on terminal error events and is always "failed", including when
// the run record itself ends cancelled after an abort.
type StatusEvent struct {
	Type    EventType
	RunID   string
	Turn    int
	State   string
	Payload any
}

// StatusEmitter publishes StatusEvents; the orchestrator never blocks
// waiting for a subscriber to consume one.
type StatusEmitter interface {
	Emit(event StatusEvent)
}

// askUserEmitterAdapter lets the orchestrator's StatusEmitter double as the
// userprompt.StatusEmitter the User-Prompt Coordinator needs, without
// userprompt importing this package.
type askUserEmitterAdapter struct {
	emitter StatusEmitter
	runID   string
	turn    int
}

func (a askUserEmitterAdapter) EmitAskUser(promptID string) {
	if a.emitter == nil {
		return
	}
	a.emitter.Emit(StatusEvent{Type: EventAskUser, RunID: a.runID, Turn: a.turn, Payload: promptID})
}

// AskUserEmitter adapts a StatusEmitter into the userprompt.StatusEmitter
// shape (duck-typed; userprompt does not import this package), so
// cmd/autoagentd can build one Asker per run backed by userprompt.Ask.
func AskUserEmitter(emitter StatusEmitter, runID string, turn int) interface{ EmitAskUser(string) } {
	return askUserEmitterAdapter{emitter: emitter, runID: runID, turn: turn}
}
