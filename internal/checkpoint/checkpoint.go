// Package checkpoint persists per-turn execution state and refuses
// non-deterministic resume: a checkpointed state without a replay
// boundary cannot be resumed, and terminal states cannot be resumed or
// retried.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Phase is the persisted execution state's lifecycle phase.
type Phase string

const (
	PhaseRunning      Phase = "running"
	PhaseCheckpointed Phase = "checkpointed"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
	PhaseAborted      Phase = "aborted"
)

// PhaseMarker is PersistedExecutionState.phaseMarker.
type PhaseMarker string

const (
	MarkerPlanning   PhaseMarker = "planning"
	MarkerExecuting  PhaseMarker = "executing"
	MarkerFinalizing PhaseMarker = "finalizing"
)

// Stats is the running per-run counter block.
type Stats struct {
	ActionCount        int `json:"actionCount"`
	TotalInputTokens   int `json:"totalInputTokens"`
	TotalOutputTokens  int `json:"totalOutputTokens"`
	Retries            int `json:"retries"`
	ValidationFailures int `json:"validationFailures"`
	SafetyViolations   int `json:"safetyViolations"`
}

// CheckpointDescriptor is the `checkpoint` field of PersistedExecutionState.
type CheckpointDescriptor struct {
	At           time.Time `json:"at"`
	Reason       string    `json:"reason"`
	MessageCount int       `json:"messageCount"`
}

// ReplayBoundary binds a checkpoint to a deterministic resume point.
type ReplayBoundary struct {
	Turn        int       `json:"turn"`
	Reason      string    `json:"reason"`
	ContextHash string    `json:"contextHash"`
	CreatedAt   time.Time `json:"createdAt"`
}

// State is PersistedExecutionState.
type State struct {
	RunID          string                `json:"runId"`
	Phase          Phase                 `json:"phase"`
	PhaseMarker    PhaseMarker           `json:"phaseMarker,omitempty"`
	Turn           int                   `json:"turn"`
	Input          any                   `json:"input,omitempty"`
	Stats          Stats                 `json:"stats"`
	Checkpoint     *CheckpointDescriptor `json:"checkpoint,omitempty"`
	ReplayBoundary *ReplayBoundary       `json:"replayBoundary,omitempty"`
	LastError      string                `json:"lastError,omitempty"`
}

// ComputeContextHash returns
// SHA-256(runId | turn | reason | messageCount) in lowercase hex.
func ComputeContextHash(runID string, turn int, reason string, messageCount int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%d", runID, turn, reason, messageCount)))
	return hex.EncodeToString(sum[:])
}

// AfterToolResults builds the checkpointed state written after a turn
// produced tool results: phase=checkpointed, phaseMarker=executing,
// a checkpoint descriptor, and a replay boundary bound to it.
func AfterToolResults(runID string, turn int, reason string, messageCount int, stats Stats, now time.Time) *State {
	return &State{
		RunID:       runID,
		Phase:       PhaseCheckpointed,
		PhaseMarker: MarkerExecuting,
		Turn:        turn,
		Stats:       stats,
		Checkpoint: &CheckpointDescriptor{
			At:           now,
			Reason:       reason,
			MessageCount: messageCount,
		},
		ReplayBoundary: &ReplayBoundary{
			Turn:        turn,
			Reason:      reason,
			ContextHash: ComputeContextHash(runID, turn, reason, messageCount),
			CreatedAt:   now,
		},
	}
}

// Aborted builds the terminal state persisted on abort.
func Aborted(runID string, turn int, stats Stats) *State {
	return &State{
		RunID: runID,
		Phase: PhaseAborted,
		Turn:  turn,
		Stats: stats,
	}
}

// Decision is the outcome of evaluating a resume/retry request against a
// persisted State.
type Decision struct {
	CanResume bool
	CanRetry  bool
	Reason    string
}

// EvaluateResume applies the deterministic-resume rules.
func EvaluateResume(state *State) Decision {
	if state == nil {
		return Decision{CanResume: false, CanRetry: true, Reason: "no persisted state"}
	}
	switch state.Phase {
	case PhaseCompleted:
		return Decision{CanResume: false, CanRetry: false, Reason: "run already completed"}
	case PhaseAborted:
		return Decision{CanResume: false, CanRetry: false, Reason: "run was aborted; start a new run"}
	case PhaseCheckpointed:
		if state.ReplayBoundary == nil {
			return Decision{CanResume: false, CanRetry: false, Reason: "checkpointed state missing a replay boundary: non-deterministic resume refused"}
		}
		return Decision{CanResume: true, CanRetry: true, Reason: ""}
	case PhaseRunning:
		if state.Checkpoint == nil {
			return Decision{CanResume: false, CanRetry: true, Reason: "running state has no checkpoint to resume from"}
		}
		return Decision{CanResume: true, CanRetry: true, Reason: ""}
	case PhaseFailed:
		return Decision{CanResume: false, CanRetry: true, Reason: "run failed; retry re-enters from the original input"}
	default:
		return Decision{CanResume: false, CanRetry: false, Reason: fmt.Sprintf("unknown phase %q", state.Phase)}
	}
}

// ValidateForCheckpointedPhase enforces that phase="checkpointed"
// requires a non-null replayBoundary.
func ValidateForCheckpointedPhase(state *State) error {
	if state == nil {
		return fmt.Errorf("checkpoint: nil state")
	}
	if state.Phase == PhaseCheckpointed && state.ReplayBoundary == nil {
		return fmt.Errorf("checkpoint: phase=checkpointed requires a replay boundary")
	}
	return nil
}
