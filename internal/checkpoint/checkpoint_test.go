package checkpoint

import (
	"testing"
	"time"
)

func TestComputeContextHashDeterministic(t *testing.T) {
	a := ComputeContextHash("run-1", 3, "tool_result", 10)
	b := ComputeContextHash("run-1", 3, "tool_result", 10)
	if a != b {
		t.Fatalf("expected deterministic hash, got %q vs %q", a, b)
	}
	c := ComputeContextHash("run-1", 4, "tool_result", 10)
	if a == c {
		t.Fatalf("expected different turn to change hash")
	}
}

func TestAfterToolResultsSetsReplayBoundary(t *testing.T) {
	state := AfterToolResults("run-1", 2, "tool_result", 5, Stats{ActionCount: 3}, time.Now())
	if state.Phase != PhaseCheckpointed {
		t.Fatalf("expected checkpointed phase, got %q", state.Phase)
	}
	if state.ReplayBoundary == nil {
		t.Fatalf("expected replay boundary to be set")
	}
	if err := ValidateForCheckpointedPhase(state); err != nil {
		t.Fatalf("expected valid checkpointed state: %v", err)
	}
}

func TestEvaluateResumeCompletedCannotResumeOrRetry(t *testing.T) {
	d := EvaluateResume(&State{Phase: PhaseCompleted})
	if d.CanResume || d.CanRetry {
		t.Fatalf("completed run must not resume or retry: %+v", d)
	}
}

func TestEvaluateResumeAbortedCannotResumeOrRetry(t *testing.T) {
	d := EvaluateResume(&State{Phase: PhaseAborted})
	if d.CanResume || d.CanRetry {
		t.Fatalf("aborted run must not resume or retry: %+v", d)
	}
}

func TestEvaluateResumeCheckpointedWithoutBoundaryRefused(t *testing.T) {
	d := EvaluateResume(&State{Phase: PhaseCheckpointed, ReplayBoundary: nil})
	if d.CanResume {
		t.Fatalf("expected resume refused for checkpointed state without replay boundary")
	}
}

func TestEvaluateResumeRunningWithoutCheckpointCannotResumeButCanRetry(t *testing.T) {
	d := EvaluateResume(&State{Phase: PhaseRunning, Checkpoint: nil})
	if d.CanResume {
		t.Fatalf("running without checkpoint must not resume")
	}
	if !d.CanRetry {
		t.Fatalf("running without checkpoint may still retry")
	}
}

func TestValidateForCheckpointedPhaseRejectsMissingBoundary(t *testing.T) {
	state := &State{Phase: PhaseCheckpointed}
	if err := ValidateForCheckpointedPhase(state); err == nil {
		t.Fatalf("expected error for checkpointed state without replay boundary")
	}
}
