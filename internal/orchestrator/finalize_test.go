package orchestrator

import (
	"testing"
	"time"
)

func TestScoreExecutionPerfectRun(t *testing.T) {
	score := scoreExecution(scoreInputs{
		outputText:        "done: built the feature and verified it",
		expectedFragments: []string{"built", "verified"},
		latency:           time.Minute,
	})
	if score != 1.0 {
		t.Errorf("score = %v, want 1.0", score)
	}
}

func TestScoreExecutionMissingFragmentsAndSlow(t *testing.T) {
	score := scoreExecution(scoreInputs{
		outputText:        "done",
		expectedFragments: []string{"built", "verified"},
		latency:           10 * time.Minute,
		safetyViolations:  1,
	})
	want := 1.0 - 0.2 - 0.2 - 0.1 - 0.25
	if score != want {
		t.Errorf("score = %v, want %v", score, want)
	}
}

func TestScoreExecutionClampedAtZero(t *testing.T) {
	score := scoreExecution(scoreInputs{safetyViolations: 10})
	if score != 0 {
		t.Errorf("score = %v, want 0", score)
	}
}

func TestFirstReflectionNoteFound(t *testing.T) {
	text := "Implemented the change.\n\nReflection: the retry budget should be lower.\n\nDone."
	note := firstReflectionNote(text)
	if note != "the retry budget should be lower." {
		t.Errorf("note = %q", note)
	}
}

func TestFirstReflectionNoteAbsent(t *testing.T) {
	if note := firstReflectionNote("no reflection here"); note != "" {
		t.Errorf("note = %q, want empty", note)
	}
}

func TestBuildFollowUpsIncludesReflectionHint(t *testing.T) {
	followUps := buildFollowUps("add auth", "Work complete.\n\nReflection: add rate limiting next.")
	if len(followUps) != 3 {
		t.Fatalf("len(followUps) = %d, want 3", len(followUps))
	}
	wantActions := map[string]bool{"gap-fixing": true, "add-verification": true, "optimize": true}
	for _, f := range followUps {
		if !wantActions[f.Action] {
			t.Errorf("unexpected action %q", f.Action)
		}
		if f.ObjectiveHint != "add auth — add rate limiting next." {
			t.Errorf("objectiveHint = %q", f.ObjectiveHint)
		}
	}
}

func TestBuildFollowUpsFallsBackToObjectiveAlone(t *testing.T) {
	followUps := buildFollowUps("add auth", "Work complete with no reflection paragraph.")
	for _, f := range followUps {
		if f.ObjectiveHint != "add auth" {
			t.Errorf("objectiveHint = %q, want %q", f.ObjectiveHint, "add auth")
		}
	}
}
