package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/autoagent/core/internal/checkpoint"
	"github.com/autoagent/core/internal/provider"
)

// FollowUpSuggestion is one of the three static post-run actions:
// gap-fixing, add-verification, optimize.
type FollowUpSuggestion struct {
	Action        string
	ObjectiveHint string
}

// scoreInputs bundles what the execution score is computed from: output
// text, expected fragments, latency, output tokens, safety violations.
type scoreInputs struct {
	outputText       string
	expectedFragments []string
	latency          time.Duration
	outputTokens     int
	safetyViolations int
}

// scoreLatencyThreshold is the cutoff past which a run is penalized for
// slowness.
const scoreLatencyThreshold = 5 * time.Minute

// scoreExecution is a pure function over the final transcript's
// observables: start at 1.0, subtract for every missed expected fragment,
// a latency breach, and each safety violation, clamped to [0, 1].
func scoreExecution(in scoreInputs) float64 {
	// Penalties are tallied in hundredths so the score is exact on the
	// two-decimal grid the weights define.
	penalty := 0
	for _, fragment := range in.expectedFragments {
		if !strings.Contains(in.outputText, fragment) {
			penalty += 20
		}
	}
	if in.latency > scoreLatencyThreshold {
		penalty += 10
	}
	penalty += 25 * in.safetyViolations
	score := float64(100-penalty) / 100
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// finalize is the completion path: score the run, advance the
// routing-mode baseline, fan out the finishing side effects, clear the
// checkpoint, and emit completed + follow-up-suggestions.
func (o *Orchestrator) finalize(ctx context.Context, state *runState) *RunResult {
	state.pending.Wait()
	totalDuration := o.deps.Now().Sub(state.started)
	finalText := lastAssistantText(state.messages)
	summary := truncateSummary(state.input.Objective)

	score := scoreExecution(scoreInputs{
		outputText:        finalText,
		expectedFragments: state.input.ExpectedOutputFragments,
		latency:           totalDuration,
		outputTokens:      state.stats.TotalOutputTokens,
		safetyViolations:  state.stats.SafetyViolations,
	})
	baseline := o.deps.Baselines.UpdateMax(state.input.RoutingMode, score)
	o.deps.Metrics.RunCompleted.WithLabelValues(string(StatusCompleted)).Inc()
	o.deps.Metrics.RunScore.WithLabelValues(state.input.RoutingMode).Observe(score)

	if o.deps.Traces != nil {
		o.deps.Traces.AppendTrace(state.input.RunID, "run.finished", map[string]any{"score": score, "turns": state.turn})
	}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); o.recordPromotionEval(ctx, state, score, baseline) }()
	go func() { defer wg.Done(); o.recordModelPerformance(ctx, state, score, totalDuration, true) }()
	go func() {
		defer wg.Done()
		if o.deps.ControlPlane != nil {
			o.deps.ControlPlane.UpdateRun(ctx, state.input.RunID, map[string]any{"status": "completed", "summary": summary, "score": score})
		}
	}()
	go func() {
		defer wg.Done()
		if o.deps.Traces != nil {
			o.deps.Traces.FlushTraces()
		}
	}()
	wg.Wait()

	if o.deps.ControlPlane != nil {
		if err := o.deps.ControlPlane.DeleteExecutionState(ctx, state.input.RunID); err != nil {
			o.deps.Logger.Warn("clear checkpoint failed", "run_id", state.input.RunID, "error", err)
		}
	}

	followUps := buildFollowUps(state.input.Objective, finalText)
	o.emit(StatusEvent{Type: EventCompleted, RunID: state.input.RunID, Turn: state.turn, Payload: finalText})
	o.emit(StatusEvent{Type: EventFollowUpSuggestions, RunID: state.input.RunID, Turn: state.turn, Payload: followUps})

	return &RunResult{
		RunID:         state.input.RunID,
		Status:        StatusCompleted,
		Summary:       summary,
		Score:         score,
		TotalDuration: totalDuration,
		Stats:         state.stats,
		FollowUps:     followUps,
	}
}

// fail is the failure path, shared by provider errors,
// exceeded-turn-bound, and cancellation (aborted=true).
func (o *Orchestrator) fail(ctx context.Context, state *runState, cause error, aborted bool) *RunResult {
	status := StatusFailed
	phase := checkpoint.PhaseFailed
	if aborted {
		status = StatusCancelled
		phase = checkpoint.PhaseAborted
	}
	state.pending.Wait()

	if o.deps.Traces != nil {
		o.deps.Traces.AppendTrace(state.input.RunID, "run.error", map[string]any{"error": cause.Error(), "aborted": aborted})
	}
	o.deps.Metrics.RunCompleted.WithLabelValues(string(status)).Inc()

	persisted := &checkpoint.State{
		RunID:     state.input.RunID,
		Phase:     phase,
		Turn:      state.turn,
		Input:     state.input,
		Stats:     state.stats,
		LastError: cause.Error(),
	}
	if o.deps.ControlPlane != nil {
		if err := o.deps.ControlPlane.SaveExecutionState(ctx, state.input.RunID, persisted); err != nil {
			o.deps.Logger.Warn("persist failure state failed", "run_id", state.input.RunID, "error", err)
		}
	}

	o.recordModelPerformance(ctx, state, 0, o.deps.Now().Sub(state.started), false)

	if o.deps.ControlPlane != nil {
		o.deps.ControlPlane.UpdateRun(ctx, state.input.RunID, map[string]any{"status": string(status), "summary": truncateSummary(cause.Error()), "error": cause.Error()})
	}

	o.emit(StatusEvent{Type: EventError, RunID: state.input.RunID, Turn: state.turn, State: "failed", Payload: cause.Error()})
	if o.deps.Traces != nil {
		o.deps.Traces.FlushTraces()
	}
	o.deps.Registry.Abort(state.input.RunID)

	return &RunResult{
		RunID:         state.input.RunID,
		Status:        status,
		TotalDuration: o.deps.Now().Sub(state.started),
		Stats:         state.stats,
		LastError:     cause.Error(),
	}
}

func (o *Orchestrator) recordPromotionEval(ctx context.Context, state *runState, score, baseline float64) {
	if o.deps.ControlPlane == nil {
		return
	}
	if err := o.deps.ControlPlane.RecordPromotionEvaluation(ctx, map[string]any{
		"runId":       state.input.RunID,
		"routingMode": state.input.RoutingMode,
		"score":       score,
		"baseline":    baseline,
		"promoted":    score >= baseline,
	}); err != nil {
		o.deps.Logger.Warn("promotion evaluation record failed", "run_id", state.input.RunID, "error", err)
	}
}

func (o *Orchestrator) recordModelPerformance(ctx context.Context, state *runState, score float64, latency time.Duration, success bool) {
	if o.deps.ControlPlane == nil {
		return
	}
	if err := o.deps.ControlPlane.RecordModelPerformance(ctx, map[string]any{
		"runId":        state.input.RunID,
		"providerHandle": state.input.ProviderHandle,
		"success":      success,
		"score":        score,
		"latencyMs":    latency.Milliseconds(),
		"outputTokens": state.stats.TotalOutputTokens,
	}); err != nil {
		o.deps.Logger.Warn("model performance record failed", "run_id", state.input.RunID, "error", err)
	}
}

// buildFollowUps produces the three static suggestions, each deriving its
// objectiveHint from the original objective plus the first
// "Reflection:"-prefixed paragraph found in the final assistant text, if
// any.
func buildFollowUps(objective, finalText string) []FollowUpSuggestion {
	hint := objective
	if note := firstReflectionNote(finalText); note != "" {
		hint = objective + " — " + note
	}
	return []FollowUpSuggestion{
		{Action: "gap-fixing", ObjectiveHint: hint},
		{Action: "add-verification", ObjectiveHint: hint},
		{Action: "optimize", ObjectiveHint: hint},
	}
}

func firstReflectionNote(text string) string {
	const marker = "Reflection:"
	idx := strings.Index(text, marker)
	if idx == -1 {
		return ""
	}
	rest := text[idx+len(marker):]
	if end := strings.Index(rest, "\n\n"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// truncateSummary caps the run record's summary at 200 characters.
func truncateSummary(text string) string {
	runes := []rune(text)
	if len(runes) <= 200 {
		return text
	}
	return string(runes[:200])
}

func lastAssistantText(messages []provider.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			return messages[i].Content
		}
	}
	return ""
}
