package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/autoagent/core/internal/provider"
	"github.com/autoagent/core/internal/resilience"
	"github.com/autoagent/core/internal/safety"
	"github.com/autoagent/core/internal/toolset"
	"github.com/autoagent/core/internal/validate"
)

// dispatchToolCalls partitions a turn's tool calls: ask_user first and
// serially (bypassing the safety pipeline entirely), then every read-only
// call concurrently, then every mutating call one at a time in the order
// the model emitted them.
func (o *Orchestrator) dispatchToolCalls(ctx context.Context, state *runState, calls []provider.ToolCall) []provider.ToolResult {
	results := make([]provider.ToolResult, len(calls))

	var readOnly, mutating []int
	for i, call := range calls {
		o.emit(StatusEvent{Type: EventToolCall, RunID: state.input.RunID, Turn: state.turn, Payload: call})

		if call.Name == "ask_user" {
			results[i] = o.runAskUser(ctx, state, call)
			continue
		}
		if toolset.IsReadOnly(call.Name) {
			readOnly = append(readOnly, i)
		} else {
			mutating = append(mutating, i)
		}
	}

	if len(readOnly) > 0 {
		var wg sync.WaitGroup
		for _, idx := range readOnly {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = o.runThroughSafetyPipeline(ctx, state, calls[i])
			}(idx)
		}
		wg.Wait()
	}

	for _, idx := range mutating {
		results[idx] = o.runThroughSafetyPipeline(ctx, state, calls[idx])
	}

	for i := range results {
		o.emit(StatusEvent{Type: EventToolResult, RunID: state.input.RunID, Turn: state.turn, Payload: results[i]})
	}
	return results
}

// runAskUser delegates to the configured Asker directly, skipping the
// safety pipeline: asking the operator a question is logically prior to
// the read-only/mutating partition the pipeline governs.
func (o *Orchestrator) runAskUser(ctx context.Context, state *runState, call provider.ToolCall) provider.ToolResult {
	if o.deps.Asker == nil {
		return provider.ToolResult{ID: call.ID, Content: "Error: ask_user is not available in this deployment", IsError: true}
	}
	var args struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return provider.ToolResult{ID: call.ID, Content: fmt.Sprintf("Error: invalid ask_user input: %v", err), IsError: true}
	}
	answer, err := o.deps.Asker.Ask(ctx, state.turn, args.Question)
	if err != nil {
		return provider.ToolResult{ID: call.ID, Content: fmt.Sprintf("Error: %v", err), IsError: true}
	}
	return provider.ToolResult{ID: call.ID, Content: answer}
}

// runThroughSafetyPipeline applies the five ordered gates: command
// inspection, egress policy, tool policy, the executor (with retry), and
// outcome validation. Any stage short of the executor that blocks
// produces an error ToolResult without ever invoking the tool.
func (o *Orchestrator) runThroughSafetyPipeline(ctx context.Context, state *runState, call provider.ToolCall) provider.ToolResult {
	var inputMap map[string]any
	_ = json.Unmarshal(call.Input, &inputMap)

	riskAboveMedium := false
	if call.Name == "run_command" {
		if cmd, ok := inputMap["command"].(string); ok {
			inspection := safety.Inspect(cmd)
			riskAboveMedium = inspection.Risk > safety.RiskMedium
			if inspection.IsBlocked() {
				state.stats.SafetyViolations++
				o.traceViolation(state, call, "command_inspector", strings.Join(inspection.Violations, "; "))
				return o.errorResult(call.ID, "Blocked: "+strings.Join(inspection.Violations, "; "))
			}
			if len(inspection.ExternalHosts) > 0 {
				egress := safety.EvaluateEgress(safety.EgressInput{
					Hosts:          inspection.ExternalHosts,
					Mode:           o.deps.EgressMode,
					AllowHosts:     o.deps.AllowHosts,
					ExceptionHosts: o.deps.ExceptionHosts,
					Critical:       inspection.Risk == safety.RiskCritical,
				}, o.deps.Resolver)
				switch egress.Decision {
				case safety.EgressDeny:
					state.stats.SafetyViolations++
					o.traceViolation(state, call, "egress_policy", egress.Reason)
					return o.errorResult(call.ID, "Egress denied: "+egress.Reason)
				case safety.EgressNeedsApproval:
					approved, err := o.requestToolApproval(ctx, state.input.RunID, state.turn, call.Name, inputMap, egress.Reason)
					if err != nil || !approved {
						state.stats.SafetyViolations++
						return o.errorResult(call.ID, "Egress not approved")
					}
				}
			}
		}
	}

	policyResult := safety.CheckTool(o.deps.ToolPolicy, call.Name, call.Input)
	switch policyResult.Decision {
	case safety.ToolDeny:
		state.stats.SafetyViolations++
		o.traceViolation(state, call, "tool_policy", policyResult.Reason)
		return o.errorResult(call.ID, "tool policy denied: "+policyResult.Reason)
	case safety.ToolNeedsApproval:
		// An optional per-run budget lets a few otherwise-approvable calls
		// through without the operator; anything the inspector rated above
		// medium risk always goes to the operator.
		if riskAboveMedium || !state.autoApprove.Consume() {
			approved, err := o.requestToolApproval(ctx, state.input.RunID, state.turn, call.Name, inputMap, policyResult.Reason)
			if err != nil || !approved {
				state.stats.SafetyViolations++
				return o.errorResult(call.ID, "tool approval denied or failed")
			}
		}
	}

	result := o.executeWithRetry(ctx, state, call)

	outcome := validate.Validate(validate.Input{
		ToolName:    call.Name,
		ToolInput:   inputMap,
		ToolResult:  result.Content,
		ResultIsErr: result.IsError,
		ProjectDir:  state.input.ProjectDir,
	})
	if !outcome.OK {
		state.stats.ValidationFailures++
	}
	state.stats.ActionCount++
	if o.deps.ControlPlane != nil {
		artifact := outcome.Artifact(uuid.NewString(), state.input.RunID, call.Name, result.Content, o.deps.Now())
		if err := o.deps.ControlPlane.CreateArtifact(ctx, artifact); err != nil {
			o.deps.Logger.Warn("verification artifact persist failed", "run_id", state.input.RunID, "tool", call.Name, "error", err)
		}
	}
	if o.deps.Traces != nil {
		o.deps.Traces.AppendTrace(state.input.RunID, "tool.validated", map[string]any{"tool": call.Name, "outcome": outcome})
		o.deps.Traces.AppendTrace(state.input.RunID, "tool.result", map[string]any{"tool": call.Name, "content": result.Content, "isError": result.IsError})
	}

	result.Content = smartTruncate(result.Content)
	return result
}

// executeWithRetry runs the tool through the tool-stage retry policy.
func (o *Orchestrator) executeWithRetry(ctx context.Context, state *runState, call provider.ToolCall) provider.ToolResult {
	tool, ok := o.deps.Tools[call.Name]
	if !ok {
		return provider.ToolResult{ID: call.ID, Content: "Error: unknown tool " + call.Name, IsError: true}
	}

	policy := o.deps.Policies[resilience.StageTool][resilience.ClassTool]
	onFail := func(attempt int, err error) {
		state.stats.Retries++
		o.deps.Metrics.RetryAttempted.WithLabelValues("tool").Inc()
		if o.deps.Traces != nil {
			o.deps.Traces.AppendTrace(state.input.RunID, "execution.retry", map[string]any{"stage": "tool", "tool": call.Name, "attempt": attempt, "error": err.Error()})
		}
		o.deps.Logger.Warn("tool call retry", "run_id", state.input.RunID, "tool", call.Name, "attempt", attempt, "error", err)
	}

	res := resilience.Do(ctx, policy, o.deps.RNG, onFail, func(ctx context.Context) (toolset.Result, error) {
		result, execErr := tool.Execute(ctx, call.Input)
		if execErr != nil {
			switch class := resilience.Classify(execErr); class {
			case resilience.ClassCancelled, resilience.ClassPolicy:
				return toolset.Result{}, resilience.Permanent(class, execErr)
			}
			return toolset.Result{}, execErr
		}
		return result, nil
	})
	if res.LastErr != nil {
		return provider.ToolResult{ID: call.ID, Content: "Error: " + res.LastErr.Error(), IsError: true}
	}
	return provider.ToolResult{ID: call.ID, Content: res.Value.Content, IsError: res.Value.IsError}
}

func (o *Orchestrator) errorResult(callID, message string) provider.ToolResult {
	return provider.ToolResult{ID: callID, Content: "Error: " + message, IsError: true}
}

func (o *Orchestrator) traceViolation(state *runState, call provider.ToolCall, stage, reason string) {
	o.deps.Metrics.SafetyViolations.WithLabelValues(stage).Inc()
	if o.deps.Traces == nil {
		return
	}
	o.deps.Traces.AppendTrace(state.input.RunID, "safety.violation", map[string]any{
		"tool":   call.Name,
		"stage":  stage,
		"reason": reason,
		"turn":   state.turn,
	})
}
