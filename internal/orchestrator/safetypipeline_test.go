package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/autoagent/core/internal/provider"
	"github.com/autoagent/core/internal/safety"
	"github.com/autoagent/core/internal/toolset"
)

// fakeTool is a minimal toolset.Tool for exercising the dispatch partition
// without touching the real filesystem tools.
type fakeTool struct {
	name     string
	readOnly bool
	execFunc func(ctx context.Context, input json.RawMessage) (toolset.Result, error)
	calls    atomic.Int32
}

func (f *fakeTool) Name() string               { return f.name }
func (f *fakeTool) Description() string        { return "fake tool for tests" }
func (f *fakeTool) Schema() json.RawMessage     { return json.RawMessage(`{"type":"object"}`) }
func (f *fakeTool) ReadOnly() bool              { return f.readOnly }
func (f *fakeTool) Execute(ctx context.Context, input json.RawMessage) (toolset.Result, error) {
	f.calls.Add(1)
	if f.execFunc != nil {
		return f.execFunc(ctx, input)
	}
	return toolset.Result{Content: "ok"}, nil
}

type fakeAsker struct {
	answer string
}

func (a *fakeAsker) Ask(ctx context.Context, turnNumber int, promptText string) (string, error) {
	return a.answer, nil
}

func newTestOrchestrator(tools map[string]toolset.Tool, asker toolset.Asker) *Orchestrator {
	return New(Deps{
		Tools: tools,
		Asker: asker,
	})
}

func TestDispatchToolCallsReadOnlyRunsConcurrently(t *testing.T) {
	readFile := &fakeTool{name: "read_file", readOnly: true}
	o := newTestOrchestrator(map[string]toolset.Tool{"read_file": readFile}, nil)

	state := &runState{input: RunInput{RunID: "run-1"}, turn: 1}
	calls := []provider.ToolCall{
		{ID: "1", Name: "read_file", Input: json.RawMessage(`{"path":"a.txt"}`)},
		{ID: "2", Name: "read_file", Input: json.RawMessage(`{"path":"b.txt"}`)},
	}

	results := o.dispatchToolCalls(context.Background(), state, calls)
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if readFile.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", readFile.calls.Load())
	}
	for i, r := range results {
		if r.ID != calls[i].ID {
			t.Errorf("result[%d].ID = %q, want %q", i, r.ID, calls[i].ID)
		}
		if r.IsError {
			t.Errorf("result[%d] unexpectedly errored: %s", i, r.Content)
		}
	}
}

func TestDispatchToolCallsMutatingRunsInOrder(t *testing.T) {
	var order []string
	writeFile := &fakeTool{
		name: "write_file",
		execFunc: func(ctx context.Context, input json.RawMessage) (toolset.Result, error) {
			var args struct {
				Path string `json:"path"`
			}
			_ = json.Unmarshal(input, &args)
			order = append(order, args.Path)
			return toolset.Result{Content: "wrote " + args.Path}, nil
		},
	}
	o := newTestOrchestrator(map[string]toolset.Tool{"write_file": writeFile}, nil)

	state := &runState{input: RunInput{RunID: "run-1"}, turn: 1}
	calls := []provider.ToolCall{
		{ID: "1", Name: "write_file", Input: json.RawMessage(`{"path":"a.txt"}`)},
		{ID: "2", Name: "write_file", Input: json.RawMessage(`{"path":"b.txt"}`)},
	}

	o.dispatchToolCalls(context.Background(), state, calls)
	if len(order) != 2 || order[0] != "a.txt" || order[1] != "b.txt" {
		t.Errorf("order = %v, want [a.txt b.txt]", order)
	}
}

func TestDispatchToolCallsAskUserBypassesSafetyPipeline(t *testing.T) {
	o := newTestOrchestrator(map[string]toolset.Tool{}, &fakeAsker{answer: "go ahead"})

	state := &runState{input: RunInput{RunID: "run-1"}, turn: 1}
	calls := []provider.ToolCall{
		{ID: "1", Name: "ask_user", Input: json.RawMessage(`{"question":"proceed?"}`)},
	}

	results := o.dispatchToolCalls(context.Background(), state, calls)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Content != "go ahead" {
		t.Errorf("content = %q, want %q", results[0].Content, "go ahead")
	}
}

func TestDispatchToolCallsUnknownToolErrors(t *testing.T) {
	o := newTestOrchestrator(map[string]toolset.Tool{}, nil)
	state := &runState{input: RunInput{RunID: "run-1"}, turn: 1}
	calls := []provider.ToolCall{{ID: "1", Name: "write_file", Input: json.RawMessage(`{}`)}}

	results := o.dispatchToolCalls(context.Background(), state, calls)
	if !results[0].IsError {
		t.Errorf("expected an error result for an unregistered tool")
	}
}

func TestRunThroughSafetyPipelineBlocksCriticalCommand(t *testing.T) {
	runCommand := &fakeTool{name: "run_command"}
	o := newTestOrchestrator(map[string]toolset.Tool{"run_command": runCommand}, nil)

	state := &runState{input: RunInput{RunID: "run-1"}, turn: 1}
	call := provider.ToolCall{ID: "1", Name: "run_command", Input: json.RawMessage(`{"command":"rm -rf /"}`)}

	result := o.runThroughSafetyPipeline(context.Background(), state, call)
	if !result.IsError {
		t.Errorf("expected the destructive command to be blocked")
	}
	if runCommand.calls.Load() != 0 {
		t.Errorf("tool must not execute once blocked by the Command Inspector")
	}
	if state.stats.SafetyViolations != 1 {
		t.Errorf("SafetyViolations = %d, want 1", state.stats.SafetyViolations)
	}
}

func TestRunThroughSafetyPipelineDeniesByToolPolicy(t *testing.T) {
	tool := &fakeTool{name: "write_file"}
	o := New(Deps{
		Tools:      map[string]toolset.Tool{"write_file": tool},
		ToolPolicy: safety.ToolPolicyConfig{Denylist: []string{"write_file"}},
	})

	state := &runState{input: RunInput{RunID: "run-1"}, turn: 1}
	call := provider.ToolCall{ID: "1", Name: "write_file", Input: json.RawMessage(`{"path":"a.txt","content":"x"}`)}

	result := o.runThroughSafetyPipeline(context.Background(), state, call)
	if !result.IsError {
		t.Errorf("expected tool policy denial")
	}
	if tool.calls.Load() != 0 {
		t.Errorf("tool must not execute once denied by policy")
	}
}

func TestSmartTruncateAppliedToLongToolOutput(t *testing.T) {
	longOutput := fmt.Sprintf("%0*d", TruncateThreshold+1000, 0)
	tool := &fakeTool{
		name: "read_file",
		execFunc: func(ctx context.Context, input json.RawMessage) (toolset.Result, error) {
			return toolset.Result{Content: longOutput}, nil
		},
	}
	o := newTestOrchestrator(map[string]toolset.Tool{"read_file": tool}, nil)
	state := &runState{input: RunInput{RunID: "run-1"}, turn: 1}
	call := provider.ToolCall{ID: "1", Name: "read_file", Input: json.RawMessage(`{"path":"a.txt"}`)}

	result := o.runThroughSafetyPipeline(context.Background(), state, call)
	if len(result.Content) >= len(longOutput) {
		t.Errorf("expected the re-injected content to be truncated")
	}
}

// failingApprovalGateway refuses every approval create, so any call that
// reaches the approval coordinator comes back as an error result.
type failingApprovalGateway struct{}

func (failingApprovalGateway) CreateApproval(ctx context.Context, payload any) (json.RawMessage, error) {
	return nil, fmt.Errorf("gateway down")
}

func (failingApprovalGateway) ListApprovals(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func TestAutoApproveBudgetSkipsOperatorUntilExhausted(t *testing.T) {
	tool := &fakeTool{name: "write_file"}
	o := New(Deps{
		Tools:             map[string]toolset.Tool{"write_file": tool},
		ToolPolicy:        safety.ToolPolicyConfig{RequireApproval: []string{"write_file"}},
		Approvals:         failingApprovalGateway{},
		AutoApprovePerRun: 1,
	})

	state := &runState{
		input:       RunInput{RunID: "run-1"},
		turn:        1,
		autoApprove: safety.NewAutoApproveBudget(1),
	}
	call := provider.ToolCall{ID: "1", Name: "write_file", Input: json.RawMessage(`{"path":"a.txt","content":"x"}`)}

	first := o.runThroughSafetyPipeline(context.Background(), state, call)
	if first.IsError {
		t.Fatalf("first call should consume the auto-approve budget, got %+v", first)
	}
	if tool.calls.Load() != 1 {
		t.Fatalf("tool should have executed once, got %d", tool.calls.Load())
	}

	second := o.runThroughSafetyPipeline(context.Background(), state, call)
	if !second.IsError {
		t.Fatal("second call must fall through to the operator once the budget is spent")
	}
	if tool.calls.Load() != 1 {
		t.Fatalf("tool must not execute after the approval failed, got %d", tool.calls.Load())
	}
}

func TestAutoApproveBudgetNeverCoversHighRiskCommands(t *testing.T) {
	tool := &fakeTool{name: "run_command"}
	o := New(Deps{
		Tools:      map[string]toolset.Tool{"run_command": tool},
		ToolPolicy: safety.ToolPolicyConfig{RequireApproval: []string{"run_command"}},
		Approvals:  failingApprovalGateway{},
	})

	state := &runState{
		input:       RunInput{RunID: "run-1"},
		turn:        1,
		autoApprove: safety.NewAutoApproveBudget(5),
	}
	call := provider.ToolCall{ID: "1", Name: "run_command", Input: json.RawMessage(`{"command":"curl https://example.com"}`)}

	result := o.runThroughSafetyPipeline(context.Background(), state, call)
	if !result.IsError {
		t.Fatal("high-risk commands must always reach the operator")
	}
	if tool.calls.Load() != 0 {
		t.Fatalf("tool must not execute, got %d", tool.calls.Load())
	}
}
