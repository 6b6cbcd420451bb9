// Package orchestrator implements the run orchestrator: the per-run turn
// state machine that drives the provider, dispatches tool calls through
// the safety pipeline, checkpoints progress, and finalizes or fails the
// run. Within a turn, ask_user calls are handled first, read-only tools
// run concurrently, and mutating tools run serially in the order the
// model emitted them.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/autoagent/core/internal/approval"
	"github.com/autoagent/core/internal/checkpoint"
	"github.com/autoagent/core/internal/compress"
	"github.com/autoagent/core/internal/provider"
	"github.com/autoagent/core/internal/resilience"
	"github.com/autoagent/core/internal/safety"
	"github.com/autoagent/core/internal/toolset"
	"github.com/autoagent/core/internal/tracebuf"
)

// MaxTurns bounds how many provider round-trips a single run may make.
const MaxTurns = 25

// TruncateThreshold and the head/tail split control how oversized tool
// output is cut down before re-injection into the conversation.
const (
	TruncateThreshold = 15000
	TruncateHeadRatio = 0.6
	TruncateTailRatio = 0.2
)

// RunStatus is the per-run state machine.
type RunStatus string

const (
	StatusCreatingRun      RunStatus = "creating_run"
	StatusApprovalRequired RunStatus = "approval_required"
	StatusApproved         RunStatus = "approved"
	StatusRejected         RunStatus = "rejected"
	StatusExecuting        RunStatus = "executing"
	StatusCompleted        RunStatus = "completed"
	StatusFailed           RunStatus = "failed"
	StatusCancelled        RunStatus = "cancelled"
)

// RunInput is the original Start input, persisted verbatim in
// PersistedExecutionState.input and reused unchanged on retry. The API key
// is never persisted: credentials are obtained by opaque handle, so resume
// and retry re-resolve the key from ProviderHandle.
type RunInput struct {
	RunID                   string        `json:"runId"`
	ProjectID               string        `json:"projectId"`
	ThreadID                string        `json:"threadId,omitempty"`
	Objective               string        `json:"objective"`
	ProjectDir              string        `json:"projectDir"`
	ProviderKind            provider.Kind `json:"providerKind"`
	ProviderHandle          string        `json:"providerHandle"`
	BaseURL                 string        `json:"baseUrl,omitempty"`
	APIKey                  string        `json:"-"`
	Model                   string        `json:"model"`
	SystemPrompt            string        `json:"systemPrompt"`
	MaxTokens               int           `json:"maxTokens"`
	RoutingMode             string        `json:"routingMode,omitempty"`
	ExpectedOutputFragments []string      `json:"expectedOutputFragments,omitempty"`
}

// RunResult is what ExecuteRun returns once the run reaches a terminal
// status.
type RunResult struct {
	RunID         string
	Status        RunStatus
	Summary       string
	Score         float64
	TotalDuration time.Duration
	Stats         checkpoint.Stats
	FollowUps     []FollowUpSuggestion
	LastError     string
}

// ControlPlane is the subset of internal/controlplane.Client the
// orchestrator drives directly (beyond the narrower ApprovalGateway and
// tracebuf.Sink interfaces it also consumes).
type ControlPlane interface {
	UpdateRun(ctx context.Context, runID string, patch any) error
	SaveExecutionState(ctx context.Context, runID string, state any) error
	DeleteExecutionState(ctx context.Context, runID string) error
	CreateArtifact(ctx context.Context, payload any) error
	RecordModelPerformance(ctx context.Context, payload any) error
	RecordPromotionEvaluation(ctx context.Context, payload any) error
	AppendThreadMessage(ctx context.Context, threadID string, payload any) error
}

// ApprovalGateway is the narrow control-plane surface the approval
// polling loop needs. The approvals API exposes create+list but no
// get-by-id, so waiting for a decision means listing and filtering
// client-side (approvalwait.go).
type ApprovalGateway interface {
	CreateApproval(ctx context.Context, payload any) (json.RawMessage, error)
	ListApprovals(ctx context.Context) (json.RawMessage, error)
}

// Asker is the toolset.Asker contract the ask_user tool delegates to
// (implemented by a userprompt.Ask-backed adapter in cmd/autoagentd).
type Asker = toolset.Asker

// Deps bundles every collaborator the orchestrator drives.
type Deps struct {
	Provider       *provider.Adapter
	Breakers       *resilience.Breakers
	Policies       map[resilience.Stage]map[resilience.Class]resilience.Policy
	Approvals      ApprovalGateway
	Signer         *approval.TokenSigner
	Asker          toolset.Asker
	ControlPlane   ControlPlane
	Traces         *tracebuf.Buffer
	Tools          map[string]toolset.Tool
	ToolPolicy     safety.ToolPolicyConfig
	EgressMode     safety.EgressMode
	AllowHosts     []string
	ExceptionHosts []string
	// AutoApprovePerRun is the optional per-run budget of tool approvals
	// granted without the operator; 0 keeps every needs_approval verdict
	// on the operator's desk.
	AutoApprovePerRun int
	Resolver          safety.Resolver
	Summarizer        compress.Summarizer
	Emitter           StatusEmitter
	Registry          *RunRegistry
	Baselines         *BaselineStore
	Metrics           *Metrics
	Logger            *slog.Logger
	Now               func() time.Time
	RNG               *rand.Rand
}

// Orchestrator drives runs through ExecuteRun; a single instance is
// shared across concurrently-running runs, with one cooperative task per
// run and process-wide circuit/baseline state.
type Orchestrator struct {
	deps Deps
}

// New builds an Orchestrator, filling any unset Deps with defaults
// (policies, resolver, clock).
func New(deps Deps) *Orchestrator {
	if deps.Policies == nil {
		deps.Policies = resilience.DefaultPolicies()
	}
	if deps.Breakers == nil {
		deps.Breakers = resilience.NewBreakers(resilience.DefaultBreakerConfig())
	}
	if deps.Resolver == nil {
		deps.Resolver = safety.DefaultResolver
	}
	if deps.Registry == nil {
		deps.Registry = NewRunRegistry()
	}
	if deps.Baselines == nil {
		deps.Baselines = NewBaselineStore()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RNG == nil {
		deps.RNG = rand.New(rand.NewSource(1))
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	return &Orchestrator{deps: deps}
}

// runState is the in-process turn/history bookkeeping for one active run.
// It is never persisted wholesale; the checkpoint state
// (internal/checkpoint) is the durable projection of it.
type runState struct {
	input       RunInput
	messages    []provider.Message
	turn        int
	stats       checkpoint.Stats
	started     time.Time
	autoApprove *safety.AutoApproveBudget
	// pending tracks fire-and-forget thread-message writes, joined before
	// the run reaches a terminal status.
	pending sync.WaitGroup
}

// ExecuteRun runs one agent run to a terminal status.
// When resumeFrom is non-nil the run-approval step is skipped and the
// turn counter and stats continue from the checkpoint; the message history
// is rebuilt from the system prompt and objective either way. The caller
// is responsible for having already validated the resume via
// checkpoint.EvaluateResume and an approval preflight.
func (o *Orchestrator) ExecuteRun(ctx context.Context, input RunInput, resumeFrom *checkpoint.State) *RunResult {
	logger := o.deps.Logger.With("run_id", input.RunID)
	state := &runState{
		input:       input,
		started:     o.deps.Now(),
		autoApprove: safety.NewAutoApproveBudget(o.deps.AutoApprovePerRun),
	}

	if resumeFrom != nil {
		state.turn = resumeFrom.Turn
		state.stats = resumeFrom.Stats
	} else {
		approved, err := o.requestRunApproval(ctx, input)
		if err != nil {
			return o.fail(ctx, state, err, false)
		}
		if !approved {
			o.deps.ControlPlane.UpdateRun(ctx, input.RunID, map[string]any{"status": "cancelled"})
			o.deps.Metrics.RunCompleted.WithLabelValues(string(StatusRejected)).Inc()
			return &RunResult{RunID: input.RunID, Status: StatusRejected}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.deps.Registry.Register(input.RunID, cancel)
	defer o.deps.Registry.Unregister(input.RunID)

	state.messages = []provider.Message{
		{Role: "system", Content: input.SystemPrompt},
		{Role: "user", Content: input.Objective},
	}

	o.deps.ControlPlane.UpdateRun(ctx, input.RunID, map[string]any{"status": "running"})
	if o.deps.Traces != nil {
		o.deps.Traces.AppendTrace(input.RunID, "run.started", map[string]any{"objective": input.Objective, "resumed": resumeFrom != nil})
	}
	logger.Info("run started", "objective", input.Objective)

	for state.turn = state.turn + 1; state.turn <= MaxTurns; state.turn++ {
		if err := runCtx.Err(); err != nil {
			return o.fail(ctx, state, fmt.Errorf("orchestrator: aborted: %w", err), true)
		}

		done, err := o.runTurn(runCtx, state)
		if err != nil {
			return o.fail(ctx, state, err, runCtx.Err() != nil)
		}
		if done {
			return o.finalize(ctx, state)
		}
	}

	return o.fail(ctx, state, fmt.Errorf("orchestrator: exceeded %d turns without completion", MaxTurns), false)
}

// runTurn performs one iteration of the turn loop, returning done=true
// once the model produces a turn with no tool calls.
func (o *Orchestrator) runTurn(ctx context.Context, state *runState) (done bool, err error) {
	logger := o.deps.Logger.With("run_id", state.input.RunID, "turn", state.turn)
	turnStarted := o.deps.Now()
	defer func() {
		o.deps.Metrics.TurnDuration.WithLabelValues(state.input.ProviderHandle).Observe(o.deps.Now().Sub(turnStarted).Seconds())
	}()

	compacted, err := compress.Compress(ctx, state.messages, o.deps.Summarizer)
	if err != nil {
		return false, fmt.Errorf("orchestrator: compress: %w", err)
	}
	state.messages = compacted

	turn, err := o.callProvider(ctx, state)
	if err != nil {
		return false, fmt.Errorf("orchestrator: provider call: %w", err)
	}
	state.stats.TotalInputTokens += turn.InputTokens
	state.stats.TotalOutputTokens += turn.OutputTokens

	assistantMsg := provider.Message{Role: "assistant", Content: turn.TextContent, ToolCalls: turn.ToolCalls, Raw: turn.RawAssistantMessage}
	state.messages = append(state.messages, assistantMsg)
	o.persistThreadMessages(ctx, state, assistantMsg)
	o.emit(StatusEvent{Type: EventAssistantMessage, RunID: state.input.RunID, Turn: state.turn, Payload: turn.TextContent})

	if len(turn.ToolCalls) == 0 {
		return true, nil
	}

	results := o.dispatchToolCalls(ctx, state, turn.ToolCalls)
	resultMessages := provider.BuildToolResultMessages(state.input.ProviderKind, results)
	state.messages = append(state.messages, resultMessages...)
	o.persistThreadMessages(ctx, state, resultMessages...)

	o.checkpointTurn(ctx, state)
	logger.Info("turn completed", "tool_calls", len(turn.ToolCalls))
	return false, nil
}

// callProvider wraps provider.Adapter.CallStreaming in the retry+breaker
// layer: the circuit must be closed before dispatch, transient errors
// retry per the LLM stage's transient policy, and any other classified
// error is permanent (one attempt, no retry) so a 4xx-shaped provider
// rejection doesn't burn the turn's wall-clock retrying.
func (o *Orchestrator) callProvider(ctx context.Context, state *runState) (provider.Turn, error) {
	providerID := state.input.ProviderHandle
	if err := o.deps.Breakers.Allow(providerID); err != nil {
		return provider.Turn{}, err
	}

	tools := make([]provider.Tool, 0, len(o.deps.Tools))
	for _, tool := range o.deps.Tools {
		tools = append(tools, tool)
	}

	policy := o.deps.Policies[resilience.StageLLM][resilience.ClassTransient]
	onFail := func(attempt int, err error) {
		state.stats.Retries++
		o.deps.Metrics.RetryAttempted.WithLabelValues("llm").Inc()
		if o.deps.Traces != nil {
			o.deps.Traces.AppendTrace(state.input.RunID, "execution.retry", map[string]any{"stage": "llm", "attempt": attempt, "error": err.Error()})
		}
		o.deps.Logger.Warn("provider call retry", "run_id", state.input.RunID, "attempt", attempt, "error", err)
	}

	result := resilience.Do(ctx, policy, o.deps.RNG, onFail, func(ctx context.Context) (provider.Turn, error) {
		onDelta := func(d provider.Delta) {
			if d.Kind == provider.DeltaText {
				o.emit(StatusEvent{Type: EventTokenDelta, RunID: state.input.RunID, Turn: state.turn, Payload: d.Text})
			}
		}
		turn, callErr := o.deps.Provider.CallStreaming(ctx, state.input.ProviderKind, state.input.BaseURL, state.input.APIKey, state.input.Model, state.input.SystemPrompt, state.messages, state.input.MaxTokens, tools, onDelta)
		if callErr != nil {
			return provider.Turn{}, classifyProviderFailure(callErr)
		}
		return turn, nil
	})

	if result.LastErr != nil {
		o.deps.Breakers.RecordFailure(providerID)
		return provider.Turn{}, result.LastErr
	}
	o.deps.Breakers.RecordSuccess(providerID)
	return result.Value, nil
}

// classifyProviderFailure decides whether a failed provider call may be
// retried. The structured *provider.Error carries the HTTP status
// classification (429 and 5xx are retryable); non-HTTP failures (network,
// stream read) fall back to the cause heuristic. Anything not retryable
// is marked permanent so the retry loop stops immediately.
func classifyProviderFailure(err error) error {
	if errors.Is(err, context.Canceled) {
		return resilience.Permanent(resilience.ClassCancelled, err)
	}
	reason := provider.ClassifyCause(err)
	if pe, ok := provider.AsProviderError(err); ok {
		reason = pe.Reason
	}
	if reason.IsRetryable() {
		return err
	}
	return resilience.Permanent(resilience.ClassProvider, err)
}

// persistThreadMessages appends messages to the run's thread without
// awaiting the writes; failures are logged and swallowed.
func (o *Orchestrator) persistThreadMessages(ctx context.Context, state *runState, msgs ...provider.Message) {
	if o.deps.ControlPlane == nil || state.input.ThreadID == "" {
		return
	}
	turn := state.turn
	for _, msg := range msgs {
		msg := msg
		state.pending.Add(1)
		go func() {
			defer state.pending.Done()
			var content any = msg.Content
			if len(msg.ToolResults) > 0 {
				content = msg.ToolResults
			}
			payload := map[string]any{
				"role":       msg.Role,
				"content":    content,
				"turnNumber": turn,
			}
			if msg.ToolCallID != "" {
				payload["toolCallId"] = msg.ToolCallID
			}
			if err := o.deps.ControlPlane.AppendThreadMessage(ctx, state.input.ThreadID, payload); err != nil {
				o.deps.Logger.Warn("thread message persist failed", "run_id", state.input.RunID, "error", err)
			}
		}()
	}
}

// checkpointTurn persists the post-tool-results checkpoint and
// fire-and-forgets the matching trace row; the next turn does not await
// either write.
func (o *Orchestrator) checkpointTurn(ctx context.Context, state *runState) {
	cp := checkpoint.AfterToolResults(state.input.RunID, state.turn, "tool_result", len(state.messages), state.stats, o.deps.Now())
	if o.deps.ControlPlane != nil {
		if err := o.deps.ControlPlane.SaveExecutionState(ctx, state.input.RunID, cp); err != nil {
			o.deps.Logger.Warn("checkpoint save failed", "run_id", state.input.RunID, "error", err)
		}
	}
	if o.deps.Traces != nil {
		o.deps.Traces.AppendTrace(state.input.RunID, "execution.checkpoint", cp)
	}
}

// emit publishes a StatusEvent if an emitter is configured; nil emitters
// are valid (e.g. headless batch runs with no live listener).
func (o *Orchestrator) emit(event StatusEvent) {
	if o.deps.Emitter != nil {
		o.deps.Emitter.Emit(event)
	}
}

// RunRegistry holds one cancellation token per active run, mutated under
// a single mutex since the orchestrator is single-process.
type RunRegistry struct {
	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

func NewRunRegistry() *RunRegistry {
	return &RunRegistry{cancel: make(map[string]context.CancelFunc)}
}

func (r *RunRegistry) Register(runID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel[runID] = cancel
}

func (r *RunRegistry) Unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancel, runID)
}

// Abort signals the run's cancellation token and dequeues it.
func (r *RunRegistry) Abort(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancel[runID]
	if !ok {
		return false
	}
	cancel()
	delete(r.cancel, runID)
	return true
}

// BaselineStore tracks the best observed score per routing mode.
type BaselineStore struct {
	mu       sync.Mutex
	baseline map[string]float64
}

func NewBaselineStore() *BaselineStore {
	return &BaselineStore{baseline: make(map[string]float64)}
}

// UpdateMax advances the routing-mode baseline to max(old, newAggregate)
// and returns the resulting value.
func (b *BaselineStore) UpdateMax(routingMode string, newAggregate float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if newAggregate > b.baseline[routingMode] {
		b.baseline[routingMode] = newAggregate
	}
	return b.baseline[routingMode]
}

func (b *BaselineStore) Get(routingMode string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.baseline[routingMode]
}
