// handlers.go implements the command handlers: wiring configuration,
// the control-plane client, and the orchestrator's collaborators together
// for each CLI verb.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autoagent/core/internal/approval"
	"github.com/autoagent/core/internal/checkpoint"
	"github.com/autoagent/core/internal/compress"
	"github.com/autoagent/core/internal/config"
	"github.com/autoagent/core/internal/controlplane"
	"github.com/autoagent/core/internal/mcpadapter"
	"github.com/autoagent/core/internal/orchestrator"
	"github.com/autoagent/core/internal/provider"
	"github.com/autoagent/core/internal/repomap"
	"github.com/autoagent/core/internal/resilience"
	"github.com/autoagent/core/internal/retention"
	"github.com/autoagent/core/internal/safety"
	"github.com/autoagent/core/internal/toolset"
	"github.com/autoagent/core/internal/tracebuf"
	"github.com/autoagent/core/internal/userprompt"
)

type runOptions struct {
	configPath     string
	projectDir     string
	projectID      string
	objective      string
	providerHandle string
	maxTokens      int
}

// runtime bundles the long-lived collaborators one CLI invocation wires
// together: config, logger, control-plane client, trace buffer, stdout
// status emitter, and the run registry.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	cp      *controlplane.Client
	traces  *tracebuf.Buffer
	emitter *stdoutEmitter
	reg     *orchestrator.RunRegistry
}

func newRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	cp := controlplane.New(cfg.ControlPlane.APIURL, cfg.ControlPlane.Token)
	return &runtime{
		cfg:     cfg,
		logger:  logger,
		cp:      cp,
		traces:  tracebuf.New(cp, logger),
		emitter: newStdoutEmitter(),
		reg:     orchestrator.NewRunRegistry(),
	}, nil
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// stdoutEmitter streams status events to stdout as JSON lines, one per
// event, for the operator (or a wrapping UI) to consume live.
type stdoutEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newStdoutEmitter() *stdoutEmitter {
	return &stdoutEmitter{enc: json.NewEncoder(os.Stdout)}
}

func (e *stdoutEmitter) Emit(event orchestrator.StatusEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	line := map[string]any{
		"type":    string(event.Type),
		"runId":   event.RunID,
		"turn":    event.Turn,
		"payload": event.Payload,
	}
	if event.State != "" {
		line["state"] = event.State
	}
	_ = e.enc.Encode(line)
}

// cliAsker adapts the User-Prompt Coordinator to the toolset.Asker
// contract: each ask_user call creates a prompt record and blocks on the
// 1s poll loop until the operator answers via the control plane.
type cliAsker struct {
	cp       *controlplane.Client
	emitter  *stdoutEmitter
	runID    string
	threadID string
}

func (a *cliAsker) Ask(ctx context.Context, turnNumber int, promptText string) (string, error) {
	answer, err := userprompt.Ask(ctx, a.cp, orchestrator.AskUserEmitter(a.emitter, a.runID, turnNumber), a.runID, a.threadID, turnNumber, promptText)
	if err != nil {
		return "", err
	}
	return userprompt.SyntheticToolResult(answer), nil
}

// =============================================================================
// run
// =============================================================================

func runRun(ctx context.Context, opts runOptions) error {
	rt, err := newRuntime(opts.configPath)
	if err != nil {
		return err
	}

	projectDir, err := filepath.Abs(opts.projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return fmt.Errorf("project dir %s is not a directory", projectDir)
	}
	projectID := opts.projectID
	if projectID == "" {
		projectID = filepath.Base(projectDir)
	}

	prov, err := selectProvider(rt.cfg, opts.providerHandle)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	raw, err := rt.cp.CreateRun(ctx, projectID, opts.objective)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	var created struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(raw, &created); err != nil || created.RunID == "" {
		return fmt.Errorf("create run: malformed response %s", string(raw))
	}

	threadID, err := createThread(ctx, rt.cp, created.RunID)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}

	repoMap, err := repomap.Build(projectDir, rt.cfg.RepoMap.CharBudget)
	if err != nil {
		rt.logger.Warn("repo map build failed", "error", err)
	}

	input := orchestrator.RunInput{
		RunID:          created.RunID,
		ProjectID:      projectID,
		ThreadID:       threadID,
		Objective:      opts.objective,
		ProjectDir:     projectDir,
		ProviderKind:   provider.Kind(prov.Kind),
		ProviderHandle: prov.Handle,
		BaseURL:        prov.BaseURL,
		APIKey:         prov.APIKey,
		Model:          prov.Model,
		SystemPrompt:   buildSystemPrompt(repoMap),
		MaxTokens:      opts.maxTokens,
		RoutingMode:    "default",
	}

	return rt.execute(ctx, input, nil)
}

// execute assembles the orchestrator dependencies for one run and blocks
// until the run reaches a terminal status.
func (rt *runtime) execute(ctx context.Context, input orchestrator.RunInput, resumeFrom *checkpoint.State) error {
	asker := &cliAsker{cp: rt.cp, emitter: rt.emitter, runID: input.RunID, threadID: input.ThreadID}

	tools := buildTools(input.ProjectDir, asker)

	closeMCP, err := registerMCPTools(ctx, rt.cfg.MCPServers, tools, rt.logger)
	if err != nil {
		return err
	}
	defer closeMCP()

	if err := toolset.VerifySchemas(tools); err != nil {
		return err
	}

	stopMetrics := startMetricsListener(rt.cfg.Server, rt.logger)
	defer stopMetrics()

	orch := orchestrator.New(orchestrator.Deps{
		Provider:     provider.NewAdapter(),
		Breakers:     resilience.NewBreakers(breakerConfig(rt.cfg.Retry)),
		Policies:     policiesFromConfig(rt.cfg.Retry),
		Approvals:    rt.cp,
		Signer:       approval.NewTokenSigner([]byte(rt.cfg.Approval.JWTSecret)),
		Asker:        asker,
		ControlPlane: rt.cp,
		Traces:       rt.traces,
		Tools:        tools,
		ToolPolicy: safety.ToolPolicyConfig{
			Allowlist:       rt.cfg.ToolPolicy.Allowlist,
			Denylist:        rt.cfg.ToolPolicy.Denylist,
			RequireApproval: rt.cfg.ToolPolicy.RequireApproval,
		},
		EgressMode:        safety.EgressMode(rt.cfg.Egress.Mode),
		AllowHosts:        rt.cfg.Egress.AllowedHosts,
		ExceptionHosts:    rt.cfg.Egress.ExceptionHosts,
		AutoApprovePerRun: rt.cfg.ToolPolicy.AutoApprovePerRun,
		Summarizer:        buildSummarizer(input),
		Emitter:           rt.emitter,
		Registry:          rt.reg,
		Logger:            rt.logger,
	})

	// Ctrl-C lands on ctx; translate it into a registry abort so the run
	// ends through the orchestrator's cancellation path, not a hard exit.
	go func() {
		<-ctx.Done()
		rt.reg.Abort(input.RunID)
	}()

	result := orch.ExecuteRun(context.WithoutCancel(ctx), input, resumeFrom)
	rt.logger.Info("run finished",
		"run_id", result.RunID,
		"status", string(result.Status),
		"score", result.Score,
		"duration", result.TotalDuration,
		"actions", result.Stats.ActionCount,
		"safety_violations", result.Stats.SafetyViolations,
	)
	if result.Status != orchestrator.StatusCompleted {
		return fmt.Errorf("run %s ended %s: %s", result.RunID, result.Status, result.LastError)
	}
	return nil
}

func selectProvider(cfg *config.Config, handle string) (config.ProviderConfig, error) {
	if len(cfg.Providers) == 0 {
		return config.ProviderConfig{}, errors.New("no providers configured")
	}
	if handle == "" {
		return cfg.Providers[0], nil
	}
	for _, p := range cfg.Providers {
		if p.Handle == handle {
			return p, nil
		}
	}
	return config.ProviderConfig{}, fmt.Errorf("unknown provider handle %q", handle)
}

func createThread(ctx context.Context, cp *controlplane.Client, runID string) (string, error) {
	raw, err := cp.CreateThread(ctx, map[string]any{"runId": runID})
	if err != nil {
		return "", err
	}
	var created struct {
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(raw, &created); err != nil || created.ThreadID == "" {
		return "", fmt.Errorf("malformed thread response %s", string(raw))
	}
	return created.ThreadID, nil
}

func buildSystemPrompt(repoMap string) string {
	var b strings.Builder
	b.WriteString("You are an autonomous coding agent operating on a local project.\n")
	b.WriteString("Use the provided tools to read, modify and verify the project. ")
	b.WriteString("Prefer small, verifiable changes. When the objective is met, ")
	b.WriteString("respond without tool calls to finish the run.")
	if repoMap != "" {
		b.WriteString("\n\nRepository map:\n")
		b.WriteString(repoMap)
	}
	return b.String()
}

// buildTools registers the closed tool set against the project root. The
// ask_user entry is included so its definition reaches the provider; the
// orchestrator intercepts the call itself and routes it to the Asker.
func buildTools(projectDir string, asker toolset.Asker) map[string]toolset.Tool {
	tools := map[string]toolset.Tool{}
	register := func(t toolset.Tool) { tools[t.Name()] = t }

	register(toolset.NewWriteTool(projectDir))
	register(toolset.NewReadTool(projectDir))
	register(toolset.NewEditTool(projectDir))
	register(toolset.NewRunTool(projectDir))
	register(toolset.NewSearchTool(projectDir))
	register(toolset.NewGlobTool(projectDir))
	register(toolset.NewListDirTool(projectDir))
	register(toolset.NewAskUserTool(asker, 0))
	for _, name := range []string{"git_status", "git_diff", "git_log", "git_add", "git_commit"} {
		register(toolset.NewGitTool(name, projectDir))
	}
	return tools
}

// registerMCPTools spawns each configured MCP server, lists its tools, and
// registers them under mcp_<server>_<tool> names. One long-lived
// subprocess per adapter per run; the returned closer tears them all down
// when the run ends.
func registerMCPTools(ctx context.Context, servers []config.MCPServerConfig, tools map[string]toolset.Tool, logger *slog.Logger) (func(), error) {
	var adapters []*mcpadapter.Adapter
	closeAll := func() {
		for _, a := range adapters {
			_ = a.Close()
		}
	}

	for _, srv := range servers {
		adapter := mcpadapter.New(srv.Command, srv.Args, srv.Env, srv.WorkDir, logger)
		if err := adapter.Start(ctx); err != nil {
			closeAll()
			return nil, fmt.Errorf("mcp server %s: start: %w", srv.Name, err)
		}
		adapters = append(adapters, adapter)

		descriptors, err := adapter.ListTools(ctx)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("mcp server %s: list tools: %w", srv.Name, err)
		}
		for _, desc := range descriptors {
			name := "mcp_" + srv.Name + "_" + desc.Name
			invoke := func(ctx context.Context, remoteName string, input json.RawMessage) (string, bool, error) {
				var decoded any
				if len(input) > 0 {
					if err := json.Unmarshal(input, &decoded); err != nil {
						return "", false, err
					}
				}
				result, err := adapter.InvokeTool(ctx, remoteName, decoded)
				if err != nil {
					return "", false, err
				}
				return string(result.Output), !result.OK, nil
			}
			tools[name] = toolset.NewMCPTool(name, desc.Name, desc.Description, desc.InputSchema, invoke)
			logger.Info("registered MCP tool", "tool", name)
		}
	}

	return closeAll, nil
}

func buildSummarizer(input orchestrator.RunInput) compress.Summarizer {
	switch input.ProviderKind {
	case provider.KindAnthropic:
		return compress.NewAnthropicSummarizer(input.APIKey, input.Model)
	default:
		return compress.NewOpenAISummarizer(input.APIKey, input.Model)
	}
}

func breakerConfig(cfg config.RetryConfig) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
	}
}

func policiesFromConfig(cfg config.RetryConfig) map[resilience.Stage]map[resilience.Class]resilience.Policy {
	policies := resilience.DefaultPolicies()
	policies[resilience.StageLLM][resilience.ClassTransient] = resilience.Policy{
		Attempts: cfg.LLMAttempts, BaseDelay: cfg.LLMBaseDelay, MaxDelay: cfg.LLMMaxDelay,
	}
	toolPolicy := resilience.Policy{
		Attempts: cfg.ToolAttempts, BaseDelay: cfg.ToolBaseDelay, MaxDelay: cfg.ToolMaxDelay,
	}
	policies[resilience.StageTool][resilience.ClassTransient] = toolPolicy
	policies[resilience.StageTool][resilience.ClassTool] = toolPolicy
	return policies
}

// startMetricsListener serves /metrics and /healthz on the configured
// bind address for the lifetime of the run.
func startMetricsListener(cfg config.ServerConfig, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener failed", "addr", server.Addr, "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

// =============================================================================
// resume / retry
// =============================================================================

func runResumeOrRetry(ctx context.Context, configPath, runID string, retry bool) error {
	rt, err := newRuntime(configPath)
	if err != nil {
		return err
	}

	raw, err := rt.cp.GetExecutionState(ctx, runID)
	if err != nil {
		return fmt.Errorf("fetch execution state: %w", err)
	}
	var state checkpoint.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("decode execution state: %w", err)
	}

	decision := checkpoint.EvaluateResume(&state)
	if retry {
		if !decision.CanRetry {
			return fmt.Errorf("cannot retry run %s: %s", runID, decision.Reason)
		}
	} else if !decision.CanResume {
		return fmt.Errorf("cannot resume run %s: %s", runID, decision.Reason)
	}

	if err := preflightApprovals(ctx, rt.cp, runID); err != nil {
		return err
	}

	input, err := decodeRunInput(state.Input)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	// Credentials are never persisted; re-resolve the key by handle.
	prov, err := selectProvider(rt.cfg, input.ProviderHandle)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	input.APIKey = prov.APIKey

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if retry {
		// Retry discards the checkpoint's turn count and re-enters the
		// loop with the original input.
		return rt.execute(ctx, input, nil)
	}
	return rt.execute(ctx, input, &state)
}

func decodeRunInput(persisted any) (orchestrator.RunInput, error) {
	payload, err := json.Marshal(persisted)
	if err != nil {
		return orchestrator.RunInput{}, fmt.Errorf("re-encode persisted input: %w", err)
	}
	var input orchestrator.RunInput
	if err := json.Unmarshal(payload, &input); err != nil {
		return orchestrator.RunInput{}, fmt.Errorf("decode persisted input: %w", err)
	}
	if input.RunID == "" || input.Objective == "" {
		return orchestrator.RunInput{}, errors.New("persisted input is incomplete")
	}
	return input, nil
}

// preflightApprovals blocks resume/retry while a pending tool approval for
// the run is still valid, or an approved one has gone stale
// (approved-with-expiresAt in the past).
func preflightApprovals(ctx context.Context, cp *controlplane.Client, runID string) error {
	raw, err := cp.ListApprovals(ctx)
	if err != nil {
		return fmt.Errorf("list approvals: %w", err)
	}
	var records []struct {
		ID        string     `json:"id"`
		RunID     string     `json:"runId"`
		Scope     string     `json:"scope"`
		Status    string     `json:"status"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("decode approvals: %w", err)
	}

	now := time.Now()
	for _, rec := range records {
		if rec.RunID != runID || rec.Scope != "tool" {
			continue
		}
		switch rec.Status {
		case "pending":
			if rec.ExpiresAt == nil || rec.ExpiresAt.After(now) {
				return fmt.Errorf("run %s has a pending tool approval (%s); resolve it before resuming", runID, rec.ID)
			}
		case "approved":
			if rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
				return fmt.Errorf("run %s has a stale approved tool approval (%s); start a new run", runID, rec.ID)
			}
		}
	}
	return nil
}

// =============================================================================
// abort
// =============================================================================

// runAbort handles cross-process abort: the in-process cancellation token
// belongs to the process running the turn loop (where Ctrl-C reaches it),
// so a separate abort invocation goes through the control plane: persist
// a terminal aborted checkpoint and mark the run cancelled.
func runAbort(ctx context.Context, configPath, runID string) error {
	rt, err := newRuntime(configPath)
	if err != nil {
		return err
	}

	if raw, err := rt.cp.GetExecutionState(ctx, runID); err == nil {
		var state checkpoint.State
		if json.Unmarshal(raw, &state) == nil && state.RunID != "" {
			aborted := checkpoint.Aborted(state.RunID, state.Turn, state.Stats)
			aborted.Input = state.Input
			if err := rt.cp.SaveExecutionState(ctx, runID, aborted); err != nil {
				rt.logger.Warn("persist aborted state failed", "run_id", runID, "error", err)
			}
		}
	}

	if err := rt.cp.UpdateRun(ctx, runID, map[string]any{"status": "cancelled"}); err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	rt.logger.Info("run aborted", "run_id", runID)
	return nil
}

// =============================================================================
// approve
// =============================================================================

func runApprove(ctx context.Context, configPath, approvalID string, approved bool, contextHash string) error {
	rt, err := newRuntime(configPath)
	if err != nil {
		return err
	}
	if err := rt.cp.ResolveApproval(ctx, approvalID, approved, contextHash); err != nil {
		return fmt.Errorf("resolve approval %s: %w", approvalID, err)
	}
	verdict := "approved"
	if !approved {
		verdict = "rejected"
	}
	rt.logger.Info("approval resolved", "approval_id", approvalID, "verdict", verdict)
	return nil
}

// =============================================================================
// sweep
// =============================================================================

func runSweep(ctx context.Context, configPath string, once bool) error {
	rt, err := newRuntime(configPath)
	if err != nil {
		return err
	}

	sweeper := retention.New(rt.cp, retention.Config{
		CleanupInterval:          rt.cfg.Retention.CleanupInterval,
		TraceRetentionDays:       rt.cfg.Retention.TraceRetentionDays,
		ArtifactRetentionDays:    rt.cfg.Retention.ArtifactRetentionDays,
		PromptRetentionDays:      rt.cfg.Retention.PromptRetentionDays,
		PromptCacheRetentionDays: rt.cfg.Retention.PromptCacheRetentionDays,
	}, rt.logger)

	if once {
		sweeper.SweepOnce(ctx)
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sweeper.Run(ctx)
	return nil
}
