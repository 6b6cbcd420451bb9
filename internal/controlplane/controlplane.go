// Package controlplane is the thin HTTP client for the control plane's
// REST surface: run/thread/approval/prompt/trace/checkpoint/
// artifact/provider CRUD plus the retention deletes and trace POSTs the
// rest of this module drives through narrower interfaces
// (tracebuf.Sink, userprompt.ControlPlane, retention.Store).
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/autoagent/core/internal/userprompt"
)

// Client is the control-plane HTTP client: JSON over HTTP/1.1 with a
// 10s timeout on every request.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("controlplane: marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("controlplane: build request %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("controlplane: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStatusError(method, path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("controlplane: decode %s %s: %w", method, path, err)
	}
	return nil
}

// StatusError carries the HTTP status code so callers can distinguish
// 404/409 from transport failures (e.g. mapping 409 to
// already_resolved/expired/context_mismatch on approval resolution).
type StatusError struct {
	Method, Path string
	StatusCode   int
	Body         string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("controlplane: %s %s: %s (%s)", e.Method, e.Path, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("controlplane: %s %s: %s", e.Method, e.Path, http.StatusText(e.StatusCode))
}

func newStatusError(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// --- Runs ---

func (c *Client) CreateRun(ctx context.Context, projectID, objective string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "/api/runs", map[string]string{"projectId": projectID, "objective": objective}, &out)
	return out, err
}

func (c *Client) UpdateRun(ctx context.Context, runID string, patch any) error {
	return c.do(ctx, http.MethodPut, "/api/runs/"+runID, patch, nil)
}

func (c *Client) GetRun(ctx context.Context, runID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/runs/"+runID, nil, &out)
	return out, err
}

func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodDelete, "/api/runs/"+runID, nil, nil)
}

// --- Traces (tracebuf.Sink) ---

// PostTrace implements tracebuf.Sink.
func (c *Client) PostTrace(ctx context.Context, runID, eventType string, payload any) error {
	return c.do(ctx, http.MethodPost, "/api/traces/"+runID, map[string]any{"eventType": eventType, "payload": payload}, nil)
}

func (c *Client) ListTraces(ctx context.Context, runID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/traces/"+runID, nil, &out)
	return out, err
}

func (c *Client) TraceMetrics(ctx context.Context, runID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/traces/"+runID+"/metrics", nil, &out)
	return out, err
}

// --- Approvals ---

func (c *Client) CreateApproval(ctx context.Context, payload any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "/api/approvals", payload, &out)
	return out, err
}

func (c *Client) ListApprovals(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/approvals", nil, &out)
	return out, err
}

// ResolveApproval maps the 200/404/409 resolve contract onto StatusError:
// callers inspect StatusError.StatusCode (409) plus the decoded body's
// `reason` field to distinguish already_resolved/expired/context_mismatch.
func (c *Client) ResolveApproval(ctx context.Context, approvalID string, approved bool, expectedContextHash string) error {
	payload := map[string]any{"approved": approved}
	if expectedContextHash != "" {
		payload["expectedContextHash"] = expectedContextHash
	}
	return c.do(ctx, http.MethodPost, "/api/approvals/"+approvalID+"/resolve", payload, nil)
}

// --- Execution state / checkpoints ---

func (c *Client) SaveExecutionState(ctx context.Context, runID string, state any) error {
	return c.do(ctx, http.MethodPost, "/api/execution-state/"+runID, state, nil)
}

func (c *Client) GetExecutionState(ctx context.Context, runID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/execution-state/"+runID, nil, &out)
	return out, err
}

func (c *Client) DeleteExecutionState(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodDelete, "/api/execution-state/"+runID, nil, nil)
}

// --- Threads ---

func (c *Client) CreateThread(ctx context.Context, payload any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "/api/threads", payload, &out)
	return out, err
}

func (c *Client) ThreadByRun(ctx context.Context, runID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/threads/by-run/"+runID, nil, &out)
	return out, err
}

func (c *Client) ThreadMessages(ctx context.Context, threadID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/threads/"+threadID+"/messages", nil, &out)
	return out, err
}

func (c *Client) AppendThreadMessage(ctx context.Context, threadID string, payload any) error {
	return c.do(ctx, http.MethodPost, "/api/threads/"+threadID+"/messages", payload, nil)
}

// --- User prompts (userprompt.ControlPlane) ---

type promptWireRecord struct {
	PromptID     string `json:"promptId"`
	RunID        string `json:"runId"`
	ThreadID     string `json:"threadId"`
	TurnNumber   int    `json:"turnNumber"`
	PromptText   string `json:"promptText"`
	Status       string `json:"status"`
	ResponseText string `json:"responseText,omitempty"`
	ExpiresAt    string `json:"expiresAt"`
}

func (c *Client) CreatePromptRecord(ctx context.Context, runID, threadID string, turnNumber int, promptText string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "/api/prompts", map[string]any{
		"runId": runID, "threadId": threadID, "turnNumber": turnNumber, "promptText": promptText,
	}, &out)
	return out, err
}

func (c *Client) GetPromptRecord(ctx context.Context, promptID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/prompts/"+promptID, nil, &out)
	return out, err
}

func (c *Client) AnswerPrompt(ctx context.Context, promptID, responseText string) error {
	return c.do(ctx, http.MethodPost, "/api/prompts/"+promptID+"/answer", map[string]string{"responseText": responseText}, nil)
}

func (c *Client) PromptsByRun(ctx context.Context, runID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/prompts/by-run/"+runID, nil, &out)
	return out, err
}

// CreatePrompt and GetPrompt decode promptWireRecord into a
// *userprompt.Prompt, satisfying userprompt.ControlPlane directly so the
// orchestrator can hand a *Client to userprompt.Ask without an adapter.
func (c *Client) CreatePrompt(ctx context.Context, runID, threadID string, turnNumber int, promptText string) (*userprompt.Prompt, error) {
	var wire promptWireRecord
	err := c.do(ctx, http.MethodPost, "/api/prompts", map[string]any{
		"runId": runID, "threadId": threadID, "turnNumber": turnNumber, "promptText": promptText,
	}, &wire)
	if err != nil {
		return nil, err
	}
	return wire.toPrompt()
}

func (c *Client) GetPrompt(ctx context.Context, promptID string) (*userprompt.Prompt, error) {
	var wire promptWireRecord
	if err := c.do(ctx, http.MethodGet, "/api/prompts/"+promptID, nil, &wire); err != nil {
		return nil, err
	}
	return wire.toPrompt()
}

func (w promptWireRecord) toPrompt() (*userprompt.Prompt, error) {
	expires, err := time.Parse(time.RFC3339, w.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("controlplane: parse prompt expiresAt %q: %w", w.ExpiresAt, err)
	}
	return &userprompt.Prompt{
		PromptID:     w.PromptID,
		RunID:        w.RunID,
		ThreadID:     w.ThreadID,
		TurnNumber:   w.TurnNumber,
		PromptText:   w.PromptText,
		Status:       userprompt.Status(w.Status),
		ResponseText: w.ResponseText,
		ExpiresAt:    expires,
	}, nil
}

// --- Verification artifacts ---

func (c *Client) CreateArtifact(ctx context.Context, payload any) error {
	return c.do(ctx, http.MethodPost, "/api/artifacts", payload, nil)
}

func (c *Client) ArtifactsByRun(ctx context.Context, runID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/artifacts?runId="+runID, nil, &out)
	return out, err
}

// --- Model performance / promotion gate ---

func (c *Client) RecordModelPerformance(ctx context.Context, payload any) error {
	return c.do(ctx, http.MethodPost, "/api/model-performance", payload, nil)
}

func (c *Client) ModelPerformance(ctx context.Context, providerID, mode string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/model-performance/"+providerID+"/"+mode, nil, &out)
	return out, err
}

func (c *Client) RecordPromotionEvaluation(ctx context.Context, payload any) error {
	return c.do(ctx, http.MethodPost, "/api/promotions/evaluations", payload, nil)
}

func (c *Client) PromotionEvaluations(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/promotions/evaluations", nil, &out)
	return out, err
}

// --- Prompt cache ---

func (c *Client) GetPromptCache(ctx context.Context, key string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/prompt-cache/"+key, nil, &out)
	return out, err
}

func (c *Client) PutPromptCache(ctx context.Context, key string, payload any) error {
	return c.do(ctx, http.MethodPost, "/api/prompt-cache/"+key, payload, nil)
}

// --- Settings / providers ---

func (c *Client) GetSettings(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/settings", nil, &out)
	return out, err
}

func (c *Client) PutSettings(ctx context.Context, payload any) error {
	return c.do(ctx, http.MethodPut, "/api/settings", payload, nil)
}

func (c *Client) ListProviders(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/providers", nil, &out)
	return out, err
}

func (c *Client) CreateProvider(ctx context.Context, payload any) error {
	return c.do(ctx, http.MethodPost, "/api/providers", payload, nil)
}

func (c *Client) UpdateProvider(ctx context.Context, id string, payload any) error {
	return c.do(ctx, http.MethodPut, "/api/providers/"+id, payload, nil)
}

// --- Retention (retention.Store) ---

func (c *Client) DeleteTracesOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return c.deleteOlderThan(ctx, "/api/traces", cutoff)
}

func (c *Client) DeleteArtifactsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return c.deleteOlderThan(ctx, "/api/artifacts", cutoff)
}

func (c *Client) DeletePromptsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return c.deleteOlderThan(ctx, "/api/prompts", cutoff)
}

func (c *Client) DeletePromptCacheOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return c.deleteOlderThan(ctx, "/api/prompt-cache", cutoff)
}

func (c *Client) deleteOlderThan(ctx context.Context, path string, cutoff time.Time) (int, error) {
	var out struct {
		Deleted int `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, path+"?olderThan="+cutoff.UTC().Format(time.RFC3339), nil, &out)
	return out.Deleted, err
}
