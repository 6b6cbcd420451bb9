package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autoagent/core/internal/approval"
)

// approvalPollInterval uses the same 1s cadence as userprompt.PollInterval.
var approvalPollInterval = 1 * time.Second

// approvalWire is the control-plane JSON shape for an Approval row, wide
// enough to decode both the create response and a ListApprovals entry.
type approvalWire struct {
	ID          string `json:"id"`
	RunID       string `json:"runId"`
	Scope       string `json:"scope"`
	Status      string `json:"status"`
	ContextHash string `json:"contextHash,omitempty"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// requestRunApproval performs the run-scoped approval: create the record,
// then block until the operator decides. The approvals API has no
// GET-by-id, so waiting means repeatedly listing and filtering by id (the
// control plane owns the durable row; this is a client-side poll, not a
// push notification).
func (o *Orchestrator) requestRunApproval(ctx context.Context, input RunInput) (bool, error) {
	if o.deps.Approvals == nil {
		// No approval gateway configured: treat as pre-approved, matching a
		// headless/no-operator deployment. Every other call site wires a
		// real gateway.
		return true, nil
	}

	created, err := o.deps.Approvals.CreateApproval(ctx, map[string]any{
		"runId":  input.RunID,
		"scope":  "run",
		"reason": "initial run approval",
	})
	if err != nil {
		return false, fmt.Errorf("orchestrator: create run approval: %w", err)
	}
	var wire approvalWire
	if err := json.Unmarshal(created, &wire); err != nil {
		return false, fmt.Errorf("orchestrator: decode run approval: %w", err)
	}

	o.deps.ControlPlane.UpdateRun(ctx, input.RunID, map[string]any{"status": "awaiting_approval"})
	return o.pollApproval(ctx, wire.ID, time.Time{})
}

// requestToolApproval performs the tool-scoped approval: create the
// record with its context-hash binding, then block until resolved,
// denied, or past its 10-minute expiry.
func (o *Orchestrator) requestToolApproval(ctx context.Context, runID string, turn int, toolName string, input any, reason string) (bool, error) {
	if o.deps.Approvals == nil {
		return true, nil
	}

	hash, err := approval.ComputeContextHash(runID, turn, toolName, input)
	if err != nil {
		return false, fmt.Errorf("orchestrator: context hash: %w", err)
	}
	expiresAt := o.deps.Now().Add(approval.DefaultExpiry)

	created, err := o.deps.Approvals.CreateApproval(ctx, map[string]any{
		"runId":       runID,
		"scope":       "tool",
		"reason":      reason,
		"toolName":    toolName,
		"toolInput":   input,
		"contextHash": hash,
		"expiresAt":   expiresAt.Format(time.RFC3339),
	})
	if err != nil {
		return false, fmt.Errorf("orchestrator: create tool approval: %w", err)
	}
	var wire approvalWire
	if err := json.Unmarshal(created, &wire); err != nil {
		return false, fmt.Errorf("orchestrator: decode tool approval: %w", err)
	}

	o.publishResolveToken(runID, &approval.Record{
		ID:          wire.ID,
		RunID:       runID,
		ContextHash: hash,
		CreatedAt:   o.deps.Now(),
		ExpiresAt:   &expiresAt,
	})

	return o.pollApproval(ctx, wire.ID, expiresAt)
}

// publishResolveToken hands the operator surface a signed resolve token
// for the pending approval, so a forged or stale resolve link is rejected
// before it reaches context-hash comparison.
func (o *Orchestrator) publishResolveToken(runID string, rec *approval.Record) {
	if o.deps.Signer == nil || o.deps.Traces == nil {
		return
	}
	token, err := o.deps.Signer.Sign(rec)
	if err != nil {
		o.deps.Logger.Warn("resolve token sign failed", "approval_id", rec.ID, "error", err)
		return
	}
	o.deps.Traces.AppendTrace(runID, "approval.requested", map[string]any{
		"approvalId":   rec.ID,
		"contextHash":  rec.ContextHash,
		"resolveToken": token,
		"expiresAt":    rec.ExpiresAt,
	})
}

// pollApproval implements the wait half of both approval flows: poll once
// per second until the record leaves `pending`, the run's context is
// cancelled, or (for tool-scoped approvals) the local clock passes
// expiresAt, the orchestrator's own stand-in for the server-side
// expire-on-resolve rule, since nobody here calls resolve().
func (o *Orchestrator) pollApproval(ctx context.Context, approvalID string, expiresAt time.Time) (bool, error) {
	ticker := time.NewTicker(approvalPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			wire, err := o.findApproval(ctx, approvalID)
			if err != nil {
				o.deps.Logger.Warn("approval poll failed", "approval_id", approvalID, "error", err)
				continue
			}
			if wire == nil {
				continue
			}
			switch wire.Status {
			case string(approval.StatusApproved):
				return true, nil
			case string(approval.StatusRejected):
				return false, nil
			}
			if !expiresAt.IsZero() && o.deps.Now().After(expiresAt) {
				return false, approval.ErrExpired
			}
		}
	}
}

func (o *Orchestrator) findApproval(ctx context.Context, approvalID string) (*approvalWire, error) {
	raw, err := o.deps.Approvals.ListApprovals(ctx)
	if err != nil {
		return nil, err
	}
	var all []approvalWire
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("orchestrator: decode approvals list: %w", err)
	}
	for i := range all {
		if all[i].ID == approvalID {
			return &all[i], nil
		}
	}
	return nil, nil
}
