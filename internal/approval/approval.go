// Package approval manages run-scoped and tool-scoped approval records:
// context-hash binding, at-most-one resolution, and expiry enforced
// lazily at resolve time.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/autoagent/core/internal/stablejson"
)

// Scope distinguishes run-level from tool-level approvals.
type Scope string

const (
	ScopeRun  Scope = "run"
	ScopeTool Scope = "tool"
)

// Status is Approval.status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// DefaultExpiry is how long a tool-scoped approval waits for the
// operator.
const DefaultExpiry = 10 * time.Minute

var (
	ErrNotFound        = errors.New("approval: not found")
	ErrAlreadyResolved = errors.New("approval: already_resolved")
	ErrExpired         = errors.New("approval: expired")
	ErrContextMismatch = errors.New("approval: context_mismatch")
)

// Record is the Approval entity.
type Record struct {
	ID          string
	RunID       string
	Scope       Scope
	Reason      string
	Status      Status
	ToolName    string
	ToolInput   any
	ExpiresAt   *time.Time
	ContextHash string
	CreatedAt   time.Time
	DecidedAt   *time.Time
}

// ComputeContextHash returns
// SHA-256(runId | turn | toolName | stableStringify(input)) in lowercase
// hex, binding an approval to its originating context.
func ComputeContextHash(runID string, turn int, toolName string, input any) (string, error) {
	stableInput, err := stablejson.Stringify(input)
	if err != nil {
		return "", fmt.Errorf("approval: stable-stringify input: %w", err)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s", runID, turn, toolName, stableInput)))
	return hex.EncodeToString(sum[:]), nil
}

// Store holds in-process approval records for the active run controller.
// The control plane is the durable owner in a full deployment; this
// in-memory store mirrors its read/decide contract for the orchestrator's
// own bookkeeping and for tests.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record
	nextID  int
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{records: make(map[string]*Record), now: time.Now}
}

// CreateToolApproval creates a tool-scoped approval with its context hash.
func (s *Store) CreateToolApproval(runID string, turn int, toolName string, input any, reason string) (*Record, error) {
	hash, err := ComputeContextHash(runID, turn, toolName, input)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	expires := s.now().Add(DefaultExpiry)
	rec := &Record{
		ID:          fmt.Sprintf("apr_%d", s.nextID),
		RunID:       runID,
		Scope:       ScopeTool,
		Reason:      reason,
		Status:      StatusPending,
		ToolName:    toolName,
		ToolInput:   input,
		ExpiresAt:   &expires,
		ContextHash: hash,
		CreatedAt:   s.now(),
	}
	s.records[rec.ID] = rec
	return rec, nil
}

// CreateRunApproval creates the initial run-scoped approval shown to the
// operator before any execution.
func (s *Store) CreateRunApproval(runID, reason string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec := &Record{
		ID:        fmt.Sprintf("apr_%d", s.nextID),
		RunID:     runID,
		Scope:     ScopeRun,
		Reason:    reason,
		Status:    StatusPending,
		CreatedAt: s.now(),
	}
	s.records[rec.ID] = rec
	return rec
}

// Get returns a record by ID. Expiry is enforced at resolve time rather
// than read time, so Get only reports the stored status; Resolve is what
// performs the expiry check.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Resolve applies the operator's decision: not found →
// ErrNotFound; non-pending → ErrAlreadyResolved; past expiresAt →
// auto-reject and return ErrExpired; context-hash mismatch →
// ErrContextMismatch; otherwise apply the decision.
func (s *Store) Resolve(id string, approved bool, expectedContextHash string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != StatusPending {
		return rec, ErrAlreadyResolved
	}
	if rec.ExpiresAt != nil && s.now().After(*rec.ExpiresAt) {
		rec.Status = StatusRejected
		now := s.now()
		rec.DecidedAt = &now
		return rec, ErrExpired
	}
	if rec.Scope == ScopeTool && expectedContextHash != "" && expectedContextHash != rec.ContextHash {
		return rec, ErrContextMismatch
	}

	now := s.now()
	rec.DecidedAt = &now
	if approved {
		rec.Status = StatusApproved
	} else {
		rec.Status = StatusRejected
	}
	return rec, nil
}

// ListPendingForRun returns every still-pending tool approval for a run,
// skipping any past their deadline. Used by the resume/retry preflight.
func (s *Store) ListPendingForRun(runID string) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.RunID != runID || rec.Scope != ScopeTool {
			continue
		}
		if rec.Status == StatusPending && rec.ExpiresAt != nil && s.now().After(*rec.ExpiresAt) {
			continue // expired; not a live blocker
		}
		if rec.Status == StatusPending {
			out = append(out, rec)
		}
	}
	return out
}

// ListStaleApprovedForRun returns approved records whose expiresAt lies
// in the past: approvals that went stale after being granted.
func (s *Store) ListStaleApprovedForRun(runID string) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.RunID != runID || rec.Status != StatusApproved {
			continue
		}
		if rec.ExpiresAt != nil && s.now().After(*rec.ExpiresAt) {
			out = append(out, rec)
		}
	}
	return out
}

// ErrResumeBlocked is returned when a resume/retry preflight finds a
// live blocker.
var ErrResumeBlocked = errors.New("approval: resume blocked by pending or stale approvals")

// PreflightResume guards resume/retry: no pending tool approvals still
// valid, and no approved approval with a stale context hash (i.e.
// expired after being approved).
func (s *Store) PreflightResume(runID string) error {
	if pending := s.ListPendingForRun(runID); len(pending) > 0 {
		return fmt.Errorf("%w: %d pending tool approval(s)", ErrResumeBlocked, len(pending))
	}
	if stale := s.ListStaleApprovedForRun(runID); len(stale) > 0 {
		return fmt.Errorf("%w: %d approval(s) with stale context hash", ErrResumeBlocked, len(stale))
	}
	return nil
}
