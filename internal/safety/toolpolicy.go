package safety

import (
	"encoding/json"
	"strings"
	"sync"
)

// ToolDecision mirrors EgressDecision's three-way shape for tool-level
// policy outcomes.
type ToolDecision string

const (
	ToolAllow         ToolDecision = "allow"
	ToolNeedsApproval ToolDecision = "needs_approval"
	ToolDeny          ToolDecision = "deny"
)

// ToolPolicyResult is the tool policy's verdict.
type ToolPolicyResult struct {
	Decision ToolDecision
	Reason   string
}

// AutoApproveBudget counts per-run automatic approvals for tools the
// policy would otherwise send to the operator. A zero budget disables
// auto-approval entirely; commands the inspector rates above medium risk
// never draw from it.
type AutoApproveBudget struct {
	mu        sync.Mutex
	remaining int
}

func NewAutoApproveBudget(n int) *AutoApproveBudget {
	return &AutoApproveBudget{remaining: n}
}

// Consume reports whether an automatic approval is still available,
// decrementing the budget when it is. Safe on a nil receiver.
func (b *AutoApproveBudget) Consume() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// ToolPolicyConfig is the per-project policy table consulted by
// CheckTool: denylist first, then allowlist, then require-approval.
type ToolPolicyConfig struct {
	// Allowlist, when non-empty, makes every tool not matched by it a
	// deny.
	Allowlist []string
	Denylist  []string
	// RequireApproval names tools (or glob patterns) that always need
	// operator sign-off.
	RequireApproval []string
}

// CheckTool evaluates the per-tool decision table against toolName and its
// raw JSON input. Specific contract checks (e.g. git_commit requiring a
// non-empty message) are applied before the generic list cascade.
func CheckTool(cfg ToolPolicyConfig, toolName string, input json.RawMessage) ToolPolicyResult {
	if result, ok := checkSpecific(toolName, input); ok {
		return result
	}

	for _, pattern := range cfg.Denylist {
		if matchesPattern(pattern, toolName) {
			return ToolPolicyResult{Decision: ToolDeny, Reason: "tool is denylisted: " + toolName}
		}
	}

	if len(cfg.Allowlist) > 0 {
		allowed := false
		for _, pattern := range cfg.Allowlist {
			if matchesPattern(pattern, toolName) {
				allowed = true
				break
			}
		}
		if !allowed {
			return ToolPolicyResult{Decision: ToolDeny, Reason: "tool is outside the project allowlist: " + toolName}
		}
	}

	for _, pattern := range cfg.RequireApproval {
		if matchesPattern(pattern, toolName) {
			return ToolPolicyResult{Decision: ToolNeedsApproval, Reason: "tool requires approval: " + toolName}
		}
	}

	return ToolPolicyResult{Decision: ToolAllow}
}

// checkSpecific applies tool-specific shape contracts that take precedence
// over the generic list cascade.
func checkSpecific(toolName string, input json.RawMessage) (ToolPolicyResult, bool) {
	if toolName != "git_commit" {
		return ToolPolicyResult{}, false
	}
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(input, &parsed); err != nil {
		return ToolPolicyResult{Decision: ToolDeny, Reason: "invalid git_commit input"}, true
	}
	if strings.TrimSpace(parsed.Message) == "" {
		return ToolPolicyResult{Decision: ToolDeny, Reason: "git_commit requires a non-empty message"}, true
	}
	return ToolPolicyResult{Decision: ToolAllow}, true
}

// matchesPattern supports exact match, "prefix*", "*suffix", bare "*",
// and "mcp:*" style namespace wildcards.
func matchesPattern(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == name {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(name, strings.TrimPrefix(pattern, "*"))
	}
	return false
}
