// Package config loads the single startup Config for autoagentd: server
// bind address, control-plane client settings, provider credentials keyed
// by handle, the egress and tool policy tables, retry/backoff tuning, and
// repo-map budgets. YAML first, environment overrides second, defaults
// and validation last.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for autoagentd.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	Providers    []ProviderConfig   `yaml:"providers"`
	Egress       EgressConfig       `yaml:"egress"`
	ToolPolicy   ToolPolicyConfig   `yaml:"tool_policy"`
	Retry        RetryConfig        `yaml:"retry"`
	RepoMap      RepoMapConfig      `yaml:"repo_map"`
	Retention    RetentionConfig    `yaml:"retention"`
	Approval     ApprovalConfig     `yaml:"approval"`
	Logging      LoggingConfig      `yaml:"logging"`
	MCPServers   []MCPServerConfig  `yaml:"mcp_servers"`
}

// ServerConfig configures autoagentd's own HTTP listener (health/metrics).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ControlPlaneConfig configures the client used to talk to the control
// plane.
type ControlPlaneConfig struct {
	APIURL      string        `yaml:"api_url"`
	Token       string        `yaml:"token"`
	DataDir     string        `yaml:"data_dir"`
	DBPath      string        `yaml:"control_db_path"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// ProviderConfig is one credentials-by-handle entry.
// Handle is what routing decisions and model-performance
// records key on; Kind selects the Anthropic- or OpenAI-shaped adapter.
type ProviderConfig struct {
	Handle  string `yaml:"handle"`
	Kind    string `yaml:"kind"` // "anthropic" or "openai"
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// EgressConfig configures the egress policy stage.
type EgressConfig struct {
	Mode           string   `yaml:"mode"` // off | audit | enforce
	AllowedHosts   []string `yaml:"allowed_hosts"`
	ExceptionHosts []string `yaml:"exception_hosts"`
}

// ToolPolicyConfig configures the tool policy stage. AutoApprovePerRun,
// when positive, lets that many needs-approval verdicts through per run
// without the operator (never for commands rated above medium risk).
type ToolPolicyConfig struct {
	Allowlist         []string `yaml:"allowlist"`
	Denylist          []string `yaml:"denylist"`
	RequireApproval   []string `yaml:"require_approval"`
	AutoApprovePerRun int      `yaml:"auto_approve_per_run"`
}

// RetryConfig tunes the (stage, class) backoff policies, overriding
// resilience.DefaultPolicies() where set.
type RetryConfig struct {
	LLMAttempts  int           `yaml:"llm_attempts"`
	LLMBaseDelay time.Duration `yaml:"llm_base_delay"`
	LLMMaxDelay  time.Duration `yaml:"llm_max_delay"`

	ToolAttempts  int           `yaml:"tool_attempts"`
	ToolBaseDelay time.Duration `yaml:"tool_base_delay"`
	ToolMaxDelay  time.Duration `yaml:"tool_max_delay"`

	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerCooldown         time.Duration `yaml:"breaker_cooldown"`
}

// RepoMapConfig tunes the repository map budget.
type RepoMapConfig struct {
	CharBudget int `yaml:"char_budget"`
}

// RetentionConfig tunes the sweeper's interval and per-resource windows.
type RetentionConfig struct {
	CleanupInterval          time.Duration `yaml:"cleanup_interval"`
	TraceRetentionDays       int           `yaml:"trace_retention_days"`
	ArtifactRetentionDays    int           `yaml:"artifact_retention_days"`
	PromptRetentionDays      int           `yaml:"prompt_retention_days"`
	PromptCacheRetentionDays int           `yaml:"prompt_cache_retention_days"`
}

// ApprovalConfig tunes the approval and user-prompt expiry windows.
type ApprovalConfig struct {
	ApprovalExpiry   time.Duration `yaml:"approval_expiry"`
	JWTSecret        string        `yaml:"jwt_secret"`
	UserPromptExpiry time.Duration `yaml:"user_prompt_expiry"`
}

// MCPServerConfig declares one external MCP server whose tools are
// exposed to the model under mcp_<name>_-prefixed tool names.
type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	WorkDir string            `yaml:"work_dir"`
}

// LoggingConfig controls the single slog.Logger constructed at startup.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Load reads and parses path, applies environment overrides, fills
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides lets AUTOAGENT_DATA_DIR, AUTOAGENT_CONTROL_DB_PATH,
// AUTOAGENT_API_URL, and PORT override whatever the YAML set.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("AUTOAGENT_DATA_DIR")); v != "" {
		cfg.ControlPlane.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTOAGENT_CONTROL_DB_PATH")); v != "" {
		cfg.ControlPlane.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTOAGENT_API_URL")); v != "" {
		cfg.ControlPlane.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.ControlPlane.APIURL == "" {
		cfg.ControlPlane.APIURL = "http://localhost:8080"
	}
	if cfg.ControlPlane.DataDir == "" {
		cfg.ControlPlane.DataDir = "./data"
	}
	if cfg.ControlPlane.HTTPTimeout == 0 {
		cfg.ControlPlane.HTTPTimeout = 10 * time.Second
	}
	if cfg.Egress.Mode == "" {
		cfg.Egress.Mode = "audit"
	}
	if cfg.Retry.LLMAttempts == 0 {
		cfg.Retry.LLMAttempts = 3
	}
	if cfg.Retry.LLMBaseDelay == 0 {
		cfg.Retry.LLMBaseDelay = 400 * time.Millisecond
	}
	if cfg.Retry.LLMMaxDelay == 0 {
		cfg.Retry.LLMMaxDelay = 8 * time.Second
	}
	if cfg.Retry.ToolAttempts == 0 {
		cfg.Retry.ToolAttempts = 2
	}
	if cfg.Retry.ToolBaseDelay == 0 {
		cfg.Retry.ToolBaseDelay = 250 * time.Millisecond
	}
	if cfg.Retry.ToolMaxDelay == 0 {
		cfg.Retry.ToolMaxDelay = 4 * time.Second
	}
	if cfg.Retry.BreakerFailureThreshold == 0 {
		cfg.Retry.BreakerFailureThreshold = 5
	}
	if cfg.Retry.BreakerCooldown == 0 {
		cfg.Retry.BreakerCooldown = 30 * time.Second
	}
	if cfg.RepoMap.CharBudget == 0 {
		cfg.RepoMap.CharBudget = 3000
	}
	if cfg.Retention.CleanupInterval == 0 {
		cfg.Retention.CleanupInterval = 15 * time.Minute
	}
	if cfg.Retention.TraceRetentionDays == 0 {
		cfg.Retention.TraceRetentionDays = 30
	}
	if cfg.Retention.ArtifactRetentionDays == 0 {
		cfg.Retention.ArtifactRetentionDays = 30
	}
	if cfg.Retention.PromptRetentionDays == 0 {
		cfg.Retention.PromptRetentionDays = 30
	}
	if cfg.Retention.PromptCacheRetentionDays == 0 {
		cfg.Retention.PromptCacheRetentionDays = 7
	}
	if cfg.Approval.ApprovalExpiry == 0 {
		cfg.Approval.ApprovalExpiry = 10 * time.Minute
	}
	if cfg.Approval.UserPromptExpiry == 0 {
		cfg.Approval.UserPromptExpiry = 15 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Egress.Mode {
	case "off", "audit", "enforce":
	default:
		return fmt.Errorf("egress.mode must be one of off|audit|enforce, got %q", cfg.Egress.Mode)
	}
	seen := map[string]bool{}
	for _, p := range cfg.Providers {
		if p.Handle == "" {
			return fmt.Errorf("providers: every entry needs a handle")
		}
		if seen[p.Handle] {
			return fmt.Errorf("providers: duplicate handle %q", p.Handle)
		}
		seen[p.Handle] = true
		switch p.Kind {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("providers[%s]: kind must be anthropic|openai, got %q", p.Handle, p.Kind)
		}
	}
	if cfg.Approval.JWTSecret == "" {
		return fmt.Errorf("approval.jwt_secret is required")
	}
	seenMCP := map[string]bool{}
	for _, srv := range cfg.MCPServers {
		if srv.Name == "" || srv.Command == "" {
			return fmt.Errorf("mcp_servers: every entry needs a name and a command")
		}
		if seenMCP[srv.Name] {
			return fmt.Errorf("mcp_servers: duplicate name %q", srv.Name)
		}
		seenMCP[srv.Name] = true
	}
	return nil
}
