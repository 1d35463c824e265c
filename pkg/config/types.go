// Package config loads and validates the argus.yaml configuration file,
// applies defaults, expands {{.ENV_VAR}} templates, and manages the
// auto-generated secret key.
package config

import "time"

// Mode values. full runs every collector on the host; sdk_only runs only the
// SDK telemetry analyzer (no host access needed).
const (
	ModeFull    = "full"
	ModeSDKOnly = "sdk_only"
)

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai | anthropic
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// AIBudgetConfig bounds LLM spending. Intervals are in seconds.
type AIBudgetConfig struct {
	DailyTokenLimit  int     `yaml:"daily_token_limit"`
	HourlyTokenLimit int     `yaml:"hourly_token_limit"`
	PriorityReserve  float64 `yaml:"priority_reserve"` // fraction held back for urgent work
	ReviewFrequency  int     `yaml:"review_frequency"`
	DigestFrequency  int     `yaml:"digest_frequency"`
}

// ReviewEvery returns the periodic review interval.
func (c AIBudgetConfig) ReviewEvery() time.Duration {
	return time.Duration(c.ReviewFrequency) * time.Second
}

// DigestEvery returns the daily digest interval.
func (c AIBudgetConfig) DigestEvery() time.Duration {
	return time.Duration(c.DigestFrequency) * time.Second
}

// CollectorConfig configures the host/SDK collectors. Intervals in seconds.
type CollectorConfig struct {
	MetricsInterval  int      `yaml:"metrics_interval"`
	ProcessInterval  int      `yaml:"process_interval"`
	SecurityInterval int      `yaml:"security_interval"`
	SDKInterval      int      `yaml:"sdk_interval"`
	LogPaths         []string `yaml:"log_paths"`

	// HostRoot is the mount point of the host filesystem when Argus runs in a
	// container (e.g. "/host"). Non-empty HostRoot also prefixes executed
	// commands with nsenter so they run in the host namespaces.
	HostRoot string `yaml:"host_root"`

	// RemoteHosts maps a host name to an SDK runtime base URL for remote
	// command execution. Empty map disables the remote run_command tool.
	RemoteHosts map[string]string `yaml:"remote_hosts"`
}

// MetricsEvery returns the system metrics collection interval.
func (c CollectorConfig) MetricsEvery() time.Duration {
	return time.Duration(c.MetricsInterval) * time.Second
}

// ProcessEvery returns the process monitor interval.
func (c CollectorConfig) ProcessEvery() time.Duration {
	return time.Duration(c.ProcessInterval) * time.Second
}

// SecurityEvery returns the security scanner interval.
func (c CollectorConfig) SecurityEvery() time.Duration {
	return time.Duration(c.SecurityInterval) * time.Second
}

// SDKEvery returns the SDK analyzer interval.
func (c CollectorConfig) SDKEvery() time.Duration {
	return time.Duration(c.SDKInterval) * time.Second
}

// EmailConfig configures the SMTP notification channel. Empty host disables it.
type EmailConfig struct {
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// AlertingConfig configures external alert delivery.
type AlertingConfig struct {
	BatchWindow         int         `yaml:"batch_window"` // seconds
	MinExternalSeverity string      `yaml:"min_external_severity"`
	AIEnhance           bool        `yaml:"ai_enhance"`
	WebhookURLs         []string    `yaml:"webhook_urls"`
	Email               EmailConfig `yaml:"email"`
}

// BatchEvery returns the notable-alert batching window.
func (c AlertingConfig) BatchEvery() time.Duration {
	return time.Duration(c.BatchWindow) * time.Second
}

// SecurityConfig holds secrets and approval settings.
type SecurityConfig struct {
	// SecretKey signs SDK webhook requests. Empty → auto-generated and
	// persisted under the data dir.
	SecretKey       string `yaml:"secret_key"`
	ApprovalTimeout int    `yaml:"approval_timeout"` // seconds
}

// ApprovalWindow returns how long a proposed action waits for approval.
func (c SecurityConfig) ApprovalWindow() time.Duration {
	return time.Duration(c.ApprovalTimeout) * time.Second
}

// LoggingConfig configures slog output and optional file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"` // debug | info | warn | error
	File       string `yaml:"file"`  // empty → stderr only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// BusConfig configures the in-process event bus.
type BusConfig struct {
	RingSize int `yaml:"ring_size"`
}

// InvestigatorConfig configures the investigation worker pool.
type InvestigatorConfig struct {
	QueueSize int `yaml:"queue_size"`
	Workers   int `yaml:"workers"`
}

// StorageConfig holds local filesystem settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ThresholdRuleConfig overrides one built-in classifier threshold.
type ThresholdRuleConfig struct {
	Metric          string  `yaml:"metric"`
	NotableAt       float64 `yaml:"notable_at"`
	UrgentAt        float64 `yaml:"urgent_at"`
	Type            string  `yaml:"type"`
	MessageTemplate string  `yaml:"message_template"`
}

// MaskingConfig adds tenant-specific masking patterns to the built-ins.
type MaskingConfig struct {
	CustomPatterns []string `yaml:"custom_patterns"`
}
