package config

// DefaultConfig returns the built-in defaults. User YAML is merged on top
// with mergo (non-zero values override).
func DefaultConfig() *Config {
	return &Config{
		Mode:   ModeFull,
		Tenant: "default",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			Temperature: 0.1,
			MaxTokens:   4096,
		},
		AIBudget: AIBudgetConfig{
			DailyTokenLimit:  500000,
			HourlyTokenLimit: 50000,
			PriorityReserve:  0.3,
			ReviewFrequency:  21600, // 6h
			DigestFrequency:  86400, // 24h
		},
		Collector: CollectorConfig{
			MetricsInterval:  15,
			ProcessInterval:  30,
			SecurityInterval: 300,
			SDKInterval:      60,
			LogPaths:         []string{"/var/log/syslog", "/var/log/messages"},
		},
		Alerting: AlertingConfig{
			BatchWindow:         90,
			MinExternalSeverity: "NOTABLE",
			AIEnhance:           true,
		},
		Security: SecurityConfig{
			ApprovalTimeout: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Bus: BusConfig{
			RingSize: 1024,
		},
		Investigator: InvestigatorConfig{
			QueueSize: 20,
			Workers:   2,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
	}
}
