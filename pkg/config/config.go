package config

// Config is the umbrella configuration object returned by Initialize() and
// used throughout the application.
type Config struct {
	configDir string

	// Mode selects which collectors run: full or sdk_only.
	Mode string `yaml:"mode"`

	// Tenant is the ambient tenant id stamped on locally collected telemetry.
	// SDK ingest derives its tenant from the x-argus-key header instead.
	Tenant string `yaml:"tenant"`

	Server       ServerConfig          `yaml:"server"`
	LLM          LLMConfig             `yaml:"llm"`
	AIBudget     AIBudgetConfig        `yaml:"ai_budget"`
	Collector    CollectorConfig       `yaml:"collector"`
	Alerting     AlertingConfig        `yaml:"alerting"`
	Security     SecurityConfig        `yaml:"security"`
	Logging      LoggingConfig         `yaml:"logging"`
	Bus          BusConfig             `yaml:"bus"`
	Investigator InvestigatorConfig    `yaml:"investigator"`
	Storage      StorageConfig         `yaml:"storage"`
	Masking      MaskingConfig         `yaml:"masking"`
	Thresholds   []ThresholdRuleConfig `yaml:"thresholds"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// SDKOnly reports whether host collectors are disabled.
func (c *Config) SDKOnly() bool {
	return c.Mode == ModeSDKOnly
}

// LLMEnabled reports whether a provider can be constructed. Investigations,
// triage, and chat are disabled without one; the rest of the agent runs.
func (c *Config) LLMEnabled() bool {
	return c.LLM.APIKey != ""
}
