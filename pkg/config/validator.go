package config

import (
	"errors"
	"fmt"
)

var validModes = map[string]bool{
	ModeFull:    true,
	ModeSDKOnly: true,
}

var validProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

var validSeverities = map[string]bool{
	"NORMAL":  true,
	"NOTABLE": true,
	"URGENT":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validate performs validation on loaded configuration. All problems are
// collected so a broken file reports everything at once.
func validate(cfg *Config) error {
	var errs []error

	if !validModes[cfg.Mode] {
		errs = append(errs, NewValidationError("mode", "",
			fmt.Errorf("%w: %q (expected full or sdk_only)", ErrInvalidValue, cfg.Mode)))
	}
	if cfg.Tenant == "" {
		errs = append(errs, NewValidationError("tenant", "", ErrMissingRequiredField))
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, NewValidationError("server", "port",
			fmt.Errorf("%w: %d", ErrInvalidValue, cfg.Server.Port)))
	}

	if !validProviders[cfg.LLM.Provider] {
		errs = append(errs, NewValidationError("llm", "provider",
			fmt.Errorf("%w: %q (expected openai or anthropic)", ErrInvalidValue, cfg.LLM.Provider)))
	}
	if cfg.LLM.MaxTokens <= 0 {
		errs = append(errs, NewValidationError("llm", "max_tokens",
			fmt.Errorf("%w: %d", ErrInvalidValue, cfg.LLM.MaxTokens)))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, NewValidationError("llm", "temperature",
			fmt.Errorf("%w: %v", ErrInvalidValue, cfg.LLM.Temperature)))
	}

	if cfg.AIBudget.HourlyTokenLimit <= 0 {
		errs = append(errs, NewValidationError("ai_budget", "hourly_token_limit",
			fmt.Errorf("%w: %d", ErrInvalidValue, cfg.AIBudget.HourlyTokenLimit)))
	}
	if cfg.AIBudget.DailyTokenLimit <= 0 {
		errs = append(errs, NewValidationError("ai_budget", "daily_token_limit",
			fmt.Errorf("%w: %d", ErrInvalidValue, cfg.AIBudget.DailyTokenLimit)))
	}
	if cfg.AIBudget.PriorityReserve < 0 || cfg.AIBudget.PriorityReserve >= 1 {
		errs = append(errs, NewValidationError("ai_budget", "priority_reserve",
			fmt.Errorf("%w: %v (expected [0, 1))", ErrInvalidValue, cfg.AIBudget.PriorityReserve)))
	}
	if cfg.AIBudget.ReviewFrequency <= 0 {
		errs = append(errs, NewValidationError("ai_budget", "review_frequency",
			fmt.Errorf("%w: %d", ErrInvalidValue, cfg.AIBudget.ReviewFrequency)))
	}
	if cfg.AIBudget.DigestFrequency <= 0 {
		errs = append(errs, NewValidationError("ai_budget", "digest_frequency",
			fmt.Errorf("%w: %d", ErrInvalidValue, cfg.AIBudget.DigestFrequency)))
	}

	for field, v := range map[string]int{
		"metrics_interval":  cfg.Collector.MetricsInterval,
		"process_interval":  cfg.Collector.ProcessInterval,
		"security_interval": cfg.Collector.SecurityInterval,
		"sdk_interval":      cfg.Collector.SDKInterval,
	} {
		if v <= 0 {
			errs = append(errs, NewValidationError("collector", field,
				fmt.Errorf("%w: %d", ErrInvalidValue, v)))
		}
	}

	if cfg.Alerting.BatchWindow <= 0 {
		errs = append(errs, NewValidationError("alerting", "batch_window",
			fmt.Errorf("%w: %d", ErrInvalidValue, cfg.Alerting.BatchWindow)))
	}
	if !validSeverities[cfg.Alerting.MinExternalSeverity] {
		errs = append(errs, NewValidationError("alerting", "min_external_severity",
			fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Alerting.MinExternalSeverity)))
	}

	if cfg.Security.ApprovalTimeout <= 0 {
		errs = append(errs, NewValidationError("security", "approval_timeout",
			fmt.Errorf("%w: %d", ErrInvalidValue, cfg.Security.ApprovalTimeout)))
	}

	if !validLogLevels[cfg.Logging.Level] {
		errs = append(errs, NewValidationError("logging", "level",
			fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Logging.Level)))
	}

	if cfg.Bus.RingSize <= 0 {
		errs = append(errs, NewValidationError("bus", "ring_size",
			fmt.Errorf("%w: %d", ErrInvalidValue, cfg.Bus.RingSize)))
	}
	if cfg.Investigator.QueueSize <= 0 {
		errs = append(errs, NewValidationError("investigator", "queue_size",
			fmt.Errorf("%w: %d", ErrInvalidValue, cfg.Investigator.QueueSize)))
	}
	if cfg.Investigator.Workers <= 0 {
		errs = append(errs, NewValidationError("investigator", "workers",
			fmt.Errorf("%w: %d", ErrInvalidValue, cfg.Investigator.Workers)))
	}
	if cfg.Storage.DataDir == "" {
		errs = append(errs, NewValidationError("storage", "data_dir", ErrMissingRequiredField))
	}

	for i, t := range cfg.Thresholds {
		if t.Metric == "" {
			errs = append(errs, NewValidationError("thresholds", fmt.Sprintf("[%d].metric", i),
				ErrMissingRequiredField))
		}
		if t.UrgentAt < t.NotableAt {
			errs = append(errs, NewValidationError("thresholds", fmt.Sprintf("[%d]", i),
				fmt.Errorf("%w: urgent_at %v below notable_at %v", ErrInvalidValue, t.UrgentAt, t.NotableAt)))
		}
	}

	return errors.Join(errs...)
}
