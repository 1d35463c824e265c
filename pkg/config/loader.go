package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// configFileName is the expected file name inside the config directory.
const configFileName = "argus.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read argus.yaml from configDir (a missing file selects pure defaults)
//  2. Expand {{.ENV_VAR}} templates
//  3. Parse YAML
//  4. Merge parsed values onto built-in defaults
//  5. Validate all sections
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"mode", cfg.Mode,
		"tenant", cfg.Tenant,
		"llm_provider", cfg.LLM.Provider,
		"llm_enabled", cfg.LLMEnabled())

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.configDir = configDir

	path := filepath.Join(configDir, configFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No file is a valid deployment: env templates and defaults
			// cover the minimal setup.
			slog.Info("No argus.yaml found, using built-in defaults", "path", path)
			return cfg, nil
		}
		return nil, NewLoadError(configFileName, err)
	}

	// Expand environment variables using {{.VAR}} template syntax before
	// parsing, so secrets never need to live in the file.
	data = ExpandEnv(data)

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, NewLoadError(configFileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	// Merge user-provided values onto defaults (non-zero values override).
	if err := mergo.Merge(cfg, &fileCfg, mergo.WithOverride); err != nil {
		return nil, NewLoadError(configFileName, fmt.Errorf("failed to merge configuration: %w", err))
	}
	cfg.configDir = configDir

	return cfg, nil
}
