// Package masking scrubs secrets from text before it reaches tool results,
// audit rows, or WebSocket broadcasts.
package masking

import (
	"log/slog"
	"regexp"

	"github.com/argus-obs/argus/pkg/config"
)

// compiledPattern is one regex with its replacement token.
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinPatterns cover the credential shapes most likely to appear in
// command output and log excerpts. Order matters: PEM blocks first so the
// generic key=value patterns don't partially mask them.
var builtinPatterns = []struct {
	name        string
	pattern     string
	replacement string
}{
	{
		name:        "pem_block",
		pattern:     `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`,
		replacement: "***MASKED_PRIVATE_KEY***",
	},
	{
		name:        "openai_key",
		pattern:     `\bsk-[A-Za-z0-9_-]{16,}\b`,
		replacement: "***MASKED_API_KEY***",
	},
	{
		name:        "aws_access_key",
		pattern:     `\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`,
		replacement: "***MASKED_AWS_KEY***",
	},
	{
		name:        "bearer_token",
		pattern:     `(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`,
		replacement: "***MASKED_BEARER_TOKEN***",
	},
	{
		name:        "password_pair",
		pattern:     `(?i)\b(password|passwd|secret|api_key|apikey|token)\s*[=:]\s*\S+`,
		replacement: "$1=***MASKED***",
	},
}

// Masker applies the built-in patterns plus any custom patterns from config.
// MaskText is idempotent: masking already-masked text changes nothing.
type Masker struct {
	patterns []compiledPattern
}

// New compiles the built-in and configured patterns. Invalid custom patterns
// are logged and skipped, never fatal.
func New(cfg config.MaskingConfig) *Masker {
	m := &Masker{}
	for _, p := range builtinPatterns {
		re, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("Failed to compile built-in masking pattern, skipping",
				"pattern", p.name, "error", err)
			continue
		}
		m.patterns = append(m.patterns, compiledPattern{
			name:        p.name,
			regex:       re,
			replacement: p.replacement,
		})
	}
	for i, custom := range cfg.CustomPatterns {
		re, err := regexp.Compile(custom)
		if err != nil {
			slog.Error("Failed to compile custom masking pattern, skipping",
				"index", i, "error", err)
			continue
		}
		m.patterns = append(m.patterns, compiledPattern{
			name:        "custom",
			regex:       re,
			replacement: "***MASKED***",
		})
	}
	return m
}

// MaskText returns s with every pattern occurrence replaced.
func (m *Masker) MaskText(s string) string {
	if s == "" {
		return s
	}
	for _, p := range m.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}
