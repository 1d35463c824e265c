// Package storage provides the two persistence repositories: TimeseriesRepo
// for telemetry (metrics, logs, spans, SDK events, baselines) and
// OperationalRepo for agent state (alerts, suppressions, investigations,
// audit log, conversations, token usage).
package storage

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	lineNumberRe = regexp.MustCompile(`(?i)(line |:)\d+`)
	hexIDRe      = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b|\b[0-9a-f]{8,}\b`)
	pathRe       = regexp.MustCompile(`(/[\w.\-]+)+/([\w.\-]+)`)
	digitsRe     = regexp.MustCompile(`\b\d+\b`)
)

// Fingerprint derives a stable identity for an error from its type and stack
// trace. Line numbers, absolute paths (reduced to basename), hex addresses,
// and other volatile ids are normalized away so the same logical error
// produces the same fingerprint across releases and hosts.
func Fingerprint(errType, stack string) string {
	normalized := normalizeStack(stack)
	h := md5.Sum([]byte(errType + "\n" + normalized))
	return hex.EncodeToString(h[:])
}

func normalizeStack(stack string) string {
	s := pathRe.ReplaceAllStringFunc(stack, func(m string) string {
		return filepath.Base(m)
	})
	s = lineNumberRe.ReplaceAllString(s, "${1}N")
	s = hexIDRe.ReplaceAllString(s, "HEX")
	s = digitsRe.ReplaceAllString(s, "N")
	return strings.TrimSpace(s)
}
