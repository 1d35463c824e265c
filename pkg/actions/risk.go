// Package actions validates, approves, and executes shell commands proposed
// by the agent: a glob-based sandbox classifier in front of an approval
// state machine with an append-only audit trail.
package actions

// Risk grades the blast radius of a command or tool.
type Risk string

const (
	RiskReadOnly Risk = "READ_ONLY"
	RiskLow      Risk = "LOW"
	RiskMedium   Risk = "MEDIUM"
	RiskHigh     Risk = "HIGH"
	RiskCritical Risk = "CRITICAL"
)
