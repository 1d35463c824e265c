package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const outputCap = 10000 // bytes kept of stdout/stderr each

// blockedExact are literal command strings that are never allowed. "/*" is
// the shell-expansion form, kept verbatim rather than as a glob so ordinary
// absolute-path removals still reach the protected-path check.
var blockedExact = []string{
	"rm -rf /",
	"rm -rf /*",
}

// blocklist holds glob patterns that are never allowed to run, whatever the
// classifier would say.
var blocklist = []string{
	"mkfs*",
	"dd if=*",
	"dd of=/dev/*",
	"chmod -R 777 /",
	"> /dev/sd*",
	"*:(){*", // fork bomb
	"iptables -F*",
	"iptables --flush*",
	"grub-install*",
}

// protectedPaths may never be an rm target, recursive or not.
var protectedPaths = []string{
	"/", "/etc", "/usr", "/var", "/bin", "/sbin",
	"/home", "/root", "/proc", "/sys", "/dev",
}

// classifyRules grade commands that pass the blocklist. First match wins;
// anything unmatched falls through to the sandbox default risk.
var classifyRules = []struct {
	pattern string
	risk    Risk
}{
	{"df *", RiskReadOnly},
	{"free *", RiskReadOnly},
	{"uptime", RiskReadOnly},
	{"ps *", RiskReadOnly},
	{"top -b -n 1*", RiskReadOnly},
	{"cat /proc/*", RiskReadOnly},
	{"ls *", RiskReadOnly},
	{"netstat *", RiskReadOnly},
	{"ss *", RiskReadOnly},
	{"ip *", RiskReadOnly},
	{"dig *", RiskReadOnly},
	{"nslookup *", RiskReadOnly},
	{"ping -c *", RiskReadOnly},
	{"curl *", RiskReadOnly},
	{"journalctl *", RiskReadOnly},
	{"systemctl status *", RiskReadOnly},
	{"docker ps*", RiskReadOnly},
	{"docker logs *", RiskReadOnly},
	{"echo *", RiskLow},
	{"systemctl restart *", RiskMedium},
	{"systemctl reload *", RiskMedium},
	{"docker restart *", RiskMedium},
	{"docker stop *", RiskMedium},
	{"docker start *", RiskMedium},
	{"service * restart", RiskMedium},
	{"service * reload", RiskMedium},
	{"kill *", RiskHigh},
	{"pkill *", RiskHigh},
	{"find * -delete", RiskHigh},
	{"find * -exec rm *", RiskHigh},
	{"rm -rf *", RiskCritical},
	{"rm -r *", RiskCritical},
	{"reboot", RiskCritical},
	{"shutdown *", RiskCritical},
}

// nsenterPrefix wraps commands so they run in the host namespaces when the
// agent itself lives in a container with host PID access.
var nsenterPrefix = []string{"nsenter", "--target", "1", "--mount", "--uts", "--ipc", "--net", "--pid", "--"}

// Validation is the sandbox verdict for one command.
type Validation struct {
	Allowed bool
	Risk    Risk
	Reason  string
}

// CommandResult is the outcome of a sandboxed execution.
type CommandResult struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration_ms"`
}

// Sandbox validates commands against the blocklist and risk classifier and
// executes them via direct argv exec — never through a shell.
type Sandbox struct {
	blocked     []*regexp.Regexp
	rules       []compiledRule
	defaultRisk Risk
	hostRoot    string
	logger      *slog.Logger
}

type compiledRule struct {
	re   *regexp.Regexp
	risk Risk
}

func NewSandbox(hostRoot string, logger *slog.Logger) *Sandbox {
	s := &Sandbox{
		defaultRisk: RiskMedium,
		hostRoot:    hostRoot,
		logger:      logger.With("component", "sandbox"),
	}
	for _, p := range blocklist {
		s.blocked = append(s.blocked, compileGlob(p))
	}
	for _, r := range classifyRules {
		s.rules = append(s.rules, compiledRule{re: compileGlob(r.pattern), risk: r.risk})
	}
	return s
}

// Validate grades a command. Blocklisted commands and rm of protected paths
// come back not-allowed at CRITICAL; everything else is allowed with its
// classified risk, defaulting to MEDIUM for unrecognised commands.
func (s *Sandbox) Validate(argv []string) Validation {
	if len(argv) == 0 {
		return Validation{Allowed: false, Risk: RiskCritical, Reason: "empty command"}
	}
	cmdStr := strings.Join(argv, " ")

	for _, exact := range blockedExact {
		if cmdStr == exact {
			s.logger.Warn("Blocked command", "command", cmdStr, "reason", "blocklist")
			return Validation{Allowed: false, Risk: RiskCritical, Reason: "matches blocklist"}
		}
	}
	for _, re := range s.blocked {
		if re.MatchString(cmdStr) {
			s.logger.Warn("Blocked command", "command", cmdStr, "reason", "blocklist")
			return Validation{Allowed: false, Risk: RiskCritical, Reason: "matches blocklist"}
		}
	}
	if argv[0] == "rm" && rmTouchesProtectedPath(argv[1:]) {
		s.logger.Warn("Blocked command", "command", cmdStr, "reason", "protected path")
		return Validation{Allowed: false, Risk: RiskCritical, Reason: "rm targets protected path"}
	}

	for _, rule := range s.rules {
		if rule.re.MatchString(cmdStr) {
			return Validation{Allowed: true, Risk: rule.risk}
		}
	}
	return Validation{Allowed: true, Risk: s.defaultRisk, Reason: "unclassified command"}
}

// Execute runs a validated command with a timeout. Blocked commands and
// spawn failures come back as results with exit code -1 rather than errors;
// the caller always gets a CommandResult to audit.
func (s *Sandbox) Execute(ctx context.Context, argv []string, timeout time.Duration) CommandResult {
	v := s.Validate(argv)
	if !v.Allowed {
		return CommandResult{ExitCode: -1, Stderr: "Command blocked: " + strings.Join(argv, " ")}
	}

	execArgv := argv
	if s.hostRoot != "" {
		execArgv = append(append([]string{}, nsenterPrefix...), argv...)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, execArgv[0], execArgv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	durationMs := time.Since(start).Milliseconds()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return CommandResult{
			ExitCode:   -1,
			Stderr:     fmt.Sprintf("Command timed out after %ds", int(timeout.Seconds())),
			DurationMs: durationMs,
		}
	}

	result := CommandResult{
		Stdout:     truncate(stdout.String(), outputCap),
		Stderr:     truncate(stderr.String(), outputCap),
		DurationMs: durationMs,
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			if result.Stderr == "" {
				result.Stderr = err.Error()
			}
		}
	}
	return result
}

// rmTouchesProtectedPath reports whether any non-flag rm argument names a
// protected system path or a /lib directory.
func rmTouchesProtectedPath(args []string) bool {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		target := strings.TrimRight(arg, "/")
		if target == "" {
			target = "/"
		}
		for _, p := range protectedPaths {
			if target == p {
				return true
			}
		}
		if strings.HasPrefix(target, "/lib") && !strings.Contains(target[1:], "/") {
			return true
		}
	}
	return false
}

// compileGlob translates an fnmatch-style pattern (* and ?) to an anchored
// regexp. Unlike path matching, * crosses slashes and spaces.
func compileGlob(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
