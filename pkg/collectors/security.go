package collectors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/argus-obs/argus/pkg/events"
)

const (
	defaultSecurityInterval = 300 * time.Second

	// bruteForceThreshold failed sshd auths from one source IP inside a
	// scan window raise a brute-force event.
	bruteForceThreshold = 10
)

var (
	failedAuthRe = regexp.MustCompile(`Failed password for (?:invalid user )?\S+ from (\d+\.\d+\.\d+\.\d+)`)

	// minerNames are process names associated with cryptomining malware.
	minerNames = map[string]bool{
		"xmrig": true, "cryptominer": true, "kworkerds": true, "kdevtmpfsi": true,
	}
	webServerNames = map[string]bool{
		"nginx": true, "apache2": true, "httpd": true,
		"node": true, "python": true, "java": true,
	}
	shellNames = map[string]bool{
		"sh": true, "bash": true, "zsh": true, "dash": true, "fish": true,
	}
	watchedFiles = []string{"/etc/shadow", "/etc/sudoers"}
	tmpDirs      = []string{"/tmp", "/var/tmp", "/dev/shm"}
)

// connSample is one network connection the scanner inspects.
type connSample struct {
	LocalPort  uint32
	RemoteIP   string
	RemotePort uint32
	Status     string
	PID        int32
}

// procDetail is one process with the fields the security checks need.
type procDetail struct {
	PID        int32
	PPID       int32
	Name       string
	ExeDeleted bool
}

// securitySnapshot is one scan's raw observations.
type securitySnapshot struct {
	Conns     []connSample
	Procs     []procDetail
	AuthLines []string

	// Executables are regular files under the tmp dirs with an exec bit.
	Executables []string

	// FileModes holds the observed modes of the watched sensitive files.
	FileModes map[string]os.FileMode
}

// SecurityScanner looks for listening-port changes, brute-force attempts,
// suspicious processes, loose permissions on sensitive files, new
// executables in world-writable dirs, and unseen outbound connections.
// The first scan seeds the baselines silently.
type SecurityScanner struct {
	loop
	bus      *events.Bus
	tenant   string
	interval time.Duration
	hostRoot string
	authLog  string
	logger   *slog.Logger

	// sample is swappable for tests; defaults to the live host.
	sample func(ctx context.Context) (securitySnapshot, error)

	mu            sync.Mutex
	firstScan     bool
	knownPorts    map[uint32]bool
	knownOutbound map[string]bool
	knownExecs    map[string]bool
	reportedProcs map[string]bool
	reportedPerms map[string]bool
	authLogOffset int64
}

func NewSecurityScanner(bus *events.Bus, tenant, hostRoot string, interval time.Duration, logger *slog.Logger) *SecurityScanner {
	if interval <= 0 {
		interval = defaultSecurityInterval
	}
	s := &SecurityScanner{
		loop:          newLoop(),
		bus:           bus,
		tenant:        tenant,
		interval:      interval,
		hostRoot:      hostRoot,
		authLog:       filepath.Join(hostRoot, "/var/log/auth.log"),
		logger:        logger.With("collector", "security_scanner"),
		firstScan:     true,
		knownPorts:    map[uint32]bool{},
		knownOutbound: map[string]bool{},
		knownExecs:    map[string]bool{},
		reportedProcs: map[string]bool{},
		reportedPerms: map[string]bool{},
	}
	s.sample = s.liveSnapshot
	return s
}

func (s *SecurityScanner) Name() string { return "security_scanner" }

func (s *SecurityScanner) Start(ctx context.Context) {
	s.every(ctx, s.interval, s.scan)
}

func (s *SecurityScanner) Stop() { s.stop() }

func (s *SecurityScanner) scan(ctx context.Context) {
	snap, err := s.sample(ctx)
	if err != nil {
		s.logger.Warn("security scan failed", "error", err)
		return
	}
	for _, e := range s.analyze(snap) {
		s.bus.Publish(e)
	}
}

// analyze runs every check against one snapshot and advances the scanner's
// baselines. The first snapshot only seeds them.
func (s *SecurityScanner) analyze(snap securitySnapshot) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []events.Event
	out = append(out, s.checkPorts(snap.Conns)...)
	out = append(out, s.checkOutbound(snap.Conns)...)
	out = append(out, s.checkProcesses(snap.Procs)...)
	out = append(out, s.checkPermissions(snap.FileModes)...)
	out = append(out, s.checkExecutables(snap.Executables)...)
	out = append(out, s.checkAuthLines(snap.AuthLines)...)

	if s.firstScan {
		s.firstScan = false
		// Baselines are seeded; nothing observed so far is "new".
		return nil
	}
	return out
}

func (s *SecurityScanner) checkPorts(conns []connSample) []events.Event {
	var out []events.Event
	for _, c := range conns {
		if c.Status != "LISTEN" || s.knownPorts[c.LocalPort] {
			continue
		}
		s.knownPorts[c.LocalPort] = true
		e := events.New(events.SourceSecurityScanner, events.TypeNewOpenPort, s.tenant)
		e.Severity = events.SeverityNotable
		e.Message = fmt.Sprintf("New listening port: %d", c.LocalPort)
		e.Data["port"] = fmt.Sprintf("%d", c.LocalPort)
		out = append(out, e)
	}
	return out
}

func (s *SecurityScanner) checkOutbound(conns []connSample) []events.Event {
	var out []events.Event
	for _, c := range conns {
		if c.Status != "ESTABLISHED" || c.RemoteIP == "" {
			continue
		}
		ip := net.ParseIP(c.RemoteIP)
		if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			continue
		}
		key := fmt.Sprintf("%s:%d", c.RemoteIP, c.RemotePort)
		if s.knownOutbound[key] {
			continue
		}
		s.knownOutbound[key] = true
		e := events.New(events.SourceSecurityScanner, events.TypeSuspiciousOutbound, s.tenant)
		e.Severity = events.SeverityNotable
		e.Message = fmt.Sprintf("Suspicious outbound connection to %s", key)
		e.Data["ip"] = c.RemoteIP
		e.Data["port"] = fmt.Sprintf("%d", c.RemotePort)
		e.Data["pid"] = c.PID
		out = append(out, e)
	}
	return out
}

func (s *SecurityScanner) checkProcesses(procs []procDetail) []events.Event {
	byPID := make(map[int32]procDetail, len(procs))
	for _, p := range procs {
		byPID[p.PID] = p
	}

	var out []events.Event
	for _, p := range procs {
		name := strings.ToLower(p.Name)
		key := fmt.Sprintf("%s:%d", name, p.PID)

		switch {
		case minerNames[name]:
			if s.reportedProcs[key] {
				continue
			}
			s.reportedProcs[key] = true
			out = append(out, s.processEvent(p, "Known malicious process '%s' (PID %d) is running"))
		case p.ExeDeleted:
			if s.reportedProcs[key] {
				continue
			}
			s.reportedProcs[key] = true
			out = append(out, s.processEvent(p, "Process '%s' (PID %d) is running from a deleted binary"))
		case shellNames[name]:
			parent, ok := byPID[p.PPID]
			if !ok || !webServerNames[strings.ToLower(parent.Name)] {
				continue
			}
			if s.reportedProcs[key] {
				continue
			}
			s.reportedProcs[key] = true
			e := events.New(events.SourceSecurityScanner, events.TypeSecurityEvent, s.tenant)
			e.Severity = events.SeverityUrgent
			e.Message = fmt.Sprintf("Web server '%s' spawned shell '%s' (PID %d)",
				parent.Name, p.Name, p.PID)
			e.Data["kind"] = "suspicious_process"
			e.Data["name"] = p.Name
			e.Data["pid"] = fmt.Sprintf("%d", p.PID)
			e.Data["parent"] = parent.Name
			out = append(out, e)
		}
	}
	return out
}

func (s *SecurityScanner) processEvent(p procDetail, template string) events.Event {
	e := events.New(events.SourceSecurityScanner, events.TypeSecurityEvent, s.tenant)
	e.Severity = events.SeverityUrgent
	e.Message = fmt.Sprintf(template, p.Name, p.PID)
	e.Data["kind"] = "suspicious_process"
	e.Data["name"] = p.Name
	e.Data["pid"] = fmt.Sprintf("%d", p.PID)
	return e
}

func (s *SecurityScanner) checkPermissions(modes map[string]os.FileMode) []events.Event {
	var out []events.Event
	for path, mode := range modes {
		if mode&0o004 == 0 || s.reportedPerms[path] {
			continue
		}
		s.reportedPerms[path] = true
		e := events.New(events.SourceSecurityScanner, events.TypeSecurityEvent, s.tenant)
		e.Severity = events.SeverityUrgent
		e.Message = fmt.Sprintf("%s is world-readable (mode %o)", path, mode.Perm())
		e.Data["kind"] = "permission_risk"
		e.Data["path"] = path
		out = append(out, e)
	}
	return out
}

func (s *SecurityScanner) checkExecutables(paths []string) []events.Event {
	var out []events.Event
	for _, path := range paths {
		if s.knownExecs[path] {
			continue
		}
		s.knownExecs[path] = true
		e := events.New(events.SourceSecurityScanner, events.TypeSecurityEvent, s.tenant)
		e.Severity = events.SeverityNotable
		e.Message = "New executable in temp directory: " + path
		e.Data["kind"] = "new_executable"
		e.Data["path"] = path
		out = append(out, e)
	}
	return out
}

func (s *SecurityScanner) checkAuthLines(lines []string) []events.Event {
	failures := map[string]int{}
	for _, line := range lines {
		if m := failedAuthRe.FindStringSubmatch(line); m != nil {
			failures[m[1]]++
		}
	}
	var out []events.Event
	for ip, count := range failures {
		if count < bruteForceThreshold {
			continue
		}
		e := events.New(events.SourceSecurityScanner, events.TypeSecurityEvent, s.tenant)
		e.Severity = events.SeverityUrgent
		e.Message = fmt.Sprintf("Possible brute-force: %d failed SSH logins from %s", count, ip)
		e.Data["kind"] = "brute_force"
		e.Data["ip"] = ip
		e.Data["count"] = count
		out = append(out, e)
	}
	return out
}

// liveSnapshot gathers one scan's observations from the host.
func (s *SecurityScanner) liveSnapshot(ctx context.Context) (securitySnapshot, error) {
	snap := securitySnapshot{FileModes: map[string]os.FileMode{}}

	conns, err := gopsnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return snap, fmt.Errorf("failed to list connections: %w", err)
	}
	for _, c := range conns {
		snap.Conns = append(snap.Conns, connSample{
			LocalPort:  c.Laddr.Port,
			RemoteIP:   c.Raddr.IP,
			RemotePort: c.Raddr.Port,
			Status:     c.Status,
			PID:        c.Pid,
		})
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("failed to list processes: %w", err)
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		detail := procDetail{PID: p.Pid, Name: name}
		if ppid, err := p.PpidWithContext(ctx); err == nil {
			detail.PPID = ppid
		}
		if exe, err := p.ExeWithContext(ctx); err == nil {
			detail.ExeDeleted = strings.HasSuffix(exe, "(deleted)")
		}
		snap.Procs = append(snap.Procs, detail)
	}

	for _, path := range watchedFiles {
		if info, err := os.Stat(filepath.Join(s.hostRoot, path)); err == nil {
			snap.FileModes[path] = info.Mode()
		}
	}
	for _, dir := range tmpDirs {
		entries, err := os.ReadDir(filepath.Join(s.hostRoot, dir))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil || !info.Mode().IsRegular() || info.Mode()&0o111 == 0 {
				continue
			}
			snap.Executables = append(snap.Executables, filepath.Join(dir, entry.Name()))
		}
	}

	snap.AuthLines = s.readAuthLog()
	return snap, nil
}

// readAuthLog returns the auth log lines appended since the last scan.
// Rotation resets the offset to the file start.
func (s *SecurityScanner) readAuthLog() []string {
	info, err := os.Stat(s.authLog)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	offset := s.authLogOffset
	if info.Size() < offset {
		offset = 0
	}
	s.authLogOffset = info.Size()
	s.mu.Unlock()

	f, err := os.Open(s.authLog)
	if err != nil {
		return nil
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil
	}
	data := make([]byte, info.Size()-offset)
	n, _ := f.Read(data)
	if n <= 0 {
		return nil
	}
	return strings.Split(strings.TrimSpace(string(data[:n])), "\n")
}
