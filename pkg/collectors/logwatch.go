package collectors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nxadm/tail"

	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/masking"
	"github.com/argus-obs/argus/pkg/storage"
)

const (
	// errorBurstWindow and errorBurstThreshold define an error burst: this
	// many error-level lines in one file inside the window.
	errorBurstWindow    = 60 * time.Second
	errorBurstThreshold = 10
	errorBurstCooldown  = 120 * time.Second

	logPreviewMax = 500
)

var (
	oomRe      = regexp.MustCompile(`Out of memory:\s+Killed process (\d+)\s+\(([^)]+)\)`)
	segfaultRe = regexp.MustCompile(`(\S+)\[(\d+)\]: segfault`)

	errorLevelRe = regexp.MustCompile(`(?i)\b(ERROR|FATAL|CRITICAL|PANIC)\b`)
	warnLevelRe  = regexp.MustCompile(`(?i)\b(WARN|WARNING)\b`)
)

// LogSink receives indexed log lines at warning severity and above.
type LogSink interface {
	InsertLogEntry(ctx context.Context, tenant string, e storage.LogEntry) error
}

// LogWatcher tails the configured log files, indexes warning+ lines, and
// raises error bursts, OOM kills, segfaults, and first-seen error patterns.
type LogWatcher struct {
	loop
	bus    *events.Bus
	sink   LogSink
	masker *masking.Masker
	paths  []string
	tenant string
	logger *slog.Logger

	mu         sync.Mutex
	errorTimes map[string][]time.Time // path -> recent error line times
	lastError  map[string]string      // path -> last error line
	lastBurst  map[string]time.Time
	seen       map[string]bool // error fingerprint -> reported
}

func NewLogWatcher(bus *events.Bus, sink LogSink, masker *masking.Masker, paths []string, tenant string, logger *slog.Logger) *LogWatcher {
	return &LogWatcher{
		loop:       newLoop(),
		bus:        bus,
		sink:       sink,
		masker:     masker,
		paths:      paths,
		tenant:     tenant,
		logger:     logger.With("collector", "log_watcher"),
		errorTimes: map[string][]time.Time{},
		lastError:  map[string]string{},
		lastBurst:  map[string]time.Time{},
		seen:       map[string]bool{},
	}
}

func (w *LogWatcher) Name() string { return "log_watcher" }

// Start tails every configured path from its end. Missing files are
// retried by the tail library itself (ReOpen follows rotations).
func (w *LogWatcher) Start(ctx context.Context) {
	for _, path := range w.paths {
		w.wg.Add(1)
		go w.follow(ctx, path)
	}
}

func (w *LogWatcher) Stop() { w.stop() }

func (w *LogWatcher) follow(ctx context.Context, path string) {
	defer w.wg.Done()

	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		w.logger.Error("failed to tail log", "path", path, "error", err)
		return
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line.Err != nil {
				w.logger.Warn("tail error", "path", path, "error", line.Err)
				continue
			}
			for _, e := range w.handleLine(ctx, path, line.Text, time.Now().UTC()) {
				w.bus.Publish(e)
			}
		}
	}
}

// handleLine classifies one log line and returns any events it raises.
func (w *LogWatcher) handleLine(ctx context.Context, path, line string, now time.Time) []events.Event {
	var out []events.Event

	if m := oomRe.FindStringSubmatch(line); m != nil {
		e := events.New(events.SourceLogWatcher, events.TypeProcessOOMKilled, w.tenant)
		e.Severity = events.SeverityUrgent
		e.Message = fmt.Sprintf("Process '%s' (PID %s) killed by OOM killer", m[2], m[1])
		e.Data["name"] = m[2]
		e.Data["pid"] = m[1]
		e.Data["file"] = path
		out = append(out, e)
	}
	if m := segfaultRe.FindStringSubmatch(line); m != nil {
		e := events.New(events.SourceLogWatcher, events.TypeProcessCrashed, w.tenant)
		e.Severity = events.SeverityUrgent
		e.Message = fmt.Sprintf("Process '%s' (PID %s) crashed with segfault", m[1], m[2])
		e.Data["name"] = m[1]
		e.Data["pid"] = m[2]
		e.Data["file"] = path
		out = append(out, e)
	}

	severity := classifyLogLine(line)
	if severity == "" {
		return out
	}

	preview := line
	if w.masker != nil {
		preview = w.masker.MaskText(preview)
	}
	if len(preview) > logPreviewMax {
		preview = preview[:logPreviewMax]
	}
	if w.sink != nil {
		insertCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := w.sink.InsertLogEntry(insertCtx, w.tenant, storage.LogEntry{
			Timestamp: now,
			Path:      path,
			Severity:  severity,
			Preview:   preview,
			Source:    "log_watcher",
		}); err != nil {
			w.logger.Warn("log index insert failed", "path", path, "error", err)
		}
		cancel()
	}

	if severity != "error" {
		return out
	}
	out = append(out, w.trackError(path, preview, now)...)
	return out
}

// trackError updates per-path burst counters and first-seen fingerprints
// for one error-level line.
func (w *LogWatcher) trackError(path, preview string, now time.Time) []events.Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []events.Event
	cutoff := now.Add(-errorBurstWindow)
	times := append(w.errorTimes[path], now)
	pruned := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	w.errorTimes[path] = pruned
	w.lastError[path] = preview

	if len(pruned) >= errorBurstThreshold && now.Sub(w.lastBurst[path]) >= errorBurstCooldown {
		w.lastBurst[path] = now
		w.errorTimes[path] = nil
		e := events.New(events.SourceLogWatcher, events.TypeErrorBurst, w.tenant)
		e.Severity = events.SeverityUrgent
		e.Message = fmt.Sprintf("%d errors in %s within %d seconds",
			len(pruned), path, int(errorBurstWindow.Seconds()))
		e.Data["file"] = path
		e.Data["count"] = len(pruned)
		e.Data["last_error"] = preview
		out = append(out, e)
	}

	fp := storage.Fingerprint("log_error", preview)
	if !w.seen[fp] {
		w.seen[fp] = true
		e := events.New(events.SourceLogWatcher, events.TypeNewErrorPattern, w.tenant)
		e.Severity = events.SeverityNotable
		e.Message = "New error pattern in " + path
		e.Data["file"] = path
		e.Data["fingerprint"] = fp
		e.Data["sample"] = preview
		out = append(out, e)
	}
	return out
}

// classifyLogLine returns "error", "warning", or "" for lines below the
// indexing threshold.
func classifyLogLine(line string) string {
	switch {
	case errorLevelRe.MatchString(line):
		return "error"
	case warnLevelRe.MatchString(line):
		return "warning"
	case strings.Contains(line, "Traceback (most recent call last)"):
		return "error"
	default:
		return ""
	}
}
