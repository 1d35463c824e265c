package actions

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/config"
	"github.com/argus-obs/argus/pkg/masking"
	"github.com/argus-obs/argus/pkg/storage"
	"github.com/argus-obs/argus/pkg/stream"
)

type fakeAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (f *fakeAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) last(t *testing.T) storage.AuditEntry {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.entries)
	return f.entries[len(f.entries)-1]
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	requests  []stream.ActionRequestPayload
	executing []stream.ActionExecutingPayload
	completes []stream.ActionCompletePayload
}

func (f *fakeBroadcaster) PublishActionRequest(_ context.Context, p stream.ActionRequestPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, p)
	return nil
}

func (f *fakeBroadcaster) PublishActionExecuting(_ context.Context, p stream.ActionExecutingPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executing = append(f.executing, p)
	return nil
}

func (f *fakeBroadcaster) PublishActionComplete(_ context.Context, p stream.ActionCompletePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, p)
	return nil
}

func newTestEngine(timeout time.Duration) (*Engine, *fakeAudit, *fakeBroadcaster) {
	audit := &fakeAudit{}
	bc := &fakeBroadcaster{}
	e := NewEngine(
		NewSandbox("", slog.Default()),
		audit, bc,
		masking.New(config.MaskingConfig{}),
		"default", timeout, slog.Default(),
	)
	return e, audit, bc
}

func TestProposeBlockedCommand(t *testing.T) {
	e, audit, bc := newTestEngine(time.Second)

	result := e.Propose(context.Background(), []string{"rm", "-rf", "/"}, "", "agent")
	assert.False(t, result.Approved)
	assert.False(t, result.Executed)
	assert.Equal(t, "Command blocked by safety filter", result.Err)

	entry := audit.last(t)
	assert.Equal(t, "blocked by sandbox", entry.Outcome)
	assert.Equal(t, "rm -rf /", entry.Command)

	// Blocked commands never reach the approval flow.
	assert.Empty(t, bc.requests)
	assert.Empty(t, bc.executing)
}

func TestProposeReadOnlyAutoExecutes(t *testing.T) {
	e, audit, bc := newTestEngine(time.Second)

	result := e.Propose(context.Background(), []string{"df", "-h"}, "check disk space", "agent")
	assert.True(t, result.Approved)
	assert.True(t, result.Executed)
	require.NotNil(t, result.Command)

	entry := audit.last(t)
	assert.Equal(t, "df -h", entry.Command)
	assert.Empty(t, entry.ApprovedBy)

	// Auto-executed: no approval request, but executing/complete broadcast.
	assert.Empty(t, bc.requests)
	assert.NotEmpty(t, bc.executing)
	assert.NotEmpty(t, bc.completes)
}

func TestProposeApprovedHighRiskCommand(t *testing.T) {
	e, audit, bc := newTestEngine(5 * time.Second)

	done := make(chan ActionResult, 1)
	go func() {
		// kill of a nonexistent pid: approval flow is what matters here.
		done <- e.Propose(context.Background(), []string{"kill", "-0", "999999"}, "signal test process", "agent")
	}()

	// Wait for the broadcast request, then approve it.
	var actionID string
	require.Eventually(t, func() bool {
		bc.mu.Lock()
		defer bc.mu.Unlock()
		if len(bc.requests) == 0 {
			return false
		}
		actionID = bc.requests[0].ID
		return true
	}, 2*time.Second, 10*time.Millisecond)

	bc.mu.Lock()
	req := bc.requests[0]
	bc.mu.Unlock()
	assert.Equal(t, "run_command", req.Tool)
	assert.Equal(t, "HIGH", req.RiskLevel)
	assert.False(t, req.Reversible)

	assert.True(t, e.HandleResponse(actionID, true, "admin"))

	result := <-done
	assert.True(t, result.Approved)
	assert.True(t, result.Executed)

	entry := audit.last(t)
	assert.Equal(t, "admin", entry.ApprovedBy)
	assert.NotEmpty(t, bc.executing)
	assert.NotEmpty(t, bc.completes)
	assert.Equal(t, 0, e.PendingCount())
}

func TestProposeRejectedCommand(t *testing.T) {
	e, audit, _ := newTestEngine(5 * time.Second)

	done := make(chan ActionResult, 1)
	go func() {
		done <- e.Propose(context.Background(), []string{"systemctl", "restart", "nginx"}, "", "agent")
	}()

	require.Eventually(t, func() bool { return e.PendingCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	var actionID string
	e.mu.Lock()
	for id := range e.pending {
		actionID = id
	}
	e.mu.Unlock()

	assert.True(t, e.HandleResponse(actionID, false, "admin"))

	result := <-done
	assert.False(t, result.Approved)
	assert.False(t, result.Executed)
	assert.Equal(t, "Action rejected by user", result.Err)
	assert.Equal(t, "rejected by user", audit.last(t).Outcome)
}

func TestProposeApprovalTimeout(t *testing.T) {
	e, audit, _ := newTestEngine(50 * time.Millisecond)

	result := e.Propose(context.Background(), []string{"systemctl", "restart", "nginx"}, "", "agent")
	assert.False(t, result.Approved)
	assert.Equal(t, "Approval timed out", result.Err)
	assert.Equal(t, "approval timed out", audit.last(t).Outcome)
	assert.Equal(t, 0, e.PendingCount())
}

func TestHandleResponseUnknownAction(t *testing.T) {
	e, _, _ := newTestEngine(time.Second)
	assert.False(t, e.HandleResponse("no-such-action", true, "admin"))
}

func TestHandleResponseResolvesOnlyOnce(t *testing.T) {
	e, _, _ := newTestEngine(5 * time.Second)

	done := make(chan ActionResult, 1)
	go func() {
		done <- e.Propose(context.Background(), []string{"systemctl", "restart", "nginx"}, "", "agent")
	}()
	require.Eventually(t, func() bool { return e.PendingCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	var actionID string
	e.mu.Lock()
	for id := range e.pending {
		actionID = id
	}
	e.mu.Unlock()

	assert.True(t, e.HandleResponse(actionID, false, "admin"))
	assert.False(t, e.HandleResponse(actionID, true, "admin"), "second response ignored")
	<-done
}

func TestConcurrentPendingActions(t *testing.T) {
	e, _, bc := newTestEngine(5 * time.Second)

	const n = 3
	var wg sync.WaitGroup
	results := make([]ActionResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Propose(context.Background(), []string{"systemctl", "restart", "nginx"}, "", "agent")
		}(i)
	}

	require.Eventually(t, func() bool { return e.PendingCount() == n }, 2*time.Second, 10*time.Millisecond)

	bc.mu.Lock()
	ids := make([]string, 0, n)
	for _, req := range bc.requests {
		ids = append(ids, req.ID)
	}
	bc.mu.Unlock()
	require.Len(t, ids, n)

	for _, id := range ids {
		e.HandleResponse(id, false, "admin")
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "Action rejected by user", r.Err)
	}
}
