package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// Broadcaster receives NOTIFY payloads for local fan-out.
// Implemented by ConnectionManager.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

const (
	// notifyPollInterval bounds WaitForNotification so the loop can service
	// queued LISTEN/UNLISTEN requests.
	notifyPollInterval = 100 * time.Millisecond

	reconnectBackoffMin = time.Second
	reconnectBackoffMax = 30 * time.Second
)

var errListenerDown = errors.New("LISTEN connection not established")

// subRequest is a LISTEN or UNLISTEN to run on the dedicated connection. The
// receive loop is the only goroutine allowed to touch that connection, so
// requests are queued to it instead of executed inline.
type subRequest struct {
	sql  string
	done chan error
}

// NotifyListener holds one dedicated Postgres connection, LISTENs on stream
// channels, and forwards every notification to the Broadcaster. Lost
// connections are re-established with backoff and all channels re-LISTENed.
type NotifyListener struct {
	connString string
	target     Broadcaster

	mu       sync.Mutex
	conn     *pgx.Conn
	channels map[string]struct{}

	requests chan subRequest
	running  atomic.Bool
	stop     context.CancelFunc
	done     chan struct{}
}

func NewNotifyListener(connString string, target Broadcaster) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		target:     target,
		channels:   make(map[string]struct{}),
		requests:   make(chan subRequest, 16),
	}
}

// Start opens the dedicated connection, begins the receive loop, and LISTENs
// on the global channel.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.stop = cancel
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		l.run(loopCtx)
	}()

	if err := l.Subscribe(ctx, GlobalChannel); err != nil {
		return fmt.Errorf("failed to LISTEN on global channel: %w", err)
	}
	slog.Info("NotifyListener started", "channel", GlobalChannel)
	return nil
}

// Running reports whether the listener is active. Feeds the health endpoint.
func (l *NotifyListener) Running() bool {
	return l.running.Load()
}

// Subscribe starts listening on a channel. Idempotent.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	l.mu.Lock()
	_, already := l.channels[channel]
	l.mu.Unlock()
	if already {
		return nil
	}

	if err := l.request(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("LISTEN %s failed: %w", channel, err)
	}
	l.mu.Lock()
	l.channels[channel] = struct{}{}
	l.mu.Unlock()
	slog.Debug("Subscribed to NOTIFY channel", "channel", channel)
	return nil
}

// Unsubscribe stops listening on a channel. Idempotent.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	l.mu.Lock()
	_, listening := l.channels[channel]
	l.mu.Unlock()
	if !listening || !l.running.Load() {
		return nil
	}

	if err := l.request(ctx, "UNLISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("UNLISTEN %s failed: %w", channel, err)
	}
	l.mu.Lock()
	delete(l.channels, channel)
	l.mu.Unlock()
	return nil
}

// request queues one SQL command to the receive loop and waits for the
// outcome.
func (l *NotifyListener) request(ctx context.Context, sql string) error {
	if !l.running.Load() {
		return errListenerDown
	}
	req := subRequest{sql: sql, done: make(chan error, 1)}
	select {
	case l.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run alternates between draining queued subscription requests and waiting
// for notifications, reconnecting whenever the connection drops.
func (l *NotifyListener) run(ctx context.Context) {
	for ctx.Err() == nil {
		l.drainRequests(ctx)

		conn := l.currentConn()
		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, notifyPollInterval)
		n, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case waitCtx.Err() != nil:
				continue // poll timeout, go service requests
			default:
				slog.Error("NOTIFY receive error", "error", err)
				l.reconnect(ctx)
				continue
			}
		}
		l.target.Broadcast(n.Channel, []byte(n.Payload))
	}
}

func (l *NotifyListener) currentConn() *pgx.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *NotifyListener) drainRequests(ctx context.Context) {
	for {
		select {
		case req := <-l.requests:
			conn := l.currentConn()
			if conn == nil {
				req.done <- errListenerDown
				continue
			}
			_, err := conn.Exec(ctx, req.sql)
			req.done <- err
		default:
			return
		}
	}
}

// reconnect dials until it succeeds or the context ends, then re-LISTENs
// every tracked channel.
func (l *NotifyListener) reconnect(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	for backoff := reconnectBackoffMin; ; backoff = min(backoff*2, reconnectBackoffMax) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			continue
		}
		l.conn = conn
		for ch := range l.channels {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				slog.Error("Re-LISTEN failed", "channel", ch, "error", err)
			}
		}
		slog.Info("NotifyListener reconnected")
		return
	}
}

// Stop ends the receive loop, waits for it, and closes the connection. The
// wait prevents a close racing an in-flight WaitForNotification.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.running.Store(false)
	if l.stop != nil {
		l.stop()
	}
	if l.done != nil {
		<-l.done
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
