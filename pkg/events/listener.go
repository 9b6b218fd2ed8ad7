package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	// waitTimeout bounds WaitForNotification so the receive loop can
	// return to process pending LISTEN/UNLISTEN commands.
	waitTimeout = 100 * time.Millisecond

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

type listenerCmdKind int

const (
	cmdListen listenerCmdKind = iota
	cmdUnlisten
)

type listenerCmd struct {
	kind    listenerCmdKind
	channel string
	done    chan error
}

// NotifyListener holds a dedicated PostgreSQL connection and dispatches
// NOTIFY payloads to the ConnectionManager. All LISTEN/UNLISTEN traffic is
// funneled through cmdCh so only the receive loop touches the connection.
type NotifyListener struct {
	dsn     string
	manager *ConnectionManager

	cmdCh  chan listenerCmd
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	channels map[string]bool // desired LISTEN set, replayed on reconnect
	running  bool
}

// NewNotifyListener creates a listener for the given connection string.
func NewNotifyListener(dsn string, manager *ConnectionManager) *NotifyListener {
	return &NotifyListener{
		dsn:      dsn,
		manager:  manager,
		cmdCh:    make(chan listenerCmd, 16),
		channels: make(map[string]bool),
	}
}

// Start connects and launches the receive loop.
func (l *NotifyListener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("listener already started")
	}
	l.running = true
	l.mu.Unlock()

	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		return fmt.Errorf("connect listener: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.receiveLoop(loopCtx, conn)
	slog.Info("Notification listener started")
	return nil
}

// Stop shuts the receive loop down and waits for it to exit.
func (l *NotifyListener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
	slog.Info("Notification listener stopped")
}

// Subscribe issues LISTEN for a channel and records it for reconnect replay.
func (l *NotifyListener) Subscribe(channel string) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return fmt.Errorf("listener not running")
	}
	l.channels[channel] = true
	l.mu.Unlock()
	return l.sendCmd(listenerCmd{kind: cmdListen, channel: channel, done: make(chan error, 1)})
}

// Unsubscribe issues UNLISTEN for a channel.
func (l *NotifyListener) Unsubscribe(channel string) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return fmt.Errorf("listener not running")
	}
	delete(l.channels, channel)
	l.mu.Unlock()
	return l.sendCmd(listenerCmd{kind: cmdUnlisten, channel: channel, done: make(chan error, 1)})
}

func (l *NotifyListener) sendCmd(cmd listenerCmd) error {
	select {
	case l.cmdCh <- cmd:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("listener command queue full")
	}
	select {
	case err := <-cmd.done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("listener command timed out")
	}
}

// receiveLoop alternates between draining pending commands and waiting for
// notifications. On connection failure it reconnects with exponential
// backoff and replays the desired LISTEN set.
func (l *NotifyListener) receiveLoop(ctx context.Context, conn *pgx.Conn) {
	defer close(l.done)
	defer func() {
		if conn != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = conn.Close(closeCtx)
			cancel()
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		l.processPendingCmds(ctx, conn)

		waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			slog.Error("Listener connection lost, reconnecting", "error", err)
			replacement := l.reconnect(ctx)
			if replacement == nil {
				return
			}
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = conn.Close(closeCtx)
			closeCancel()
			conn = replacement
			continue
		}

		l.manager.Broadcast(notification.Channel, []byte(notification.Payload))
	}
}

func (l *NotifyListener) processPendingCmds(ctx context.Context, conn *pgx.Conn) {
	for {
		select {
		case cmd := <-l.cmdCh:
			var err error
			switch cmd.kind {
			case cmdListen:
				_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{cmd.channel}.Sanitize())
			case cmdUnlisten:
				_, err = conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{cmd.channel}.Sanitize())
			}
			cmd.done <- err
		default:
			return
		}
	}
}

// reconnect retries with exponential backoff until a connection is
// established and the desired LISTEN set is replayed, or ctx is cancelled.
func (l *NotifyListener) reconnect(ctx context.Context) *pgx.Conn {
	backoff := reconnectBase
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.dsn)
		if err == nil {
			if err = l.replayChannels(ctx, conn); err == nil {
				slog.Info("Listener reconnected")
				return conn
			}
			closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = conn.Close(closeCtx)
			cancel()
		}
		slog.Warn("Listener reconnect failed", "error", err, "retry_in", backoff)

		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (l *NotifyListener) replayChannels(ctx context.Context, conn *pgx.Conn) error {
	l.mu.Lock()
	channels := make([]string, 0, len(l.channels))
	for ch := range l.channels {
		channels = append(channels, ch)
	}
	l.mu.Unlock()

	for _, ch := range channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("replay LISTEN %s: %w", ch, err)
		}
	}
	return nil
}
