package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/council-ai/council/pkg/models"
)

// notifyLimit is PostgreSQL's NOTIFY payload cap (8000 bytes), with headroom.
const notifyLimit = 7900

// Publisher implements Broadcaster on PostgreSQL: every event is persisted
// to the events table and broadcast via pg_notify in one transaction, so a
// committed event is always delivered or recoverable through catchup.
type Publisher struct {
	db *sql.DB
}

// NewPublisher creates a Publisher over the database handle.
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

func (p *Publisher) MessageReceived(ctx context.Context, sessionID string, msg models.MessageSummary) error {
	return p.publishMessage(ctx, sessionID, EventTypeMessageReceived, msg)
}

func (p *Publisher) ClarificationRequested(ctx context.Context, sessionID string, msg models.MessageSummary) error {
	return p.publishMessage(ctx, sessionID, EventTypeClarificationRequested, msg)
}

func (p *Publisher) SessionStatusChanged(ctx context.Context, sessionID string, session models.SessionSummary) error {
	return p.publishSession(ctx, sessionID, SessionPayload{
		Type:      EventTypeSessionStatusChanged,
		SessionID: sessionID,
		Session:   session,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
}

func (p *Publisher) SolutionReady(ctx context.Context, sessionID string, session models.SessionSummary) error {
	return p.publishSession(ctx, sessionID, SessionPayload{
		Type:      EventTypeSolutionReady,
		SessionID: sessionID,
		Session:   session,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
}

func (p *Publisher) SessionStuck(ctx context.Context, sessionID string, session models.SessionSummary, partialResults string) error {
	return p.publishSession(ctx, sessionID, SessionPayload{
		Type:           EventTypeSessionStuck,
		SessionID:      sessionID,
		Session:        session,
		PartialResults: partialResults,
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	})
}

func (p *Publisher) publishMessage(ctx context.Context, sessionID, eventType string, msg models.MessageSummary) error {
	payloadJSON, err := json.Marshal(MessagePayload{
		Type:      eventType,
		SessionID: sessionID,
		Message:   msg,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON)
}

// publishSession persists the event to the session channel and broadcasts a
// transient copy to the global sessions channel for list views. Both are
// best-effort; the first error is returned.
func (p *Publisher) publishSession(ctx context.Context, sessionID string, payload SessionPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", payload.Type, err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, sessionID, SessionChannel(sessionID), payloadJSON); err != nil {
		slog.Warn("Failed to publish session event to session channel",
			"session_id", sessionID, "type", payload.Type, "error", err)
		firstErr = err
	}
	if err := p.notifyOnly(ctx, GlobalSessionsChannel, payloadJSON); err != nil {
		slog.Warn("Failed to publish session event to global channel",
			"session_id", sessionID, "type", payload.Type, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// persistAndNotify persists a pre-marshaled event and broadcasts via NOTIFY
// in a single transaction; pg_notify is transactional and held until COMMIT.
func (p *Publisher) persistAndNotify(ctx context.Context, sessionID, channel string, payloadJSON []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (session_id, channel, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		sessionID, channel, payloadJSON, time.Now(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("persist event: %w", err)
	}

	notifyPayload, err := injectDBEventID(payloadJSON, eventID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event transaction: %w", err)
	}
	return nil
}

// notifyOnly broadcasts without persisting.
func (p *Publisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// injectDBEventID adds db_event_id to the NOTIFY payload so clients can
// track their catchup position, then applies the size cap.
func injectDBEventID(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID
	enriched, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal enriched NOTIFY payload: %w", err)
	}
	return truncateIfNeeded(string(enriched))
}

// truncateIfNeeded replaces oversized payloads with a minimal envelope
// carrying only routing fields; clients refetch the full event from the API.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= notifyLimit {
		return payloadStr, nil
	}
	var routing struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal([]byte(payloadStr), &routing); err != nil {
		return "", fmt.Errorf("extract routing fields for truncation: %w", err)
	}
	truncated := map[string]any{
		"type":       routing.Type,
		"session_id": routing.SessionID,
		"truncated":  true,
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}
	out, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("marshal truncated payload: %w", err)
	}
	return string(out), nil
}
