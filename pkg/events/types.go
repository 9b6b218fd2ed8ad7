// Package events provides the broadcast contract the orchestrator emits
// through, plus real-time delivery via WebSocket with PostgreSQL
// NOTIFY/LISTEN for cross-replica distribution.
//
// Delivery is best-effort: a lost or failed broadcast never blocks or fails
// the orchestration loop. Persisted messages are the authoritative record.
package events

import (
	"context"

	"github.com/council-ai/council/pkg/models"
)

// Event types carried in the payload "type" field.
const (
	EventTypeMessageReceived        = "message.received"
	EventTypeSessionStatusChanged   = "session.status"
	EventTypeClarificationRequested = "clarification.requested"
	EventTypeSolutionReady          = "solution.ready"
	EventTypeSessionStuck           = "session.stuck"
)

// GlobalSessionsChannel carries session-level status events for list views.
const GlobalSessionsChannel = "sessions"

// SessionChannel returns the channel name for a session's events.
// Format: "session:{session_id}"
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// Broadcaster is the fan-out contract for one session's typed events.
// Implementations must not block the caller beyond ordinary I/O; errors are
// logged and swallowed by the orchestrator.
type Broadcaster interface {
	MessageReceived(ctx context.Context, sessionID string, msg models.MessageSummary) error
	SessionStatusChanged(ctx context.Context, sessionID string, session models.SessionSummary) error
	// ClarificationRequested is emitted in addition to MessageReceived when
	// a persona asks the user a question.
	ClarificationRequested(ctx context.Context, sessionID string, msg models.MessageSummary) error
	// SolutionReady is emitted once, on the transition to Completed.
	SolutionReady(ctx context.Context, sessionID string, session models.SessionSummary) error
	// SessionStuck is emitted once, on the transition to Stuck.
	SessionStuck(ctx context.Context, sessionID string, session models.SessionSummary, partialResults string) error
}

// MessagePayload is the wire payload for message.received and
// clarification.requested events.
type MessagePayload struct {
	Type      string                `json:"type"`
	SessionID string                `json:"session_id"`
	Message   models.MessageSummary `json:"message"`
	Timestamp string                `json:"timestamp"` // RFC3339Nano
}

// SessionPayload is the wire payload for session.status, solution.ready and
// session.stuck events.
type SessionPayload struct {
	Type           string                `json:"type"`
	SessionID      string                `json:"session_id"`
	Session        models.SessionSummary `json:"session"`
	PartialResults string                `json:"partial_results,omitempty"` // session.stuck only
	Timestamp      string                `json:"timestamp"`                 // RFC3339Nano
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // e.g. "session:abc-123"
	LastEventID *int64 `json:"last_event_id,omitempty"` // for catchup
}
