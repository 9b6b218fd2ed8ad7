package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/council-ai/council/pkg/models"
)

// LocalBroadcaster implements Broadcaster by delivering events directly to
// an in-process ConnectionManager, with no persistence and no NOTIFY hop.
// Used in single-replica deployments without PostgreSQL.
type LocalBroadcaster struct {
	manager *ConnectionManager
}

// NewLocalBroadcaster creates a LocalBroadcaster over the connection manager.
func NewLocalBroadcaster(manager *ConnectionManager) *LocalBroadcaster {
	return &LocalBroadcaster{manager: manager}
}

func (b *LocalBroadcaster) MessageReceived(_ context.Context, sessionID string, msg models.MessageSummary) error {
	return b.sendMessage(sessionID, EventTypeMessageReceived, msg)
}

func (b *LocalBroadcaster) ClarificationRequested(_ context.Context, sessionID string, msg models.MessageSummary) error {
	return b.sendMessage(sessionID, EventTypeClarificationRequested, msg)
}

func (b *LocalBroadcaster) SessionStatusChanged(_ context.Context, sessionID string, session models.SessionSummary) error {
	return b.sendSession(sessionID, SessionPayload{
		Type:      EventTypeSessionStatusChanged,
		SessionID: sessionID,
		Session:   session,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
}

func (b *LocalBroadcaster) SolutionReady(_ context.Context, sessionID string, session models.SessionSummary) error {
	return b.sendSession(sessionID, SessionPayload{
		Type:      EventTypeSolutionReady,
		SessionID: sessionID,
		Session:   session,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
}

func (b *LocalBroadcaster) SessionStuck(_ context.Context, sessionID string, session models.SessionSummary, partialResults string) error {
	return b.sendSession(sessionID, SessionPayload{
		Type:           EventTypeSessionStuck,
		SessionID:      sessionID,
		Session:        session,
		PartialResults: partialResults,
		Timestamp:      time.Now().Format(time.RFC3339Nano),
	})
}

func (b *LocalBroadcaster) sendMessage(sessionID, eventType string, msg models.MessageSummary) error {
	payloadJSON, err := json.Marshal(MessagePayload{
		Type:      eventType,
		SessionID: sessionID,
		Message:   msg,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	b.manager.Broadcast(SessionChannel(sessionID), payloadJSON)
	return nil
}

func (b *LocalBroadcaster) sendSession(sessionID string, payload SessionPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", payload.Type, err)
	}
	b.manager.Broadcast(SessionChannel(sessionID), payloadJSON)
	b.manager.Broadcast(GlobalSessionsChannel, payloadJSON)
	return nil
}
