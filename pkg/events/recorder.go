package events

import (
	"context"
	"sync"

	"github.com/council-ai/council/pkg/models"
)

// RecordedEvent is one captured broadcast, in emission order.
type RecordedEvent struct {
	Type           string
	SessionID      string
	Message        *models.MessageSummary
	Session        *models.SessionSummary
	PartialResults string
}

// Recorder is a Broadcaster that captures events for assertions in tests.
type Recorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) record(e RecordedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) MessageReceived(_ context.Context, sessionID string, msg models.MessageSummary) error {
	r.record(RecordedEvent{Type: EventTypeMessageReceived, SessionID: sessionID, Message: &msg})
	return nil
}

func (r *Recorder) SessionStatusChanged(_ context.Context, sessionID string, session models.SessionSummary) error {
	r.record(RecordedEvent{Type: EventTypeSessionStatusChanged, SessionID: sessionID, Session: &session})
	return nil
}

func (r *Recorder) ClarificationRequested(_ context.Context, sessionID string, msg models.MessageSummary) error {
	r.record(RecordedEvent{Type: EventTypeClarificationRequested, SessionID: sessionID, Message: &msg})
	return nil
}

func (r *Recorder) SolutionReady(_ context.Context, sessionID string, session models.SessionSummary) error {
	r.record(RecordedEvent{Type: EventTypeSolutionReady, SessionID: sessionID, Session: &session})
	return nil
}

func (r *Recorder) SessionStuck(_ context.Context, sessionID string, session models.SessionSummary, partialResults string) error {
	r.record(RecordedEvent{Type: EventTypeSessionStuck, SessionID: sessionID, Session: &session, PartialResults: partialResults})
	return nil
}

// Events returns a snapshot of all captured events.
func (r *Recorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ByType returns captured events of one type, in emission order.
func (r *Recorder) ByType(eventType string) []RecordedEvent {
	var out []RecordedEvent
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of captured events of one type.
func (r *Recorder) Count(eventType string) int {
	return len(r.ByType(eventType))
}
