package models

import "time"

// Message is one append-only entry in a session's conversation.
// Messages are never mutated after creation.
type Message struct {
	ID        string
	SessionID string

	FromPersona PersonaRole
	ToPersona   *PersonaRole
	Kind        MessageKind
	Content     string

	// Reasoning holds internal [REASONING] text and parser annotations.
	// Not shown in the visible conversation.
	Reasoning string

	// ParentID links a response to the message it answers.
	ParentID *string

	// Delegation fields, set iff Kind == KindDelegation.
	DelegateTo        *PersonaRole
	DelegationContext string

	// Stuck marks messages produced from a stuck outcome.
	Stuck bool

	// RawResponse preserves the unparsed LLM text for diagnostics.
	RawResponse string

	// Seq is the per-session insertion order, assigned by the repository.
	// It breaks timestamp ties.
	Seq int64

	CreatedAt time.Time
}

// Summary returns the trimmed record broadcast to subscribers.
func (m *Message) Summary() MessageSummary {
	sum := MessageSummary{
		ID:          m.ID,
		SessionID:   m.SessionID,
		FromPersona: string(m.FromPersona),
		Kind:        m.Kind,
		Content:     m.Content,
		Stuck:       m.Stuck,
		Seq:         m.Seq,
		CreatedAt:   m.CreatedAt,
	}
	if m.ToPersona != nil {
		sum.ToPersona = string(*m.ToPersona)
	}
	if m.ParentID != nil {
		sum.ParentID = *m.ParentID
	}
	if m.DelegateTo != nil {
		sum.DelegateTo = string(*m.DelegateTo)
	}
	return sum
}

// MessageSummary is the DTO for message-level events and API responses.
// Internal reasoning and raw LLM text stay server-side.
type MessageSummary struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"session_id"`
	FromPersona string      `json:"from_persona"`
	ToPersona   string      `json:"to_persona,omitempty"`
	Kind        MessageKind `json:"kind"`
	Content     string      `json:"content"`
	ParentID    string      `json:"parent_id,omitempty"`
	DelegateTo  string      `json:"delegate_to,omitempty"`
	Stuck       bool        `json:"stuck,omitempty"`
	Seq         int64       `json:"seq"`
	CreatedAt   time.Time   `json:"created_at"`
}
