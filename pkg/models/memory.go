package models

import "time"

// Memory is a session-scoped persona note. At most one entry exists per
// (session, persona, identifier); re-storing overwrites.
type Memory struct {
	ID             string
	SessionID      string
	Persona        PersonaRole
	Identifier     string
	Content        string
	CreatedAt      time.Time
	AccessCount    int
	LastAccessedAt *time.Time
}

// PersonaConfig holds static-but-overridable per-persona settings.
// Seeded once at startup; all ten roles must exist and be enabled for the
// default flow.
type PersonaConfig struct {
	Role         PersonaRole
	DisplayName  string
	Model        string
	SystemPrompt string
	Temperature  float32 // 0.0–1.0
	MaxTokens    int
	Enabled      bool
	SortOrder    int
}
