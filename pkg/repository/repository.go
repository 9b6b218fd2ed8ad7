// Package repository defines the persistence contracts the orchestrator
// consumes, plus an in-memory implementation (tests, single-process runs)
// and a PostgreSQL implementation.
package repository

import (
	"context"

	"github.com/council-ai/council/pkg/models"
)

// Sessions persists session aggregates. Implementations must be safe for
// concurrent use; the orchestrator serializes writes per session on top.
type Sessions interface {
	Create(ctx context.Context, s *models.Session) error
	// Get returns errs.ErrNotFound when the id does not resolve.
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, s *models.Session) error
	List(ctx context.Context) ([]*models.Session, error)
}

// Messages persists the append-only conversation. Append assigns Seq, the
// per-session insertion order that breaks timestamp ties.
type Messages interface {
	Append(ctx context.Context, m *models.Message) error
	// ListBySession returns all messages ordered by (created_at, seq) ascending.
	ListBySession(ctx context.Context, sessionID string) ([]*models.Message, error)
}

// Memories persists persona notes. Upsert replaces the existing entry for
// the same (session, persona, identifier), refreshing content and timestamp.
type Memories interface {
	Upsert(ctx context.Context, m *models.Memory) error
	// Get returns errs.ErrNotFound when no entry exists.
	Get(ctx context.Context, sessionID string, persona models.PersonaRole, identifier string) (*models.Memory, error)
	// ListRecent returns up to n memories ordered by creation time descending.
	ListRecent(ctx context.Context, sessionID string, persona models.PersonaRole, n int) ([]*models.Memory, error)
	// Search matches query case-insensitively against identifier and content,
	// up to limit results, creation time descending.
	Search(ctx context.Context, sessionID string, persona models.PersonaRole, query string, limit int) ([]*models.Memory, error)
	// TouchAccess increments the access counter and stamps last access.
	TouchAccess(ctx context.Context, id string) error
}

// PersonaConfigs persists per-persona settings.
type PersonaConfigs interface {
	// Seed inserts any missing configs without touching existing rows.
	// Idempotent: calling it repeatedly with the same defaults is a no-op.
	Seed(ctx context.Context, configs []*models.PersonaConfig) error
	// Get returns errs.ErrNotFound for unknown roles.
	Get(ctx context.Context, role models.PersonaRole) (*models.PersonaConfig, error)
	// List returns all configs ordered by sort order.
	List(ctx context.Context) ([]*models.PersonaConfig, error)
	// Upsert creates or replaces a config (YAML overrides at startup).
	Upsert(ctx context.Context, cfg *models.PersonaConfig) error
}

// Store bundles the four repositories the orchestrator needs.
type Store struct {
	Sessions       Sessions
	Messages       Messages
	Memories       Memories
	PersonaConfigs PersonaConfigs
}
