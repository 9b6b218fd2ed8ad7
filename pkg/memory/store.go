// Package memory implements the per-(session,persona) note store. It
// enforces identifier and content word limits and result ordering;
// persistence is delegated to the repository contract.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/council-ai/council/pkg/errs"
	"github.com/council-ai/council/pkg/models"
	"github.com/council-ai/council/pkg/repository"
)

// Default admission limits. Word counting is a plain whitespace split; no
// locale-specific tokenization.
const (
	DefaultMaxIdentifierTokens = 10
	DefaultMaxContentTokens    = 2000
	DefaultRecentWindow        = 10
	searchLimit                = 10
)

// Store validates and orders memories on top of a Memories repository.
type Store struct {
	repo                repository.Memories
	maxIdentifierTokens int
	maxContentTokens    int
}

// NewStore creates a memory store with the given limits. Zero limits fall
// back to the defaults.
func NewStore(repo repository.Memories, maxIdentifierTokens, maxContentTokens int) *Store {
	if maxIdentifierTokens <= 0 {
		maxIdentifierTokens = DefaultMaxIdentifierTokens
	}
	if maxContentTokens <= 0 {
		maxContentTokens = DefaultMaxContentTokens
	}
	return &Store{
		repo:                repo,
		maxIdentifierTokens: maxIdentifierTokens,
		maxContentTokens:    maxContentTokens,
	}
}

// Save stores a memory, overwriting any existing entry with the same
// (session, persona, identifier). Surrounding whitespace is trimmed before
// validation.
func (s *Store) Save(ctx context.Context, sessionID string, persona models.PersonaRole, identifier, content string) (*models.Memory, error) {
	identifier = strings.TrimSpace(identifier)
	content = strings.TrimSpace(content)

	if identifier == "" {
		return nil, errs.NewValidationError("identifier", "must not be empty")
	}
	if n := wordCount(identifier); n > s.maxIdentifierTokens {
		return nil, errs.NewValidationError("identifier",
			fmt.Sprintf("%d tokens exceeds limit of %d", n, s.maxIdentifierTokens))
	}
	if n := wordCount(content); n > s.maxContentTokens {
		return nil, errs.NewValidationError("content",
			fmt.Sprintf("%d tokens exceeds limit of %d", n, s.maxContentTokens))
	}

	m := &models.Memory{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Persona:    persona,
		Identifier: identifier,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	if err := s.repo.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("upsert memory: %w", err)
	}
	return m, nil
}

// GetRecent returns up to n memories ordered by creation time descending and
// increments their access counters. n <= 0 uses the default window of 10.
func (s *Store) GetRecent(ctx context.Context, sessionID string, persona models.PersonaRole, n int) ([]*models.Memory, error) {
	if n <= 0 {
		n = DefaultRecentWindow
	}
	memories, err := s.repo.ListRecent(ctx, sessionID, persona, n)
	if err != nil {
		return nil, fmt.Errorf("list recent memories: %w", err)
	}
	s.touchAll(ctx, memories)
	return memories, nil
}

// GetByIdentifier returns the memory for an identifier, incrementing its
// access counter. Returns errs.ErrNotFound when the identifier is unknown.
func (s *Store) GetByIdentifier(ctx context.Context, sessionID string, persona models.PersonaRole, identifier string) (*models.Memory, error) {
	m, err := s.repo.Get(ctx, sessionID, persona, strings.TrimSpace(identifier))
	if err != nil {
		return nil, err
	}
	s.touchAll(ctx, []*models.Memory{m})
	return m, nil
}

// Search matches query case-insensitively across identifier and content,
// up to 10 results, creation time descending.
func (s *Store) Search(ctx context.Context, sessionID string, persona models.PersonaRole, query string) ([]*models.Memory, error) {
	return s.repo.Search(ctx, sessionID, persona, query, searchLimit)
}

// touchAll bumps access counters best-effort; a failed counter update never
// fails the read that surfaced the memory.
func (s *Store) touchAll(ctx context.Context, memories []*models.Memory) {
	for _, m := range memories {
		if err := s.repo.TouchAccess(ctx, m.ID); err != nil {
			slog.Warn("Failed to update memory access counter",
				"memory_id", m.ID, "error", err)
		}
	}
}

// wordCount counts whitespace-separated tokens.
func wordCount(s string) int {
	return len(strings.Fields(s))
}
