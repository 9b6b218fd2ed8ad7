package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/council-ai/council/pkg/errs"
	"github.com/council-ai/council/pkg/models"
)

// NewInMemoryStore returns a Store backed by process memory. Used by tests
// and single-process runs without Postgres.
func NewInMemoryStore() *Store {
	return &Store{
		Sessions:       &inmemSessions{sessions: make(map[string]*models.Session)},
		Messages:       &inmemMessages{bySession: make(map[string][]*models.Message), seq: make(map[string]int64)},
		Memories:       &inmemMemories{byID: make(map[string]*models.Memory)},
		PersonaConfigs: &inmemPersonaConfigs{byRole: make(map[models.PersonaRole]*models.PersonaConfig)},
	}
}

type inmemSessions struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func (r *inmemSessions) Create(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *inmemSessions) Get(_ context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *inmemSessions) Update(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return errs.ErrNotFound
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *inmemSessions) List(_ context.Context) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type inmemMessages struct {
	mu        sync.RWMutex
	bySession map[string][]*models.Message
	seq       map[string]int64
}

func (r *inmemMessages) Append(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq[m.SessionID]++
	m.Seq = r.seq[m.SessionID]
	cp := *m
	r.bySession[m.SessionID] = append(r.bySession[m.SessionID], &cp)
	return nil
}

func (r *inmemMessages) ListBySession(_ context.Context, sessionID string) ([]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := r.bySession[sessionID]
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type inmemMemories struct {
	mu   sync.RWMutex
	byID map[string]*models.Memory
}

func (r *inmemMemories) key(sessionID string, persona models.PersonaRole, identifier string) string {
	return sessionID + "\x00" + string(persona) + "\x00" + identifier
}

func (r *inmemMemories) Upsert(_ context.Context, m *models.Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.key(m.SessionID, m.Persona, m.Identifier)
	for id, existing := range r.byID {
		if r.key(existing.SessionID, existing.Persona, existing.Identifier) == key {
			delete(r.byID, id)
			break
		}
	}
	cp := *m
	r.byID[m.ID] = &cp
	return nil
}

func (r *inmemMemories) Get(_ context.Context, sessionID string, persona models.PersonaRole, identifier string) (*models.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.byID {
		if m.SessionID == sessionID && m.Persona == persona && m.Identifier == identifier {
			cp := *m
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *inmemMemories) ListRecent(_ context.Context, sessionID string, persona models.PersonaRole, n int) ([]*models.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.collect(sessionID, persona, func(*models.Memory) bool { return true })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *inmemMemories) Search(_ context.Context, sessionID string, persona models.PersonaRole, query string, limit int) ([]*models.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q := strings.ToLower(query)
	out := r.collect(sessionID, persona, func(m *models.Memory) bool {
		return strings.Contains(strings.ToLower(m.Identifier), q) ||
			strings.Contains(strings.ToLower(m.Content), q)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// collect returns copies matching the predicate, creation time descending.
// Callers hold at least a read lock.
func (r *inmemMemories) collect(sessionID string, persona models.PersonaRole, match func(*models.Memory) bool) []*models.Memory {
	var out []*models.Memory
	for _, m := range r.byID {
		if m.SessionID == sessionID && m.Persona == persona && match(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *inmemMemories) TouchAccess(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	m.AccessCount++
	now := time.Now()
	m.LastAccessedAt = &now
	return nil
}

type inmemPersonaConfigs struct {
	mu     sync.RWMutex
	byRole map[models.PersonaRole]*models.PersonaConfig
}

func (r *inmemPersonaConfigs) Seed(_ context.Context, configs []*models.PersonaConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range configs {
		if _, exists := r.byRole[cfg.Role]; exists {
			continue
		}
		cp := *cfg
		r.byRole[cfg.Role] = &cp
	}
	return nil
}

func (r *inmemPersonaConfigs) Get(_ context.Context, role models.PersonaRole) (*models.PersonaConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byRole[role]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (r *inmemPersonaConfigs) List(_ context.Context) ([]*models.PersonaConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.PersonaConfig, 0, len(r.byRole))
	for _, cfg := range r.byRole {
		cp := *cfg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (r *inmemPersonaConfigs) Upsert(_ context.Context, cfg *models.PersonaConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cfg
	r.byRole[cfg.Role] = &cp
	return nil
}
