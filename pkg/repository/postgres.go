package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/council-ai/council/pkg/errs"
	"github.com/council-ai/council/pkg/models"
)

// NewPostgresStore returns a Store backed by PostgreSQL. The schema is
// managed by the database package's migrations.
func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		Sessions:       &pgSessions{db: db},
		Messages:       &pgMessages{db: db},
		Memories:       &pgMemories{db: db},
		PersonaConfigs: &pgPersonaConfigs{db: db},
	}
}

type pgSessions struct {
	db *sql.DB
}

const sessionColumns = `id, title, problem, status, final_solution, current_persona, created_at, updated_at`

func (r *pgSessions) Create(ctx context.Context, s *models.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.Title, s.Problem, string(s.Status), s.FinalSolution, personaPtr(s.CurrentPersona), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *pgSessions) Get(ctx context.Context, id string) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (r *pgSessions) Update(ctx context.Context, s *models.Session) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET title = $2, status = $3, final_solution = $4, current_persona = $5, updated_at = $6 WHERE id = $1`,
		s.ID, s.Title, string(s.Status), s.FinalSolution, personaPtr(s.CurrentPersona), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *pgSessions) List(ctx context.Context) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s              models.Session
		status         string
		finalSolution  sql.NullString
		currentPersona sql.NullString
	)
	err := row.Scan(&s.ID, &s.Title, &s.Problem, &status, &finalSolution, &currentPersona, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	if finalSolution.Valid {
		s.FinalSolution = &finalSolution.String
	}
	if currentPersona.Valid {
		role := models.PersonaRole(currentPersona.String)
		s.CurrentPersona = &role
	}
	return &s, nil
}

type pgMessages struct {
	db *sql.DB
}

const messageColumns = `id, session_id, from_persona, to_persona, kind, content, reasoning, parent_id, delegate_to, delegation_context, stuck, raw_response, seq, created_at`

func (r *pgMessages) Append(ctx context.Context, m *models.Message) error {
	// seq is assigned atomically from the session's message count so
	// insertion order survives timestamp ties.
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, session_id, from_persona, to_persona, kind, content, reasoning, parent_id, delegate_to, delegation_context, stuck, raw_response, seq, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		         (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = $2), $13)
		 RETURNING seq`,
		m.ID, m.SessionID, string(m.FromPersona), personaPtr(m.ToPersona), string(m.Kind),
		m.Content, m.Reasoning, m.ParentID, personaPtr(m.DelegateTo), m.DelegationContext,
		m.Stuck, m.RawResponse, m.CreatedAt,
	).Scan(&m.Seq)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *pgMessages) ListBySession(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = $1 ORDER BY created_at ASC, seq ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var (
			m          models.Message
			from, kind string
			to         sql.NullString
			parentID   sql.NullString
			delegateTo sql.NullString
		)
		err := rows.Scan(&m.ID, &m.SessionID, &from, &to, &kind, &m.Content, &m.Reasoning,
			&parentID, &delegateTo, &m.DelegationContext, &m.Stuck, &m.RawResponse, &m.Seq, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.FromPersona = models.PersonaRole(from)
		m.Kind = models.MessageKind(kind)
		if to.Valid {
			role := models.PersonaRole(to.String)
			m.ToPersona = &role
		}
		if parentID.Valid {
			m.ParentID = &parentID.String
		}
		if delegateTo.Valid {
			role := models.PersonaRole(delegateTo.String)
			m.DelegateTo = &role
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

type pgMemories struct {
	db *sql.DB
}

const memoryColumns = `id, session_id, persona, identifier, content, created_at, access_count, last_accessed_at`

func (r *pgMemories) Upsert(ctx context.Context, m *models.Memory) error {
	// The unique constraint on (session_id, persona, identifier) makes
	// concurrent overwrites converge on the latest write.
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO memories (id, session_id, persona, identifier, content, created_at, access_count)
		 VALUES ($1, $2, $3, $4, $5, $6, 0)
		 ON CONFLICT (session_id, persona, identifier)
		 DO UPDATE SET content = EXCLUDED.content, created_at = EXCLUDED.created_at`,
		m.ID, m.SessionID, string(m.Persona), m.Identifier, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

func (r *pgMemories) Get(ctx context.Context, sessionID string, persona models.PersonaRole, identifier string) (*models.Memory, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE session_id = $1 AND persona = $2 AND identifier = $3`,
		sessionID, string(persona), identifier)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

func (r *pgMemories) ListRecent(ctx context.Context, sessionID string, persona models.PersonaRole, n int) ([]*models.Memory, error) {
	return r.query(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE session_id = $1 AND persona = $2 ORDER BY created_at DESC, id DESC LIMIT $3`,
		sessionID, string(persona), n)
}

func (r *pgMemories) Search(ctx context.Context, sessionID string, persona models.PersonaRole, query string, limit int) ([]*models.Memory, error) {
	pattern := "%" + escapeLike(query) + "%"
	return r.query(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE session_id = $1 AND persona = $2 AND (identifier ILIKE $3 OR content ILIKE $3)
		 ORDER BY created_at DESC, id DESC LIMIT $4`,
		sessionID, string(persona), pattern, limit)
}

func (r *pgMemories) TouchAccess(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch memory: %w", err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *pgMemories) query(ctx context.Context, q string, args ...any) ([]*models.Memory, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []*models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return out, nil
}

func scanMemory(row rowScanner) (*models.Memory, error) {
	var (
		m            models.Memory
		persona      string
		lastAccessed sql.NullTime
	)
	err := row.Scan(&m.ID, &m.SessionID, &persona, &m.Identifier, &m.Content, &m.CreatedAt, &m.AccessCount, &lastAccessed)
	if err != nil {
		return nil, err
	}
	m.Persona = models.PersonaRole(persona)
	if lastAccessed.Valid {
		m.LastAccessedAt = &lastAccessed.Time
	}
	return &m, nil
}

type pgPersonaConfigs struct {
	db *sql.DB
}

const personaConfigColumns = `role, display_name, model, system_prompt, temperature, max_tokens, enabled, sort_order`

func (r *pgPersonaConfigs) Seed(ctx context.Context, configs []*models.PersonaConfig) error {
	for _, cfg := range configs {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO persona_configs (`+personaConfigColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (role) DO NOTHING`,
			string(cfg.Role), cfg.DisplayName, cfg.Model, cfg.SystemPrompt,
			cfg.Temperature, cfg.MaxTokens, cfg.Enabled, cfg.SortOrder)
		if err != nil {
			return fmt.Errorf("seed persona config %s: %w", cfg.Role, err)
		}
	}
	return nil
}

func (r *pgPersonaConfigs) Get(ctx context.Context, role models.PersonaRole) (*models.PersonaConfig, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+personaConfigColumns+` FROM persona_configs WHERE role = $1`, string(role))
	cfg, err := scanPersonaConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get persona config: %w", err)
	}
	return cfg, nil
}

func (r *pgPersonaConfigs) List(ctx context.Context) ([]*models.PersonaConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+personaConfigColumns+` FROM persona_configs ORDER BY sort_order ASC`)
	if err != nil {
		return nil, fmt.Errorf("list persona configs: %w", err)
	}
	defer rows.Close()

	var out []*models.PersonaConfig
	for rows.Next() {
		cfg, err := scanPersonaConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan persona config: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persona configs: %w", err)
	}
	return out, nil
}

func (r *pgPersonaConfigs) Upsert(ctx context.Context, cfg *models.PersonaConfig) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO persona_configs (`+personaConfigColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (role) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   model = EXCLUDED.model,
		   system_prompt = EXCLUDED.system_prompt,
		   temperature = EXCLUDED.temperature,
		   max_tokens = EXCLUDED.max_tokens,
		   enabled = EXCLUDED.enabled,
		   sort_order = EXCLUDED.sort_order`,
		string(cfg.Role), cfg.DisplayName, cfg.Model, cfg.SystemPrompt,
		cfg.Temperature, cfg.MaxTokens, cfg.Enabled, cfg.SortOrder)
	if err != nil {
		return fmt.Errorf("upsert persona config: %w", err)
	}
	return nil
}

func scanPersonaConfig(row rowScanner) (*models.PersonaConfig, error) {
	var (
		cfg  models.PersonaConfig
		role string
	)
	err := row.Scan(&role, &cfg.DisplayName, &cfg.Model, &cfg.SystemPrompt,
		&cfg.Temperature, &cfg.MaxTokens, &cfg.Enabled, &cfg.SortOrder)
	if err != nil {
		return nil, err
	}
	cfg.Role = models.PersonaRole(role)
	return &cfg, nil
}

// personaPtr converts an optional role to its nullable column value.
func personaPtr(role *models.PersonaRole) *string {
	if role == nil {
		return nil
	}
	s := string(*role)
	return &s
}

// escapeLike escapes LIKE metacharacters so user text matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
