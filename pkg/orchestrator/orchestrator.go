// Package orchestrator drives sessions through the persona roster: it owns
// the dispatch loop, the session state machine, per-session serialization
// and the background run registry.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/council-ai/council/pkg/engine"
	"github.com/council-ai/council/pkg/errs"
	"github.com/council-ai/council/pkg/events"
	"github.com/council-ai/council/pkg/memory"
	"github.com/council-ai/council/pkg/models"
	"github.com/council-ai/council/pkg/persona"
	"github.com/council-ai/council/pkg/repository"
)

// Loop limits.
const (
	// DefaultMaxDepth caps total turns per Process run.
	DefaultMaxDepth = 50
	// DefaultStuckLimit caps consecutive stuck outcomes.
	DefaultStuckLimit = 5
	// DefaultRecentMemories is how many memories are loaded per turn.
	DefaultRecentMemories = 10
)

// Config tunes the dispatch loop. Zero values fall back to the defaults.
type Config struct {
	MaxDepth       int
	StuckLimit     int
	RecentMemories int
}

func (c Config) withDefaults() Config {
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.StuckLimit <= 0 {
		c.StuckLimit = DefaultStuckLimit
	}
	if c.RecentMemories <= 0 {
		c.RecentMemories = DefaultRecentMemories
	}
	return c
}

// Orchestrator coordinates sessions. All public operations are safe for
// concurrent use; state mutations for one session are serialized through a
// per-session mutex.
type Orchestrator struct {
	repo *repository.Store
	eng  *engine.Engine
	mems *memory.Store
	bus  events.Broadcaster
	cfg  Config

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	runs     map[string]context.CancelFunc
	stopping bool
	wg       sync.WaitGroup
}

// New creates an orchestrator.
func New(repo *repository.Store, eng *engine.Engine, mems *memory.Store, bus events.Broadcaster, cfg Config) *Orchestrator {
	return &Orchestrator{
		repo:  repo,
		eng:   eng,
		mems:  mems,
		bus:   bus,
		cfg:   cfg.withDefaults(),
		locks: make(map[string]*sync.Mutex),
		runs:  make(map[string]context.CancelFunc),
	}
}

// Initialize creates a session in Active state with the problem statement
// appended, and broadcasts the initial events. It does not drive the loop;
// call StartBackground (or Process) afterwards.
func (o *Orchestrator) Initialize(ctx context.Context, problem string) (*models.Session, error) {
	problem = strings.TrimSpace(problem)
	if problem == "" {
		return nil, errs.NewValidationError("problem", "must not be empty")
	}

	coordinator := persona.Coordinator
	now := time.Now()
	session := &models.Session{
		ID:             uuid.New().String(),
		Title:          models.TitleFromProblem(problem),
		Problem:        problem,
		Status:         models.StatusActive,
		CurrentPersona: &coordinator,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.repo.Sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	statement := &models.Message{
		ID:          uuid.New().String(),
		SessionID:   session.ID,
		FromPersona: models.RoleUser,
		ToPersona:   &coordinator,
		Kind:        models.KindProblemStatement,
		Content:     problem,
		CreatedAt:   time.Now(),
	}
	if err := o.repo.Messages.Append(ctx, statement); err != nil {
		return nil, fmt.Errorf("append problem statement: %w", err)
	}

	o.broadcastMessage(ctx, session.ID, statement)
	o.broadcastStatus(ctx, session)

	slog.Info("Session initialized", "session_id", session.ID, "title", session.Title)
	return session, nil
}

// StartBackground runs Process in a background task registered for
// cancellation. Returns immediately.
func (o *Orchestrator) StartBackground(sessionID string) {
	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		return
	}
	if _, running := o.runs[sessionID]; running {
		o.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	o.runs[sessionID] = cancel
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer o.clearRun(sessionID, cancel)
		if err := o.Process(runCtx, sessionID); err != nil {
			slog.Error("Session processing failed", "session_id", sessionID, "error", err)
		}
	}()
}

// Process runs the dispatch loop for a session until it reaches a
// non-active state or the context is cancelled. No-op for sessions that are
// not Active. Returns errs.ErrNotFound for unknown sessions.
func (o *Orchestrator) Process(ctx context.Context, sessionID string) error {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return o.runLoop(ctx, sessionID)
}

// HandleUserClarification records the user's answer to a pending
// clarification and resumes processing with the asking persona.
func (o *Orchestrator) HandleUserClarification(ctx context.Context, sessionID, response string) (*models.Message, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, errs.NewValidationError("response", "must not be empty")
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()

	session, err := o.repo.Sessions.Get(ctx, sessionID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if session.Status != models.StatusWaitingForClarification {
		lock.Unlock()
		return nil, fmt.Errorf("session %s is %s, not awaiting clarification: %w",
			sessionID, session.Status, errs.ErrInvalidState)
	}

	asker, parentID := o.lastClarification(ctx, sessionID)
	msg := &models.Message{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		FromPersona: models.RoleUser,
		ToPersona:   &asker,
		Kind:        models.KindUserResponse,
		Content:     response,
		ParentID:    parentID,
		CreatedAt:   time.Now(),
	}
	if err := o.repo.Messages.Append(ctx, msg); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("append user response: %w", err)
	}

	session.Status = models.StatusActive
	session.CurrentPersona = &asker
	session.UpdatedAt = time.Now()
	if err := o.repo.Sessions.Update(ctx, session); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("update session: %w", err)
	}

	o.broadcastMessage(ctx, sessionID, msg)
	o.broadcastStatus(ctx, session)
	lock.Unlock()

	o.StartBackground(sessionID)
	return msg, nil
}

// Resume reactivates a Stuck, Interrupted or Error session from the
// Coordinator and restarts processing.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) (*models.Session, error) {
	lock := o.sessionLock(sessionID)
	lock.Lock()

	session, err := o.repo.Sessions.Get(ctx, sessionID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if !session.Status.IsResumable() {
		lock.Unlock()
		return nil, fmt.Errorf("session %s is %s and cannot be resumed: %w",
			sessionID, session.Status, errs.ErrInvalidState)
	}

	coordinator := persona.Coordinator
	session.Status = models.StatusActive
	session.CurrentPersona = &coordinator
	session.UpdatedAt = time.Now()
	if err := o.repo.Sessions.Update(ctx, session); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("update session: %w", err)
	}
	o.broadcastStatus(ctx, session)
	lock.Unlock()

	o.StartBackground(sessionID)
	return session, nil
}

// Cancel flips the session to Cancelled and signals any running loop.
// Idempotent: cancelling a cancelled session is a no-op. Does not wait for
// the loop to exit; an in-flight LLM result is discarded, not persisted.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) error {
	session, err := o.repo.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status == models.StatusCancelled {
		return nil
	}

	session.Status = models.StatusCancelled
	session.CurrentPersona = nil
	session.UpdatedAt = time.Now()
	if err := o.repo.Sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	o.mu.Lock()
	cancel := o.runs[sessionID]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	o.broadcastStatus(ctx, session)
	slog.Info("Session cancelled", "session_id", sessionID)
	return nil
}

// Stop cancels all background runs and waits for them to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopping = true
	cancels := make([]context.CancelFunc, 0, len(o.runs))
	for _, cancel := range o.runs {
		cancels = append(cancels, cancel)
	}
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	o.wg.Wait()
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[sessionID] = lock
	}
	return lock
}

func (o *Orchestrator) clearRun(sessionID string, cancel context.CancelFunc) {
	cancel()
	o.mu.Lock()
	delete(o.runs, sessionID)
	o.mu.Unlock()
}

// lastClarification finds the persona that asked the pending question and
// the message to parent the answer under. Falls back to the Coordinator if
// no clarification message exists.
func (o *Orchestrator) lastClarification(ctx context.Context, sessionID string) (models.PersonaRole, *string) {
	msgs, err := o.repo.Messages.ListBySession(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to locate clarification message", "session_id", sessionID, "error", err)
		return persona.Coordinator, nil
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == models.KindClarification {
			id := msgs[i].ID
			return msgs[i].FromPersona, &id
		}
	}
	return persona.Coordinator, nil
}

// Broadcast failures are logged and swallowed; persisted state is the
// authoritative record.

func (o *Orchestrator) broadcastMessage(ctx context.Context, sessionID string, msg *models.Message) {
	if err := o.bus.MessageReceived(ctx, sessionID, msg.Summary()); err != nil {
		slog.Warn("Broadcast failed", "event", events.EventTypeMessageReceived,
			"session_id", sessionID, "error", err)
	}
}

func (o *Orchestrator) broadcastStatus(ctx context.Context, session *models.Session) {
	if err := o.bus.SessionStatusChanged(ctx, session.ID, session.Summary()); err != nil {
		slog.Warn("Broadcast failed", "event", events.EventTypeSessionStatusChanged,
			"session_id", session.ID, "error", err)
	}
}
