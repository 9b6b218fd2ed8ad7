package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/council-ai/council/pkg/events"
	"github.com/council-ai/council/pkg/models"
	"github.com/council-ai/council/pkg/parser"
	"github.com/council-ai/council/pkg/persona"
)

// answerLengthThreshold separates substantive Coordinator answers from
// short non-decisions that need a nudge toward SOLUTION or DELEGATE.
const answerLengthThreshold = 100

// partialTrailingWindow is how many trailing messages make up the partial
// results when no solution-kind message exists.
const partialTrailingWindow = 10

// turnState is the per-run loop bookkeeping. It lives only for the duration
// of one Process call; a resumed session starts fresh.
type turnState struct {
	depth       int
	stuckStreak int
	edges       []delegationEdge

	// pending is a synthesized, never-persisted incoming message for the
	// next turn (decision nudge, loop-divert note).
	pending *models.Message
}

// runLoop executes turns until the session leaves Active or the context is
// cancelled. Callers hold the session lock.
func (o *Orchestrator) runLoop(ctx context.Context, sessionID string) error {
	st := &turnState{}
	for {
		if ctx.Err() != nil {
			return nil
		}
		session, err := o.repo.Sessions.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Status != models.StatusActive {
			return nil
		}
		if st.depth >= o.cfg.MaxDepth {
			slog.Warn("Session hit turn limit", "session_id", sessionID, "depth", st.depth)
			o.markStuck(ctx, session)
			return nil
		}

		current := persona.Coordinator
		if session.CurrentPersona != nil && session.CurrentPersona.IsPersona() {
			current = *session.CurrentPersona
		}

		cont, err := o.runTurn(ctx, session, current, st)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			o.markErrored(ctx, session, err)
			return err
		}
		if !cont {
			return nil
		}
	}
}

// runTurn executes one persona turn: resolve the incoming message, invoke
// the engine, persist the resulting message, apply the action. Returns
// whether the loop should continue.
func (o *Orchestrator) runTurn(ctx context.Context, session *models.Session, current models.PersonaRole, st *turnState) (bool, error) {
	incoming, err := o.incomingFor(ctx, session.ID, current, st)
	if err != nil {
		return false, err
	}

	cfg, err := o.repo.PersonaConfigs.Get(ctx, current)
	if err != nil {
		return false, fmt.Errorf("load persona config for %s: %w", current, err)
	}

	memories, err := o.mems.GetRecent(ctx, session.ID, current, o.cfg.RecentMemories)
	if err != nil {
		slog.Warn("Failed to load memories for turn",
			"session_id", session.ID, "persona", current, "error", err)
		memories = nil
	}

	action, err := o.eng.Process(ctx, session, cfg, incoming, memories)
	if err != nil {
		return false, err
	}
	st.depth++
	st.pending = nil

	// Reload: a cancel while the LLM call was in flight means this result
	// is discarded, not persisted.
	session, err = o.repo.Sessions.Get(ctx, session.ID)
	if err != nil {
		return false, err
	}
	if session.Status != models.StatusActive {
		return false, nil
	}

	msg := buildTurnMessage(session.ID, current, action, incoming)
	if err := o.repo.Messages.Append(ctx, msg); err != nil {
		return false, fmt.Errorf("append turn message: %w", err)
	}
	o.broadcastMessage(ctx, session.ID, msg)

	return o.applyAction(ctx, session, current, action, msg, st)
}

// incomingFor resolves the message the current persona is responding to:
// a pending synthesized note, else the last non-user message directed at it,
// else the last user message (the problem statement on the first turn).
func (o *Orchestrator) incomingFor(ctx context.Context, sessionID string, current models.PersonaRole, st *turnState) (*models.Message, error) {
	if st.pending != nil {
		return st.pending, nil
	}
	msgs, err := o.repo.Messages.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.FromPersona != models.RoleUser && m.ToPersona != nil && *m.ToPersona == current {
			return m, nil
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].FromPersona == models.RoleUser {
			return msgs[i], nil
		}
	}
	return nil, fmt.Errorf("no incoming message for %s in session %s", current, sessionID)
}

// buildTurnMessage maps an action onto the persisted conversation message.
func buildTurnMessage(sessionID string, current models.PersonaRole, action *parser.PersonaAction, incoming *models.Message) *models.Message {
	msg := &models.Message{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		FromPersona: current,
		Kind:        action.Type.MessageKind(),
		Content:     action.Content,
		Reasoning:   action.Reasoning,
		RawResponse: action.Raw,
		CreatedAt:   time.Now(),
	}
	if incoming != nil && incoming.ID != "" {
		parentID := incoming.ID
		msg.ParentID = &parentID
	}

	coordinator := persona.Coordinator
	user := models.RoleUser
	switch action.Type {
	case parser.ActionDelegate:
		target := action.Target
		msg.ToPersona = &target
		msg.DelegateTo = &target
		msg.DelegationContext = action.Context
	case parser.ActionClarify:
		msg.ToPersona = &user
	case parser.ActionStuck:
		msg.Stuck = true
		if current != coordinator {
			msg.ToPersona = &coordinator
		}
	case parser.ActionSolution, parser.ActionDecline, parser.ActionAnswer:
		if current != coordinator {
			msg.ToPersona = &coordinator
		}
	}
	return msg
}

// applyAction advances the state machine for one action. Returns whether
// the loop should continue.
func (o *Orchestrator) applyAction(ctx context.Context, session *models.Session, current models.PersonaRole, action *parser.PersonaAction, msg *models.Message, st *turnState) (bool, error) {
	coordinator := persona.Coordinator

	switch action.Type {
	case parser.ActionSolution:
		if current == coordinator {
			return false, o.complete(ctx, session, action.Content)
		}
		// Intermediate result: the Coordinator compiles it.
		st.stuckStreak = 0
		return o.advance(ctx, session, coordinator)

	case parser.ActionDelegate:
		edge := delegationEdge{from: current, to: action.Target, payload: action.Context, turn: st.depth}
		if st.seenRecently(edge) {
			slog.Info("Delegation loop detected",
				"session_id", session.ID, "from", current, "to", action.Target)
			st.push(edge)
			st.stuckStreak++
			if st.stuckStreak >= o.cfg.StuckLimit {
				o.markStuck(ctx, session)
				return false, nil
			}
			st.pending = loopNote(session.ID, current, action.Target)
			return o.advance(ctx, session, coordinator)
		}
		st.push(edge)
		st.stuckStreak = 0
		return o.advance(ctx, session, action.Target)

	case parser.ActionClarify:
		// The asking persona stays current so the user's answer returns
		// straight to it.
		session.Status = models.StatusWaitingForClarification
		session.UpdatedAt = time.Now()
		if err := o.repo.Sessions.Update(ctx, session); err != nil {
			return false, fmt.Errorf("update session: %w", err)
		}
		if err := o.bus.ClarificationRequested(ctx, session.ID, msg.Summary()); err != nil {
			slog.Warn("Broadcast failed", "event", events.EventTypeClarificationRequested,
				"session_id", session.ID, "error", err)
		}
		o.broadcastStatus(ctx, session)
		return false, nil

	case parser.ActionStuck:
		st.stuckStreak++
		if current == coordinator || st.stuckStreak >= o.cfg.StuckLimit {
			o.markStuck(ctx, session)
			return false, nil
		}
		// Another persona gave up; the Coordinator tries an alternative.
		return o.advance(ctx, session, coordinator)

	case parser.ActionDecline:
		// Reassignment is the Coordinator's call.
		return o.advance(ctx, session, coordinator)

	default: // answer
		if current != coordinator || len(action.Content) > answerLengthThreshold {
			return o.advance(ctx, session, coordinator)
		}
		// A short Coordinator answer is a non-decision; re-run it with an
		// explicit prompt to decide. Counted as a turn like any other.
		st.pending = decisionNudge(session.ID)
		return o.advance(ctx, session, coordinator)
	}
}

// advance hands the session to the next persona and persists the handoff.
func (o *Orchestrator) advance(ctx context.Context, session *models.Session, next models.PersonaRole) (bool, error) {
	session.CurrentPersona = &next
	session.UpdatedAt = time.Now()
	if err := o.repo.Sessions.Update(ctx, session); err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}
	return true, nil
}

// complete records the Coordinator's final solution and closes the session.
func (o *Orchestrator) complete(ctx context.Context, session *models.Session, solution string) error {
	session.FinalSolution = &solution
	session.Status = models.StatusCompleted
	session.CurrentPersona = nil
	session.UpdatedAt = time.Now()
	if err := o.repo.Sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if err := o.bus.SolutionReady(ctx, session.ID, session.Summary()); err != nil {
		slog.Warn("Broadcast failed", "event", events.EventTypeSolutionReady,
			"session_id", session.ID, "error", err)
	}
	o.broadcastStatus(ctx, session)
	slog.Info("Session completed", "session_id", session.ID)
	return nil
}

// markStuck closes the session as Stuck and broadcasts partial results.
func (o *Orchestrator) markStuck(ctx context.Context, session *models.Session) {
	session.Status = models.StatusStuck
	session.CurrentPersona = nil
	session.UpdatedAt = time.Now()
	if err := o.repo.Sessions.Update(ctx, session); err != nil {
		slog.Error("Failed to persist stuck status", "session_id", session.ID, "error", err)
	}
	partial := o.partialResults(ctx, session.ID)
	if err := o.bus.SessionStuck(ctx, session.ID, session.Summary(), partial); err != nil {
		slog.Warn("Broadcast failed", "event", events.EventTypeSessionStuck,
			"session_id", session.ID, "error", err)
	}
	o.broadcastStatus(ctx, session)
	slog.Info("Session stuck", "session_id", session.ID)
}

// markErrored records an unhandled internal failure.
func (o *Orchestrator) markErrored(ctx context.Context, session *models.Session, cause error) {
	slog.Error("Session errored", "session_id", session.ID, "error", cause)
	session.Status = models.StatusError
	session.CurrentPersona = nil
	session.UpdatedAt = time.Now()
	if err := o.repo.Sessions.Update(ctx, session); err != nil {
		slog.Error("Failed to persist error status", "session_id", session.ID, "error", err)
	}
	o.broadcastStatus(ctx, session)
}

// partialResults concatenates all solution-kind message contents, or the
// trailing message contents if no solution was ever produced.
func (o *Orchestrator) partialResults(ctx context.Context, sessionID string) string {
	msgs, err := o.repo.Messages.ListBySession(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to collect partial results", "session_id", sessionID, "error", err)
		return ""
	}
	var solutions []string
	for _, m := range msgs {
		if m.Kind == models.KindSolution {
			solutions = append(solutions, m.Content)
		}
	}
	if len(solutions) > 0 {
		return strings.Join(solutions, "\n\n")
	}
	start := len(msgs) - partialTrailingWindow
	if start < 0 {
		start = 0
	}
	var trailing []string
	for _, m := range msgs[start:] {
		trailing = append(trailing, m.Content)
	}
	return strings.Join(trailing, "\n\n")
}

// decisionNudge is the synthesized incoming message that forces the
// Coordinator to commit after a short non-answer. Never persisted.
func decisionNudge(sessionID string) *models.Message {
	return &models.Message{
		SessionID:   sessionID,
		FromPersona: models.RoleUser,
		Kind:        models.KindQuestion,
		Content: "That response does not move the session forward. " +
			"Either produce the final [SOLUTION] or delegate the next step with [DELEGATE:<PersonaName>].",
		CreatedAt: time.Now(),
	}
}

// loopNote is the synthesized incoming message handed to the Coordinator
// after a delegation loop was diverted. Never persisted.
func loopNote(sessionID string, from, to models.PersonaRole) *models.Message {
	return &models.Message{
		SessionID:   sessionID,
		FromPersona: models.RoleUser,
		Kind:        models.KindQuestion,
		Content: fmt.Sprintf("Delegation from %s to %s is repeating without progress. "+
			"Pick a different persona or produce the final [SOLUTION].",
			persona.DisplayName(from), persona.DisplayName(to)),
		CreatedAt: time.Now(),
	}
}
