// Package engine turns one persona turn into a typed action: it assembles
// the LLM request from persona config, conversation history and memories,
// invokes the client, and parses the response.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/council-ai/council/pkg/errs"
	"github.com/council-ai/council/pkg/llm"
	"github.com/council-ai/council/pkg/memory"
	"github.com/council-ai/council/pkg/models"
	"github.com/council-ai/council/pkg/parser"
	"github.com/council-ai/council/pkg/persona"
	"github.com/council-ai/council/pkg/repository"
)

// DefaultConversationWindow is the number of trailing conversation messages
// included in the prompt.
const DefaultConversationWindow = 20

// Engine runs persona turns. It is stateless per call; all session state
// lives in the repositories.
type Engine struct {
	client   llm.Client
	messages repository.Messages
	memories *memory.Store
	window   int
}

// New creates an engine. window <= 0 uses DefaultConversationWindow.
func New(client llm.Client, messages repository.Messages, memories *memory.Store, window int) *Engine {
	if window <= 0 {
		window = DefaultConversationWindow
	}
	return &Engine{
		client:   client,
		messages: messages,
		memories: memories,
		window:   window,
	}
}

// Process runs one turn for cfg's persona. The returned action is always
// usable: LLM failures surface as a stuck action carrying the provider
// message, not as an error. An error is returned only for repository
// failures while assembling the prompt.
func (e *Engine) Process(ctx context.Context, session *models.Session, cfg *models.PersonaConfig, incoming *models.Message, recentMemories []*models.Memory) (*parser.PersonaAction, error) {
	req, err := e.buildRequest(ctx, session, cfg, incoming, recentMemories)
	if err != nil {
		return nil, err
	}

	text, err := e.client.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		slog.Warn("LLM call failed",
			"session_id", session.ID, "persona", cfg.Role, "error", err)
		return &parser.PersonaAction{
			Type:    parser.ActionStuck,
			Content: "LLM error: " + err.Error(),
		}, nil
	}

	action := parser.Parse(text)
	e.executeStores(ctx, session.ID, cfg.Role, action)
	return action, nil
}

// buildRequest assembles the message list: summary line, recent memories,
// trailing conversation window, resolved REMEMBER references, then the
// incoming message last.
func (e *Engine) buildRequest(ctx context.Context, session *models.Session, cfg *models.PersonaConfig, incoming *models.Message, recentMemories []*models.Memory) (*llm.Request, error) {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: cfg.SystemPrompt}}

	summary := fmt.Sprintf("Session: %s\nProblem: %s", session.Title, session.Problem)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: summary})

	if len(recentMemories) > 0 {
		notes := "Your stored notes:\n"
		for _, m := range recentMemories {
			notes += fmt.Sprintf("%s: %s\n", m.Identifier, m.Content)
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: notes})
	}

	history, err := e.conversationWindow(ctx, session.ID, incoming)
	if err != nil {
		return nil, err
	}
	for _, m := range history {
		msgs = append(msgs, llm.Message{
			Role:    e.roleFor(cfg.Role, m),
			Content: labelContent(m),
		})
	}

	for _, note := range e.resolveRemembers(ctx, session.ID, cfg.Role, incoming) {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: note})
	}

	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: labelContent(incoming)})

	return &llm.Request{
		SessionID:   session.ID,
		Model:       cfg.Model,
		Messages:    msgs,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, nil
}

// conversationWindow returns the trailing window of persisted messages,
// excluding the incoming message itself so it appears exactly once.
func (e *Engine) conversationWindow(ctx context.Context, sessionID string, incoming *models.Message) ([]*models.Message, error) {
	all, err := e.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	filtered := all[:0]
	for _, m := range all {
		if incoming != nil && m.ID == incoming.ID {
			continue
		}
		filtered = append(filtered, m)
	}
	if len(filtered) > e.window {
		filtered = filtered[len(filtered)-e.window:]
	}
	return filtered, nil
}

// roleFor maps a conversation message to a chat role: the persona's own past
// messages become assistant turns, everything else is user context.
func (e *Engine) roleFor(self models.PersonaRole, m *models.Message) string {
	if m.FromPersona == self {
		return llm.RoleAssistant
	}
	return llm.RoleUser
}

// labelContent prefixes message content with the author's display name so
// personas can tell who said what.
func labelContent(m *models.Message) string {
	return persona.DisplayName(m.FromPersona) + ": " + m.Content
}

// resolveRemembers turns [REMEMBER:id] references in the incoming message
// into recalled-note context entries. Unknown identifiers are skipped.
func (e *Engine) resolveRemembers(ctx context.Context, sessionID string, role models.PersonaRole, incoming *models.Message) []string {
	if incoming == nil {
		return nil
	}
	var notes []string
	for _, id := range parser.ExtractRemembers(incoming.Content) {
		m, err := e.memories.GetByIdentifier(ctx, sessionID, role, id)
		if err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				slog.Warn("Failed to resolve memory reference",
					"session_id", sessionID, "persona", role, "identifier", id, "error", err)
			}
			continue
		}
		notes = append(notes, fmt.Sprintf("Recalled note %s: %s", m.Identifier, m.Content))
	}
	return notes
}

// executeStores persists [STORE:id] directives before the action is
// returned. Failures are logged; a bad store never fails the turn.
func (e *Engine) executeStores(ctx context.Context, sessionID string, role models.PersonaRole, action *parser.PersonaAction) {
	for _, d := range action.Stores {
		if _, err := e.memories.Save(ctx, sessionID, role, d.Identifier, d.Content); err != nil {
			slog.Warn("Failed to execute store directive",
				"session_id", sessionID, "persona", role, "identifier", d.Identifier, "error", err)
		}
	}
}
