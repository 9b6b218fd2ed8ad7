package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-ai/council/pkg/llm"
	"github.com/council-ai/council/pkg/memory"
	"github.com/council-ai/council/pkg/models"
	"github.com/council-ai/council/pkg/parser"
	"github.com/council-ai/council/pkg/persona"
	"github.com/council-ai/council/pkg/repository"
)

type fixture struct {
	repo   *repository.Store
	mems   *memory.Store
	client *llm.ScriptedClient
	eng    *Engine
}

func newFixture() *fixture {
	repo := repository.NewInMemoryStore()
	mems := memory.NewStore(repo.Memories, 0, 0)
	client := llm.NewScriptedClient()
	return &fixture{
		repo:   repo,
		mems:   mems,
		client: client,
		eng:    New(client, repo.Messages, mems, 0),
	}
}

func testSession() *models.Session {
	coordinator := persona.Coordinator
	return &models.Session{
		ID:             "sess-1",
		Title:          "Build a CLI",
		Problem:        "Build a CLI tool for parsing logs",
		Status:         models.StatusActive,
		CurrentPersona: &coordinator,
		CreatedAt:      time.Now(),
	}
}

func coordinatorConfig() *models.PersonaConfig {
	return persona.DefaultConfigs()[0]
}

func incomingFrom(role models.PersonaRole, content string) *models.Message {
	return &models.Message{
		ID:          "msg-in",
		SessionID:   "sess-1",
		FromPersona: role,
		Content:     content,
		CreatedAt:   time.Now(),
	}
}

func TestProcessBuildsPromptInOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	session := testSession()

	_, err := f.mems.Save(ctx, session.ID, persona.Coordinator, "requirements", "REST API with auth")
	require.NoError(t, err)

	require.NoError(t, f.repo.Messages.Append(ctx, &models.Message{
		ID: "m1", SessionID: session.ID, FromPersona: models.RoleUser,
		Kind: models.KindProblemStatement, Content: session.Problem, CreatedAt: time.Now(),
	}))

	f.client.AddText("[SOLUTION] done")
	incoming := incomingFrom(models.RoleUser, session.Problem)
	incoming.ID = "m1"

	action, err := f.eng.Process(ctx, session, coordinatorConfig(), incoming,
		mustRecent(t, f.mems, session.ID))
	require.NoError(t, err)
	assert.Equal(t, parser.ActionSolution, action.Type)

	reqs := f.client.Captured()
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages

	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[1].Content, "Session: Build a CLI")
	assert.Contains(t, msgs[1].Content, "Problem: Build a CLI tool")
	assert.Contains(t, msgs[2].Content, "requirements: REST API with auth")
	assert.Contains(t, msgs[len(msgs)-1].Content, session.Problem, "incoming message is last")
}

func TestProcessUsesPersonaSettings(t *testing.T) {
	f := newFixture()
	cfg := coordinatorConfig()
	cfg.Model = "gpt-4o-mini"
	cfg.Temperature = 0.42
	cfg.MaxTokens = 512

	f.client.AddText("ok")
	_, err := f.eng.Process(context.Background(), testSession(), cfg,
		incomingFrom(models.RoleUser, "hello"), nil)
	require.NoError(t, err)

	req := f.client.Captured()[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, float32(0.42), req.Temperature)
	assert.Equal(t, 512, req.MaxTokens)
}

func TestProcessLLMErrorBecomesStuckAction(t *testing.T) {
	f := newFixture()
	f.client.Add(llm.ScriptEntry{Err: errors.New("rate limited")})

	action, err := f.eng.Process(context.Background(), testSession(), coordinatorConfig(),
		incomingFrom(models.RoleUser, "go"), nil)
	require.NoError(t, err, "transport failures surface as actions, not errors")
	assert.Equal(t, parser.ActionStuck, action.Type)
	assert.Contains(t, action.Content, "LLM error")
	assert.Contains(t, action.Content, "rate limited")
}

func TestProcessExecutesStoreDirectives(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	session := testSession()

	f.client.AddText("[DELEGATE:TechnicalArchitect] design\n[STORE:requirements] REST API with auth")
	action, err := f.eng.Process(ctx, session, coordinatorConfig(),
		incomingFrom(models.RoleUser, "build it"), nil)
	require.NoError(t, err)
	assert.Equal(t, parser.ActionDelegate, action.Type)

	m, err := f.mems.GetByIdentifier(ctx, session.ID, persona.Coordinator, "requirements")
	require.NoError(t, err)
	assert.Equal(t, "REST API with auth", m.Content)
}

func TestProcessStoreFailureDoesNotFailTurn(t *testing.T) {
	f := newFixture()

	// 11-token identifier fails validation inside the memory store.
	f.client.AddText("[SOLUTION] fine\n[STORE:a b c d e f g h i j k] too long")
	action, err := f.eng.Process(context.Background(), testSession(), coordinatorConfig(),
		incomingFrom(models.RoleUser, "go"), nil)
	require.NoError(t, err)
	assert.Equal(t, parser.ActionSolution, action.Type)
}

func TestProcessResolvesRememberReferences(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	session := testSession()
	cfg := persona.DefaultConfigs()[2] // TechnicalArchitect

	_, err := f.mems.Save(ctx, session.ID, cfg.Role, "constraints", "must run offline")
	require.NoError(t, err)

	f.client.AddText("[SOLUTION] design done")
	incoming := incomingFrom(persona.Coordinator, "design this\n[REMEMBER:constraints]")

	_, err = f.eng.Process(ctx, session, cfg, incoming, nil)
	require.NoError(t, err)

	msgs := f.client.Captured()[0].Messages
	require.GreaterOrEqual(t, len(msgs), 3)
	recalled := msgs[len(msgs)-2]
	assert.Contains(t, recalled.Content, "constraints")
	assert.Contains(t, recalled.Content, "must run offline")
}

func TestProcessConversationWindowExcludesIncoming(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	session := testSession()

	incoming := &models.Message{
		ID: "m-in", SessionID: session.ID, FromPersona: models.RoleUser,
		Kind: models.KindProblemStatement, Content: "the problem", CreatedAt: time.Now(),
	}
	require.NoError(t, f.repo.Messages.Append(ctx, incoming))

	f.client.AddText("ok")
	_, err := f.eng.Process(ctx, session, coordinatorConfig(), incoming, nil)
	require.NoError(t, err)

	count := 0
	for _, m := range f.client.Captured()[0].Messages {
		if m.Role == llm.RoleUser && m.Content == "User: the problem" {
			count++
		}
	}
	assert.Equal(t, 1, count, "incoming appears exactly once")
}

func TestProcessOwnMessagesBecomeAssistantTurns(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	session := testSession()

	require.NoError(t, f.repo.Messages.Append(ctx, &models.Message{
		ID: "m1", SessionID: session.ID, FromPersona: persona.Coordinator,
		Kind: models.KindAnswer, Content: "my earlier take", CreatedAt: time.Now(),
	}))

	f.client.AddText("ok")
	_, err := f.eng.Process(ctx, session, coordinatorConfig(),
		incomingFrom(models.RoleUser, "continue"), nil)
	require.NoError(t, err)

	found := false
	for _, m := range f.client.Captured()[0].Messages {
		if m.Content == "Coordinator: my earlier take" {
			found = true
			assert.Equal(t, llm.RoleAssistant, m.Role)
		}
	}
	assert.True(t, found)
}

func mustRecent(t *testing.T, mems *memory.Store, sessionID string) []*models.Memory {
	t.Helper()
	out, err := mems.GetRecent(context.Background(), sessionID, persona.Coordinator, 10)
	require.NoError(t, err)
	return out
}
