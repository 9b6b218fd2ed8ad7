package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-ai/council/pkg/engine"
	"github.com/council-ai/council/pkg/errs"
	"github.com/council-ai/council/pkg/events"
	"github.com/council-ai/council/pkg/llm"
	"github.com/council-ai/council/pkg/memory"
	"github.com/council-ai/council/pkg/models"
	"github.com/council-ai/council/pkg/persona"
	"github.com/council-ai/council/pkg/repository"
)

// Route keys unique to each persona's system prompt. The Coordinator prompt
// lists every display name, so bare names would cross-match.
const (
	keyCoordinator = "You are the Coordinator"
	keyAnalyst     = "You are the BusinessAnalyst"
	keyArchitect   = "You are the TechnicalArchitect"
	keySeniorDev   = "You are the SeniorDeveloper"
	keyJuniorDev   = "You are the JuniorDeveloper"
)

type fixture struct {
	repo   *repository.Store
	client *llm.ScriptedClient
	rec    *events.Recorder
	mems   *memory.Store
	orch   *Orchestrator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	repo := repository.NewInMemoryStore()
	require.NoError(t, repo.PersonaConfigs.Seed(context.Background(), persona.DefaultConfigs()))

	mems := memory.NewStore(repo.Memories, 0, 0)
	client := llm.NewScriptedClient()
	eng := engine.New(client, repo.Messages, mems, 0)
	rec := events.NewRecorder()

	f := &fixture{
		repo:   repo,
		client: client,
		rec:    rec,
		mems:   mems,
		orch:   New(repo, eng, mems, rec, cfg),
	}
	t.Cleanup(f.orch.Stop)
	return f
}

func (f *fixture) start(t *testing.T, problem string) *models.Session {
	t.Helper()
	session, err := f.orch.Initialize(context.Background(), problem)
	require.NoError(t, err)
	require.NoError(t, f.orch.Process(context.Background(), session.ID))
	return session
}

func (f *fixture) session(t *testing.T, id string) *models.Session {
	t.Helper()
	s, err := f.repo.Sessions.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (f *fixture) messages(t *testing.T, id string) []*models.Message {
	t.Helper()
	msgs, err := f.repo.Messages.ListBySession(context.Background(), id)
	require.NoError(t, err)
	return msgs
}

func (f *fixture) waitForStatus(t *testing.T, id string, want models.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.session(t, id).Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDirectSolution(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.AddText("[SOLUTION] The answer is 4")

	session := f.start(t, "What is 2+2?")

	got := f.session(t, session.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.FinalSolution)
	assert.Contains(t, *got.FinalSolution, "4")
	assert.Nil(t, got.CurrentPersona)

	msgs := f.messages(t, session.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.KindProblemStatement, msgs[0].Kind)
	assert.Equal(t, models.RoleUser, msgs[0].FromPersona)
	assert.Equal(t, models.KindSolution, msgs[1].Kind)
	assert.Equal(t, persona.Coordinator, msgs[1].FromPersona)

	assert.Equal(t, 1, f.rec.Count(events.EventTypeSolutionReady))
	assert.Equal(t, 2, f.rec.Count(events.EventTypeMessageReceived))
}

func TestThreeStepDelegation(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[DELEGATE:BusinessAnalyst] gather"}).
		AddRouted(keyAnalyst, llm.ScriptEntry{Text: "[DELEGATE:TechnicalArchitect] design"}).
		AddRouted(keyArchitect, llm.ScriptEntry{Text: "[DELEGATE:SeniorDeveloper] implement"}).
		AddRouted(keySeniorDev, llm.ScriptEntry{Text: "[SOLUTION] done"}).
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[SOLUTION] ## Final"})

	session := f.start(t, "Build complete system")

	got := f.session(t, session.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.FinalSolution)
	assert.True(t, strings.HasPrefix(*got.FinalSolution, "## Final"))

	participants := make(map[models.PersonaRole]bool)
	for _, m := range f.messages(t, session.ID) {
		participants[m.FromPersona] = true
	}
	for _, role := range []models.PersonaRole{
		persona.Coordinator, models.RoleBusinessAnalyst,
		models.RoleTechnicalArchitect, models.RoleSeniorDeveloper,
	} {
		assert.True(t, participants[role], "%s participated", role)
	}
}

func TestClarificationThenResume(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[CLARIFY] Which language?"}).
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[SOLUTION] Use the Go approach"})

	session := f.start(t, "Build a CLI")

	got := f.session(t, session.ID)
	assert.Equal(t, models.StatusWaitingForClarification, got.Status)
	require.NotNil(t, got.CurrentPersona, "asking persona stays current while waiting")
	assert.Equal(t, persona.Coordinator, *got.CurrentPersona)
	assert.Equal(t, 1, f.rec.Count(events.EventTypeClarificationRequested))

	reply, err := f.orch.HandleUserClarification(context.Background(), session.ID, "Go")
	require.NoError(t, err)
	assert.Equal(t, models.KindUserResponse, reply.Kind)

	f.waitForStatus(t, session.ID, models.StatusCompleted)

	msgs := f.messages(t, session.ID)
	var clarification, userResponse *models.Message
	for _, m := range msgs {
		switch m.Kind {
		case models.KindClarification:
			clarification = m
		case models.KindUserResponse:
			userResponse = m
		}
	}
	require.NotNil(t, clarification)
	require.NotNil(t, userResponse)
	require.NotNil(t, userResponse.ParentID)
	assert.Equal(t, clarification.ID, *userResponse.ParentID)
}

func TestCoordinatorStuckTerminates(t *testing.T) {
	f := newFixture(t, Config{})
	for i := 0; i < 5; i++ {
		f.client.AddText("[STUCK] no viable approach")
	}

	session := f.start(t, "Impossible")

	got := f.session(t, session.ID)
	assert.Equal(t, models.StatusStuck, got.Status)

	stuckEvents := f.rec.ByType(events.EventTypeSessionStuck)
	require.Len(t, stuckEvents, 1)
	assert.NotEmpty(t, stuckEvents[0].PartialResults, "partial results derived from trailing messages")
}

func TestDeclineThenReassignment(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[DELEGATE:JuniorDeveloper] complex"}).
		AddRouted(keyJuniorDev, llm.ScriptEntry{Text: "[DECLINE] too complex"}).
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[DELEGATE:SeniorDeveloper] complex"}).
		AddRouted(keySeniorDev, llm.ScriptEntry{Text: "[SOLUTION] ok"}).
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[SOLUTION] ## Final"})

	session := f.start(t, "Tricky work")

	assert.Equal(t, models.StatusCompleted, f.session(t, session.ID).Status)

	declined := false
	for _, m := range f.messages(t, session.ID) {
		if m.Kind == models.KindDecline {
			declined = true
		}
	}
	assert.True(t, declined)
}

func TestMemoryRoundTripAcrossTurns(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.
		AddRouted(keyCoordinator, llm.ScriptEntry{
			Text: "[DELEGATE:TechnicalArchitect] design\n[STORE:requirements] REST API with auth",
		}).
		AddRouted(keyArchitect, llm.ScriptEntry{Text: "[SOLUTION] initial design"}).
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[SOLUTION] ## Final"})

	session := f.start(t, "Design a service")

	assert.Equal(t, models.StatusCompleted, f.session(t, session.ID).Status)

	m, err := f.repo.Memories.Get(context.Background(), session.ID, persona.Coordinator, "requirements")
	require.NoError(t, err)
	assert.Equal(t, "REST API with auth", m.Content)
}

func TestDepthCapTerminatesStuck(t *testing.T) {
	f := newFixture(t, Config{MaxDepth: 2})
	f.client.
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[DELEGATE:BusinessAnalyst] dig in"}).
		AddRouted(keyAnalyst, llm.ScriptEntry{Text: strings.Repeat("analysis ", 30)})

	session := f.start(t, "Never ends")

	assert.Equal(t, models.StatusStuck, f.session(t, session.ID).Status)
	assert.Equal(t, 1, f.rec.Count(events.EventTypeSessionStuck))
}

func TestSolutionOnFinalAllowedTurnCompletes(t *testing.T) {
	f := newFixture(t, Config{MaxDepth: 2})
	longAnswer := strings.Repeat("thinking out loud ", 10) // > 100 chars, routes back
	f.client.
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: longAnswer}).
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[SOLUTION] made it"})

	session := f.start(t, "Cut it close")

	assert.Equal(t, models.StatusCompleted, f.session(t, session.ID).Status)
}

func TestDelegationLoopHitsStuckStreak(t *testing.T) {
	f := newFixture(t, Config{})
	for i := 0; i < 6; i++ {
		f.client.AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[DELEGATE:BusinessAnalyst] analyze the data"})
	}
	f.client.AddRouted(keyAnalyst, llm.ScriptEntry{Text: strings.Repeat("findings ", 20)})

	session := f.start(t, "Round and round")

	assert.Equal(t, models.StatusStuck, f.session(t, session.ID).Status)
	assert.Equal(t, 1, f.rec.Count(events.EventTypeSessionStuck))
	assert.Zero(t, f.rec.Count(events.EventTypeSolutionReady))
}

func TestShortCoordinatorAnswerGetsDecisionNudge(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "ok"}).
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[SOLUTION] decided"})

	session := f.start(t, "Make a call")

	assert.Equal(t, models.StatusCompleted, f.session(t, session.ID).Status)

	reqs := f.client.Captured()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Contains(t, last.Content, "[SOLUTION]", "nudge asks for an explicit decision")
}

func TestUnknownDelegateTargetDemotesToAnswer(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[DELEGATE:ProjectManager] plan the sprint"}).
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[SOLUTION] handled it myself"})

	session := f.start(t, "Plan something")

	assert.Equal(t, models.StatusCompleted, f.session(t, session.ID).Status)

	msgs := f.messages(t, session.ID)
	assert.Equal(t, models.KindAnswer, msgs[1].Kind, "unknown target demotes the delegation")
}

func TestLLMFailureRoutesThroughStuck(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[DELEGATE:BusinessAnalyst] dig"}).
		AddRouted(keyAnalyst, llm.ScriptEntry{Err: assert.AnError}).
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[SOLUTION] worked around it"})

	session := f.start(t, "Flaky backend")

	assert.Equal(t, models.StatusCompleted, f.session(t, session.ID).Status)

	var stuckMsg *models.Message
	for _, m := range f.messages(t, session.ID) {
		if m.Kind == models.KindStuck {
			stuckMsg = m
		}
	}
	require.NotNil(t, stuckMsg, "transport failure recorded as a stuck message")
	assert.True(t, stuckMsg.Stuck)
	assert.Contains(t, stuckMsg.Content, "LLM error")
}

func TestCancelDuringLLMCall(t *testing.T) {
	f := newFixture(t, Config{})
	blocked := make(chan struct{}, 1)
	f.client.Add(llm.ScriptEntry{BlockUntilCancelled: true, OnBlock: blocked})

	session, err := f.orch.Initialize(context.Background(), "Long running")
	require.NoError(t, err)
	f.orch.StartBackground(session.ID)

	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("LLM call never started")
	}

	require.NoError(t, f.orch.Cancel(context.Background(), session.ID))
	f.waitForStatus(t, session.ID, models.StatusCancelled)

	// Second cancel is a no-op.
	require.NoError(t, f.orch.Cancel(context.Background(), session.ID))
	got := f.session(t, session.ID)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Nil(t, got.CurrentPersona)

	f.orch.Stop()

	// The in-flight result was discarded: only the problem statement exists.
	assert.Len(t, f.messages(t, session.ID), 1)
	assert.Zero(t, f.rec.Count(events.EventTypeSolutionReady))
}

func TestResumeAfterStuck(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[STUCK] blocked"}).
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[SOLUTION] fresh angle"})

	session := f.start(t, "Retryable")
	require.Equal(t, models.StatusStuck, f.session(t, session.ID).Status)

	resumed, err := f.orch.Resume(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, resumed.Status)

	f.waitForStatus(t, session.ID, models.StatusCompleted)
}

func TestValidationAndStateErrors(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.orch.Initialize(ctx, "   ")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	f.client.AddText("[SOLUTION] done")
	session := f.start(t, "Quick one")

	_, err = f.orch.HandleUserClarification(ctx, session.ID, "answer")
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	_, err = f.orch.Resume(ctx, session.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	err = f.orch.Cancel(ctx, "no-such-session")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	err = f.orch.Process(ctx, "no-such-session")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.orch.HandleUserClarification(ctx, "no-such-session", "hi")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMessageOrderIsMonotonic(t *testing.T) {
	f := newFixture(t, Config{})
	f.client.
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[DELEGATE:BusinessAnalyst] gather"}).
		AddRouted(keyAnalyst, llm.ScriptEntry{Text: "[SOLUTION] data"}).
		AddRouted(keyCoordinator, llm.ScriptEntry{Text: "[SOLUTION] ## Final"})

	session := f.start(t, "Order check")

	msgs := f.messages(t, session.ID)
	require.NotEmpty(t, msgs)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
		assert.Greater(t, msgs[i].Seq, msgs[i-1].Seq)
	}

	// Every persisted message was broadcast (delivery side of P8).
	received := f.rec.ByType(events.EventTypeMessageReceived)
	require.Len(t, received, len(msgs))
	for i, m := range msgs {
		assert.Equal(t, m.ID, received[i].Message.ID)
	}
}
