package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-ai/council/pkg/models"
)

func TestParseDelegate(t *testing.T) {
	action := Parse("[DELEGATE:TechnicalArchitect] design the storage layer")

	assert.Equal(t, ActionDelegate, action.Type)
	assert.Equal(t, models.RoleTechnicalArchitect, action.Target)
	assert.Equal(t, "design the storage layer", action.Context)
}

func TestParseDelegateNameVariants(t *testing.T) {
	for _, input := range []string{
		"[DELEGATE:technicalarchitect] go",
		"[DELEGATE:technical_architect] go",
		"[DELEGATE:Technical Architect] go",
		"[DELEGATE:TECHNICAL-ARCHITECT] go",
	} {
		action := Parse(input)
		assert.Equal(t, ActionDelegate, action.Type, "input %q", input)
		assert.Equal(t, models.RoleTechnicalArchitect, action.Target, "input %q", input)
	}
}

func TestParseDelegateUnknownTargetDemotes(t *testing.T) {
	action := Parse("[DELEGATE:ProjectManager] plan the sprint")

	assert.Equal(t, ActionAnswer, action.Type)
	assert.Equal(t, "plan the sprint", action.Content)
	assert.Contains(t, action.Reasoning, "ProjectManager")
}

func TestParseClarify(t *testing.T) {
	action := Parse("[CLARIFY] Which language should the CLI target?")

	assert.Equal(t, ActionClarify, action.Type)
	assert.Equal(t, "Which language should the CLI target?", action.Content)
}

func TestParseSolutionMultiline(t *testing.T) {
	action := Parse("[SOLUTION] ## Final\nuse Go\nwith modules")

	assert.Equal(t, ActionSolution, action.Type)
	assert.Equal(t, "## Final\nuse Go\nwith modules", action.Content)
}

func TestParseSolutionStopsAtNextDirective(t *testing.T) {
	action := Parse("[SOLUTION] part one\n[STORE:key] remember this\ntrailing text")

	assert.Equal(t, ActionSolution, action.Type)
	require.Len(t, action.Stores, 1)
	assert.Equal(t, "key", action.Stores[0].Identifier)
	assert.Equal(t, "remember this", action.Stores[0].Content)
	assert.NotContains(t, action.Content, "remember this")
}

func TestParseStuckAndDecline(t *testing.T) {
	stuck := Parse("[STUCK] no viable approach")
	assert.Equal(t, ActionStuck, stuck.Type)
	assert.Equal(t, "no viable approach", stuck.Content)

	decline := Parse("[DECLINE] outside my area")
	assert.Equal(t, ActionDecline, decline.Type)
	assert.Equal(t, "outside my area", decline.Content)
}

func TestParseFirstActionWins(t *testing.T) {
	action := Parse("[CLARIFY] which one?\n[SOLUTION] premature")

	assert.Equal(t, ActionClarify, action.Type)
	assert.Equal(t, "which one?", action.Content)
}

func TestParseStoreAndRememberCollectedEverywhere(t *testing.T) {
	action := Parse("[STORE:requirements] REST API with auth\n" +
		"[DELEGATE:SeniorDeveloper] implement\n" +
		"[REMEMBER:constraints]\n" +
		"[STORE:stack] Go and Postgres")

	assert.Equal(t, ActionDelegate, action.Type)
	require.Len(t, action.Stores, 2)
	assert.Equal(t, "requirements", action.Stores[0].Identifier)
	assert.Equal(t, "REST API with auth", action.Stores[0].Content)
	assert.Equal(t, "stack", action.Stores[1].Identifier)
	assert.Equal(t, []string{"constraints"}, action.Remembers)
}

func TestParseReasoningExtracted(t *testing.T) {
	action := Parse("[REASONING]the user wants a total[/REASONING][SOLUTION] 4")

	assert.Equal(t, ActionSolution, action.Type)
	assert.Equal(t, "4", action.Content)
	assert.Equal(t, "the user wants a total", action.Reasoning)
}

func TestParseReasoningUnclosedSwallowsToEnd(t *testing.T) {
	action := Parse("some answer\n[REASONING]never closed this thought")

	assert.Equal(t, ActionAnswer, action.Type)
	assert.Equal(t, "some answer", action.Content)
	assert.Equal(t, "never closed this thought", action.Reasoning)
}

func TestParsePlainTextIsAnswer(t *testing.T) {
	action := Parse("I think we should consider both options.")

	assert.Equal(t, ActionAnswer, action.Type)
	assert.Equal(t, "I think we should consider both options.", action.Content)
}

func TestParseEmptyTextIsAnswer(t *testing.T) {
	action := Parse("   \n  ")

	assert.Equal(t, ActionAnswer, action.Type)
	assert.Equal(t, "", action.Content)
}

func TestParseRawAlwaysPreserved(t *testing.T) {
	raw := "[SOLUTION] done\nextra"
	action := Parse(raw)
	assert.Equal(t, raw, action.Raw)
}

func TestRenderRoundTrip(t *testing.T) {
	inputs := []string{
		"[DELEGATE:BusinessAnalyst] gather requirements",
		"[CLARIFY] which environment?",
		"[SOLUTION] the answer is 4",
		"[STUCK] cannot proceed",
		"[DECLINE] not my specialty",
	}
	for _, input := range inputs {
		action := Parse(input)
		assert.Equal(t, input, Render(action), "input %q", input)
	}
}

func TestExtractRemembers(t *testing.T) {
	ids := ExtractRemembers("please use\n[REMEMBER:requirements]\nand\n[REMEMBER:constraints]")
	assert.Equal(t, []string{"requirements", "constraints"}, ids)

	assert.Empty(t, ExtractRemembers("no references here"))
}
