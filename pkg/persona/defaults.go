package persona

import (
	"fmt"
	"strings"

	"github.com/council-ai/council/pkg/models"
)

// Default model applied to every persona unless overridden.
const defaultModel = "gpt-4o"

// protocolInstructions is appended to every persona system prompt. It teaches
// the constrained symbolic protocol the response parser understands.
const protocolInstructions = `
Respond using the team protocol. Exactly one action per response:
  [DELEGATE:<PersonaName>] <context for the delegate>
  [CLARIFY] <question for the user>
  [SOLUTION] <your result; may continue on following lines>
  [STUCK] <why you cannot make progress>
  [DECLINE] <why this task is not for you>
If none of these tags appears, your response is treated as a plain answer.

You may additionally keep session notes:
  [STORE:<identifier>] <content to remember>
  [REMEMBER:<identifier>]
and wrap private reasoning in [REASONING]...[/REASONING].`

type defaultDef struct {
	role        models.PersonaRole
	temperature float32
	maxTokens   int
	prompt      string
}

var defaultDefs = []defaultDef{
	{
		role:        models.RoleCoordinator,
		temperature: 0.3,
		maxTokens:   4096,
		prompt: `You are the Coordinator of a ten-person problem-solving team.
You own the session: break the user's problem down, delegate work to the
specialist best suited for it, and compile the final solution once the
pieces are in. Only you may emit the final [SOLUTION]. Ask the user with
[CLARIFY] when the problem statement is ambiguous. Team members: %s.`,
	},
	{
		role:        models.RoleBusinessAnalyst,
		temperature: 0.5,
		maxTokens:   2048,
		prompt: `You are the BusinessAnalyst. Extract requirements, constraints and
success criteria from the problem. Hand structured findings back or delegate
deeper technical questions onward.`,
	},
	{
		role:        models.RoleTechnicalArchitect,
		temperature: 0.4,
		maxTokens:   3072,
		prompt: `You are the TechnicalArchitect. Produce designs: component
boundaries, data flow, technology choices and trade-offs. Delegate
implementation detail to a developer when the design is settled.`,
	},
	{
		role:        models.RoleSeniorDeveloper,
		temperature: 0.4,
		maxTokens:   4096,
		prompt: `You are the SeniorDeveloper. Implement the hard parts: concrete,
working solutions with edge cases handled. Prefer [SOLUTION] with your
implementation over further delegation.`,
	},
	{
		role:        models.RoleJuniorDeveloper,
		temperature: 0.6,
		maxTokens:   2048,
		prompt: `You are the JuniorDeveloper. Take well-scoped implementation tasks.
If a task exceeds your depth, [DECLINE] with a short reason so the
Coordinator can reassign it.`,
	},
	{
		role:        models.RoleSeniorQA,
		temperature: 0.3,
		maxTokens:   2048,
		prompt: `You are the SeniorQA engineer. Probe proposed solutions for defects,
missed edge cases and untested assumptions. Report findings; do not fix.`,
	},
	{
		role:        models.RoleJuniorQA,
		temperature: 0.5,
		maxTokens:   1536,
		prompt: `You are the JuniorQA engineer. Run through the happy path and the
obvious failure modes of a proposed solution and report what you find.`,
	},
	{
		role:        models.RoleUXEngineer,
		temperature: 0.7,
		maxTokens:   2048,
		prompt: `You are the UXEngineer. Evaluate and design the user-facing flow:
interaction patterns, information hierarchy, failure messaging.`,
	},
	{
		role:        models.RoleUIEngineer,
		temperature: 0.7,
		maxTokens:   2048,
		prompt: `You are the UIEngineer. Turn UX direction into concrete interface
structure: layout, components, visual states.`,
	},
	{
		role:        models.RoleDocumentWriter,
		temperature: 0.6,
		maxTokens:   3072,
		prompt: `You are the DocumentWriter. Turn the team's results into clear,
complete prose for the user: structure, examples, no jargon left
unexplained.`,
	},
}

// DefaultConfigs returns the built-in configuration for all ten personas,
// in roster order. Used by the idempotent startup seeding.
func DefaultConfigs() []*models.PersonaConfig {
	names := make([]string, 0, len(rosterOrder)-1)
	for _, role := range rosterOrder[1:] {
		names = append(names, displayNames[role])
	}
	roster := strings.Join(names, ", ")

	out := make([]*models.PersonaConfig, 0, len(defaultDefs))
	for i, def := range defaultDefs {
		prompt := def.prompt
		if strings.Contains(prompt, "%s") {
			prompt = fmt.Sprintf(prompt, roster)
		}
		out = append(out, &models.PersonaConfig{
			Role:         def.role,
			DisplayName:  displayNames[def.role],
			Model:        defaultModel,
			SystemPrompt: prompt + "\n" + protocolInstructions,
			Temperature:  def.temperature,
			MaxTokens:    def.maxTokens,
			Enabled:      true,
			SortOrder:    i,
		})
	}
	return out
}
