// Package parser maps free-form LLM response text onto typed persona actions
// using the bracketed tag grammar. Parsing is pure and never fails;
// anything unrecognizable degrades to a plain answer carrying the raw text.
package parser

import "github.com/council-ai/council/pkg/models"

// ActionType is the typed outcome of a turn.
type ActionType string

const (
	ActionDelegate ActionType = "delegate"
	ActionClarify  ActionType = "clarify"
	ActionSolution ActionType = "solution"
	ActionStuck    ActionType = "stuck"
	ActionDecline  ActionType = "decline"
	ActionAnswer   ActionType = "answer"
)

// MessageKind maps an action to the message kind recorded for it.
func (a ActionType) MessageKind() models.MessageKind {
	switch a {
	case ActionDelegate:
		return models.KindDelegation
	case ActionClarify:
		return models.KindClarification
	case ActionSolution:
		return models.KindSolution
	case ActionStuck:
		return models.KindStuck
	case ActionDecline:
		return models.KindDecline
	default:
		return models.KindAnswer
	}
}

// StoreDirective is a pending memory write found in the response.
// Validation (token limits) happens in the memory store, not here.
type StoreDirective struct {
	Identifier string
	Content    string
}

// PersonaAction is the parsed result of one LLM response.
type PersonaAction struct {
	Type    ActionType
	Content string // visible text: action payload, or tag-stripped body for answers

	// Target and Context are set for ActionDelegate.
	Target  models.PersonaRole
	Context string

	// Reasoning holds [REASONING] text plus parser annotations
	// (e.g. demotion notes for unknown delegate targets).
	Reasoning string

	// Stores are [STORE:id] directives, in order of appearance.
	Stores []StoreDirective

	// Remembers are [REMEMBER:id] identifiers, in order of appearance.
	Remembers []string

	// Raw always preserves the original response for diagnostics.
	Raw string
}
