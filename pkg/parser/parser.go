package parser

import (
	"fmt"
	"strings"

	"github.com/council-ai/council/pkg/persona"
)

// Tag prefixes. The grammar is line-oriented and case-sensitive; a directive
// is only recognized at the start of a (whitespace-trimmed) line.
const (
	tagDelegate       = "[DELEGATE:"
	tagClarify        = "[CLARIFY]"
	tagSolution       = "[SOLUTION]"
	tagStuck          = "[STUCK]"
	tagDecline        = "[DECLINE]"
	tagStore          = "[STORE:"
	tagRemember       = "[REMEMBER:"
	tagReasoningOpen  = "[REASONING]"
	tagReasoningClose = "[/REASONING]"
)

// Parse maps an LLM response to a PersonaAction. The first action tag
// (Delegate/Clarify/Solution/Stuck/Decline) wins; STORE and REMEMBER
// directives are collected from the whole text regardless of position.
// An empty or tag-free response becomes a plain answer.
func Parse(text string) *PersonaAction {
	action := &PersonaAction{Type: ActionAnswer, Raw: text}

	body, reasoning := splitReasoning(text)
	action.Reasoning = reasoning

	if strings.TrimSpace(body) == "" {
		// Nothing visible left; answer with the raw text so the
		// conversation never loses what the model said.
		action.Content = strings.TrimSpace(text)
		return action
	}

	lines := strings.Split(body, "\n")
	var visible []string
	var solutionLines []string
	inSolution := false

	for _, rawLine := range lines {
		line := strings.TrimSpace(rawLine)

		switch {
		case strings.HasPrefix(line, tagStore):
			if d, ok := parseStore(line); ok {
				action.Stores = append(action.Stores, d)
			} else {
				visible = append(visible, rawLine)
			}
			continue

		case strings.HasPrefix(line, tagRemember):
			if id, ok := parseBracketed(line, tagRemember); ok {
				action.Remembers = append(action.Remembers, id)
			} else {
				visible = append(visible, rawLine)
			}
			continue
		}

		if isActionTag(line) {
			inSolution = false
			if action.Type != ActionAnswer {
				// An action was already chosen; later action tags are kept
				// as visible text so nothing silently disappears.
				visible = append(visible, rawLine)
				continue
			}
			switch {
			case strings.HasPrefix(line, tagDelegate):
				name, rest, ok := parseDelegate(line)
				if !ok {
					visible = append(visible, rawLine)
					continue
				}
				if role, found := persona.Resolve(name); found {
					action.Type = ActionDelegate
					action.Target = role
					action.Context = rest
					action.Content = rest
				} else {
					// Unknown persona demotes the delegation to an answer;
					// the note lands in reasoning for diagnostics.
					appendReasoning(action, fmt.Sprintf("unrecognized delegate target %q; treated as answer", name))
					visible = append(visible, rest)
				}
			case strings.HasPrefix(line, tagClarify):
				action.Type = ActionClarify
				action.Content = strings.TrimSpace(line[len(tagClarify):])
			case strings.HasPrefix(line, tagSolution):
				action.Type = ActionSolution
				first := strings.TrimSpace(line[len(tagSolution):])
				if first != "" {
					solutionLines = append(solutionLines, first)
				}
				inSolution = true
			case strings.HasPrefix(line, tagStuck):
				action.Type = ActionStuck
				action.Content = strings.TrimSpace(line[len(tagStuck):])
			case strings.HasPrefix(line, tagDecline):
				action.Type = ActionDecline
				action.Content = strings.TrimSpace(line[len(tagDecline):])
			}
			continue
		}

		// Solution payloads may span multiple lines: everything after
		// [SOLUTION] up to the next directive belongs to it.
		if inSolution {
			solutionLines = append(solutionLines, rawLine)
			continue
		}
		visible = append(visible, rawLine)
	}

	if action.Type == ActionSolution {
		action.Content = strings.TrimSpace(strings.Join(solutionLines, "\n"))
	}

	if action.Type == ActionAnswer {
		action.Content = strings.TrimSpace(strings.Join(visible, "\n"))
		if action.Content == "" {
			action.Content = strings.TrimSpace(text)
		}
	}

	return action
}

// Render produces the canonical wire form of an action, the inverse of Parse
// for well-formed inputs. Used by tests and diagnostics.
func Render(a *PersonaAction) string {
	switch a.Type {
	case ActionDelegate:
		return tagDelegate + persona.DisplayName(a.Target) + "] " + a.Context
	case ActionClarify:
		return tagClarify + " " + a.Content
	case ActionSolution:
		return tagSolution + " " + a.Content
	case ActionStuck:
		return tagStuck + " " + a.Content
	case ActionDecline:
		return tagDecline + " " + a.Content
	default:
		return a.Content
	}
}

// isActionTag reports whether the line begins with one of the five action tags.
func isActionTag(line string) bool {
	return strings.HasPrefix(line, tagDelegate) ||
		strings.HasPrefix(line, tagClarify) ||
		strings.HasPrefix(line, tagSolution) ||
		strings.HasPrefix(line, tagStuck) ||
		strings.HasPrefix(line, tagDecline)
}

// splitReasoning extracts the first [REASONING]…[/REASONING] block. A missing
// closing tag swallows to end of text; the model forgot to close it.
func splitReasoning(text string) (body, reasoning string) {
	start := strings.Index(text, tagReasoningOpen)
	if start == -1 {
		return text, ""
	}
	afterOpen := start + len(tagReasoningOpen)
	end := strings.Index(text[afterOpen:], tagReasoningClose)
	if end == -1 {
		return text[:start], strings.TrimSpace(text[afterOpen:])
	}
	reasoning = strings.TrimSpace(text[afterOpen : afterOpen+end])
	body = text[:start] + text[afterOpen+end+len(tagReasoningClose):]
	return body, reasoning
}

// parseDelegate splits "[DELEGATE:Name] context" into its parts.
func parseDelegate(line string) (name, rest string, ok bool) {
	name, rest, ok = parseTagged(line, tagDelegate)
	return name, rest, ok
}

// parseStore splits "[STORE:identifier] content" into a directive.
func parseStore(line string) (StoreDirective, bool) {
	id, rest, ok := parseTagged(line, tagStore)
	if !ok {
		return StoreDirective{}, false
	}
	return StoreDirective{Identifier: id, Content: rest}, true
}

// parseTagged splits "[PREFIX:value] rest-of-line".
func parseTagged(line, prefix string) (value, rest string, ok bool) {
	end := strings.Index(line, "]")
	if end < len(prefix) {
		return "", "", false
	}
	value = strings.TrimSpace(line[len(prefix):end])
	if value == "" {
		return "", "", false
	}
	return value, strings.TrimSpace(line[end+1:]), true
}

// ExtractRemembers collects [REMEMBER:id] identifiers from text, in order,
// without running a full parse.
func ExtractRemembers(text string) []string {
	var ids []string
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if strings.HasPrefix(line, tagRemember) {
			if id, ok := parseBracketed(line, tagRemember); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// parseBracketed extracts the value of a payload-less tag like [REMEMBER:id].
func parseBracketed(line, prefix string) (string, bool) {
	value, _, ok := parseTagged(line, prefix)
	return value, ok
}

func appendReasoning(a *PersonaAction, note string) {
	if a.Reasoning == "" {
		a.Reasoning = note
		return
	}
	a.Reasoning += "\n" + note
}
