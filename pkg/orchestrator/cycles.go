package orchestrator

import (
	"strings"

	"github.com/agext/levenshtein"

	"github.com/council-ai/council/pkg/models"
)

const (
	// cycleWindow is how many recent turns a delegation edge is compared
	// against.
	cycleWindow = 3
	// similarityThreshold marks two delegation payloads as substantively
	// the same.
	similarityThreshold = 0.9
)

// delegationEdge is one (from, to) handoff with its payload, recorded at a
// loop turn index.
type delegationEdge struct {
	from    models.PersonaRole
	to      models.PersonaRole
	payload string
	turn    int
}

// seenRecently reports whether the same edge with a substantively identical
// payload occurred within the last cycleWindow turns.
func (st *turnState) seenRecently(e delegationEdge) bool {
	for _, prev := range st.edges {
		if e.turn-prev.turn > cycleWindow {
			continue
		}
		if prev.from == e.from && prev.to == e.to && samePayload(prev.payload, e.payload) {
			return true
		}
	}
	return false
}

// push records an edge and drops entries that fell out of the window.
func (st *turnState) push(e delegationEdge) {
	st.edges = append(st.edges, e)
	cut := 0
	for cut < len(st.edges) && e.turn-st.edges[cut].turn > cycleWindow {
		cut++
	}
	st.edges = st.edges[cut:]
}

// samePayload matches payloads that are identical after whitespace collapse
// or nearly identical by Levenshtein similarity.
func samePayload(a, b string) bool {
	if collapseWhitespace(a) == collapseWhitespace(b) {
		return true
	}
	return levenshtein.Similarity(a, b, levenshtein.NewParams()) >= similarityThreshold
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
