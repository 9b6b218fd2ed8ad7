// Package models defines the internal entities and the trimmed records
// exposed to subscribers and API clients. Internal entities are never
// serialized directly; use the summary types.
package models

import (
	"strings"
	"time"
	"unicode"
)

// titleMaxLen bounds the auto-generated session title.
const titleMaxLen = 80

// Session is the root aggregate of one problem-solving conversation.
type Session struct {
	ID             string
	Title          string
	Problem        string // immutable after creation
	Status         SessionStatus
	FinalSolution  *string      // non-nil iff Status == StatusCompleted
	CurrentPersona *PersonaRole // nil iff Status is terminal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Summary returns the trimmed record broadcast to subscribers.
func (s *Session) Summary() SessionSummary {
	sum := SessionSummary{
		ID:        s.ID,
		Title:     s.Title,
		Status:    s.Status,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.FinalSolution != nil {
		sum.FinalSolution = *s.FinalSolution
	}
	if s.CurrentPersona != nil {
		sum.CurrentPersona = string(*s.CurrentPersona)
	}
	return sum
}

// SessionSummary is the DTO for session-level events and list endpoints.
type SessionSummary struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Status         SessionStatus `json:"status"`
	FinalSolution  string        `json:"final_solution,omitempty"`
	CurrentPersona string        `json:"current_persona,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TitleFromProblem derives a single-line session title from the problem
// statement: whitespace collapsed, cut at a word boundary near 80 characters.
func TitleFromProblem(problem string) string {
	title := strings.Join(strings.Fields(problem), " ")
	if len(title) <= titleMaxLen {
		return title
	}
	cut := title[:titleMaxLen]
	// Back up to the last space so the title doesn't end mid-word, unless
	// the first word alone exceeds the limit.
	if idx := strings.LastIndexFunc(cut, unicode.IsSpace); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
