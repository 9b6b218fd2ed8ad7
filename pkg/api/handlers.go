package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/council-ai/council/pkg/errs"
	"github.com/council-ai/council/pkg/models"
	"github.com/council-ai/council/pkg/persona"
)

type submitProblemRequest struct {
	Problem string `json:"problem"`
}

type clarificationRequest struct {
	Response string `json:"response"`
}

// handleSubmitProblem creates a session and starts processing in the
// background; the response returns as soon as the session exists.
func (s *Server) handleSubmitProblem(c *gin.Context) {
	var req submitProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.NewValidationError("body", "malformed JSON"))
		return
	}
	session, err := s.orch.Initialize(c.Request.Context(), req.Problem)
	if err != nil {
		respondError(c, err)
		return
	}
	s.orch.StartBackground(session.ID)
	c.JSON(http.StatusCreated, session.Summary())
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.repo.Sessions.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]models.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Summary())
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.repo.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Summary())
}

func (s *Server) handleListMessages(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.repo.Sessions.Get(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}
	msgs, err := s.repo.Messages.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]models.MessageSummary, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Summary())
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

type memoryView struct {
	Identifier     string     `json:"identifier"`
	Content        string     `json:"content"`
	Persona        string     `json:"persona"`
	CreatedAt      time.Time  `json:"created_at"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// handleListMemories returns a persona's notes for a session. The persona
// query parameter is required; an unknown name is a 400.
func (s *Server) handleListMemories(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.repo.Sessions.Get(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}
	role, ok := persona.Resolve(c.Query("persona"))
	if !ok {
		respondError(c, errs.NewValidationError("persona", "unknown persona name"))
		return
	}
	memories, err := s.repo.Memories.ListRecent(c.Request.Context(), sessionID, role, 100)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]memoryView, 0, len(memories))
	for _, m := range memories {
		out = append(out, memoryView{
			Identifier:     m.Identifier,
			Content:        m.Content,
			Persona:        string(m.Persona),
			CreatedAt:      m.CreatedAt,
			AccessCount:    m.AccessCount,
			LastAccessedAt: m.LastAccessedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"memories": out})
}

func (s *Server) handleClarification(c *gin.Context) {
	var req clarificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.NewValidationError("body", "malformed JSON"))
		return
	}
	msg, err := s.orch.HandleUserClarification(c.Request.Context(), c.Param("id"), req.Response)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg.Summary())
}

func (s *Server) handleResume(c *gin.Context) {
	session, err := s.orch.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Summary())
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.orch.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type personaView struct {
	Role        string  `json:"role"`
	DisplayName string  `json:"display_name"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Enabled     bool    `json:"enabled"`
	SortOrder   int     `json:"sort_order"`
}

// handleListPersonas returns the roster configuration. System prompts stay
// server-side.
func (s *Server) handleListPersonas(c *gin.Context) {
	configs, err := s.repo.PersonaConfigs.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]personaView, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, personaView{
			Role:        string(cfg.Role),
			DisplayName: cfg.DisplayName,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Enabled:     cfg.Enabled,
			SortOrder:   cfg.SortOrder,
		})
	}
	c.JSON(http.StatusOK, gin.H{"personas": out})
}
