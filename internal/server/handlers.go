package server

import (
	"errors"
	"net/http"
	"strings"

	"medical-qa-rag/internal/history"
	"medical-qa-rag/internal/ingest"
	"medical-qa-rag/internal/models"
	"medical-qa-rag/internal/rag"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type AskRequest struct {
	Question string           `json:"question" binding:"required"`
	History  []models.Message `json:"history"`
}

type MessageRequest struct {
	Question string `json:"question" binding:"required"`
}

type SessionRequest struct {
	Name string `json:"name"`
}

type RenameRequest struct {
	Name string `json:"name" binding:"required"`
}

type AnswerResponse struct {
	*models.Answer
	AnswerHTML string `json:"answer_html"`
}

func (s *Server) health(c *gin.Context) {
	chunks, err := s.index.Count(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "index": s.asker.IndexName(), "chunks": chunks})
}

func (s *Server) references(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"references": s.cfg.References})
}

func (s *Server) ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	answer, err := s.asker.Ask(c.Request.Context(), rag.Request{Question: req.Question, History: req.History})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, AnswerResponse{Answer: answer, AnswerHTML: s.render(answer.Content)})
}

func (s *Server) rebuild(c *gin.Context) {
	res, err := s.indexer.LoadOrBuild(c.Request.Context(), true)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) createSession(c *gin.Context) {
	var req SessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	session, err := s.sessions.Create(c.Request.Context(), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.sessions.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) renameSession(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := s.sessions.Rename(ctx, c.Param("id"), req.Name); err != nil {
		fail(c, err)
		return
	}
	session, err := s.sessions.Get(ctx, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listMessages returns the conversation, opening with the greeting.
func (s *Server) listMessages(c *gin.Context) {
	ctx := c.Request.Context()
	session, err := s.sessions.Get(ctx, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	msgs, err := s.sessions.Messages(ctx, session.ID)
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]models.Message, 0, len(msgs)+1)
	out = append(out, models.Message{Role: models.RoleAI, Content: s.cfg.Prompts.Greeting, CreatedAt: session.CreatedAt})
	out = append(out, msgs...)
	c.JSON(http.StatusOK, gin.H{"session": session, "messages": out})
}

func (s *Server) postMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		fail(c, rag.ErrEmptyQuestion)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	past, err := s.sessions.Messages(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}

	// Both turns are stored only once the answer exists.
	answer, err := s.asker.Ask(ctx, rag.Request{Question: req.Question, History: past})
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.sessions.Append(ctx, id, models.RoleHuman, req.Question); err != nil {
		fail(c, err)
		return
	}
	if err := s.sessions.Append(ctx, id, models.RoleAI, answer.Content); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, AnswerResponse{Answer: answer, AnswerHTML: s.render(answer.Content)})
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rag.ErrEmptyQuestion), errors.Is(err, history.ErrEmptyName):
		status = http.StatusBadRequest
	case errors.Is(err, history.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ingest.ErrMissingFiles), errors.Is(err, ingest.ErrNoDocuments):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
