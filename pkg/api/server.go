// Package api implements the HTTP control surface in front of C6, the
// Session Dispatcher: submit, rerun, status, cancel, retry, delete, plus
// the supplemented list-by-owner and health endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/synod-run/synod/pkg/config"
	"github.com/synod-run/synod/pkg/database"
	"github.com/synod-run/synod/pkg/dispatcher"
	"github.com/synod-run/synod/pkg/models"
	"github.com/synod-run/synod/pkg/store"
)

// Server wires the Dispatcher into gin handlers. Its shape mirrors the
// teacher's gin Server: a thin struct of already-constructed collaborators,
// no framework-level state of its own.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	store      *store.Store
	cfg        *config.Config
	db         *database.Client
}

func NewServer(d *dispatcher.Dispatcher, st *store.Store, cfg *config.Config, db *database.Client) *Server {
	return &Server{dispatcher: d, store: st, cfg: cfg, db: db}
}

// RegisterRoutes attaches every control-surface route to router.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", s.Health)

	deliberations := router.Group("/deliberations", requirePrincipal())
	deliberations.GET("", s.ListDeliberations)
	deliberations.POST("/:id/message/stream", s.SubmitMessage)
	deliberations.POST("/:id/rerun", s.Rerun)
	deliberations.GET("/:id/status", s.Status)
	deliberations.POST("/:id/cancel", s.Cancel)

	messages := router.Group("/messages", requirePrincipal())
	messages.POST("/:id/retry", s.RetryMessage)
	messages.DELETE("/:id", s.DeleteMessage)
}

// newDeliberationSentinel is the literal path segment a caller uses in
// place of a UUID to start a brand-new deliberation, since gin's router
// requires a concrete value in the :id slot.
const newDeliberationSentinel = "new"

func parseDeliberationID(c *gin.Context) (*uuid.UUID, bool) {
	raw := c.Param("id")
	if raw == newDeliberationSentinel {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deliberation id"})
		return nil, false
	}
	return &id, true
}

type attachmentBody struct {
	Filename      string                `json:"filename" binding:"required"`
	Kind          models.AttachmentKind `json:"kind" binding:"required"`
	DataURI       string                `json:"data_uri"`
	ExtractedText string                `json:"extracted_text"`
}

func (a attachmentBody) toModel() models.Attachment {
	return models.Attachment{Filename: a.Filename, Kind: a.Kind, DataURI: a.DataURI, ExtractedText: a.ExtractedText}
}

type submitRequestBody struct {
	Question    string           `json:"question" binding:"required"`
	Mode        config.ModeName  `json:"mode" binding:"required"`
	Attachments []attachmentBody `json:"attachments"`
}

func toAttachments(bodies []attachmentBody) []models.Attachment {
	if len(bodies) == 0 {
		return nil
	}
	out := make([]models.Attachment, len(bodies))
	for i, b := range bodies {
		out[i] = b.toModel()
	}
	return out
}

// SubmitMessage handles POST /deliberations/:id/message/stream. :id is
// either an existing deliberation's UUID (a follow-up turn) or the literal
// "new" sentinel (starts a fresh deliberation owned by the caller).
func (s *Server) SubmitMessage(c *gin.Context) {
	id, ok := parseDeliberationID(c)
	if !ok {
		return
	}

	var body submitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, events, err := s.dispatcher.Submit(c.Request.Context(), principalFrom(c), id, dispatcher.SubmitRequest{
		Question:    body.Question,
		Mode:        body.Mode,
		Attachments: toAttachments(body.Attachments),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	streamEvents(c, events)
}

type rerunRequestBody struct {
	RerunInput      string          `json:"rerun_input" binding:"required"`
	Mode            config.ModeName `json:"mode" binding:"required"`
	ParentMessageID *uuid.UUID      `json:"parent_message_id"`
	SourceAnswerID  *uuid.UUID      `json:"source_answer_id"`
}

// Rerun handles POST /deliberations/:id/rerun: a new turn in an existing
// deliberation whose question text is a rerun instruction against a prior
// Answer, rather than a fresh question.
func (s *Server) Rerun(c *gin.Context) {
	id, ok := parseDeliberationID(c)
	if !ok || id == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rerun requires an existing deliberation id"})
		return
	}

	var body rerunRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, events, err := s.dispatcher.Submit(c.Request.Context(), principalFrom(c), id, dispatcher.SubmitRequest{
		Question:        body.RerunInput,
		Mode:            body.Mode,
		IsRerun:         true,
		RerunInput:      body.RerunInput,
		ParentMessageID: body.ParentMessageID,
		SourceAnswerID:  body.SourceAnswerID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	streamEvents(c, events)
}

// Status handles GET /deliberations/:id/status.
func (s *Server) Status(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deliberation id"})
		return
	}

	if _, err := s.store.GetDeliberation(c.Request.Context(), id, principalPtr(c)); err != nil {
		writeError(c, err)
		return
	}

	result, err := s.dispatcher.Status(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	body := gin.H{"processing": result.Processing}
	if result.Processing {
		body["current_stage"] = result.CurrentStage
	}
	if result.Orphaned {
		body["orphaned"] = true
		body["orphaned_message"] = gin.H{
			"id":         result.OrphanedMessage.ID,
			"content":    result.OrphanedMessage.Content,
			"created_at": result.OrphanedMessage.CreatedAt,
		}
	}
	if result.Incomplete {
		body["incomplete"] = true
	}
	c.JSON(http.StatusOK, body)
}

// Cancel handles POST /deliberations/:id/cancel. Best-effort: always 202,
// since cancellation is cooperative and there's no synchronous outcome to
// report back.
func (s *Server) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deliberation id"})
		return
	}

	if _, err := s.store.GetDeliberation(c.Request.Context(), id, principalPtr(c)); err != nil {
		writeError(c, err)
		return
	}

	s.dispatcher.Cancel(id)
	c.JSON(http.StatusAccepted, gin.H{"status": "cancel requested"})
}

type retryRequestBody struct {
	Mode config.ModeName `json:"mode" binding:"required"`
}

// RetryMessage handles POST /messages/:id/retry.
func (s *Server) RetryMessage(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	msg, err := s.store.GetMessageByID(c.Request.Context(), messageID)
	if err != nil {
		writeError(c, err)
		return
	}

	var body retryRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, events, err := s.dispatcher.Retry(c.Request.Context(), principalFrom(c), msg.DeliberationID, messageID, body.Mode)
	if err != nil {
		writeError(c, err)
		return
	}

	streamEvents(c, events)
}

// DeleteMessage handles DELETE /messages/:id: user-question only, per
// §6.4 — an orphaned Question a caller decided not to retry.
func (s *Server) DeleteMessage(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	msg, err := s.store.GetMessageByID(c.Request.Context(), messageID)
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := s.store.GetDeliberation(c.Request.Context(), msg.DeliberationID, principalPtr(c)); err != nil {
		writeError(c, err)
		return
	}

	if err := s.store.DeleteQuestionByID(c.Request.Context(), messageID); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListDeliberations handles GET /deliberations, supplementing the
// distillation with the original's listByOwner pagination.
func (s *Server) ListDeliberations(c *gin.Context) {
	limit := 20
	offset := 0

	deliberations, total, err := s.store.ListByOwner(c.Request.Context(), principalFrom(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deliberations": deliberations, "total": total})
}

// Health handles GET /health, grounded on cmd/tarsy/main.go's inline
// handler: ping the database and report configuration stats.
func (s *Server) Health(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(reqCtx, s.db.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	stats := s.cfg.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
		"configuration": gin.H{
			"modes":         stats.Modes,
			"llm_providers": stats.LLMProviders,
		},
	})
}

func principalPtr(c *gin.Context) *uuid.UUID {
	id := principalFrom(c)
	return &id
}
