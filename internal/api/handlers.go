package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"pepper/internal/chat"
	"pepper/internal/errx"
	"pepper/internal/logger"
	"pepper/internal/models"
)

// eventBuffer bounds how far an SSE client may lag before it is disconnected.
const eventBuffer = 64

var errSlowSubscriber = errors.New("subscriber too slow")

// ChatManager is the session layer behind the chat routes.
type ChatManager interface {
	CreateSession(ctx context.Context, title string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]models.Session, error)
	Snapshot(ctx context.Context, sessionID string) (*models.Session, []*models.Message, error)
	Submit(ctx context.Context, sessionID, text string, confidence *float64) (string, error)
	Retry(ctx context.Context, sessionID, messageID string) error
	Subscribe(sessionID string, fn func(chat.Event)) (cancel func())
	Delete(ctx context.Context, sessionID string) error
}

// Handler wires the web chat routes to the session manager.
type Handler struct {
	workers ChatManager
}

// NewHandler constructs a Handler instance.
func NewHandler(workers ChatManager) *Handler {
	return &Handler{workers: workers}
}

// RegisterRoutes attaches the chat endpoints to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	chatGroup := router.Group("/api/chat")
	chatGroup.POST("/sessions", h.createSession)
	chatGroup.GET("/sessions", h.getSessionList)
	chatGroup.GET("/sessions/:session_id/messages", h.getSessionMessages)
	chatGroup.POST("/sessions/:session_id/messages", h.sendMessage)
	chatGroup.POST("/sessions/:session_id/messages/:message_id/retry", h.retryMessage)
	chatGroup.GET("/sessions/:session_id/events", h.streamEvents)
	chatGroup.DELETE("/sessions/:session_id", h.deleteSession)
}

type createSessionRequest struct {
	Title string `json:"title"`
}

type sendMessageRequest struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	session, err := h.workers.CreateSession(c.Request.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

func (h *Handler) getSessionList(c *gin.Context) {
	sessions, err := h.workers.ListSessions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"session_list": sessions})
}

func (h *Handler) getSessionMessages(c *gin.Context) {
	session, messages, err := h.workers.Snapshot(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "messages": messages})
}

func (h *Handler) sendMessage(c *gin.Context) {
	sessionID := c.Param("session_id")
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confidence must be within [0, 1]"})
		return
	}

	id, err := h.workers.Submit(c.Request.Context(), sessionID, req.Text, req.Confidence)
	switch {
	case errx.HasCode(err, errx.CodeEmptyInput):
		c.Status(http.StatusNoContent)
		return
	case err != nil && id == "":
		respondError(c, err)
		return
	case err != nil:
		// both entries were appended, the placeholder is already failed
		c.JSON(errx.StatusOf(err), gin.H{"error": publicMessage(err), "id": id})
		return
	}

	_, messages, err := h.workers.Snapshot(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "messages": messages})
}

func (h *Handler) retryMessage(c *gin.Context) {
	sessionID := c.Param("session_id")
	messageID := c.Param("message_id")
	if err := h.workers.Retry(c.Request.Context(), sessionID, messageID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": messageID})
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.workers.Delete(c.Request.Context(), c.Param("session_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// streamEvents sends the current transcript, then every appended or replaced
// entry until the client goes away.
func (h *Handler) streamEvents(c *gin.Context) {
	sessionID := c.Param("session_id")
	ctx := c.Request.Context()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	events := make(chan chat.Event, eventBuffer)
	overflow := make(chan struct{})
	var once sync.Once
	cancel := h.workers.Subscribe(sessionID, func(ev chat.Event) {
		select {
		case events <- ev:
		default:
			once.Do(func() { close(overflow) })
		}
	})
	defer cancel()

	// subscribe first so nothing falls between the snapshot and the stream
	session, messages, err := h.workers.Snapshot(ctx, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("snapshot", gin.H{"session": session, "messages": messages}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-overflow:
			logger.Warn().Err(errSlowSubscriber).Str("session", sessionID).Msg("closing event stream")
			_ = sendEvent("error", gin.H{"message": errSlowSubscriber.Error()})
			return
		case ev := <-events:
			if err := sendEvent(string(ev.Kind), gin.H{"index": ev.Index, "message": ev.Message}); err != nil {
				return
			}
		}
	}
}

func respondError(c *gin.Context, err error) {
	status := errx.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": publicMessage(err)})
}

func publicMessage(err error) string {
	var appErr *errx.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return errx.SystemErrorMessage
}
