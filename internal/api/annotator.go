package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"pepper/internal/annotate"
	"pepper/internal/depparse"
	"pepper/internal/errx"
	"pepper/internal/logger"
	"pepper/internal/models"
)

// maxPhraseBytes caps request bodies on the annotation routes.
const maxPhraseBytes = 64 << 10

// Corpus holds the pending phrases and the stored examples.
type Corpus interface {
	Next(ctx context.Context) (string, error)
	Store(ctx context.Context, a models.Annotation) (int, error)
	Export(ctx context.Context, w io.Writer) error
}

// AnnotatorHandler serves the annotation backend consumed by the annotation tool.
type AnnotatorHandler struct {
	corpus   Corpus
	renderer depparse.Renderer
}

func NewAnnotatorHandler(corpus Corpus, renderer depparse.Renderer) *AnnotatorHandler {
	if renderer == nil {
		renderer = depparse.Table{}
	}
	return &AnnotatorHandler{corpus: corpus, renderer: renderer}
}

// RegisterRoutes attaches /dep, /next, /store and /export. Every route answers
// preflight requests and allows any origin.
func (h *AnnotatorHandler) RegisterRoutes(router *gin.Engine) {
	router.Use(allowAnyOrigin())
	router.POST("/dep", h.dep)
	router.GET("/next", h.next)
	router.POST("/store", h.store)
	router.GET("/export", h.export)
	router.NoRoute(func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusOK)
			return
		}
		c.String(http.StatusNotFound, "not found")
	})
}

func allowAnyOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (h *AnnotatorHandler) dep(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid request body")
		return
	}
	phrase := strings.TrimSpace(string(body))
	if phrase == "" {
		c.String(http.StatusBadRequest, annotate.ErrEmptyPhrase.Error())
		return
	}
	fragment, err := h.renderer.Render(c.Request.Context(), phrase)
	if err != nil {
		respondText(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fragment))
}

func (h *AnnotatorHandler) next(c *gin.Context) {
	phrase, err := h.corpus.Next(c.Request.Context())
	if err != nil {
		respondText(c, err)
		return
	}
	c.String(http.StatusOK, phrase)
}

func (h *AnnotatorHandler) store(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid request body")
		return
	}
	a, err := annotate.ParseAnnotation(body)
	if err != nil {
		respondText(c, err)
		return
	}
	count, err := h.corpus.Store(c.Request.Context(), a)
	if err != nil {
		respondText(c, err)
		return
	}
	logger.Info().Str("phrase", a.Phrase).Int("count", count).Msg("annotation stored")
	c.String(http.StatusOK, strconv.Itoa(count))
}

func (h *AnnotatorHandler) export(c *gin.Context) {
	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Status(http.StatusOK)
	if err := h.corpus.Export(c.Request.Context(), c.Writer); err != nil {
		logger.Error().Err(err).Msg("export annotations failed")
	}
}

func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPhraseBytes))
}

func respondText(c *gin.Context, err error) {
	status := errx.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("annotator request failed")
	}
	c.String(status, publicMessage(err))
}
