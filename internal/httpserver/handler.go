/**
 * Operations HTTP API for the Document Intelligence Worker
 *
 * Submits analysis tasks to the queue and exposes the synchronous text
 * stages (enhance, classify, compare) together with health, engine
 * availability, cache statistics and the manual review queue.
 */

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/docintel-worker/internal/cache"
	"github.com/adverant/nexus/docintel-worker/internal/classifier"
	"github.com/adverant/nexus/docintel-worker/internal/enhancer"
	apperrors "github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/ocr"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
	"github.com/adverant/nexus/docintel-worker/internal/quality"
	"github.com/adverant/nexus/docintel-worker/internal/queue"
	"github.com/adverant/nexus/docintel-worker/internal/storage"
)

// EngineReporter reports OCR engine availability
type EngineReporter interface {
	Availability(ctx context.Context) []ocr.EngineStatus
}

// TaskEnqueuer submits queue tasks
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error)
}

// Pinger is a dependency /health checks
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSource returns aggregate counters
type StatsSource interface {
	Stats(ctx context.Context) (*cache.Stats, error)
}

// RecordIndex reads stored analyses
type RecordIndex interface {
	GetRecord(ctx context.Context, id string) (*pipeline.DocumentRecord, error)
	GetStats(ctx context.Context) (map[string]interface{}, error)
	ReviewQueue(ctx context.Context, limit int) ([]*storage.AnalysisRow, error)
	FindSimilar(ctx context.Context, text string, limit int, threshold float64) ([]storage.SimilarDocument, error)
}

// Dependencies wires the handler. Nil optional fields answer 503.
type Dependencies struct {
	Engines    EngineReporter
	Classifier *classifier.Classifier
	Enqueuer   TaskEnqueuer
	Stats      StatsSource
	Records    RecordIndex

	// Health checks by name
	Checks map[string]Pinger

	EnhanceOptions     *enhancer.Options
	MaxRequestBodySize int64
	RequestTimeout     time.Duration
	Logger             *logging.Logger
}

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// textRequest carries text and optional enhancement flags. Flags left out of
// options keep the configured value.
type textRequest struct {
	Text    string          `json:"text" binding:"required"`
	Options json.RawMessage `json:"options,omitempty"`
}

type compareRequest struct {
	Original string `json:"original"`
	Revised  string `json:"revised"`
}

type similarRequest struct {
	Text      string  `json:"text" binding:"required"`
	Limit     int     `json:"limit,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

type handler struct {
	deps           Dependencies
	enhanceOptions enhancer.Options
	logger         *logging.Logger
}

var errNotConfigured = errors.New("not configured")

// NewHandler builds the gin engine
func NewHandler(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logging.NewLogger("HTTPServer")
	}
	if deps.MaxRequestBodySize <= 0 {
		deps.MaxRequestBodySize = 10 << 20
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 30 * time.Second
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.NewClassifier(classifier.DefaultCatalog())
	}
	enhanceOptions := enhancer.DefaultOptions()
	if deps.EnhanceOptions != nil {
		enhanceOptions = *deps.EnhanceOptions
	}
	h := &handler{deps: deps, enhanceOptions: enhanceOptions, logger: deps.Logger}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger), requestSizeLimiter(deps.MaxRequestBodySize))

	r.GET("/health", h.health)

	v1 := r.Group("/v1")
	v1.GET("/engines", h.engines)
	v1.GET("/document-types", h.documentTypes)
	v1.POST("/documents", h.submitDocument)
	v1.GET("/documents/:id", h.getDocument)
	v1.POST("/batches", h.submitBatch)
	v1.POST("/enhance", h.enhance)
	v1.POST("/classify", h.classify)
	v1.POST("/compare", h.compare)
	v1.POST("/similar", h.similar)
	v1.GET("/review", h.review)
	v1.GET("/stats", h.stats)

	return r
}

func (h *handler) timeoutContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.deps.RequestTimeout)
}

func (h *handler) health(c *gin.Context) {
	ctx, cancel := h.timeoutContext(c)
	defer cancel()

	status := "available"
	code := http.StatusOK
	checks := gin.H{}
	for name, p := range h.deps.Checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) engines(c *gin.Context) {
	if h.deps.Engines == nil {
		h.respondError(c, http.StatusServiceUnavailable, "engine status unavailable", errNotConfigured)
		return
	}
	ctx, cancel := h.timeoutContext(c)
	defer cancel()
	c.JSON(http.StatusOK, gin.H{"engines": h.deps.Engines.Availability(ctx)})
}

func (h *handler) documentTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"documentTypes": h.deps.Classifier.Catalog().Types()})
}

func (h *handler) submitDocument(c *gin.Context) {
	var req queue.AnalyzeTask
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}
	task, err := queue.NewAnalyzeTask(req)
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid task", err)
		return
	}
	h.enqueue(c, task)
}

func (h *handler) getDocument(c *gin.Context) {
	if h.deps.Records == nil {
		h.respondError(c, http.StatusServiceUnavailable, "record index unavailable", errNotConfigured)
		return
	}
	ctx, cancel := h.timeoutContext(c)
	defer cancel()

	id := c.Param("id")
	record, err := h.deps.Records.GetRecord(ctx, id)
	if errors.Is(err, storage.ErrRecordNotFound) {
		h.respondError(c, http.StatusNotFound, "record not found", err)
		return
	}
	if err != nil {
		h.respondError(c, http.StatusBadGateway, "failed to load record", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *handler) submitBatch(c *gin.Context) {
	var req queue.BatchTask
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}
	task, err := queue.NewBatchTask(req)
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid task", err)
		return
	}
	h.enqueue(c, task)
}

func (h *handler) enqueue(c *gin.Context, task *asynq.Task) {
	if h.deps.Enqueuer == nil {
		h.respondError(c, http.StatusServiceUnavailable, "queue unavailable", errNotConfigured)
		return
	}
	ctx, cancel := h.timeoutContext(c)
	defer cancel()

	info, err := h.deps.Enqueuer.Enqueue(ctx, task)
	if err != nil {
		h.respondError(c, http.StatusBadGateway, "failed to enqueue task", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"taskId": info.ID,
		"queue":  info.Queue,
		"type":   info.Type,
	})
}

func (h *handler) enhance(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}
	opts, err := h.requestEnhanceOptions(req.Options)
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid options", err)
		return
	}
	c.JSON(http.StatusOK, enhancer.EnhanceText(req.Text, opts))
}

func (h *handler) classify(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}
	opts, err := h.requestEnhanceOptions(req.Options)
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid options", err)
		return
	}
	enh := enhancer.EnhanceText(req.Text, opts)
	c.JSON(http.StatusOK, h.deps.Classifier.ClassifyDocument(enh.PlainText(), nil, nil))
}

// requestEnhanceOptions decodes per-request flags over the configured options
func (h *handler) requestEnhanceOptions(raw json.RawMessage) (enhancer.Options, error) {
	opts := h.enhanceOptions
	if len(raw) == 0 || string(raw) == "null" {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return opts, apperrors.NewInvalidInputError("", "invalid enhancement options: "+err.Error())
	}
	return opts, nil
}

func (h *handler) compare(c *gin.Context) {
	var req compareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}
	c.JSON(http.StatusOK, quality.CompareTextVersions(req.Original, req.Revised))
}

func (h *handler) similar(c *gin.Context) {
	if h.deps.Records == nil {
		h.respondError(c, http.StatusServiceUnavailable, "record index unavailable", errNotConfigured)
		return
	}
	var req similarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}
	ctx, cancel := h.timeoutContext(c)
	defer cancel()

	matches, err := h.deps.Records.FindSimilar(ctx, req.Text, req.Limit, req.Threshold)
	if err != nil {
		h.respondError(c, http.StatusBadGateway, "similarity search failed", err)
		return
	}
	if matches == nil {
		matches = []storage.SimilarDocument{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (h *handler) review(c *gin.Context) {
	if h.deps.Records == nil {
		h.respondError(c, http.StatusServiceUnavailable, "record index unavailable", errNotConfigured)
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			h.respondError(c, http.StatusBadRequest, "invalid limit",
				apperrors.NewInvalidInputError("", "limit must be between 1 and 500"))
			return
		}
		limit = n
	}
	ctx, cancel := h.timeoutContext(c)
	defer cancel()

	rows, err := h.deps.Records.ReviewQueue(ctx, limit)
	if err != nil {
		h.respondError(c, http.StatusBadGateway, "failed to load review queue", err)
		return
	}
	if rows == nil {
		rows = []*storage.AnalysisRow{}
	}
	c.JSON(http.StatusOK, gin.H{"records": rows})
}

// stats reports the cache counters and the storage backends, whichever are
// configured
func (h *handler) stats(c *gin.Context) {
	if h.deps.Stats == nil && h.deps.Records == nil {
		h.respondError(c, http.StatusServiceUnavailable, "statistics unavailable", errNotConfigured)
		return
	}
	ctx, cancel := h.timeoutContext(c)
	defer cancel()

	resp := gin.H{}
	if h.deps.Stats != nil {
		stats, err := h.deps.Stats.Stats(ctx)
		if err != nil {
			h.respondError(c, http.StatusBadGateway, "failed to load cache statistics", err)
			return
		}
		resp["cache"] = stats
	}
	if h.deps.Records != nil {
		stats, err := h.deps.Records.GetStats(ctx)
		if err != nil {
			h.respondError(c, http.StatusBadGateway, "failed to load storage statistics", err)
			return
		}
		resp["storage"] = stats
	}
	c.JSON(http.StatusOK, resp)
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"ip", c.ClientIP())
	}
}

func (h *handler) respondError(c *gin.Context, code int, message string, err error) {
	h.logger.WithError(err).Warn("Request failed",
		"status_code", code,
		"path", c.Request.URL.Path,
		"method", c.Request.Method)

	resp := ErrorResponse{
		Error:   http.StatusText(code),
		Message: fmt.Sprintf("%s: %v", message, err),
	}
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) {
		resp.Code = string(pe.Code)
	}
	c.AbortWithStatusJSON(code, resp)
}
