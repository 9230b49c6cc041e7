/**
 * Queue Consumer for the Document Intelligence Worker
 *
 * Consumes document:analyze and document:batch tasks from Redis via Asynq,
 * resolves each document's source and runs it through the analyzer. The
 * finished record (or batch report) is written back as the task result.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/ocr"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
	"github.com/adverant/nexus/docintel-worker/internal/source"
)

// DefaultProcessingTimeout bounds one task when the config leaves it unset
const DefaultProcessingTimeout = 5 * time.Minute

// DocumentAnalyzer is the part of pipeline.Analyzer the consumer drives
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, id string, image []byte, opts ocr.Options) (*pipeline.DocumentRecord, error)
	AnalyzeBatch(ctx context.Context, docs []ocr.BatchDocument, opts ocr.Options) *pipeline.BatchReport
	CompareEngines(ctx context.Context, id string, image []byte, opts ocr.Options) (*pipeline.EngineComparison, error)
}

// SourceResolver loads the bytes a task points at
type SourceResolver interface {
	Resolve(ctx context.Context, jobID string, ref source.Reference) ([]byte, error)
}

// Consumer handles task consumption from the Redis queue
type Consumer struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	analyzer DocumentAnalyzer
	resolver SourceResolver
	config   *ConsumerConfig
	logger   *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Analyzer          DocumentAnalyzer
	Resolver          SourceResolver
	ProcessingTimeout time.Duration

	// DefaultOptions is the base task options are laid over. The zero value
	// means ocr.DefaultOptions().
	DefaultOptions ocr.Options
	Logger         *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Analyzer == nil {
		return nil, fmt.Errorf("Analyzer is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("Resolver is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("QueueConsumer")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := cfg.Logger
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // Priority 10 for main queue
				"default":     1,  // Priority 1 for fallback
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.WithError(err).Error("Task processing error",
					"type", task.Type(), "retry", retried, "maxRetry", maxRetry)
			}),
			Logger: &asynqLogger{logger: logger},
		},
	)

	consumer := &Consumer{
		server:   server,
		mux:      asynq.NewServeMux(),
		analyzer: cfg.Analyzer,
		resolver: cfg.Resolver,
		config:   cfg,
		logger:   logger,
	}

	consumer.mux.HandleFunc(TypeAnalyzeDocument, consumer.handleAnalyzeDocument)
	consumer.mux.HandleFunc(TypeAnalyzeBatch, consumer.handleAnalyzeBatch)

	return consumer, nil
}

func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second || delay <= 0 {
		delay = 60 * time.Second
	}
	return delay
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer...")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
	return nil
}

// options lays a task's overrides over the configured defaults
func (c *Consumer) options(overrides *TaskOptions) ocr.Options {
	base := c.config.DefaultOptions
	if base == (ocr.Options{}) {
		base = ocr.DefaultOptions()
	}
	return overrides.Apply(base)
}

func (c *Consumer) timeout() time.Duration {
	if c.config.ProcessingTimeout > 0 {
		return c.config.ProcessingTimeout
	}
	return DefaultProcessingTimeout
}

// handleAnalyzeDocument processes a single-document task
func (c *Consumer) handleAnalyzeDocument(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload AnalyzeTask
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	log := c.logger.With("recordId", payload.RecordID, "source", string(payload.Source.Kind), "mode", payload.Mode)

	timeout := c.timeout()
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	image, err := c.resolver.Resolve(processCtx, payload.RecordID, payload.Source)
	if err == nil {
		opts := c.options(payload.Options)
		if payload.Mode == ModeCompare {
			var comparison *pipeline.EngineComparison
			comparison, err = c.analyzer.CompareEngines(processCtx, payload.RecordID, image, opts)
			if err == nil {
				log.Info("Engine comparison completed",
					"engines", len(comparison.Engines),
					"bestEngine", comparison.Record.OCR.Metadata.EngineUsed,
					"duration", time.Since(startTime).String())
				return c.writeResult(task, comparison)
			}
		} else {
			var record *pipeline.DocumentRecord
			record, err = c.analyzer.Analyze(processCtx, payload.RecordID, image, opts)
			if err == nil {
				log.Info("Task completed",
					"documentType", record.Classification.DocumentType.ID,
					"grade", record.Quality.QualityGrade,
					"duration", time.Since(startTime).String())
				return c.writeResult(task, record)
			}
		}
	}

	if processCtx.Err() == context.DeadlineExceeded {
		log.Error("Processing timed out", "timeout", timeout.String())
		return fmt.Errorf("processing timeout: %w", apperrors.NewProcessingTimeoutError(payload.RecordID, timeout, err))
	}
	if permanent(err) {
		log.WithError(err).Warn("Document rejected, not retrying")
		return fmt.Errorf("document rejected: %w: %w", err, asynq.SkipRetry)
	}

	log.WithError(err).Error("Document processing failed", "duration", time.Since(startTime).String())
	return fmt.Errorf("document processing failed: %w", err)
}

// handleAnalyzeBatch processes a batch task. Documents whose source cannot be
// resolved are reported as failed; the batch itself only fails on timeout.
func (c *Consumer) handleAnalyzeBatch(ctx context.Context, task *asynq.Task) error {
	var payload BatchTask
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if len(payload.Documents) == 0 {
		return fmt.Errorf("batch carries no documents: %w", asynq.SkipRetry)
	}

	timeout := c.timeout()
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	docs := make([]ocr.BatchDocument, len(payload.Documents))
	resolveErrs := make(map[int]error)
	for i, d := range payload.Documents {
		docs[i].ID = d.ID
		image, err := c.resolver.Resolve(processCtx, d.ID, d.Source)
		if err != nil {
			c.logger.WithError(err).Warn("Failed to resolve batch document", "documentId", d.ID)
			resolveErrs[i] = err
			continue
		}
		docs[i].Image = image
	}

	report := c.analyzer.AnalyzeBatch(processCtx, docs, c.options(payload.Options))
	for i, err := range resolveErrs {
		if i < len(report.Entries) {
			report.Entries[i].Status = pipeline.StatusFailed
			report.Entries[i].Error = err.Error()
		}
	}

	if processCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("processing timeout: %w",
			apperrors.NewProcessingTimeoutError(report.BatchID, timeout, processCtx.Err()))
	}

	c.logger.Info("Batch task completed",
		"batchId", report.BatchID,
		"documents", report.Summary.TotalDocuments,
		"failed", report.Summary.FailedDocuments)

	return c.writeResult(task, report)
}

// permanent reports errors a retry cannot fix
func permanent(err error) bool {
	return apperrors.IsCode(err, apperrors.ErrorInvalidInput) ||
		apperrors.IsCode(err, apperrors.ErrorUnsupportedFormat)
}

// writeResult stores v as the task result. Tasks built outside a server
// carry no result writer.
func (c *Consumer) writeResult(task *asynq.Task, v interface{}) error {
	w := task.ResultWriter()
	if w == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal task result: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		c.logger.WithError(err).Warn("Failed to write task result", "taskId", w.TaskID())
	}
	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency":       c.config.Concurrency,
		"queue":             c.config.QueueName,
		"processingTimeout": c.timeout().String(),
		"taskTypes":         []string{TypeAnalyzeDocument, TypeAnalyzeBatch},
	}
}

// asynqLogger routes asynq's internal logging through the worker logger
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal(fmt.Sprint(args...)) }
