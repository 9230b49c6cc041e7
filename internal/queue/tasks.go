package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/docintel-worker/internal/ocr"
	"github.com/adverant/nexus/docintel-worker/internal/source"
)

// Task types
const (
	TypeAnalyzeDocument = "document:analyze"
	TypeAnalyzeBatch    = "document:batch"
)

const (
	defaultMaxRetry  = 3
	defaultRetention = 24 * time.Hour
)

// Analysis modes of a document:analyze task
const (
	// ModeBest walks the engines in preference order (default)
	ModeBest = "best"
	// ModeCompare runs every available engine and reports each outcome
	ModeCompare = "compare"
)

// TaskOptions overrides the worker's default OCR options. Omitted fields keep
// the worker's value.
type TaskOptions struct {
	Language             *string  `json:"language,omitempty"`
	PageSegmentationMode *int     `json:"pageSegmentationMode,omitempty"`
	EngineMode           *int     `json:"engineMode,omitempty"`
	Confidence           *float64 `json:"confidence,omitempty"`
	PreserveLayout       *bool    `json:"preserveLayout,omitempty"`
	EnhanceImage         *bool    `json:"enhanceImage,omitempty"`
	DPI                  *int     `json:"dpi,omitempty"`
}

// Apply returns base with the set fields of o laid over it
func (o *TaskOptions) Apply(base ocr.Options) ocr.Options {
	if o == nil {
		return base.WithDefaults()
	}
	if o.Language != nil {
		base.Language = *o.Language
	}
	if o.PageSegmentationMode != nil {
		base.PageSegmentationMode = *o.PageSegmentationMode
	}
	if o.EngineMode != nil {
		base.EngineMode = *o.EngineMode
	}
	if o.Confidence != nil {
		base.Confidence = *o.Confidence
	}
	if o.PreserveLayout != nil {
		base.PreserveLayout = *o.PreserveLayout
	}
	if o.EnhanceImage != nil {
		base.EnhanceImage = *o.EnhanceImage
	}
	if o.DPI != nil {
		base.DPI = *o.DPI
	}
	return base.WithDefaults()
}

// AnalyzeTask is the payload of a document:analyze task
type AnalyzeTask struct {
	RecordID string           `json:"recordId"`
	Source   source.Reference `json:"source"`
	Mode     string           `json:"mode,omitempty"`
	Options  *TaskOptions     `json:"options,omitempty"`
}

// BatchDocument is one entry of a document:batch payload
type BatchDocument struct {
	ID     string           `json:"id"`
	Source source.Reference `json:"source"`
}

// BatchTask is the payload of a document:batch task
type BatchTask struct {
	Documents []BatchDocument `json:"documents"`
	Options   *TaskOptions    `json:"options,omitempty"`
}

// NewAnalyzeTask builds a document:analyze task
func NewAnalyzeTask(payload AnalyzeTask) (*asynq.Task, error) {
	if payload.Source.Kind == "" {
		return nil, fmt.Errorf("source kind is required")
	}
	switch payload.Mode {
	case "", ModeBest, ModeCompare:
	default:
		return nil, fmt.Errorf("unknown analysis mode %q", payload.Mode)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyze task: %w", err)
	}
	return asynq.NewTask(TypeAnalyzeDocument, data, asynq.MaxRetry(defaultMaxRetry)), nil
}

// NewBatchTask builds a document:batch task
func NewBatchTask(payload BatchTask) (*asynq.Task, error) {
	if len(payload.Documents) == 0 {
		return nil, fmt.Errorf("batch requires at least one document")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch task: %w", err)
	}
	return asynq.NewTask(TypeAnalyzeBatch, data, asynq.MaxRetry(defaultMaxRetry)), nil
}

// Enqueuer submits tasks to the worker queue
type Enqueuer struct {
	client    *asynq.Client
	queueName string
}

// NewEnqueuer creates an enqueuer for queueName
func NewEnqueuer(redisURL, queueName string) (*Enqueuer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Enqueuer{client: asynq.NewClient(redisOpt), queueName: queueName}, nil
}

// Enqueue submits a task built by NewAnalyzeTask or NewBatchTask. Results are
// kept for a day so callers can fetch them from the inspector.
func (e *Enqueuer) Enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(e.queueName),
		asynq.Retention(defaultRetention))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}
	return info, nil
}

// Close closes the underlying client
func (e *Enqueuer) Close() error {
	if err := e.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	return nil
}
