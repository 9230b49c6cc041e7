/**
 * OCR Orchestrator - engine selection, racing and batching
 *
 * Three modes over an ordered engine list (default documentai -> azureread ->
 * tesseract):
 * - best engine with fallback: walk the order, first result at or above the
 *   confidence threshold wins
 * - multiple engines: every available engine concurrently, highest confidence wins
 * - batch: fixed-size chunks, documents inside a chunk concurrently, chunks in sequence
 *
 * Availability is probed once per orchestration call and never cached across calls.
 */

package ocr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

// DefaultBatchChunkSize bounds concurrent documents per batch chunk
const DefaultBatchChunkSize = 3

// Orchestrator coordinates the configured engines
type Orchestrator struct {
	engines   []Engine
	chunkSize int
	logger    *logging.Logger
}

// OrchestratorConfig holds orchestrator configuration
type OrchestratorConfig struct {
	// Engines in preference order
	Engines        []Engine
	BatchChunkSize int
	Logger         *logging.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.BatchChunkSize <= 0 {
		cfg.BatchChunkSize = DefaultBatchChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("OCROrchestrator")
	}
	engines := make([]Engine, 0, len(cfg.Engines))
	for _, e := range cfg.Engines {
		if e != nil {
			engines = append(engines, e)
		}
	}
	return &Orchestrator{
		engines:   engines,
		chunkSize: cfg.BatchChunkSize,
		logger:    cfg.Logger,
	}
}

// EngineStatus is one entry of an availability snapshot
type EngineStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// Availability probes every engine once, in preference order
func (o *Orchestrator) Availability(ctx context.Context) []EngineStatus {
	statuses := make([]EngineStatus, 0, len(o.engines))
	for _, e := range o.engines {
		statuses = append(statuses, EngineStatus{Name: e.Name(), Available: e.IsAvailable(ctx)})
	}
	return statuses
}

// available returns the engines whose probe succeeded for this call
func (o *Orchestrator) available(ctx context.Context) []Engine {
	var engines []Engine
	for _, e := range o.engines {
		if e.IsAvailable(ctx) {
			engines = append(engines, e)
			continue
		}
		o.logger.Debug("Engine unavailable, skipping", "engine", e.Name(), "jobId", JobIDFromContext(ctx))
	}
	return engines
}

// ProcessWithBestEngine walks the preference order and returns the first
// result whose confidence reaches opts.Confidence
func (o *Orchestrator) ProcessWithBestEngine(ctx context.Context, image []byte, opts Options) (*Result, error) {
	res, _, err := o.bestEngine(ctx, o.available(ctx), image, opts)
	return res, err
}

// bestEngine is ProcessWithBestEngine over a fixed availability snapshot.
// When nothing qualifies, the highest below-threshold result is returned
// alongside the terminal error so batch mode can report it as low confidence.
func (o *Orchestrator) bestEngine(ctx context.Context, engines []Engine, image []byte, opts Options) (*Result, *Result, error) {
	opts = opts.WithDefaults()
	jobID := JobIDFromContext(ctx)

	if len(engines) == 0 {
		o.logger.Error("No OCR engine available", "jobId", jobID)
		return nil, nil, apperrors.NewNoEngineAvailableError(jobID)
	}

	var (
		lastErr   error
		bestLow   *Result
		attempted []string
	)

	for i, engine := range engines {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		attempted = append(attempted, engine.Name())
		o.logger.Info("Attempting OCR engine",
			"jobId", jobID,
			"engine", engine.Name(),
			"position", i+1)

		result, err := runEngine(ctx, engine, image, opts)
		if err != nil {
			lastErr = apperrors.NewEngineFailedError(engine.Name(), err)
			o.logger.Warn("OCR engine failed, trying next engine",
				"jobId", jobID,
				"engine", engine.Name(),
				"error", err)
			continue
		}

		if result.Confidence >= opts.Confidence {
			o.logger.Info("OCR engine result accepted",
				"jobId", jobID,
				"engine", engine.Name(),
				"confidence", result.Confidence,
				"threshold", opts.Confidence)
			return result, nil, nil
		}

		lastErr = fmt.Errorf("%s confidence %.2f below threshold %.2f", engine.Name(), result.Confidence, opts.Confidence)
		if bestLow == nil || result.Confidence > bestLow.Confidence {
			bestLow = result
		}
		o.logger.Warn("OCR engine confidence low, trying next engine",
			"jobId", jobID,
			"engine", engine.Name(),
			"confidence", result.Confidence,
			"threshold", opts.Confidence)
	}

	o.logger.Error("All OCR engines exhausted",
		"jobId", jobID,
		"engines", attempted,
		"lastError", lastErr)
	return nil, bestLow, apperrors.NewAllEnginesFailedError(jobID, attempted, lastErr)
}

// EngineOutcome records one engine's settled call in multi-engine mode
type EngineOutcome struct {
	Engine   string        `json:"engine"`
	Result   *Result       `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// MultiEngineResult is the joined outcome of every available engine
type MultiEngineResult struct {
	BestResult *Result         `json:"bestResult"`
	Results    []EngineOutcome `json:"results"`
}

// ProcessWithMultipleEngines runs every available engine concurrently and
// picks the highest-confidence success. It fails only if all engines fail.
func (o *Orchestrator) ProcessWithMultipleEngines(ctx context.Context, image []byte, opts Options) (*MultiEngineResult, error) {
	opts = opts.WithDefaults()
	jobID := JobIDFromContext(ctx)
	engines := o.available(ctx)

	if len(engines) == 0 {
		return nil, apperrors.NewNoEngineAvailableError(jobID)
	}

	outcomes := make([]EngineOutcome, len(engines))
	var wg sync.WaitGroup
	for i, engine := range engines {
		wg.Add(1)
		go func(i int, engine Engine) {
			defer wg.Done()
			start := time.Now()
			result, err := runEngine(ctx, engine, image, opts)
			outcome := EngineOutcome{Engine: engine.Name(), Result: result, Err: err, Duration: time.Since(start)}
			if err != nil {
				outcome.Result = nil
				outcome.Error = err.Error()
			}
			outcomes[i] = outcome
		}(i, engine)
	}
	wg.Wait()

	multi := &MultiEngineResult{Results: outcomes}
	var lastErr error
	var names []string
	for _, out := range outcomes {
		names = append(names, out.Engine)
		if out.Err != nil {
			lastErr = apperrors.NewEngineFailedError(out.Engine, out.Err)
			o.logger.Warn("OCR engine failed in multi-engine run",
				"jobId", jobID,
				"engine", out.Engine,
				"error", out.Err)
			continue
		}
		if multi.BestResult == nil || out.Result.Confidence > multi.BestResult.Confidence {
			multi.BestResult = out.Result
		}
	}

	if multi.BestResult == nil {
		return multi, apperrors.NewAllEnginesFailedError(jobID, names, lastErr)
	}

	o.logger.Info("Multi-engine run complete",
		"jobId", jobID,
		"engines", len(engines),
		"bestEngine", multi.BestResult.Metadata.EngineUsed,
		"bestConfidence", multi.BestResult.Confidence)
	return multi, nil
}

// runEngine isolates one engine call: panics become errors and the result is normalised
func runEngine(ctx context.Context, engine Engine, image []byte, opts Options) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("engine %s panicked: %v", engine.Name(), r)
		}
	}()

	start := time.Now()
	result, err = engine.Process(ctx, image, opts)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("engine %s returned no result", engine.Name())
	}

	result.Confidence = clamp01(result.Confidence)
	if result.Metadata.EngineUsed == "" {
		result.Metadata.EngineUsed = engine.Name()
	}
	if result.Metadata.ProcessingTime == 0 {
		result.Metadata.ProcessingTime = time.Since(start)
	}
	return result, nil
}

// Batch item statuses
const (
	BatchStatusSuccess       = "success"
	BatchStatusLowConfidence = "low_confidence"
	BatchStatusFailed        = "failed"
)

// BatchDocument is one input of ProcessBatch
type BatchDocument struct {
	ID    string `json:"id"`
	Image []byte `json:"-"`
}

// BatchItem is the per-document outcome of ProcessBatch
type BatchItem struct {
	ID             string        `json:"id"`
	Status         string        `json:"status"`
	Result         *Result       `json:"result,omitempty"`
	Error          string        `json:"error,omitempty"`
	ProcessingTime time.Duration `json:"processingTime"`
}

// BatchSummary aggregates a batch run
type BatchSummary struct {
	TotalDocuments         int           `json:"totalDocuments"`
	SuccessfulDocuments    int           `json:"successfulDocuments"`
	LowConfidenceDocuments int           `json:"lowConfidenceDocuments"`
	FailedDocuments        int           `json:"failedDocuments"`
	AverageConfidence      float64       `json:"averageConfidence"`
	TotalProcessingTime    time.Duration `json:"totalProcessingTime"`
}

// BatchResult is the output of ProcessBatch
type BatchResult struct {
	BatchID string       `json:"batchId"`
	Items   []BatchItem  `json:"items"`
	Summary BatchSummary `json:"summary"`
}

// ProcessBatch processes documents in chunks of the configured size. A failing
// document is recorded and never aborts the batch.
func (o *Orchestrator) ProcessBatch(ctx context.Context, docs []BatchDocument, opts Options) *BatchResult {
	start := time.Now()
	batch := &BatchResult{
		BatchID: uuid.New().String(),
		Items:   make([]BatchItem, len(docs)),
	}

	o.logger.Info("Starting OCR batch",
		"batchId", batch.BatchID,
		"documents", len(docs),
		"chunkSize", o.chunkSize)

	// One availability snapshot for the whole batch call
	engines := o.available(ctx)

	for chunkStart := 0; chunkStart < len(docs); chunkStart += o.chunkSize {
		chunkEnd := chunkStart + o.chunkSize
		if chunkEnd > len(docs) {
			chunkEnd = len(docs)
		}

		var wg sync.WaitGroup
		for i := chunkStart; i < chunkEnd; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				batch.Items[i] = o.processBatchItem(ctx, engines, docs[i], opts)
			}(i)
		}
		wg.Wait()

		o.logger.Debug("OCR batch chunk complete",
			"batchId", batch.BatchID,
			"from", chunkStart,
			"to", chunkEnd)
	}

	batch.Summary = summarize(batch.Items, time.Since(start))

	o.logger.Info("OCR batch complete",
		"batchId", batch.BatchID,
		"successful", batch.Summary.SuccessfulDocuments,
		"lowConfidence", batch.Summary.LowConfidenceDocuments,
		"failed", batch.Summary.FailedDocuments,
		"averageConfidence", batch.Summary.AverageConfidence)

	return batch
}

func (o *Orchestrator) processBatchItem(ctx context.Context, engines []Engine, doc BatchDocument, opts Options) (item BatchItem) {
	start := time.Now()
	item = BatchItem{ID: doc.ID}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	defer func() {
		if r := recover(); r != nil {
			item.Status = BatchStatusFailed
			item.Result = nil
			item.Error = fmt.Sprintf("document processing panicked: %v", r)
		}
		item.ProcessingTime = time.Since(start)
	}()

	itemCtx := WithJobID(ctx, item.ID)
	result, low, err := o.bestEngine(itemCtx, engines, doc.Image, opts)
	switch {
	case err == nil:
		item.Status = BatchStatusSuccess
		item.Result = result
	case low != nil:
		item.Status = BatchStatusLowConfidence
		item.Result = low
		item.Error = err.Error()
	default:
		item.Status = BatchStatusFailed
		item.Error = err.Error()
	}
	return item
}

func summarize(items []BatchItem, elapsed time.Duration) BatchSummary {
	summary := BatchSummary{
		TotalDocuments:      len(items),
		TotalProcessingTime: elapsed,
	}

	var confSum float64
	var withResult int
	for _, item := range items {
		switch item.Status {
		case BatchStatusSuccess:
			summary.SuccessfulDocuments++
		case BatchStatusLowConfidence:
			summary.LowConfidenceDocuments++
		default:
			summary.FailedDocuments++
		}
		if item.Result != nil {
			confSum += item.Result.Confidence
			withResult++
		}
	}
	if withResult > 0 {
		summary.AverageConfidence = confSum / float64(withResult)
	}
	return summary
}

type jobIDKey struct{}

// WithJobID tags ctx so engine and orchestrator logs carry the job ID
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFromContext returns the job ID set by WithJobID, or ""
func JobIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(jobIDKey{}).(string); ok {
		return id
	}
	return ""
}
