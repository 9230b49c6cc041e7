/**
 * Document Analyzer - end to end pipeline for a single document
 *
 * Steps:
 * 1. Validate the image container from magic bytes (raster images only)
 * 2. OCR through the orchestrator (best engine with fallback)
 * 3. Arabic text enhancement
 * 4. Document classification on the enhanced text
 * 5. Quality assessment
 * 6. Persist and cache the record (both collaborators optional)
 *
 * CompareEngines replaces step 2 with a concurrent run of every engine.
 */

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/docintel-worker/internal/classifier"
	"github.com/adverant/nexus/docintel-worker/internal/enhancer"
	apperrors "github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/ocr"
	"github.com/adverant/nexus/docintel-worker/internal/quality"
)

// Record statuses mirror the orchestrator batch statuses
const (
	StatusSuccess       = ocr.BatchStatusSuccess
	StatusLowConfidence = ocr.BatchStatusLowConfidence
	StatusFailed        = ocr.BatchStatusFailed
)

// DocumentRecord is the persisted outcome of analyzing one document
type DocumentRecord struct {
	ID             string             `json:"id"`
	ContentHash    string             `json:"contentHash"`
	MimeType       string             `json:"mimeType"`
	Status         string             `json:"status"`
	OCR            *ocr.Result        `json:"ocr"`
	Enhancement    *enhancer.Result   `json:"enhancement"`
	Classification *classifier.Result `json:"classification"`
	Quality        *quality.Result    `json:"quality"`
	ProcessingTime time.Duration      `json:"processingTime"`
	CreatedAt      time.Time          `json:"createdAt"`
}

// Store persists analyzed records
type Store interface {
	SaveRecord(ctx context.Context, record *DocumentRecord) error
}

// Cache short-circuits repeated analysis of identical content
type Cache interface {
	Get(ctx context.Context, contentHash string) (*DocumentRecord, bool, error)
	Put(ctx context.Context, record *DocumentRecord) error
}

// Analyzer runs the full document pipeline
type Analyzer struct {
	orchestrator   *ocr.Orchestrator
	classifier     *classifier.Classifier
	store          Store
	cache          Cache
	enhanceOptions enhancer.Options
	maxFileSize    int64
	logger         *logging.Logger
}

// AnalyzerConfig holds analyzer configuration
type AnalyzerConfig struct {
	Orchestrator *ocr.Orchestrator
	// Classifier defaults to one over the embedded catalog
	Classifier *classifier.Classifier
	// Store and Cache may be nil
	Store Store
	Cache Cache
	// EnhanceOptions defaults to enhancer.DefaultOptions()
	EnhanceOptions *enhancer.Options
	// MaxFileSize rejects larger inputs when positive
	MaxFileSize int64
	Logger      *logging.Logger
}

// NewAnalyzer creates a document analyzer
func NewAnalyzer(cfg AnalyzerConfig) (*Analyzer, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classifier.NewClassifier(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("Analyzer")
	}
	opts := enhancer.DefaultOptions()
	if cfg.EnhanceOptions != nil {
		opts = *cfg.EnhanceOptions
	}

	return &Analyzer{
		orchestrator:   cfg.Orchestrator,
		classifier:     cfg.Classifier,
		store:          cfg.Store,
		cache:          cfg.Cache,
		enhanceOptions: opts,
		maxFileSize:    cfg.MaxFileSize,
		logger:         cfg.Logger,
	}, nil
}

// ContentHash is the hex SHA-256 of the document bytes
func ContentHash(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// Analyze runs OCR, enhancement, classification and quality assessment for
// one document. An empty id gets a generated uuid.
func (a *Analyzer) Analyze(ctx context.Context, id string, image []byte, opts ocr.Options) (*DocumentRecord, error) {
	startTime := time.Now()
	if id == "" {
		id = uuid.New().String()
	}
	log := a.logger.With("recordId", id)

	mimeType, err := a.validate(id, image)
	if err != nil {
		log.Warn("Rejected document", "error", err.Error())
		return nil, err
	}

	hash := ContentHash(image)
	if cached := a.lookup(ctx, hash, log); cached != nil {
		return cached, nil
	}

	log.Info("Analyzing document", "mimeType", mimeType, "sizeBytes", len(image))

	result, err := a.orchestrator.ProcessWithBestEngine(ocr.WithJobID(ctx, id), image, opts)
	if err != nil {
		log.WithError(err).Error("OCR failed")
		return nil, err
	}

	record := a.buildRecord(id, hash, mimeType, StatusSuccess, result, image)
	record.ProcessingTime = time.Since(startTime)

	if err := a.persist(ctx, record); err != nil {
		return nil, err
	}

	log.Info("Document analyzed",
		"documentType", record.Classification.DocumentType.ID,
		"grade", record.Quality.QualityGrade,
		"engine", result.Metadata.EngineUsed,
		"duration", record.ProcessingTime.String())

	return record, nil
}

// EngineComparison is the output of CompareEngines: the record built from the
// best engine's text and every engine's own outcome
type EngineComparison struct {
	Record  *DocumentRecord     `json:"record"`
	Engines []ocr.EngineOutcome `json:"engines"`
}

// CompareEngines runs every available engine on the document concurrently,
// builds and persists the record from the highest-confidence result and
// reports each engine's outcome. The cache is not consulted, so every call
// runs the engines afresh.
func (a *Analyzer) CompareEngines(ctx context.Context, id string, image []byte, opts ocr.Options) (*EngineComparison, error) {
	startTime := time.Now()
	if id == "" {
		id = uuid.New().String()
	}
	log := a.logger.With("recordId", id)

	mimeType, err := a.validate(id, image)
	if err != nil {
		log.Warn("Rejected document", "error", err.Error())
		return nil, err
	}

	multi, err := a.orchestrator.ProcessWithMultipleEngines(ocr.WithJobID(ctx, id), image, opts)
	if err != nil {
		log.WithError(err).Error("Multi-engine OCR failed")
		return nil, err
	}

	status := StatusSuccess
	if multi.BestResult.Confidence < opts.WithDefaults().Confidence {
		status = StatusLowConfidence
	}
	record := a.buildRecord(id, ContentHash(image), mimeType, status, multi.BestResult, image)
	record.ProcessingTime = time.Since(startTime)
	if err := a.persist(ctx, record); err != nil {
		return nil, err
	}

	log.Info("Engines compared",
		"engines", len(multi.Results),
		"bestEngine", multi.BestResult.Metadata.EngineUsed,
		"bestConfidence", multi.BestResult.Confidence,
		"duration", record.ProcessingTime.String())

	return &EngineComparison{Record: record, Engines: multi.Results}, nil
}

// validate enforces the size limit and accepts raster images only. PDFs are
// rejected because rasterization happens upstream.
func (a *Analyzer) validate(id string, image []byte) (string, error) {
	if len(image) == 0 {
		return "", apperrors.NewInvalidInputError(id, "document is empty")
	}
	if a.maxFileSize > 0 && int64(len(image)) > a.maxFileSize {
		return "", apperrors.NewInvalidInputError(id,
			fmt.Sprintf("document size %d exceeds maximum %d bytes", len(image), a.maxFileSize))
	}
	mimeType := ocr.DetectMimeType(image)
	if !ocr.IsRecognizableImage(mimeType) {
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		return "", apperrors.NewUnsupportedFormatError(id, mimeType)
	}
	return mimeType, nil
}

func (a *Analyzer) lookup(ctx context.Context, hash string, log *logging.Logger) *DocumentRecord {
	if a.cache == nil {
		return nil
	}
	cached, ok, err := a.cache.Get(ctx, hash)
	if err != nil {
		log.WithError(err).Warn("Cache lookup failed, analyzing anyway")
		return nil
	}
	if !ok {
		return nil
	}
	log.Info("Cache hit", "contentHash", hash, "cachedId", cached.ID)
	return cached
}

// buildRecord runs the text stages over an OCR result
func (a *Analyzer) buildRecord(id, hash, mimeType, status string, result *ocr.Result, image []byte) *DocumentRecord {
	if result.Metadata.ImageMetadata.Format == "" {
		result.Metadata.ImageMetadata.Format = mimeType
	}
	if result.Metadata.ImageMetadata.SizeBytes == 0 {
		result.Metadata.ImageMetadata.SizeBytes = len(image)
	}

	enh := enhancer.EnhanceText(result.Text, a.enhanceOptions)
	cls := a.classifier.ClassifyDocument(enh.PlainText(), nil, &result.Metadata.ImageMetadata)
	assessment := quality.AssessQuality(result, cls, enh, image)

	return &DocumentRecord{
		ID:             id,
		ContentHash:    hash,
		MimeType:       mimeType,
		Status:         status,
		OCR:            result,
		Enhancement:    enh,
		Classification: cls,
		Quality:        assessment,
		CreatedAt:      time.Now().UTC(),
	}
}

// persist stores the record and then caches it. A storage failure fails the
// document; a cache failure is only logged.
func (a *Analyzer) persist(ctx context.Context, record *DocumentRecord) error {
	if a.store != nil {
		if err := a.store.SaveRecord(ctx, record); err != nil {
			a.logger.WithError(err).Error("Failed to persist record", "recordId", record.ID)
			return apperrors.NewStorageFailedError(record.ID, err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Put(ctx, record); err != nil {
			a.logger.WithError(err).Warn("Failed to cache record", "recordId", record.ID)
		}
	}
	return nil
}

// Availability exposes the orchestrator's engine snapshot
func (a *Analyzer) Availability(ctx context.Context) []ocr.EngineStatus {
	return a.orchestrator.Availability(ctx)
}
