/**
 * Storage Manager for the Document Intelligence Worker
 *
 * Coordinates PostgreSQL (records) and Qdrant (similarity vectors). The vector
 * is written first and removed again when the row insert fails, so the index
 * never points at a record that does not exist. Qdrant is optional.
 */

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
)

// DefaultDuplicateThreshold is the cosine similarity above which two
// documents are reported as near duplicates
const DefaultDuplicateThreshold = 0.92

// ErrRecordNotFound is returned by GetRecord for unknown IDs
var ErrRecordNotFound = errors.New("record not found")

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient
	logger   *logging.Logger
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	DatabaseURL string
	// QdrantAddress empty disables the similarity index
	QdrantAddress    string
	QdrantCollection string
	Logger           *logging.Logger
}

// SimilarDocument is one near-duplicate hit
type SimilarDocument struct {
	RecordID     string  `json:"recordId"`
	ContentHash  string  `json:"contentHash"`
	DocumentType string  `json:"documentType"`
	Similarity   float64 `json:"similarity"`
}

// NewStorageManager creates a new storage manager
func NewStorageManager(ctx context.Context, cfg StorageConfig) (*StorageManager, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("StorageManager")
	}

	postgres, err := NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}
	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close()
		return nil, err
	}

	sm := &StorageManager{postgres: postgres, logger: cfg.Logger}

	if cfg.QdrantAddress != "" {
		qdrant, err := NewQdrantClient(ctx, cfg.QdrantAddress, cfg.QdrantCollection, TrigramDimensions)
		if err != nil {
			postgres.Close() // Cleanup on failure
			return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
		}
		sm.qdrant = qdrant
	}

	return sm, nil
}

// indexText is the text a record is indexed by
func indexText(record *pipeline.DocumentRecord) string {
	if record.Enhancement != nil {
		return record.Enhancement.PlainText()
	}
	if record.OCR != nil {
		return record.OCR.Text
	}
	return ""
}

// SaveRecord persists the record and indexes its text
func (sm *StorageManager) SaveRecord(ctx context.Context, record *pipeline.DocumentRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("record ID is required")
	}

	// Step 1: index the vector (fails fast if the text is unusable)
	pointID := ""
	if sm.qdrant != nil {
		if vector := TrigramVector(indexText(record), TrigramDimensions); vector != nil {
			pointID = PointIDFor(record.ID)
			metadata := map[string]interface{}{
				"record_id":    record.ID,
				"content_hash": record.ContentHash,
				"created_at":   record.CreatedAt.Unix(),
			}
			if record.Classification != nil {
				metadata["document_type"] = record.Classification.DocumentType.ID
			}
			if err := sm.qdrant.UpsertVector(ctx, &VectorPoint{ID: pointID, Vector: vector, Metadata: metadata}); err != nil {
				return fmt.Errorf("failed to store vector in Qdrant: %w", err)
			}
		}
	}

	// Step 2: store the record
	if err := sm.postgres.SaveRecord(ctx, record); err != nil {
		if pointID != "" {
			// Rollback: Delete Qdrant point
			if delErr := sm.qdrant.DeleteVector(ctx, pointID); delErr != nil {
				sm.logger.WithError(delErr).Warn("Failed to roll back vector", "recordId", record.ID)
			}
		}
		return fmt.Errorf("failed to store record in PostgreSQL: %w", err)
	}

	return nil
}

// GetRecord retrieves a record by ID
func (sm *StorageManager) GetRecord(ctx context.Context, id string) (*pipeline.DocumentRecord, error) {
	return sm.postgres.GetRecord(ctx, id)
}

// ReviewQueue lists records flagged for manual review
func (sm *StorageManager) ReviewQueue(ctx context.Context, limit int) ([]*AnalysisRow, error) {
	return sm.postgres.ReviewQueue(ctx, limit)
}

// FindSimilar returns documents whose text is at least threshold-similar to
// text. threshold <= 0 takes DefaultDuplicateThreshold. Without a Qdrant
// index it returns nothing.
func (sm *StorageManager) FindSimilar(ctx context.Context, text string, limit int, threshold float64) ([]SimilarDocument, error) {
	if sm.qdrant == nil {
		return nil, nil
	}
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}

	vector := TrigramVector(text, TrigramDimensions)
	if vector == nil {
		return nil, nil
	}

	points, err := sm.qdrant.SearchVectors(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	var out []SimilarDocument
	for _, p := range points {
		if float64(p.Score) < threshold {
			continue
		}
		recordID, _ := p.Metadata["record_id"].(string)
		if recordID == "" {
			continue
		}
		hash, _ := p.Metadata["content_hash"].(string)
		docType, _ := p.Metadata["document_type"].(string)
		out = append(out, SimilarDocument{
			RecordID:     recordID,
			ContentHash:  hash,
			DocumentType: docType,
			Similarity:   float64(p.Score),
		})
	}
	return out, nil
}

// Ping checks every configured backend
func (sm *StorageManager) Ping(ctx context.Context) error {
	if err := sm.postgres.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if sm.qdrant != nil {
		if _, err := sm.qdrant.GetCollectionInfo(ctx); err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
	}
	return nil
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pgStats := sm.postgres.GetStats()

	stats := map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
	}

	if sm.qdrant != nil {
		qdrantStats, err := sm.qdrant.GetCollectionInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = qdrantStats
	}

	stats["collected_at"] = time.Now().UTC().Format(time.RFC3339)
	return stats, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}
	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}
	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}
	return nil
}

// sanitizeJSONForPostgres rewrites encoded JSON so JSONB accepts it. NUL is
// dropped from every string and the other C0 control characters, except tab,
// newline and carriage return, become spaces. Keys and values are cleaned on
// the decoded document so escapes inside the text survive as written.
func sanitizeJSONForPostgres(jsonBytes []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(sanitizeValue(doc)); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return sanitizeString(val)
	case []interface{}:
		for i := range val {
			val[i] = sanitizeValue(val[i])
		}
		return val
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[sanitizeString(k)] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func sanitizeString(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == 0:
			return -1
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20:
			return ' '
		}
		return r
	}, s)
}
