/**
 * PostgreSQL Client for the Document Intelligence Worker
 *
 * Persists one row per analyzed document in docintel.document_analyses.
 * Scalar columns carry what dashboards filter on; the full record is kept as
 * JSONB.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
)

// Schema creates the analyses table when missing
const Schema = `
CREATE SCHEMA IF NOT EXISTS docintel;

CREATE TABLE IF NOT EXISTS docintel.document_analyses (
	id                        TEXT PRIMARY KEY,
	content_hash              TEXT NOT NULL,
	mime_type                 TEXT NOT NULL,
	status                    TEXT NOT NULL,
	engine_used               TEXT,
	ocr_confidence            NUMERIC(5,4),
	document_type             TEXT,
	classification_confidence NUMERIC(5,4),
	quality_overall           NUMERIC(5,4),
	quality_grade             TEXT,
	needs_manual_review       BOOLEAN NOT NULL DEFAULT FALSE,
	issue_types               TEXT[] NOT NULL DEFAULT '{}',
	recommendations           TEXT[] NOT NULL DEFAULT '{}',
	processing_time_ms        BIGINT,
	record                    JSONB NOT NULL,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS document_analyses_content_hash_idx
	ON docintel.document_analyses (content_hash);
`

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// AnalysisRow is the scalar projection of a record
type AnalysisRow struct {
	ID                       string   `json:"id"`
	ContentHash              string   `json:"contentHash"`
	MimeType                 string   `json:"mimeType"`
	Status                   string   `json:"status"`
	EngineUsed               string   `json:"engineUsed"`
	OCRConfidence            float64  `json:"ocrConfidence"`
	DocumentType             string   `json:"documentType"`
	ClassificationConfidence float64  `json:"classificationConfidence"`
	QualityOverall           float64  `json:"qualityOverall"`
	QualityGrade             string   `json:"qualityGrade"`
	NeedsManualReview        bool     `json:"needsManualReview"`
	IssueTypes               []string `json:"issueTypes"`
	Recommendations          []string `json:"recommendations"`
	ProcessingTimeMs         int64    `json:"processingTimeMs"`
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0.0, 1.0] so it fits NUMERIC(5,4)
func sanitizeConfidence(confidence float64) float64 {
	if confidence != confidence || confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema applies Schema; every statement is idempotent
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// projectRecord flattens a record into its indexed columns
func projectRecord(record *pipeline.DocumentRecord) *AnalysisRow {
	row := &AnalysisRow{
		ID:               record.ID,
		ContentHash:      record.ContentHash,
		MimeType:         record.MimeType,
		Status:           record.Status,
		IssueTypes:       []string{},
		Recommendations:  []string{},
		ProcessingTimeMs: record.ProcessingTime.Milliseconds(),
	}
	if record.OCR != nil {
		row.EngineUsed = record.OCR.Metadata.EngineUsed
		row.OCRConfidence = sanitizeConfidence(record.OCR.Confidence)
	}
	if record.Classification != nil {
		row.DocumentType = record.Classification.DocumentType.ID
		row.ClassificationConfidence = sanitizeConfidence(record.Classification.Confidence)
	}
	if q := record.Quality; q != nil {
		row.QualityOverall = sanitizeConfidence(q.OverallQuality.Overall)
		row.QualityGrade = string(q.QualityGrade)
		row.NeedsManualReview = q.NeedsManualReview
		for _, issue := range q.Issues {
			row.IssueTypes = append(row.IssueTypes, string(issue.Type))
		}
		row.Recommendations = append(row.Recommendations, q.Recommendations...)
	}
	return row
}

// SaveRecord upserts a record by ID
func (p *PostgresClient) SaveRecord(ctx context.Context, record *pipeline.DocumentRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("record ID is required")
	}

	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	// PostgreSQL JSONB rejects \u0000 and friends, which OCR output can contain
	recordJSON, err = sanitizeJSONForPostgres(recordJSON)
	if err != nil {
		return fmt.Errorf("failed to sanitize record: %w", err)
	}

	row := projectRecord(record)

	query := `
		INSERT INTO docintel.document_analyses (
			id, content_hash, mime_type, status, engine_used,
			ocr_confidence, document_type, classification_confidence,
			quality_overall, quality_grade, needs_manual_review,
			issue_types, recommendations, processing_time_ms, record,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, NULLIF($5, ''),
			$6::NUMERIC(5,4), NULLIF($7, ''), $8::NUMERIC(5,4),
			$9::NUMERIC(5,4), NULLIF($10, ''), $11,
			$12, $13, NULLIF($14, 0), $15::jsonb,
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			mime_type = EXCLUDED.mime_type,
			status = EXCLUDED.status,
			engine_used = EXCLUDED.engine_used,
			ocr_confidence = EXCLUDED.ocr_confidence,
			document_type = EXCLUDED.document_type,
			classification_confidence = EXCLUDED.classification_confidence,
			quality_overall = EXCLUDED.quality_overall,
			quality_grade = EXCLUDED.quality_grade,
			needs_manual_review = EXCLUDED.needs_manual_review,
			issue_types = EXCLUDED.issue_types,
			recommendations = EXCLUDED.recommendations,
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, docintel.document_analyses.processing_time_ms),
			record = EXCLUDED.record,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		row.ID,                        // $1
		row.ContentHash,               // $2
		row.MimeType,                  // $3
		row.Status,                    // $4
		row.EngineUsed,                // $5
		row.OCRConfidence,             // $6
		row.DocumentType,              // $7
		row.ClassificationConfidence,  // $8
		row.QualityOverall,            // $9
		row.QualityGrade,              // $10
		row.NeedsManualReview,         // $11
		pq.Array(row.IssueTypes),      // $12
		pq.Array(row.Recommendations), // $13
		row.ProcessingTimeMs,          // $14
		string(recordJSON),            // $15
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to save record (id=%s, status=%s, grade=%s): %w",
			row.ID, row.Status, row.QualityGrade, err)
	}

	return nil
}

// GetRecord retrieves a record by ID
func (p *PostgresClient) GetRecord(ctx context.Context, id string) (*pipeline.DocumentRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("record ID is required")
	}

	var recordJSON []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT record FROM docintel.document_analyses WHERE id = $1`, id,
	).Scan(&recordJSON)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var record pipeline.DocumentRecord
	if err := json.Unmarshal(recordJSON, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &record, nil
}

// ReviewQueue lists records flagged for manual review, newest first
func (p *PostgresClient) ReviewQueue(ctx context.Context, limit int) ([]*AnalysisRow, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			id, content_hash, mime_type, status,
			COALESCE(engine_used, ''), COALESCE(ocr_confidence, 0),
			COALESCE(document_type, ''), COALESCE(classification_confidence, 0),
			COALESCE(quality_overall, 0), COALESCE(quality_grade, ''),
			needs_manual_review, issue_types, recommendations,
			COALESCE(processing_time_ms, 0)
		FROM docintel.document_analyses
		WHERE needs_manual_review
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query review queue: %w", err)
	}
	defer rows.Close()

	var out []*AnalysisRow
	for rows.Next() {
		var (
			row                     AnalysisRow
			issues, recommendations pq.StringArray
		)
		if err := rows.Scan(
			&row.ID, &row.ContentHash, &row.MimeType, &row.Status,
			&row.EngineUsed, &row.OCRConfidence,
			&row.DocumentType, &row.ClassificationConfidence,
			&row.QualityOverall, &row.QualityGrade,
			&row.NeedsManualReview, &issues, &recommendations,
			&row.ProcessingTimeMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan review row: %w", err)
		}
		row.IssueTypes = []string(issues)
		row.Recommendations = []string(recommendations)
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review queue: %w", err)
	}
	return out, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
