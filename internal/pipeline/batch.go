package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/docintel-worker/internal/ocr"
)

// BatchEntry is the per-document outcome of AnalyzeBatch
type BatchEntry struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Record *DocumentRecord `json:"record,omitempty"`
}

// BatchReport is the output of AnalyzeBatch
type BatchReport struct {
	BatchID string           `json:"batchId"`
	Entries []BatchEntry     `json:"entries"`
	Summary ocr.BatchSummary `json:"summary"`
}

// AnalyzeBatch validates every document, sends the valid ones through the
// orchestrator's chunked batch mode and runs the text stages for each item
// that produced a result. Entries keep the input order. Invalid documents
// count as failed without reaching an engine, and documents already in the
// cache take the cached record without reaching one either.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, docs []ocr.BatchDocument, opts ocr.Options) *BatchReport {
	startTime := time.Now()

	entries := make([]BatchEntry, len(docs))
	mimeTypes := make([]string, len(docs))
	valid := make([]ocr.BatchDocument, 0, len(docs))
	positions := make([]int, 0, len(docs))

	for i, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.New().String()
		}
		entries[i].ID = doc.ID

		mimeType, err := a.validate(doc.ID, doc.Image)
		if err != nil {
			entries[i].Status = StatusFailed
			entries[i].Error = err.Error()
			continue
		}
		if cached := a.lookup(ctx, ContentHash(doc.Image), a.logger.With("recordId", doc.ID)); cached != nil {
			entries[i].Status = cached.Status
			entries[i].Record = cached
			continue
		}
		mimeTypes[i] = mimeType
		valid = append(valid, doc)
		positions = append(positions, i)
	}

	batch := a.orchestrator.ProcessBatch(ctx, valid, opts)
	report := &BatchReport{BatchID: batch.BatchID, Entries: entries}

	for k, item := range batch.Items {
		i := positions[k]
		entry := &report.Entries[i]
		entry.Status = item.Status
		entry.Error = item.Error
		if item.Result == nil {
			continue
		}

		record := a.buildRecord(item.ID, ContentHash(docs[i].Image), mimeTypes[i], item.Status, item.Result, docs[i].Image)
		record.ProcessingTime = item.ProcessingTime
		if err := a.persist(ctx, record); err != nil {
			entry.Status = StatusFailed
			entry.Error = err.Error()
			continue
		}
		entry.Record = record
	}

	report.Summary = summarizeEntries(report.Entries, time.Since(startTime))

	a.logger.Info("Batch analyzed",
		"batchId", report.BatchID,
		"documents", report.Summary.TotalDocuments,
		"successful", report.Summary.SuccessfulDocuments,
		"lowConfidence", report.Summary.LowConfidenceDocuments,
		"failed", report.Summary.FailedDocuments)

	return report
}

// summarizeEntries recounts after validation and persistence may have failed
// documents the orchestrator never saw
func summarizeEntries(entries []BatchEntry, elapsed time.Duration) ocr.BatchSummary {
	summary := ocr.BatchSummary{
		TotalDocuments:      len(entries),
		TotalProcessingTime: elapsed,
	}

	var confSum float64
	var withResult int
	for _, e := range entries {
		switch e.Status {
		case StatusSuccess:
			summary.SuccessfulDocuments++
		case StatusLowConfidence:
			summary.LowConfidenceDocuments++
		default:
			summary.FailedDocuments++
		}
		if e.Record != nil && e.Record.OCR != nil {
			confSum += e.Record.OCR.Confidence
			withResult++
		}
	}
	if withResult > 0 {
		summary.AverageConfidence = confSum / float64(withResult)
	}
	return summary
}
