package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	apperrors "github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/ocr"
)

var pngImage = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x01}

const contractText = "عقد راتب مهام إنهاء\n1. أولا\n2. ثانيا\n3. ثالثا"

type stubEngine struct {
	text       string
	confidence float64
	err        error
}

func (s *stubEngine) Name() string                         { return "stub" }
func (s *stubEngine) IsAvailable(ctx context.Context) bool { return true }

func (s *stubEngine) Process(ctx context.Context, image []byte, opts ocr.Options) (*ocr.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	if string(image[len(image)-1:]) == "x" {
		return nil, errors.New("unreadable")
	}
	return &ocr.Result{
		Text:       s.text,
		Confidence: s.confidence,
		Metadata:   ocr.Metadata{EngineUsed: "stub"},
	}, nil
}

type memoryStore struct {
	mu      sync.Mutex
	records map[string]*DocumentRecord
	err     error
}

func (m *memoryStore) SaveRecord(ctx context.Context, record *DocumentRecord) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]*DocumentRecord)
	}
	m.records[record.ID] = record
	return nil
}

type memoryCache struct {
	mu     sync.Mutex
	byHash map[string]*DocumentRecord
	puts   int
}

func (m *memoryCache) Get(ctx context.Context, hash string) (*DocumentRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byHash[hash]
	return r, ok, nil
}

func (m *memoryCache) Put(ctx context.Context, record *DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byHash == nil {
		m.byHash = make(map[string]*DocumentRecord)
	}
	m.byHash[record.ContentHash] = record
	m.puts++
	return nil
}

func newTestAnalyzer(t *testing.T, engine ocr.Engine, store Store, cache Cache) *Analyzer {
	t.Helper()
	logger := logging.NewTestLogger("test", io.Discard)
	orch := ocr.NewOrchestrator(ocr.OrchestratorConfig{Engines: []ocr.Engine{engine}, BatchChunkSize: 2, Logger: logger})
	a, err := NewAnalyzer(AnalyzerConfig{Orchestrator: orch, Store: store, Cache: cache, Logger: logger})
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	return a
}

func TestNewAnalyzerRequiresOrchestrator(t *testing.T) {
	if _, err := NewAnalyzer(AnalyzerConfig{}); err == nil {
		t.Fatal("expected error without orchestrator")
	}
}

func TestAnalyzeRunsAllStages(t *testing.T) {
	store := &memoryStore{}
	a := newTestAnalyzer(t, &stubEngine{text: contractText, confidence: 0.9}, store, nil)

	record, err := a.Analyze(context.Background(), "", pngImage, ocr.DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if record.ID == "" || record.ContentHash != ContentHash(pngImage) {
		t.Errorf("unexpected identity %q / %q", record.ID, record.ContentHash)
	}
	if record.MimeType != "image/png" || record.Status != StatusSuccess {
		t.Errorf("unexpected mime/status %s / %s", record.MimeType, record.Status)
	}
	if record.OCR == nil || record.Enhancement == nil || record.Classification == nil || record.Quality == nil {
		t.Fatalf("missing stage output: %+v", record)
	}
	if record.OCR.Metadata.ImageMetadata.SizeBytes != len(pngImage) {
		t.Errorf("expected image size to be filled, got %d", record.OCR.Metadata.ImageMetadata.SizeBytes)
	}
	if record.Classification.DocumentType.ID != "employment_contract" {
		t.Errorf("expected employment_contract, got %s", record.Classification.DocumentType.ID)
	}
	if _, ok := store.records[record.ID]; !ok {
		t.Error("record was not persisted")
	}
}

func TestAnalyzeRejectsUnsupportedFormats(t *testing.T) {
	a := newTestAnalyzer(t, &stubEngine{text: "x", confidence: 0.9}, nil, nil)

	tests := []struct {
		name  string
		input []byte
		code  apperrors.ErrorCode
	}{
		{"pdf", []byte("%PDF-1.7 ..."), apperrors.ErrorUnsupportedFormat},
		{"unknown", []byte("plain text body"), apperrors.ErrorUnsupportedFormat},
		{"empty", nil, apperrors.ErrorInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Analyze(context.Background(), "doc", tt.input, ocr.DefaultOptions())
			if !apperrors.IsCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestAnalyzeStorageFailure(t *testing.T) {
	a := newTestAnalyzer(t, &stubEngine{text: contractText, confidence: 0.9}, &memoryStore{err: errors.New("db down")}, nil)

	_, err := a.Analyze(context.Background(), "doc", pngImage, ocr.DefaultOptions())
	if !apperrors.IsCode(err, apperrors.ErrorStorageFailed) {
		t.Errorf("expected storage failure, got %v", err)
	}
}

func TestAnalyzeUsesCache(t *testing.T) {
	cache := &memoryCache{}
	a := newTestAnalyzer(t, &stubEngine{text: contractText, confidence: 0.9}, nil, cache)

	first, err := a.Analyze(context.Background(), "first", pngImage, ocr.DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := a.Analyze(context.Background(), "second", pngImage, ocr.DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected cached record %s, got %s", first.ID, second.ID)
	}
	if cache.puts != 1 {
		t.Errorf("expected one cache write, got %d", cache.puts)
	}
}

func TestAnalyzeBelowThreshold(t *testing.T) {
	a := newTestAnalyzer(t, &stubEngine{text: contractText, confidence: 0.2}, nil, nil)
	if _, err := a.Analyze(context.Background(), "doc", pngImage, ocr.DefaultOptions()); err == nil {
		t.Fatal("expected error when no engine reaches the threshold")
	}
}

func TestAnalyzeBatch(t *testing.T) {
	store := &memoryStore{}
	a := newTestAnalyzer(t, &stubEngine{text: contractText, confidence: 0.9}, store, nil)

	unreadable := append(append([]byte{}, pngImage...), 'x')
	docs := []ocr.BatchDocument{
		{ID: "a", Image: pngImage},
		{ID: "b", Image: []byte("%PDF-1.4")},
		{ID: "c", Image: unreadable},
		{ID: "d", Image: pngImage},
	}

	report := a.AnalyzeBatch(context.Background(), docs, ocr.DefaultOptions())

	want := []string{StatusSuccess, StatusFailed, StatusFailed, StatusSuccess}
	if len(report.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(report.Entries))
	}
	for i, status := range want {
		if report.Entries[i].ID != docs[i].ID {
			t.Errorf("entry %d: order not preserved, got %s", i, report.Entries[i].ID)
		}
		if report.Entries[i].Status != status {
			t.Errorf("entry %d: expected %s, got %s (%s)", i, status, report.Entries[i].Status, report.Entries[i].Error)
		}
	}
	if report.Entries[0].Record == nil || report.Entries[1].Record != nil {
		t.Error("records must exist only for documents with results")
	}

	s := report.Summary
	if s.TotalDocuments != 4 || s.SuccessfulDocuments != 2 || s.FailedDocuments != 2 || s.LowConfidenceDocuments != 0 {
		t.Errorf("unexpected summary %+v", s)
	}
	if s.AverageConfidence != 0.9 {
		t.Errorf("expected average confidence 0.9, got %v", s.AverageConfidence)
	}
	if len(store.records) != 2 {
		t.Errorf("expected 2 persisted records, got %d", len(store.records))
	}
}

func TestAnalyzeBatchLowConfidence(t *testing.T) {
	a := newTestAnalyzer(t, &stubEngine{text: contractText, confidence: 0.3}, nil, nil)

	report := a.AnalyzeBatch(context.Background(), []ocr.BatchDocument{{ID: "a", Image: pngImage}}, ocr.DefaultOptions())

	entry := report.Entries[0]
	if entry.Status != StatusLowConfidence {
		t.Fatalf("expected low_confidence, got %s", entry.Status)
	}
	if entry.Record == nil || entry.Record.Status != StatusLowConfidence || entry.Error == "" {
		t.Errorf("expected low confidence record with error, got %+v", entry)
	}
	if report.Summary.LowConfidenceDocuments != 1 {
		t.Errorf("unexpected summary %+v", report.Summary)
	}
}

type namedEngine struct {
	stubEngine
	name string
}

func (n *namedEngine) Name() string { return n.name }

func (n *namedEngine) Process(ctx context.Context, image []byte, opts ocr.Options) (*ocr.Result, error) {
	result, err := n.stubEngine.Process(ctx, image, opts)
	if result != nil {
		result.Metadata.EngineUsed = n.name
	}
	return result, err
}

func TestCompareEngines(t *testing.T) {
	logger := logging.NewTestLogger("test", io.Discard)
	orch := ocr.NewOrchestrator(ocr.OrchestratorConfig{
		Engines: []ocr.Engine{
			&namedEngine{name: "first", stubEngine: stubEngine{text: contractText, confidence: 0.6}},
			&namedEngine{name: "second", stubEngine: stubEngine{text: contractText, confidence: 0.95}},
			&namedEngine{name: "broken", stubEngine: stubEngine{err: errors.New("quota exceeded")}},
		},
		Logger: logger,
	})
	store := &memoryStore{}
	a, err := NewAnalyzer(AnalyzerConfig{Orchestrator: orch, Store: store, Logger: logger})
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}

	comparison, err := a.CompareEngines(context.Background(), "cmp-1", pngImage, ocr.DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comparison.Engines) != 3 {
		t.Fatalf("expected 3 engine outcomes, got %d", len(comparison.Engines))
	}
	if comparison.Engines[2].Error == "" || comparison.Engines[2].Result != nil {
		t.Errorf("expected the failing engine to report its error, got %+v", comparison.Engines[2])
	}
	record := comparison.Record
	if record.OCR.Metadata.EngineUsed != "second" || record.Status != StatusSuccess {
		t.Errorf("expected the record built from the best engine, got %s / %s", record.OCR.Metadata.EngineUsed, record.Status)
	}
	if _, ok := store.records["cmp-1"]; !ok {
		t.Error("comparison record was not persisted")
	}

	opts := ocr.DefaultOptions()
	opts.Confidence = 0.99
	comparison, err = a.CompareEngines(context.Background(), "cmp-2", pngImage, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comparison.Record.Status != StatusLowConfidence {
		t.Errorf("expected low_confidence below the threshold, got %s", comparison.Record.Status)
	}

	if _, err := a.CompareEngines(context.Background(), "cmp-3", []byte("%PDF-1.4"), opts); !apperrors.IsCode(err, apperrors.ErrorUnsupportedFormat) {
		t.Errorf("expected unsupported format, got %v", err)
	}
}

func TestAnalyzeBatchUsesCache(t *testing.T) {
	cache := &memoryCache{}
	a := newTestAnalyzer(t, &stubEngine{text: contractText, confidence: 0.9}, nil, cache)

	first, err := a.Analyze(context.Background(), "first", pngImage, ocr.DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	other := append(append([]byte{}, pngImage...), 'y')
	report := a.AnalyzeBatch(context.Background(), []ocr.BatchDocument{
		{ID: "a", Image: pngImage},
		{ID: "b", Image: other},
	}, ocr.DefaultOptions())

	if report.Entries[0].Record == nil || report.Entries[0].Record.ID != first.ID {
		t.Errorf("expected the cached record for a repeated document, got %+v", report.Entries[0])
	}
	if report.Entries[0].Status != StatusSuccess || report.Entries[1].Status != StatusSuccess {
		t.Errorf("unexpected statuses %s / %s", report.Entries[0].Status, report.Entries[1].Status)
	}
	if cache.puts != 2 {
		t.Errorf("expected only the new document to be cached, got %d writes", cache.puts)
	}
	if report.Summary.SuccessfulDocuments != 2 {
		t.Errorf("unexpected summary %+v", report.Summary)
	}
}
