package storage

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/docintel-worker/internal/classifier"
	"github.com/adverant/nexus/docintel-worker/internal/enhancer"
	"github.com/adverant/nexus/docintel-worker/internal/ocr"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
	"github.com/adverant/nexus/docintel-worker/internal/quality"
)

func TestSanitizeConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.9632000000000001, 0.9632},
		{0.12346, 0.1235},
		{-0.5, 0},
		{1.7, 1},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := sanitizeConfidence(tt.in); got != tt.want {
			t.Errorf("sanitizeConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeJSONForPostgres(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"control characters", `{"text":"a\u0000b\u0007c<d"}`, `{"text":"ab c<d"}`},
		{"literal backslash-u in text", `{"text":"C:\\u0000x"}`, `{"text":"C:\\u0000x"}`},
		{"escaped escape sequence", `{"text":"see \\u001b"}`, `{"text":"see \\u001b"}`},
		{"backslash before quote", `{"text":"C:\\u0000\""}`, `{"text":"C:\\u0000\""}`},
		{"nested values and keys", `{"a\u0001":[{"b":"x\u0000\ny"}],"n":0.8765}`, `{"a ":[{"b":"x\ny"}],"n":0.8765}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sanitizeJSONForPostgres([]byte(tt.in))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if !json.Valid(got) {
				t.Errorf("output is not valid JSON: %s", got)
			}
		})
	}

	if _, err := sanitizeJSONForPostgres([]byte(`{"text":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestSanitizeRecordWithWindowsPath(t *testing.T) {
	record := sampleRecord()
	record.OCR.Text = "path C:\\users\\new\u0000 done"

	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	clean, err := sanitizeJSONForPostgres(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded pipeline.DocumentRecord
	if err := json.Unmarshal(clean, &decoded); err != nil {
		t.Fatalf("sanitized record does not decode: %v", err)
	}
	if decoded.OCR.Text != "path C:\\users\\new done" {
		t.Errorf("unexpected text %q", decoded.OCR.Text)
	}
}

func sampleRecord() *pipeline.DocumentRecord {
	text := "فاتورة ضريبية رقم 1001"
	return &pipeline.DocumentRecord{
		ID:             "rec-1",
		ContentHash:    "abc",
		MimeType:       "image/png",
		Status:         pipeline.StatusSuccess,
		OCR:            &ocr.Result{Text: text, Confidence: 0.87654, Metadata: ocr.Metadata{EngineUsed: ocr.EngineTesseract}},
		Enhancement:    enhancer.EnhanceText(text, enhancer.DefaultOptions()),
		Classification: &classifier.Result{DocumentType: classifier.DocumentType{ID: "invoice"}, Confidence: 0.61},
		Quality: &quality.Result{
			OverallQuality:    quality.Scores{Overall: 0.55},
			QualityGrade:      quality.GradeF,
			NeedsManualReview: true,
			Issues: []quality.Issue{
				{Type: quality.IssueMissingContent},
				{Type: quality.IssueLowConfidence},
			},
			Recommendations: []string{"rescan"},
		},
		ProcessingTime: 1500 * time.Millisecond,
	}
}

func TestProjectRecord(t *testing.T) {
	row := projectRecord(sampleRecord())

	if row.EngineUsed != ocr.EngineTesseract || row.OCRConfidence != 0.8765 {
		t.Errorf("unexpected OCR projection %+v", row)
	}
	if row.DocumentType != "invoice" || row.ClassificationConfidence != 0.61 {
		t.Errorf("unexpected classification projection %+v", row)
	}
	if row.QualityGrade != "F" || !row.NeedsManualReview || row.QualityOverall != 0.55 {
		t.Errorf("unexpected quality projection %+v", row)
	}
	if len(row.IssueTypes) != 2 || row.IssueTypes[0] != string(quality.IssueMissingContent) {
		t.Errorf("unexpected issue types %v", row.IssueTypes)
	}
	if row.ProcessingTimeMs != 1500 {
		t.Errorf("expected 1500ms, got %d", row.ProcessingTimeMs)
	}
}

func TestProjectRecordWithoutStages(t *testing.T) {
	row := projectRecord(&pipeline.DocumentRecord{ID: "x", Status: pipeline.StatusFailed})
	if row.IssueTypes == nil || row.Recommendations == nil {
		t.Error("arrays must be empty, not nil, so NOT NULL columns accept them")
	}
	if row.DocumentType != "" || row.QualityGrade != "" {
		t.Errorf("unexpected projection %+v", row)
	}
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestTrigramVector(t *testing.T) {
	base := "عقد عمل بين الشركة والموظف يحدد الراتب الشهري والمهام"
	noisy := "عقد عمل بين الشركه والموظف يحدد الراتب الشهرى والمهام"
	other := "Invoice number 1001 total amount due 40.00"

	a := TrigramVector(base, TrigramDimensions)
	if len(a) != TrigramDimensions {
		t.Fatalf("expected %d dimensions, got %d", TrigramDimensions, len(a))
	}
	if math.Abs(cosine(a, a)-1) > 1e-5 {
		t.Errorf("vector is not unit length: %v", cosine(a, a))
	}

	simNoisy := cosine(a, TrigramVector(noisy, TrigramDimensions))
	simOther := cosine(a, TrigramVector(other, TrigramDimensions))
	if simNoisy <= simOther {
		t.Errorf("noisy rescan (%.3f) should be closer than unrelated text (%.3f)", simNoisy, simOther)
	}
	if simNoisy < 0.7 {
		t.Errorf("expected noisy rescan to stay close, got %.3f", simNoisy)
	}

	if got := cosine(a, TrigramVector("  "+base+"!!", TrigramDimensions)); math.Abs(got-1) > 1e-5 {
		t.Errorf("punctuation and padding must not change the vector, got %.5f", got)
	}
	if TrigramVector("ab", TrigramDimensions) != nil || TrigramVector("", 0) != nil {
		t.Error("short text must yield nil")
	}
}

func TestPointIDFor(t *testing.T) {
	id := uuid.New().String()
	if PointIDFor(id) != id {
		t.Error("UUID record IDs must be kept")
	}
	first := PointIDFor("batch-doc-7")
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("expected a UUID, got %q", first)
	}
	if PointIDFor("batch-doc-7") != first || PointIDFor("batch-doc-8") == first {
		t.Error("derived IDs must be stable and distinct")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"record_id":  "rec-1",
		"created_at": int64(1700000000),
		"count":      3,
		"score":      0.5,
		"flag":       true,
		"other":      []string{"x"},
	}
	out := fromPayload(toPayload(in))

	if out["record_id"] != "rec-1" || out["created_at"] != int64(1700000000) || out["count"] != int64(3) {
		t.Errorf("unexpected round trip %v", out)
	}
	if out["score"] != 0.5 || out["flag"] != true || out["other"] != "[x]" {
		t.Errorf("unexpected round trip %v", out)
	}
}

func TestIndexText(t *testing.T) {
	record := sampleRecord()
	if got := indexText(record); got != record.Enhancement.PlainText() {
		t.Errorf("expected enhanced text, got %q", got)
	}
	record.Enhancement = nil
	if got := indexText(record); got != record.OCR.Text {
		t.Errorf("expected OCR text fallback, got %q", got)
	}
}

func TestFindSimilarWithoutIndex(t *testing.T) {
	sm := &StorageManager{}
	got, err := sm.FindSimilar(context.Background(), "some document text", 5, 0)
	if err != nil || got != nil {
		t.Errorf("expected no results without an index, got %v, %v", got, err)
	}
}
