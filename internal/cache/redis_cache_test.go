package cache

import (
	"testing"

	"github.com/adverant/nexus/docintel-worker/internal/classifier"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
	"github.com/adverant/nexus/docintel-worker/internal/quality"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{recordKey("docintel", "abc"), "docintel:record:abc"},
		{gradesKey("docintel"), "docintel:stats:grades"},
		{typesKey("p"), "p:stats:types"},
		{recordsKey("p"), "p:stats:records"},
		{eventsChannel("docintel"), "docintel:events"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, tt.got)
		}
	}
}

func TestRecordEncoding(t *testing.T) {
	record := &pipeline.DocumentRecord{
		ID:             "rec-1",
		ContentHash:    pipeline.ContentHash([]byte("image")),
		Status:         pipeline.StatusSuccess,
		Classification: &classifier.Result{DocumentType: classifier.DocumentType{ID: "invoice"}},
		Quality:        &quality.Result{QualityGrade: quality.GradeB},
	}

	data, err := encodeRecord(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := decodeRecord(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != record.ID || decoded.ContentHash != record.ContentHash {
		t.Errorf("identity lost: %+v", decoded)
	}
	if decoded.Quality.QualityGrade != quality.GradeB || decoded.Classification.DocumentType.ID != "invoice" {
		t.Errorf("results lost: %+v", decoded)
	}
}

func TestDecodeRejectsBadEntries(t *testing.T) {
	for _, raw := range []string{"not json", "{}", `{"id":"x"}`} {
		if _, err := decodeRecord([]byte(raw)); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}

func TestCompletionEvent(t *testing.T) {
	event := completionEvent(&pipeline.DocumentRecord{
		ID:      "rec-1",
		Status:  pipeline.StatusLowConfidence,
		Quality: &quality.Result{QualityGrade: quality.GradeD},
	})
	if event["recordId"] != "rec-1" || event["status"] != pipeline.StatusLowConfidence {
		t.Errorf("unexpected event %v", event)
	}
	if event["grade"] != quality.GradeD {
		t.Errorf("expected grade D, got %v", event["grade"])
	}
	if _, ok := event["documentType"]; ok {
		t.Error("documentType must be absent without a classification")
	}
}

func TestParseCounters(t *testing.T) {
	got := parseCounters(map[string]string{"A": "3", "B": "10", "junk": "x"})
	if len(got) != 2 || got["A"] != 3 || got["B"] != 10 {
		t.Errorf("unexpected counters %v", got)
	}
}
