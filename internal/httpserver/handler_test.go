package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/docintel-worker/internal/cache"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/ocr"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
	"github.com/adverant/nexus/docintel-worker/internal/queue"
	"github.com/adverant/nexus/docintel-worker/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type stubEngines struct{}

func (stubEngines) Availability(ctx context.Context) []ocr.EngineStatus {
	return []ocr.EngineStatus{{Name: ocr.EngineTesseract, Available: true}}
}

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) Enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: "docintel", Type: task.Type()}, nil
}

type stubRecords struct {
	statsErr error
}

func (stubRecords) GetRecord(ctx context.Context, id string) (*pipeline.DocumentRecord, error) {
	switch id {
	case "rec-1":
		return &pipeline.DocumentRecord{ID: "rec-1", ContentHash: "abc", Status: pipeline.StatusSuccess}, nil
	case "broken":
		return nil, errors.New("connection reset")
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrRecordNotFound, id)
}

func (s stubRecords) GetStats(ctx context.Context) (map[string]interface{}, error) {
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	return map[string]interface{}{"postgres": map[string]interface{}{"open_connections": 2}}, nil
}

func (stubRecords) ReviewQueue(ctx context.Context, limit int) ([]*storage.AnalysisRow, error) {
	return []*storage.AnalysisRow{{ID: "rec-1", NeedsManualReview: true}}, nil
}

func (stubRecords) FindSimilar(ctx context.Context, text string, limit int, threshold float64) ([]storage.SimilarDocument, error) {
	return nil, nil
}

type stubStats struct{}

func (stubStats) Stats(ctx context.Context) (*cache.Stats, error) {
	return &cache.Stats{Records: 7, Grades: map[string]int64{"A": 7}}, nil
}

func newTestHandler(deps Dependencies) http.Handler {
	deps.Logger = logging.NewTestLogger("HTTPServer", io.Discard)
	return NewHandler(deps)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Pinger
		code   int
		status string
	}{
		{"no checks", nil, http.StatusOK, "available"},
		{"all ok", map[string]Pinger{"redis": pingFunc(func(context.Context) error { return nil })}, http.StatusOK, "available"},
		{"one failing", map[string]Pinger{
			"redis":    pingFunc(func(context.Context) error { return nil }),
			"postgres": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
		}, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestHandler(Dependencies{Checks: tt.checks}), http.MethodGet, "/health", "")
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, w.Code)
			}
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid body: %v", err)
			}
			if body.Status != tt.status || len(body.Checks) != len(tt.checks) {
				t.Errorf("unexpected body %+v", body)
			}
		})
	}
}

func TestUnconfiguredDependencies(t *testing.T) {
	h := newTestHandler(Dependencies{})
	for _, path := range []string{"/v1/engines", "/v1/review", "/v1/stats", "/v1/documents/rec-1"} {
		if w := do(t, h, http.MethodGet, path, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, w.Code)
		}
	}
	w := do(t, h, http.MethodPost, "/v1/documents", `{"recordId":"r","source":{"kind":"url","ref":"https://example.com/a.png"}}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a queue, got %d", w.Code)
	}
}

func TestEnginesAndStats(t *testing.T) {
	h := newTestHandler(Dependencies{Engines: stubEngines{}, Stats: stubStats{}})

	w := do(t, h, http.MethodGet, "/v1/engines", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"tesseract"`) {
		t.Errorf("unexpected engines response %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/v1/stats", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"records":7`) {
		t.Errorf("unexpected stats response %d %s", w.Code, w.Body.String())
	}
}

func TestSubmitDocument(t *testing.T) {
	enq := &stubEnqueuer{}
	h := newTestHandler(Dependencies{Enqueuer: enq})

	w := do(t, h, http.MethodPost, "/v1/documents",
		`{"recordId":"rec-9","source":{"kind":"inline","data":{"type":"Buffer","data":[137,80,78,71]}}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(enq.tasks) != 1 || enq.tasks[0].Type() != queue.TypeAnalyzeDocument {
		t.Fatalf("expected one analyze task, got %v", enq.tasks)
	}

	var payload queue.AnalyzeTask
	if err := json.Unmarshal(enq.tasks[0].Payload(), &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if payload.RecordID != "rec-9" || !bytes.Equal(payload.Source.Data, []byte{137, 80, 78, 71}) {
		t.Errorf("unexpected payload %+v", payload)
	}

	if w := do(t, h, http.MethodPost, "/v1/documents", `{"recordId":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a source kind, got %d", w.Code)
	}
	w = do(t, h, http.MethodPost, "/v1/documents",
		`{"recordId":"rec-10","mode":"compare","source":{"kind":"url","ref":"https://example.com/a.png"}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for compare mode, got %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(enq.tasks[1].Payload(), &payload); err != nil || payload.Mode != queue.ModeCompare {
		t.Errorf("expected compare mode in the task payload, got %+v (%v)", payload, err)
	}
	if w := do(t, h, http.MethodPost, "/v1/documents", `{"recordId":"x","mode":"all","source":{"kind":"url","ref":"https://example.com/a.png"}}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown mode, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/v1/batches", `{"documents":[]}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an empty batch, got %d", w.Code)
	}
}

func TestCompare(t *testing.T) {
	h := newTestHandler(Dependencies{})
	w := do(t, h, http.MethodPost, "/v1/compare", `{"original":"النص الأول هنا","revised":"النص الأول هنا"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Similarity float64 `json:"similarity"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Similarity != 1 {
		t.Errorf("expected identical texts to score 1, got %v", body.Similarity)
	}
}

func TestClassify(t *testing.T) {
	h := newTestHandler(Dependencies{})
	w := do(t, h, http.MethodPost, "/v1/classify", `{"text":"عقد راتب مهام إنهاء\n1. أولا\n2. ثانيا\n3. ثالثا"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"employment_contract"`) {
		t.Errorf("expected an employment contract, got %s", w.Body.String())
	}

	if w := do(t, h, http.MethodPost, "/v1/enhance", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without text, got %d", w.Code)
	}
}

func TestReview(t *testing.T) {
	h := newTestHandler(Dependencies{Records: stubRecords{}})

	w := do(t, h, http.MethodGet, "/v1/review?limit=10", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"rec-1"`) {
		t.Errorf("unexpected review response %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/v1/review?limit=abc", "")
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), `"INVALID_INPUT"`) {
		t.Errorf("unexpected response for a bad limit %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodPost, "/v1/similar", `{"text":"some text"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"matches":[]`) {
		t.Errorf("unexpected similar response %d %s", w.Code, w.Body.String())
	}
}

func TestRequestSizeLimit(t *testing.T) {
	h := newTestHandler(Dependencies{MaxRequestBodySize: 32})
	body := `{"text":"` + strings.Repeat("a", 200) + `"}`
	if w := do(t, h, http.MethodPost, "/v1/enhance", body); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an oversized body, got %d", w.Code)
	}
}

func TestGetDocument(t *testing.T) {
	h := newTestHandler(Dependencies{Records: stubRecords{}})

	tests := []struct {
		name string
		id   string
		code int
		body string
	}{
		{"stored record", "rec-1", http.StatusOK, `"contentHash":"abc"`},
		{"unknown record", "missing", http.StatusNotFound, `"Not Found"`},
		{"storage failure", "broken", http.StatusBadGateway, `connection reset`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, "/v1/documents/"+tt.id, "")
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.body) {
				t.Errorf("expected body to contain %s, got %s", tt.body, w.Body.String())
			}
		})
	}
}

func TestStatsIncludesStorage(t *testing.T) {
	w := do(t, newTestHandler(Dependencies{Stats: stubStats{}, Records: stubRecords{}}), http.MethodGet, "/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Cache   map[string]interface{} `json:"cache"`
		Storage map[string]interface{} `json:"storage"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Cache["records"] != float64(7) || body.Storage["postgres"] == nil {
		t.Errorf("unexpected stats %+v", body)
	}

	w = do(t, newTestHandler(Dependencies{Records: stubRecords{}}), http.MethodGet, "/v1/stats", "")
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), `"cache"`) {
		t.Errorf("expected storage-only stats, got %d %s", w.Code, w.Body.String())
	}

	w = do(t, newTestHandler(Dependencies{Records: stubRecords{statsErr: errors.New("qdrant down")}}), http.MethodGet, "/v1/stats", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 when storage stats fail, got %d", w.Code)
	}
}

func TestEnhanceRequestOptions(t *testing.T) {
	h := newTestHandler(Dependencies{})

	w := do(t, h, http.MethodPost, "/v1/enhance", `{"text":"رقم ٠٥٥"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"type":"number"`) {
		t.Fatalf("expected digits normalized by default, got %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodPost, "/v1/enhance", `{"text":"رقم ٠٥٥","options":{"normalizeNumbers":false}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		EnhancedText string `json:"enhancedText"`
		Corrections  []struct {
			Type string `json:"type"`
		} `json:"corrections"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if strings.Contains(body.EnhancedText, "055") {
		t.Errorf("expected digits kept when normalization is off, got %q", body.EnhancedText)
	}
	for _, c := range body.Corrections {
		if c.Type == "number" {
			t.Errorf("unexpected number correction %+v", body.Corrections)
		}
	}

	w = do(t, h, http.MethodPost, "/v1/enhance", `{"text":"abc","options":"everything"}`)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), `"INVALID_INPUT"`) {
		t.Errorf("expected 400 for malformed options, got %d %s", w.Code, w.Body.String())
	}
}
