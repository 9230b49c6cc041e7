package ocr

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

// fakeEngine returns a canned result or error
type fakeEngine struct {
	name       string
	available  bool
	confidence float64
	err        error
	panicMsg   string
	delay      time.Duration
	calls      int32
}

func (f *fakeEngine) Name() string { return f.name }
func (f *fakeEngine) IsAvailable(ctx context.Context) bool { return f.available }

func (f *fakeEngine) Process(ctx context.Context, image []byte, opts Options) (*Result, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Result{Text: "نص " + f.name, Confidence: f.confidence}, nil
}

// countingEngine records the peak number of concurrent Process calls
type countingEngine struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	total    int
}

func (c *countingEngine) Name() string { return "counting" }
func (c *countingEngine) IsAvailable(ctx context.Context) bool { return true }

func (c *countingEngine) Process(ctx context.Context, image []byte, opts Options) (*Result, error) {
	c.mu.Lock()
	c.inFlight++
	c.total++
	if c.inFlight > c.peak {
		c.peak = c.inFlight
	}
	c.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()

	if string(image) == "bad" {
		return nil, errors.New("unreadable image")
	}
	return &Result{Text: "ok", Confidence: 0.8}, nil
}

func newTestOrchestrator(engines ...Engine) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		Engines: engines,
		Logger:  logging.NewTestLogger("test", io.Discard),
	})
}

func TestProcessWithBestEngine(t *testing.T) {
	tests := []struct {
		name        string
		engines     []*fakeEngine
		threshold   float64
		wantEngine  string
		wantErrCode apperrors.ErrorCode
		wantErrText string
	}{
		{
			name: "first engine accepted",
			engines: []*fakeEngine{
				{name: "a", available: true, confidence: 0.9},
				{name: "b", available: true, confidence: 0.95},
			},
			wantEngine: "a",
		},
		{
			name: "failure falls through",
			engines: []*fakeEngine{
				{name: "a", available: true, err: errors.New("quota exceeded")},
				{name: "b", available: true, confidence: 0.7},
			},
			wantEngine: "b",
		},
		{
			name: "below threshold falls through",
			engines: []*fakeEngine{
				{name: "a", available: true, confidence: 0.3},
				{name: "b", available: true, confidence: 0.6},
			},
			wantEngine: "b",
		},
		{
			name: "unavailable engine skipped",
			engines: []*fakeEngine{
				{name: "a", available: false, confidence: 0.99},
				{name: "b", available: true, confidence: 0.6},
			},
			wantEngine: "b",
		},
		{
			name: "custom threshold",
			engines: []*fakeEngine{
				{name: "a", available: true, confidence: 0.8},
				{name: "b", available: true, confidence: 0.95},
			},
			threshold:  0.9,
			wantEngine: "b",
		},
		{
			name: "all fail carries last error",
			engines: []*fakeEngine{
				{name: "a", available: true, err: errors.New("first boom")},
				{name: "b", available: true, err: errors.New("second boom")},
			},
			wantErrCode: apperrors.ErrorAllEnginesFailed,
			wantErrText: "second boom",
		},
		{
			name: "none qualify",
			engines: []*fakeEngine{
				{name: "a", available: true, confidence: 0.1},
				{name: "b", available: true, confidence: 0.2},
			},
			wantErrCode: apperrors.ErrorAllEnginesFailed,
			wantErrText: "below threshold",
		},
		{
			name: "none available",
			engines: []*fakeEngine{
				{name: "a", available: false},
			},
			wantErrCode: apperrors.ErrorNoEngineAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var engines []Engine
			for _, e := range tt.engines {
				engines = append(engines, e)
			}
			o := newTestOrchestrator(engines...)

			opts := DefaultOptions()
			if tt.threshold > 0 {
				opts.Confidence = tt.threshold
			}

			result, err := o.ProcessWithBestEngine(context.Background(), []byte("img"), opts)
			if tt.wantErrCode != "" {
				if err == nil {
					t.Fatalf("expected error %s, got result from %s", tt.wantErrCode, result.Metadata.EngineUsed)
				}
				if !apperrors.IsCode(err, tt.wantErrCode) {
					t.Errorf("expected code %s, got %v", tt.wantErrCode, err)
				}
				if tt.wantErrText != "" && !strings.Contains(err.Error(), tt.wantErrText) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.wantErrText)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Metadata.EngineUsed != tt.wantEngine {
				t.Errorf("expected engine %s, got %s", tt.wantEngine, result.Metadata.EngineUsed)
			}
		})
	}
}

func TestProcessWithBestEngineStopsAtFirstAccepted(t *testing.T) {
	a := &fakeEngine{name: "a", available: true, confidence: 0.9}
	b := &fakeEngine{name: "b", available: true, confidence: 0.9}
	o := newTestOrchestrator(a, b)

	if _, err := o.ProcessWithBestEngine(context.Background(), []byte("img"), DefaultOptions()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&b.calls) != 0 {
		t.Errorf("second engine should not be called, got %d calls", b.calls)
	}
}

func TestProcessWithMultipleEngines(t *testing.T) {
	failing := &fakeEngine{name: "failing", available: true, err: errors.New("rejected")}
	good := &fakeEngine{name: "good", available: true, confidence: 0.9}
	weak := &fakeEngine{name: "weak", available: true, confidence: 0.4}
	o := newTestOrchestrator(failing, good, weak)

	multi, err := o.ProcessWithMultipleEngines(context.Background(), []byte("img"), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if multi.BestResult.Confidence != 0.9 {
		t.Errorf("expected best confidence 0.9, got %v", multi.BestResult.Confidence)
	}
	if len(multi.Results) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(multi.Results))
	}

	var sawFailure bool
	for _, out := range multi.Results {
		if out.Engine == "failing" {
			sawFailure = true
			if !strings.Contains(out.Error, "rejected") {
				t.Errorf("expected failing engine error to be recorded, got %q", out.Error)
			}
			if out.Result != nil {
				t.Error("failed outcome should carry no result")
			}
		}
	}
	if !sawFailure {
		t.Error("failed engine missing from results")
	}
}

func TestProcessWithMultipleEnginesSlowEngineDoesNotBlockOthers(t *testing.T) {
	slow := &fakeEngine{name: "slow", available: true, confidence: 0.7, delay: 100 * time.Millisecond}
	fast := &fakeEngine{name: "fast", available: true, confidence: 0.8, delay: 100 * time.Millisecond}
	o := newTestOrchestrator(slow, fast)

	start := time.Now()
	if _, err := o.ProcessWithMultipleEngines(context.Background(), []byte("img"), DefaultOptions()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 180*time.Millisecond {
		t.Errorf("engines did not run concurrently, took %v", elapsed)
	}
}

func TestProcessWithMultipleEnginesAllFail(t *testing.T) {
	o := newTestOrchestrator(
		&fakeEngine{name: "a", available: true, err: errors.New("a down")},
		&fakeEngine{name: "b", available: true, panicMsg: "nil map"},
	)

	multi, err := o.ProcessWithMultipleEngines(context.Background(), []byte("img"), DefaultOptions())
	if !apperrors.IsCode(err, apperrors.ErrorAllEnginesFailed) {
		t.Fatalf("expected ALL_ENGINES_FAILED, got %v", err)
	}
	if multi == nil || len(multi.Results) != 2 {
		t.Fatal("expected outcomes for both engines")
	}
	for _, out := range multi.Results {
		if out.Error == "" {
			t.Errorf("engine %s should have an error", out.Engine)
		}
	}
}

func TestProcessBatchBoundsConcurrency(t *testing.T) {
	engine := &countingEngine{}
	o := newTestOrchestrator(engine)

	docs := []BatchDocument{
		{ID: "1", Image: []byte("a")},
		{ID: "2", Image: []byte("b")},
		{ID: "3", Image: []byte("c")},
		{ID: "4", Image: []byte("d")},
		{ID: "5", Image: []byte("e")},
	}

	batch := o.ProcessBatch(context.Background(), docs, DefaultOptions())

	if engine.peak > 3 {
		t.Errorf("expected at most 3 engine calls in flight, saw %d", engine.peak)
	}
	if engine.total != 5 {
		t.Errorf("expected 5 engine calls, got %d", engine.total)
	}
	s := batch.Summary
	if s.TotalDocuments != 5 {
		t.Errorf("expected 5 documents, got %d", s.TotalDocuments)
	}
	if s.LowConfidenceDocuments == 0 && s.TotalDocuments != s.SuccessfulDocuments+s.FailedDocuments {
		t.Errorf("summary does not add up: %+v", s)
	}
	if s.AverageConfidence != 0.8 {
		t.Errorf("expected average confidence 0.8, got %v", s.AverageConfidence)
	}
	for i, item := range batch.Items {
		if item.ID != docs[i].ID {
			t.Errorf("item %d out of order: %s", i, item.ID)
		}
	}
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	engine := &countingEngine{}
	weak := &fakeEngine{name: "weak", available: true, confidence: 0.2}
	o := newTestOrchestrator(engine, weak)

	docs := []BatchDocument{
		{ID: "good", Image: []byte("fine")},
		{ID: "bad", Image: []byte("bad")},
	}

	batch := o.ProcessBatch(context.Background(), docs, DefaultOptions())

	if batch.Items[0].Status != BatchStatusSuccess {
		t.Errorf("expected success, got %s", batch.Items[0].Status)
	}
	// counting engine fails on "bad", weak engine answers below threshold
	if batch.Items[1].Status != BatchStatusLowConfidence {
		t.Errorf("expected low_confidence, got %s", batch.Items[1].Status)
	}
	if batch.Items[1].Error == "" {
		t.Error("low confidence item should carry the terminal error message")
	}
	if batch.Summary.LowConfidenceDocuments != 1 || batch.Summary.SuccessfulDocuments != 1 {
		t.Errorf("unexpected summary %+v", batch.Summary)
	}
}

func TestProcessBatchRecordsFailed(t *testing.T) {
	o := newTestOrchestrator(&fakeEngine{name: "down", available: true, err: errors.New("service unavailable")})

	batch := o.ProcessBatch(context.Background(), []BatchDocument{{ID: "x", Image: []byte("img")}}, DefaultOptions())

	item := batch.Items[0]
	if item.Status != BatchStatusFailed {
		t.Fatalf("expected failed, got %s", item.Status)
	}
	if !strings.Contains(item.Error, "service unavailable") {
		t.Errorf("expected captured error message, got %q", item.Error)
	}
	if batch.Summary.FailedDocuments != 1 || batch.Summary.AverageConfidence != 0 {
		t.Errorf("unexpected summary %+v", batch.Summary)
	}
}

func TestJobIDContext(t *testing.T) {
	ctx := WithJobID(context.Background(), "job-42")
	if got := JobIDFromContext(ctx); got != "job-42" {
		t.Errorf("expected job-42, got %q", got)
	}
	if got := JobIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty job id, got %q", got)
	}
}
