/**
 * Azure Document Intelligence Read engine (cloud engine B)
 *
 * Asynchronous REST protocol:
 * 1. POST .../prebuilt-read:analyze with a base64 JSON body -> 202 Accepted
 *    and an Operation-Location header
 * 2. GET Operation-Location until status is succeeded or failed, driven by
 *    the bounded poll state machine
 *
 * Page words are assigned to provider lines by span containment; pages
 * without lines fall back to line clustering.
 */

package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	apperrors "github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

// AzureReadConfig holds the resource endpoint and credentials
type AzureReadConfig struct {
	Endpoint             string
	Key                  string
	APIVersion           string
	Poll                 PollPolicy
	LineClusterThreshold int
	HTTPClient           *http.Client
	// MaxResponseSize caps every response body; zero takes DefaultMaxResponseSize
	MaxResponseSize int64
}

// DefaultMaxResponseSize bounds analyze and status responses
const DefaultMaxResponseSize = 32 << 20

// AzureReadEngine talks to the Azure Document Intelligence REST API
type AzureReadEngine struct {
	cfg        AzureReadConfig
	httpClient *http.Client
	logger     *logging.Logger
}

// analyzeRequest is the JSON body of the analyze call
type analyzeRequest struct {
	Base64Source string `json:"base64Source"`
}

// analyzeOperation is the body returned by the Operation-Location URL
type analyzeOperation struct {
	Status        string         `json:"status"` // notStarted, running, succeeded, failed
	AnalyzeResult *analyzeResult `json:"analyzeResult,omitempty"`
	Error         *azureError    `json:"error,omitempty"`
}

type azureError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type analyzeResult struct {
	APIVersion string          `json:"apiVersion"`
	ModelID    string          `json:"modelId"`
	Content    string          `json:"content"`
	Pages      []azurePage     `json:"pages"`
	Languages  []azureLanguage `json:"languages"`
}

type azurePage struct {
	PageNumber int         `json:"pageNumber"`
	Angle      float64     `json:"angle"`
	Width      float64     `json:"width"`
	Height     float64     `json:"height"`
	Unit       string      `json:"unit"`
	Words      []azureWord `json:"words"`
	Lines      []azureLine `json:"lines"`
}

type azureWord struct {
	Content    string    `json:"content"`
	Polygon    []float64 `json:"polygon"`
	Confidence float64   `json:"confidence"`
	Span       azureSpan `json:"span"`
}

type azureLine struct {
	Content string      `json:"content"`
	Polygon []float64   `json:"polygon"`
	Spans   []azureSpan `json:"spans"`
}

type azureSpan struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

type azureLanguage struct {
	Locale     string  `json:"locale"`
	Confidence float64 `json:"confidence"`
}

// NewAzureReadEngine creates the engine
func NewAzureReadEngine(cfg AzureReadConfig) *AzureReadEngine {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-11-30"
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = DefaultMaxResponseSize
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: 60 * time.Second,
		}
	}
	return &AzureReadEngine{
		cfg:        cfg,
		httpClient: client,
		logger:     logging.NewLogger("AzureReadEngine"),
	}
}

// Name implements Engine
func (e *AzureReadEngine) Name() string {
	return EngineAzureRead
}

// IsAvailable requires both endpoint and key
func (e *AzureReadEngine) IsAvailable(ctx context.Context) bool {
	return e.cfg.Endpoint != "" && e.cfg.Key != ""
}

// Process implements Engine
func (e *AzureReadEngine) Process(ctx context.Context, image []byte, opts Options) (*Result, error) {
	startTime := time.Now()
	opts = opts.WithDefaults()

	operationURL, err := e.submit(ctx, image)
	if err != nil {
		return nil, err
	}

	var final *analyzeOperation
	state, err := Poll(ctx, EngineAzureRead, e.cfg.Poll, func(ctx context.Context, attempt int) (PollState, error) {
		op, err := e.getOperation(ctx, operationURL)
		if err != nil {
			return PollFailed, err
		}

		e.logger.Debug("Analyze operation status",
			"attempt", attempt,
			"status", op.Status)

		switch strings.ToLower(op.Status) {
		case "succeeded":
			final = op
			return PollSucceeded, nil
		case "failed":
			msg := "unknown error"
			if op.Error != nil {
				msg = fmt.Sprintf("%s: %s", op.Error.Code, op.Error.Message)
			}
			return PollFailed, fmt.Errorf("azureread analyze failed: %s", msg)
		default:
			return PollPending, nil
		}
	})
	if err != nil {
		return nil, err
	}
	if state != PollSucceeded || final == nil || final.AnalyzeResult == nil {
		return nil, fmt.Errorf("azureread analyze ended in state %s without a result", state)
	}

	result := resultFromAnalyze(final.AnalyzeResult, e.cfg.LineClusterThreshold)
	result.Metadata.ImageMetadata.Format = DetectMimeType(image)
	result.Metadata.ImageMetadata.SizeBytes = len(image)
	result.Metadata.ImageMetadata.DPI = opts.DPI
	result.Metadata.ProcessingTime = time.Since(startTime)

	e.logger.Info("Read analysis complete",
		"confidence", result.Confidence,
		"words", len(result.Words),
		"lines", len(result.Lines),
		"processingTime", result.Metadata.ProcessingTime)

	return result, nil
}

// submit starts the analyze operation and returns its Operation-Location
func (e *AzureReadEngine) submit(ctx context.Context, image []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/documentintelligence/documentModels/prebuilt-read:analyze?api-version=%s",
		e.cfg.Endpoint, e.cfg.APIVersion)

	reqBody, err := json.Marshal(&analyzeRequest{
		Base64Source: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", e.cfg.Key)
	httpReq.Header.Set("X-Source", "docintel-worker")
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("ocr-async-%d", time.Now().UnixNano()))

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("analyze request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := e.readBody(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	// Expect 202 Accepted for the asynchronous analyze call
	if resp.StatusCode != http.StatusAccepted {
		return "", apperrors.NewProviderError(EngineAzureRead, resp.StatusCode, string(body))
	}

	operationURL := resp.Header.Get("Operation-Location")
	if operationURL == "" {
		return "", fmt.Errorf("azureread: 202 response without Operation-Location header")
	}

	e.logger.Debug("Analyze operation created", "operationLocation", operationURL)
	return operationURL, nil
}

// getOperation fetches the current operation state once
func (e *AzureReadEngine) getOperation(ctx context.Context, operationURL string) (*analyzeOperation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}

	req.Header.Set("Ocp-Apim-Subscription-Key", e.cfg.Key)
	req.Header.Set("X-Source", "docintel-worker")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := e.readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewProviderError(EngineAzureRead, resp.StatusCode, string(body))
	}

	var op analyzeOperation
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}

	return &op, nil
}

// readBody reads at most MaxResponseSize bytes and fails on anything longer
func (e *AzureReadEngine) readBody(r io.Reader) ([]byte, error) {
	limit := e.cfg.MaxResponseSize
	if limit <= 0 {
		limit = DefaultMaxResponseSize
	}
	// one extra byte distinguishes "exactly the limit" from "over it"
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response exceeds %d bytes", limit)
	}
	return body, nil
}

// resultFromAnalyze translates an analyze result into the shared Result shape
func resultFromAnalyze(ar *analyzeResult, clusterThreshold int) *Result {
	result := &Result{Metadata: Metadata{EngineUsed: EngineAzureRead}}

	var lines []Line
	for _, page := range ar.Pages {
		if result.Metadata.ImageMetadata.Width == 0 {
			result.Metadata.ImageMetadata.Width = int(page.Width)
			result.Metadata.ImageMetadata.Height = int(page.Height)
		}

		owned := make([]bool, len(page.Words))
		var pageLines []Line
		for _, al := range page.Lines {
			var words []Word
			for i, aw := range page.Words {
				if owned[i] || !spanWithin(aw.Span, al.Spans) {
					continue
				}
				owned[i] = true
				words = append(words, azureToWord(aw))
			}
			if len(words) == 0 {
				continue
			}
			line := newLine(words)
			if content := strings.TrimSpace(al.Content); content != "" {
				line.Text = content
			}
			pageLines = append(pageLines, line)
		}

		var loose []Word
		for i, aw := range page.Words {
			if !owned[i] && strings.TrimSpace(aw.Content) != "" {
				loose = append(loose, azureToWord(aw))
			}
		}
		pageLines = append(pageLines, ClusterLines(loose, clusterThreshold)...)
		sort.SliceStable(pageLines, func(i, j int) bool {
			return pageLines[i].BBox.CenterY() < pageLines[j].BBox.CenterY()
		})
		lines = append(lines, pageLines...)
	}

	threshold := clusterThreshold
	if threshold <= 0 {
		threshold = LineClusterThreshold
	}
	assembleLayout(result, lines, 2*threshold)

	result.Text = strings.TrimSpace(ar.Content)
	if result.Text == "" {
		result.Text = linesText(lines)
	}
	if conf, ok := meanWordConfidence(result.Words); ok {
		result.Confidence = conf
	}

	for _, lang := range ar.Languages {
		if lang.Locale != "" {
			result.Metadata.DetectedLanguages = append(result.Metadata.DetectedLanguages, lang.Locale)
		}
	}
	if len(result.Metadata.DetectedLanguages) == 0 {
		result.Metadata.DetectedLanguages = detectLanguages(result.Text)
	}
	return result
}

func azureToWord(aw azureWord) Word {
	return Word{
		Text:       strings.TrimSpace(aw.Content),
		Confidence: clamp01(aw.Confidence),
		BBox:       polygonBox(aw.Polygon),
	}
}

// polygonBox reduces an [x1,y1,x2,y2,...] polygon to its enclosing box
func polygonBox(polygon []float64) BoundingBox {
	if len(polygon) < 2 {
		return BoundingBox{}
	}
	box := BoundingBox{
		X0: int(polygon[0] + 0.5), Y0: int(polygon[1] + 0.5),
		X1: int(polygon[0] + 0.5), Y1: int(polygon[1] + 0.5),
	}
	for i := 2; i+1 < len(polygon); i += 2 {
		x, y := int(polygon[i]+0.5), int(polygon[i+1]+0.5)
		box = box.Union(BoundingBox{X0: x, Y0: y, X1: x, Y1: y})
	}
	return box
}

func spanWithin(s azureSpan, spans []azureSpan) bool {
	for _, ls := range spans {
		if s.Offset >= ls.Offset && s.Offset+s.Length <= ls.Offset+ls.Length {
			return true
		}
	}
	return false
}
