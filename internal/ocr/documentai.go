/**
 * Google Document AI engine (cloud engine A)
 *
 * Synchronous gRPC protocol: one ProcessRequest carrying the raw image, one
 * Document back. Text anchors index into Document.Text by rune; tokens become
 * words and page lines become lines. Tokens outside every provider line are
 * clustered into extra lines so each word still has exactly one owner.
 */

package ocr

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
)

// DocumentAIConfig selects the processor to call
type DocumentAIConfig struct {
	ProjectID            string
	Location             string
	ProcessorID          string
	CredentialsFile      string
	LineClusterThreshold int
}

// processFunc sends one request; swapped in tests
type processFunc func(ctx context.Context, req *documentaipb.ProcessRequest) (*documentaipb.Document, error)

// DocumentAIEngine recognizes images through a Document AI OCR processor
type DocumentAIEngine struct {
	cfg     DocumentAIConfig
	process processFunc
}

// NewDocumentAIEngine creates the engine; no client is dialled until Process
func NewDocumentAIEngine(cfg DocumentAIConfig) *DocumentAIEngine {
	if cfg.Location == "" {
		cfg.Location = "us"
	}
	e := &DocumentAIEngine{cfg: cfg}
	e.process = e.callProcessor
	return e
}

// Name implements Engine
func (e *DocumentAIEngine) Name() string {
	return EngineDocumentAI
}

// IsAvailable requires a processor path and a readable credentials file
func (e *DocumentAIEngine) IsAvailable(ctx context.Context) bool {
	if e.cfg.ProjectID == "" || e.cfg.ProcessorID == "" || e.cfg.CredentialsFile == "" {
		return false
	}
	info, err := os.Stat(e.cfg.CredentialsFile)
	return err == nil && !info.IsDir()
}

// Process implements Engine
func (e *DocumentAIEngine) Process(ctx context.Context, image []byte, opts Options) (*Result, error) {
	startTime := time.Now()
	opts = opts.WithDefaults()

	mimeType := DetectMimeType(image)
	if !IsRecognizableImage(mimeType) {
		return nil, fmt.Errorf("documentai: unsupported image type %q", mimeType)
	}

	req := &documentaipb.ProcessRequest{
		Name: e.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  image,
				MimeType: mimeType,
			},
		},
		SkipHumanReview: true,
	}

	doc, err := e.process(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("documentai: failed to process document: %w", err)
	}

	result := resultFromDocument(doc, e.cfg.LineClusterThreshold)
	result.Metadata.ImageMetadata.Format = mimeType
	result.Metadata.ImageMetadata.SizeBytes = len(image)
	result.Metadata.ImageMetadata.DPI = opts.DPI
	result.Metadata.ProcessingTime = time.Since(startTime)
	return result, nil
}

func (e *DocumentAIEngine) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		e.cfg.ProjectID, e.cfg.Location, e.cfg.ProcessorID)
}

// callProcessor dials a client for this call only and closes it afterwards
func (e *DocumentAIEngine) callProcessor(ctx context.Context, req *documentaipb.ProcessRequest) (*documentaipb.Document, error) {
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", e.cfg.Location)

	client, err := documentai.NewDocumentProcessorClient(
		ctx,
		option.WithEndpoint(endpoint),
		option.WithCredentialsFile(e.cfg.CredentialsFile),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Document AI client: %w", err)
	}
	defer client.Close()

	resp, err := client.ProcessDocument(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.GetDocument() == nil {
		return nil, fmt.Errorf("empty document in response")
	}
	return resp.GetDocument(), nil
}

// resultFromDocument translates a Document AI proto into the shared Result shape
func resultFromDocument(doc *documentaipb.Document, clusterThreshold int) *Result {
	result := &Result{Metadata: Metadata{EngineUsed: EngineDocumentAI}}
	if doc == nil {
		return result
	}

	fullText := []rune(doc.GetText())
	var lines []Line
	languages := map[string]bool{}
	var langOrder []string

	for _, page := range doc.GetPages() {
		dim := page.GetDimension()
		if result.Metadata.ImageMetadata.Width == 0 && dim != nil {
			result.Metadata.ImageMetadata.Width = int(dim.GetWidth())
			result.Metadata.ImageMetadata.Height = int(dim.GetHeight())
		}
		for _, lang := range page.GetDetectedLanguages() {
			code := lang.GetLanguageCode()
			if code != "" && !languages[code] {
				languages[code] = true
				langOrder = append(langOrder, code)
			}
		}

		type anchoredWord struct {
			word       Word
			start, end int64
			owned      bool
		}
		tokens := make([]*anchoredWord, 0, len(page.GetTokens()))
		for _, tok := range page.GetTokens() {
			layout := tok.GetLayout()
			text := strings.TrimSpace(anchorText(layout.GetTextAnchor(), fullText))
			if text == "" {
				continue
			}
			start, end := anchorRange(layout.GetTextAnchor())
			tokens = append(tokens, &anchoredWord{
				word: Word{
					Text:       text,
					Confidence: clamp01(float64(layout.GetConfidence())),
					BBox:       polyBox(layout.GetBoundingPoly(), dim),
				},
				start: start,
				end:   end,
			})
		}

		var pageLines []Line
		for _, pl := range page.GetLines() {
			start, end := anchorRange(pl.GetLayout().GetTextAnchor())
			if start < 0 {
				continue
			}
			var words []Word
			for _, tw := range tokens {
				if tw.owned {
					continue
				}
				if tw.start >= start && tw.end <= end {
					tw.owned = true
					words = append(words, tw.word)
				}
			}
			if len(words) == 0 {
				continue
			}
			line := newLine(words)
			if lt := strings.TrimSpace(anchorText(pl.GetLayout().GetTextAnchor(), fullText)); lt != "" {
				line.Text = lt
			}
			pageLines = append(pageLines, line)
		}

		var loose []Word
		for _, tw := range tokens {
			if !tw.owned {
				loose = append(loose, tw.word)
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

	result.Text = strings.TrimSpace(doc.GetText())
	if result.Text == "" {
		result.Text = linesText(lines)
	}
	if conf, ok := meanWordConfidence(result.Words); ok {
		result.Confidence = conf
	}

	result.Metadata.DetectedLanguages = langOrder
	if len(langOrder) == 0 {
		result.Metadata.DetectedLanguages = detectLanguages(result.Text)
	}
	return result
}

// anchorText resolves a text anchor against the document text, clamping bad segments
func anchorText(anchor *documentaipb.Document_TextAnchor, fullText []rune) string {
	if anchor == nil {
		return ""
	}
	var b strings.Builder
	total := int64(len(fullText))
	for _, seg := range anchor.GetTextSegments() {
		start, end := seg.GetStartIndex(), seg.GetEndIndex()
		if start < 0 {
			start = 0
		}
		if end > total {
			end = total
		}
		if end < 0 {
			end = 0
		}
		if start > end {
			start = end
		}
		b.WriteString(string(fullText[start:end]))
	}
	return b.String()
}

// anchorRange returns the span covered by the first and last segments
func anchorRange(anchor *documentaipb.Document_TextAnchor) (int64, int64) {
	segs := anchor.GetTextSegments()
	if len(segs) == 0 {
		return -1, -1
	}
	return segs[0].GetStartIndex(), segs[len(segs)-1].GetEndIndex()
}

// polyBox converts a bounding polygon to pixels, preferring absolute vertices
func polyBox(poly *documentaipb.BoundingPoly, dim *documentaipb.Document_Page_Dimension) BoundingBox {
	if poly == nil {
		return BoundingBox{}
	}

	var xs, ys []int
	if vs := poly.GetVertices(); len(vs) > 0 {
		for _, v := range vs {
			xs = append(xs, int(v.GetX()))
			ys = append(ys, int(v.GetY()))
		}
	} else if dim != nil {
		for _, v := range poly.GetNormalizedVertices() {
			xs = append(xs, int(v.GetX()*dim.GetWidth()+0.5))
			ys = append(ys, int(v.GetY()*dim.GetHeight()+0.5))
		}
	}
	if len(xs) == 0 {
		return BoundingBox{}
	}

	box := BoundingBox{X0: xs[0], Y0: ys[0], X1: xs[0], Y1: ys[0]}
	for i := range xs {
		box = box.Union(BoundingBox{X0: xs[i], Y0: ys[i], X1: xs[i], Y1: ys[i]})
	}
	return box
}
