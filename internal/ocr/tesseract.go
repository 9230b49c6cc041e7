/**
 * Tesseract OCR - local, CPU-bound engine
 *
 * Free, offline recognition used as the last engine in the preference order.
 * A fresh gosseract client is acquired and released on every call, so two
 * calls never share recognizer state.
 */

package ocr

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine handles OCR using a local Tesseract installation
type TesseractEngine struct {
	tesseractPath    string
	languages        []string
	clusterThreshold int
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	TesseractPath        string
	Languages            string // "ara+eng" style
	LineClusterThreshold int
}

// NewTesseractEngine creates a new Tesseract engine
func NewTesseractEngine(cfg *TesseractConfig) *TesseractEngine {
	if cfg.TesseractPath == "" {
		cfg.TesseractPath = "/usr/bin/tesseract"
	}
	if cfg.Languages == "" {
		cfg.Languages = DefaultLanguage
	}

	return &TesseractEngine{
		tesseractPath:    cfg.TesseractPath,
		languages:        splitLanguages(cfg.Languages),
		clusterThreshold: cfg.LineClusterThreshold,
	}
}

// Name implements Engine
func (t *TesseractEngine) Name() string {
	return EngineTesseract
}

// IsAvailable checks that the tesseract binary resolves; no recognizer is created
func (t *TesseractEngine) IsAvailable(ctx context.Context) bool {
	if len(t.languages) == 0 {
		return false
	}
	_, err := exec.LookPath(t.tesseractPath)
	return err == nil
}

// Process performs OCR using Tesseract
func (t *TesseractEngine) Process(ctx context.Context, image []byte, opts Options) (*Result, error) {
	startTime := time.Now()
	opts = opts.WithDefaults()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Acquire
	client := gosseract.NewClient()
	// Release
	defer client.Close()

	languages := t.languagesFor(opts)
	if err := client.SetLanguage(languages...); err != nil {
		return nil, fmt.Errorf("failed to set languages %v: %w", languages, err)
	}

	if err := client.SetPageSegMode(gosseract.PageSegMode(opts.PageSegmentationMode)); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(opts.DPI)); err != nil {
		return nil, fmt.Errorf("failed to set dpi: %w", err)
	}

	if opts.PreserveLayout {
		if err := client.SetVariable(gosseract.SettableVariable("preserve_interword_spaces"), "1"); err != nil {
			return nil, fmt.Errorf("failed to preserve interword spaces: %w", err)
		}
	}

	if err := client.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract word boxes failed: %w", err)
	}

	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		words = append(words, Word{
			Text:       b.Word,
			Confidence: clamp01(b.Confidence / 100),
			BBox:       NewBoundingBoxFromCorners(b.Box.Min.X, b.Box.Min.Y, b.Box.Max.X, b.Box.Max.Y),
		})
	}

	result := &Result{
		Text: strings.TrimSpace(text),
		Metadata: Metadata{
			EngineUsed:        EngineTesseract,
			DetectedLanguages: detectLanguages(text),
			ImageMetadata: ImageMetadata{
				Format:    DetectMimeType(image),
				DPI:       opts.DPI,
				SizeBytes: len(image),
			},
		},
	}

	lines := ClusterLines(words, t.clusterThreshold)
	assembleLayout(result, lines, 2*t.threshold())

	if conf, ok := meanWordConfidence(result.Words); ok {
		result.Confidence = conf
	} else {
		result.Confidence = calculateTesseractConfidence(result.Text)
	}
	result.Metadata.ProcessingTime = time.Since(startTime)

	return result, nil
}

func (t *TesseractEngine) threshold() int {
	if t.clusterThreshold > 0 {
		return t.clusterThreshold
	}
	return LineClusterThreshold
}

// calculateTesseractConfidence estimates confidence from text quality when no
// word-level confidences came back
func calculateTesseractConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	confidence := 0.5 // Base confidence

	// Check text length
	runes := []rune(text)
	if len(runes) > 1000 {
		confidence += 0.1
	}
	if len(runes) > 5000 {
		confidence += 0.1
	}

	// Check for coherent words (simple heuristic)
	words := strings.Fields(text)
	if len(words) > 100 {
		confidence += 0.1
	}

	// Check for reasonable letter distribution, Arabic or Latin
	letterCount := 0
	for _, r := range runes {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	letterRatio := float64(letterCount) / float64(len(runes))
	if letterRatio > 0.5 && letterRatio < 0.9 {
		confidence += 0.1
	}

	// Cap at reasonable maximum for Tesseract
	if confidence > 0.85 {
		confidence = 0.85
	}

	return confidence
}

// languagesFor prefers the call's languages and falls back to the configured ones
func (t *TesseractEngine) languagesFor(opts Options) []string {
	if langs := splitLanguages(opts.Language); len(langs) > 0 {
		return langs
	}
	return t.languages
}

func splitLanguages(raw string) []string {
	var langs []string
	for _, l := range strings.Split(raw, "+") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return langs
}
