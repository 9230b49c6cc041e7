/**
 * OCR Types - Shared data structures for OCR operations
 *
 * Every engine (local Tesseract, Document AI, Azure Read) translates its
 * provider output into Result. Lines own words and blocks own lines.
 */

package ocr

import (
	"context"
	"time"
)

// Engine is the uniform recognizer contract
type Engine interface {
	// Name identifies the engine in logs, metadata and batch results
	Name() string
	// IsAvailable is a side-effect free capability check
	IsAvailable(ctx context.Context) bool
	// Process recognizes a single image
	Process(ctx context.Context, image []byte, opts Options) (*Result, error)
}

// Engine names used in the default preference order
const (
	EngineDocumentAI = "documentai"
	EngineAzureRead  = "azureread"
	EngineTesseract  = "tesseract"
)

// Result represents the result of OCR processing
type Result struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Words      []Word   `json:"words"`
	Lines      []Line   `json:"lines"`
	Blocks     []Block  `json:"blocks"`
	Metadata   Metadata `json:"metadata"`
}

// Metadata describes how a Result was produced
type Metadata struct {
	EngineUsed        string        `json:"engineUsed"`
	ProcessingTime    time.Duration `json:"processingTime"`
	ImageMetadata     ImageMetadata `json:"imageMetadata"`
	DetectedLanguages []string      `json:"detectedLanguages"`
}

// ImageMetadata carries what is known about the source image
type ImageMetadata struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	DPI       int    `json:"dpi"`
	SizeBytes int    `json:"sizeBytes"`
}

// Word represents a single word with bounding box
type Word struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// Line is a run of words sharing a vertical band
type Line struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
	Words      []Word      `json:"words"`
}

// Block groups vertically adjacent lines
type Block struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
	Lines      []Line      `json:"lines"`
}

// BoundingBox is an axis-aligned box; X0 <= X1 and Y0 <= Y1 always hold
type BoundingBox struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// NewBoundingBox builds a box from an origin and extent, normalising negative extents
func NewBoundingBox(x, y, width, height int) BoundingBox {
	return NewBoundingBoxFromCorners(x, y, x+width, y+height)
}

// NewBoundingBoxFromCorners orders the corners so the box invariant holds
func NewBoundingBoxFromCorners(x0, y0, x1, y1 int) BoundingBox {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return BoundingBox{X0: x0, Y0: y0, X1: x1, Y1: y1}
}

// CenterY returns the vertical center of the box
func (b BoundingBox) CenterY() float64 {
	return float64(b.Y0+b.Y1) / 2
}

// Height returns the box height
func (b BoundingBox) Height() int {
	return b.Y1 - b.Y0
}

// Union returns the smallest box enclosing both boxes
func (b BoundingBox) Union(other BoundingBox) BoundingBox {
	return BoundingBox{
		X0: minInt(b.X0, other.X0),
		Y0: minInt(b.Y0, other.Y0),
		X1: maxInt(b.X1, other.X1),
		Y1: maxInt(b.Y1, other.Y1),
	}
}

// Options controls a recognition call. An empty Language leaves the choice to
// the engine's configured languages. EngineMode is advisory: the Tesseract
// engine runs with the mode its traineddata was built for, since gosseract
// exposes no engine-mode setter.
type Options struct {
	Language             string  `json:"language"`
	PageSegmentationMode int     `json:"pageSegmentationMode"`
	EngineMode           int     `json:"engineMode"`
	Confidence           float64 `json:"confidence"`
	PreserveLayout       bool    `json:"preserveLayout"`
	EnhanceImage         bool    `json:"enhanceImage"`
	DPI                  int     `json:"dpi"`
}

// Default option values
const (
	DefaultLanguage             = "ara+eng"
	DefaultPageSegmentationMode = 3 // fully automatic page segmentation
	DefaultEngineMode           = 1 // LSTM only
	DefaultConfidence           = 0.5
	DefaultDPI                  = 300
)

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		Language:             DefaultLanguage,
		PageSegmentationMode: DefaultPageSegmentationMode,
		EngineMode:           DefaultEngineMode,
		Confidence:           DefaultConfidence,
		PreserveLayout:       true,
		EnhanceImage:         false,
		DPI:                  DefaultDPI,
	}
}

// WithDefaults fills zero-valued numeric fields with their defaults. Language
// and the boolean fields are taken as given.
func (o Options) WithDefaults() Options {
	if o.PageSegmentationMode <= 0 {
		o.PageSegmentationMode = DefaultPageSegmentationMode
	}
	if o.EngineMode <= 0 {
		o.EngineMode = DefaultEngineMode
	}
	if o.Confidence <= 0 {
		o.Confidence = DefaultConfidence
	}
	if o.Confidence > 1 {
		o.Confidence = 1
	}
	if o.DPI <= 0 {
		o.DPI = DefaultDPI
	}
	return o
}

// clamp01 keeps provider-reported confidences inside [0,1]
func clamp01(v float64) float64 {
	if v != v || v < 0 { // NaN or negative
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
