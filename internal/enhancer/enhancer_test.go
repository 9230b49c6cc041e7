package enhancer

import (
	"math"
	"strings"
	"testing"
)

func only(set func(*Options)) Options {
	var opts Options
	set(&opts)
	return opts
}

func TestNormalizeDigits(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"arabic-indic", "١٢٣", "123"},
		{"extended arabic-indic", "۴۵۶", "456"},
		{"mixed systems", "١2۳٤۵6", "123456"},
		{"digits in sentence", "رقم ٠٥٥", "رقم 055"},
		{"western untouched", "2024", "2024"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EnhanceText(tt.input, only(func(o *Options) { o.NormalizeNumbers = true }))
			if result.EnhancedText != tt.want {
				t.Errorf("expected %q, got %q", tt.want, result.EnhancedText)
			}
			for _, c := range result.Corrections {
				if c.Type != CorrectionNumber || c.Confidence != 0.99 {
					t.Errorf("unexpected correction %+v", c)
				}
			}
		})
	}
}

func TestDigitsWithDefaultOptions(t *testing.T) {
	if got := EnhanceText("١٢٣", DefaultOptions()).EnhancedText; got != "123" {
		t.Errorf("expected 123, got %q", got)
	}
	if got := EnhanceText("۴۵۶", DefaultOptions()).EnhancedText; got != "456" {
		t.Errorf("expected 456, got %q", got)
	}
}

func TestSegmentsReconstructText(t *testing.T) {
	inputs := []string{
		"",
		" ",
		"hello world",
		"مرحبا بالعالم",
		"Invoice فاتورة 2024",
		"رقم الهوية: 1234567890 ID",
		"... مرحبا",
		"שלום مرحبا",
		"(عقد) contract [بند] 3.",
		"\u202Bمرحبا\u202C world",
		"م\u064Fح\u064Eم\u064E\u0651د \uFEFB",
	}

	for _, input := range inputs {
		for _, opts := range []Options{DefaultOptions(), {}, only(func(o *Options) { o.EnhanceRTLLayout = true })} {
			result := EnhanceText(input, opts)
			var b strings.Builder
			prevEnd := 0
			for _, s := range result.RTLSegments {
				if s.Start != prevEnd {
					t.Errorf("%q: gap or overlap at %d", input, s.Start)
				}
				prevEnd = s.End
				b.WriteString(s.Text)
			}
			if b.String() != result.EnhancedText {
				t.Errorf("%q: segments rebuild %q, want %q", input, b.String(), result.EnhancedText)
			}
			if prevEnd != len([]rune(result.EnhancedText)) {
				t.Errorf("%q: segments end at %d, text has %d runes", input, prevEnd, len([]rune(result.EnhancedText)))
			}
		}
	}
}

func TestAnalyzeSegments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Segment
	}{
		{
			name:  "latin then arabic",
			input: "Invoice فاتورة 2024",
			want: []Segment{
				{Text: "Invoice ", Start: 0, End: 8, Direction: DirectionLTR, Language: LanguageEnglish},
				{Text: "فاتورة 2024", Start: 8, End: 19, Direction: DirectionRTL, Language: LanguageArabic},
			},
		},
		{
			name:  "leading neutrals take first strong direction",
			input: "- مرحبا",
			want: []Segment{
				{Text: "- مرحبا", Start: 0, End: 7, Direction: DirectionRTL, Language: LanguageArabic},
			},
		},
		{
			name:  "all neutral",
			input: "123 - 456",
			want: []Segment{
				{Text: "123 - 456", Start: 0, End: 9, Direction: DirectionLTR, Language: LanguageNeutral},
			},
		},
		{
			name:  "arabic with hebrew is mixed",
			input: "שלום مرحبا",
			want: []Segment{
				{Text: "שלום مرحبا", Start: 0, End: 10, Direction: DirectionRTL, Language: LanguageMixed},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeSegments(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d segments, got %d: %+v", len(tt.want), len(got), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("segment %d: expected %+v, got %+v", i, tt.want[i], got[i])
				}
			}
		})
	}

	if segs := AnalyzeSegments(""); len(segs) != 0 {
		t.Errorf("empty text should have no segments, got %+v", segs)
	}
}

func TestFixCharacterShaping(t *testing.T) {
	opts := only(func(o *Options) { o.FixCharacterShaping = true })

	result := EnhanceText("\uFEFBعب", opts)
	if result.EnhancedText != "لاعب" {
		t.Errorf("expected lam-alef decomposition, got %q", result.EnhancedText)
	}
	if len(result.Corrections) != 1 {
		t.Fatalf("expected 1 correction, got %d", len(result.Corrections))
	}
	if c := result.Corrections[0]; c.Type != CorrectionCharacter || c.Position != 0 || c.Confidence != 0.9 {
		t.Errorf("unexpected correction %+v", c)
	}

	// ALEF isolated form folds through NFKC
	result = EnhanceText("ب\uFE8D", opts)
	if result.EnhancedText != "با" {
		t.Errorf("expected folded alef, got %q", result.EnhancedText)
	}
	if c := result.Corrections[0]; c.Position != 1 || c.Confidence != 0.8 {
		t.Errorf("unexpected correction %+v", c)
	}
}

func TestCorrectCommonErrors(t *testing.T) {
	opts := only(func(o *Options) { o.CorrectCommonErrors = true })

	t.Run("dictionary", func(t *testing.T) {
		result := EnhanceText("زرت مكه المكرمه", opts)
		if result.EnhancedText != "زرت مكة المكرمة" {
			t.Errorf("unexpected text %q", result.EnhancedText)
		}
		if len(result.Corrections) != 2 {
			t.Fatalf("expected 2 corrections, got %+v", result.Corrections)
		}
		if result.Corrections[0].Position != 4 || result.Corrections[1].Position != 8 {
			t.Errorf("unexpected positions %+v", result.Corrections)
		}
	})

	t.Run("whole words only", func(t *testing.T) {
		result := EnhanceText("الاسلامية", opts)
		if result.EnhancedText != "الإسلامية" || len(result.Corrections) != 1 {
			t.Errorf("unexpected result %q %+v", result.EnhancedText, result.Corrections)
		}
	})

	t.Run("context rules", func(t *testing.T) {
		result := EnhanceText("ذهبت الى المدرسة فى الصباح", opts)
		if result.EnhancedText != "ذهبت إلى المدرسة في الصباح" {
			t.Errorf("unexpected text %q", result.EnhancedText)
		}
		positions := map[string]int{}
		for _, c := range result.Corrections {
			if c.Type != CorrectionCommonError {
				t.Errorf("unexpected type %s", c.Type)
			}
			positions[c.Original] = c.Position
		}
		if positions["الى"] != 5 || positions["فى"] != 17 {
			t.Errorf("unexpected positions %v", positions)
		}
	})

	t.Run("adjacent matches", func(t *testing.T) {
		result := EnhanceText("فى فى", opts)
		if result.EnhancedText != "في في" || len(result.Corrections) != 2 {
			t.Errorf("unexpected result %q %+v", result.EnhancedText, result.Corrections)
		}
	})

	t.Run("ala needs article", func(t *testing.T) {
		if got := EnhanceText("علي البيت", opts).EnhancedText; got != "على البيت" {
			t.Errorf("unexpected text %q", got)
		}
		if got := EnhanceText("علي محمد", opts).EnhancedText; got != "علي محمد" {
			t.Errorf("name must not change, got %q", got)
		}
	})
}

func TestDiacritics(t *testing.T) {
	t.Run("strip", func(t *testing.T) {
		result := EnhanceText("م\u064Fح\u064Eم\u064E\u0651د", only(func(o *Options) { o.NormalizeDiacritics = true }))
		if result.EnhancedText != "محمد" {
			t.Errorf("expected stripped text, got %q", result.EnhancedText)
		}
		if len(result.Corrections) != 3 {
			t.Fatalf("expected one correction per mark run, got %d", len(result.Corrections))
		}
		want := []int{1, 3, 5}
		for i, c := range result.Corrections {
			if c.Position != want[i] || c.Type != CorrectionDiacritic || c.Confidence != 0.95 {
				t.Errorf("correction %d: %+v", i, c)
			}
		}
	})

	t.Run("preserve canonicalizes", func(t *testing.T) {
		opts := only(func(o *Options) { o.NormalizeDiacritics = true; o.PreserveDiacritics = true })
		result := EnhanceText("م\u0651\u064Eحمد", opts)
		if result.EnhancedText != "م\u064E\u0651حمد" {
			t.Errorf("expected canonical mark order, got %q", result.EnhancedText)
		}
		if len(result.Corrections) != 1 || result.Corrections[0].Confidence != 0.9 {
			t.Errorf("unexpected corrections %+v", result.Corrections)
		}

		if again := EnhanceText(result.EnhancedText, opts); len(again.Corrections) != 0 {
			t.Errorf("canonical text should not change, got %+v", again.Corrections)
		}
	})
}

func TestEnhanceRTLLayout(t *testing.T) {
	opts := only(func(o *Options) { o.EnhanceRTLLayout = true })

	result := EnhanceText("Invoice فاتورة 2024", opts)
	want := "Invoice \u202Bفاتورة 2024\u202C"
	if result.EnhancedText != want {
		t.Errorf("expected %q, got %q", want, result.EnhancedText)
	}
	if len(result.Corrections) != 1 || result.Corrections[0].Type != CorrectionLayout || result.Corrections[0].Position != 8 {
		t.Errorf("unexpected corrections %+v", result.Corrections)
	}
	if !result.HasRTL() {
		t.Error("expected an RTL segment")
	}

	again := EnhanceText(result.EnhancedText, opts)
	if again.EnhancedText != result.EnhancedText || len(again.Corrections) != 0 {
		t.Errorf("wrapping must be idempotent, got %q %+v", again.EnhancedText, again.Corrections)
	}

	deduped := EnhanceText("\u202Bمرحبا", opts)
	if strings.Count(deduped.EnhancedText, "\u202B") != 1 {
		t.Errorf("duplicate embedding marks kept: %q", deduped.EnhancedText)
	}
}

func TestConfidenceScore(t *testing.T) {
	result := EnhanceText("hello world", DefaultOptions())
	if result.Metadata.ConfidenceScore != 1.0 || result.Metadata.CorrectionCount != 0 {
		t.Errorf("expected 1.0 with no corrections, got %+v", result.Metadata)
	}

	empty := EnhanceText("", DefaultOptions())
	if empty.EnhancedText != "" || empty.Metadata.ConfidenceScore != 1.0 {
		t.Errorf("unexpected empty result %+v", empty)
	}

	// one number at 0.99 (w 0.05) and one dictionary fix at 0.8 (w 0.5)
	mixed := EnhanceText("مكه ١", only(func(o *Options) { o.CorrectCommonErrors = true; o.NormalizeNumbers = true }))
	want := (0.05*0.99 + 0.5*0.8) / 0.55
	if math.Abs(mixed.Metadata.ConfidenceScore-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, mixed.Metadata.ConfidenceScore)
	}
	if mixed.Metadata.OriginalLength != 5 || mixed.Metadata.EnhancedLength != 5 {
		t.Errorf("unexpected lengths %+v", mixed.Metadata)
	}
}

func TestPositionsIndexOriginalText(t *testing.T) {
	// stripping shifts later runes left; the digit must still point at the original index
	input := "م\u064E\u0651 ٣"
	result := EnhanceText(input, DefaultOptions())

	var digit *Correction
	for i := range result.Corrections {
		if result.Corrections[i].Type == CorrectionNumber {
			digit = &result.Corrections[i]
		}
	}
	if digit == nil {
		t.Fatal("expected a number correction")
	}
	if got := []rune(input)[digit.Position]; got != '٣' {
		t.Errorf("position %d points at %q", digit.Position, got)
	}
}
