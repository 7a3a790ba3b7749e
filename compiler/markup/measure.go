package markup

import (
	"sync"

	"github.com/go-text/typesetting/di"
	tsfont "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/math/fixed"
)

// measurer computes text advance widths through HarfBuzz shaping, so that
// line wrapping accounts for kerning and ligatures rather than summing
// naive per-rune advances.
//
// measurer is safe for concurrent use. HarfbuzzShaper instances have
// internal mutable state and are pooled; the parsed font is read-only.
type measurer struct {
	font *tsfont.Font

	// shaperPool pools HarfbuzzShaper instances. A shaper is NOT safe for
	// concurrent use, but reusing one across sequential calls is efficient.
	shaperPool sync.Pool
}

func newMeasurer(f *tsfont.Font) *measurer {
	return &measurer{
		font: f,
		shaperPool: sync.Pool{
			New: func() any {
				return &shaping.HarfbuzzShaper{}
			},
		},
	}
}

// advance returns the total advance width of text at the given point size.
func (m *measurer) advance(text string, size float64) float64 {
	if text == "" {
		return 0
	}
	runes := []rune(text)

	// font.Face is NOT safe for concurrent use, so each call gets its own
	// lightweight instance wrapping the shared thread-safe *Font.
	face := tsfont.NewFace(m.font)

	input := shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: di.DirectionLTR,
		Face:      face,
		Size:      floatToFixed(size),
		Script:    detectScript(runes),
		Language:  language.NewLanguage("en"),
	}

	shaper := m.shaperPool.Get().(*shaping.HarfbuzzShaper)
	output := shaper.Shape(input)
	m.shaperPool.Put(shaper)

	var total float64
	for _, g := range output.Glyphs {
		total += fixedToFloat(g.Advance)
	}
	return total
}

// detectScript inspects the runes and returns the script of the first
// non-space character. The dialect is line-oriented, so a per-line
// heuristic is sufficient.
func detectScript(runes []rune) language.Script {
	for _, r := range runes {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		return language.LookupScript(r)
	}
	return language.Latin
}

// floatToFixed converts a float64 font size to fixed.Int26_6.
func floatToFixed(size float64) fixed.Int26_6 {
	return fixed.Int26_6(size * 64)
}

// fixedToFloat converts a fixed.Int26_6 value to float64.
func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64.0
}
