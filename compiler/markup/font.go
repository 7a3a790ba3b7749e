package markup

import (
	"bytes"
	"fmt"
	"math"
	"sync"

	tsfont "github.com/go-text/typesetting/font"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

// fontSet bundles the two parsed views of the embedded Go Regular font:
// an sfnt.Font for rasterization through x/image, and a typesetting Font
// for HarfBuzz shaping. Both parsed forms are read-only and safe to share;
// the rasterization faces derived from them are not, so face access is
// serialized here.
type fontSet struct {
	raster *sfnt.Font
	shaped *tsfont.Font

	// mu protects faces. x/image font.Face carries mutable glyph state and
	// is not safe for concurrent use.
	mu    sync.Mutex
	faces map[int]xfont.Face
}

// newFontSet parses the embedded font once for both consumers.
func newFontSet() (*fontSet, error) {
	rasterFont, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("markup: parsing raster font: %w", err)
	}

	// ParseTTF returns a *Face which embeds the thread-safe *Font.
	shapedFace, err := tsfont.ParseTTF(bytes.NewReader(goregular.TTF))
	if err != nil {
		return nil, fmt.Errorf("markup: parsing shaping font: %w", err)
	}

	return &fontSet{
		raster: rasterFont,
		shaped: shapedFace.Font,
		faces:  make(map[int]xfont.Face),
	}, nil
}

// faceKey quantizes a point size to 1/64pt so that face caching stays
// bounded under scale jitter.
func faceKey(size float64) int {
	return int(math.Round(size * 64))
}

// face returns a cached rasterization face at the given point size.
// The caller must hold fs.mu while using the face; see session.Rasterize.
func (fs *fontSet) face(size float64) (xfont.Face, error) {
	key := faceKey(size)
	if f, ok := fs.faces[key]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(fs.raster, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: xfont.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("markup: creating face at %gpt: %w", size, err)
	}
	fs.faces[key] = f
	return f, nil
}

// derive returns a fontSet sharing the read-only parsed tables but with
// its own face cache. Sessions derive their fonts so that closing the
// compiler that produced them does not pull faces out from under a
// rasterization in flight.
func (fs *fontSet) derive() *fontSet {
	return &fontSet{
		raster: fs.raster,
		shaped: fs.shaped,
		faces:  make(map[int]xfont.Face),
	}
}

// dropFaces releases all cached faces. Parsed font tables stay valid.
func (fs *fontSet) dropFaces() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for k, f := range fs.faces {
		_ = f.Close()
		delete(fs.faces, k)
	}
}
