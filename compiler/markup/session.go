package markup

import (
	"fmt"
	"image"
	"sync"

	xfont "golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/pageview"
	"github.com/gogpu/pageview/compiler"
)

// session is a decoded vector document ready for per-page rasterization.
//
// A session stays valid after the compiler that created it is closed: it
// holds its own face cache over the shared read-only font tables.
type session struct {
	doc   *document
	fonts *fontSet

	mu     sync.Mutex
	closed bool
}

func (s *session) PageCount() int {
	return len(s.doc.pages)
}

func (s *session) PageSize(index int) (w, h float64) {
	if index < 0 || index >= len(s.doc.pages) {
		return 0, 0
	}
	return s.doc.pageWidth, s.doc.pageHeight
}

// Rasterize draws one page into dst at the given scale. dst must already
// be sized to ceil(pageWidth*scale) x ceil(pageHeight*scale); the engine
// owns that geometry.
func (s *session) Rasterize(dst *pageview.Bitmap, index int, scale float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return compiler.ErrClosed
	}
	if index < 0 || index >= len(s.doc.pages) {
		return fmt.Errorf("%w: page %d of %d", compiler.ErrPageOutOfRange, index, len(s.doc.pages))
	}
	if scale <= 0 {
		return fmt.Errorf("markup: non-positive scale %g", scale)
	}

	dst.FillRGBA(255, 255, 255, 255)
	img := dst.RGBA()

	s.fonts.mu.Lock()
	defer s.fonts.mu.Unlock()
	for _, op := range s.doc.pages[index].ops {
		if op.text == "" {
			continue
		}
		face, err := s.fonts.face(op.size * scale)
		if err != nil {
			return err
		}
		d := xfont.Drawer{
			Dst:  img,
			Src:  image.Black,
			Face: face,
			Dot: fixed.Point26_6{
				X: floatToFixed(op.x * scale),
				Y: floatToFixed(op.y * scale),
			},
		}
		d.DrawString(op.text)
	}
	return nil
}

// Close releases the session's face cache. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.fonts.dropFaces()
	return nil
}
