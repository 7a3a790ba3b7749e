package pageview

import (
	"errors"
	"image"
	"image/png"
	"os"
)

// ErrSizeMismatch is returned when copying between bitmaps of different sizes.
var ErrSizeMismatch = errors.New("pageview: bitmap size mismatch")

// Bitmap is a rectangular RGBA pixel buffer used as a raster surface.
//
// Bitmaps are the unit of exchange throughout the pipeline: the compiler
// session rasterizes pages into them, the engine caches and pools them, and
// the view layer paints them. A Bitmap handed out by the engine is owned by
// the receiver until returned via the engine's Release method; the same
// backing memory is then reused for later pages.
//
// Bitmap is not safe for concurrent use.
type Bitmap struct {
	width  int
	height int
	data   []uint8 // RGBA format, 4 bytes per pixel
}

// NewBitmap creates a new bitmap with the given dimensions.
// The pixel data is zero-initialized (transparent black).
func NewBitmap(width, height int) *Bitmap {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return &Bitmap{
		width:  width,
		height: height,
		data:   make([]uint8, width*height*4),
	}
}

// Width returns the width of the bitmap in pixels.
func (b *Bitmap) Width() int {
	return b.width
}

// Height returns the height of the bitmap in pixels.
func (b *Bitmap) Height() int {
	return b.height
}

// Data returns the raw pixel data (RGBA format).
func (b *Bitmap) Data() []uint8 {
	return b.data
}

// Clear zeroes every pixel.
func (b *Bitmap) Clear() {
	for i := range b.data {
		b.data[i] = 0
	}
}

// FillRGBA fills the entire bitmap with a single color.
func (b *Bitmap) FillRGBA(r, g, bl, a uint8) {
	for i := 0; i < len(b.data); i += 4 {
		b.data[i+0] = r
		b.data[i+1] = g
		b.data[i+2] = bl
		b.data[i+3] = a
	}
}

// EqualDimensions reports whether other has the same width and height.
func (b *Bitmap) EqualDimensions(other *Bitmap) bool {
	return other != nil && other.width == b.width && other.height == b.height
}

// CopyFrom copies the pixel contents of src into b.
// Both bitmaps must have identical dimensions.
func (b *Bitmap) CopyFrom(src *Bitmap) error {
	if !b.EqualDimensions(src) {
		return ErrSizeMismatch
	}
	copy(b.data, src.data)
	return nil
}

// Clone returns a deep copy of the bitmap.
func (b *Bitmap) Clone() *Bitmap {
	c := NewBitmap(b.width, b.height)
	copy(c.data, b.data)
	return c
}

// Opaque reports whether any pixel has a non-zero alpha.
// Useful as a cheap "did anything get drawn" check.
func (b *Bitmap) Opaque() bool {
	for i := 3; i < len(b.data); i += 4 {
		if b.data[i] != 0 {
			return true
		}
	}
	return false
}

// ToImage converts the bitmap to an image.RGBA copy.
func (b *Bitmap) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	copy(img.Pix, b.data)
	return img
}

// RGBA returns an image.RGBA view sharing the bitmap's backing memory.
// Drawing into the returned image mutates the bitmap.
func (b *Bitmap) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    b.data,
		Stride: b.width * 4,
		Rect:   image.Rect(0, 0, b.width, b.height),
	}
}

// SavePNG saves the bitmap to a PNG file.
func (b *Bitmap) SavePNG(path string) error {
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	return png.Encode(f, b.ToImage())
}
