// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package pagecanvas

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/pageview"
)

// Common errors returned by Canvas operations.
var (
	// ErrCanvasClosed is returned when operations are attempted on a
	// closed canvas.
	ErrCanvasClosed = errors.New("pagecanvas: canvas is closed")

	// ErrNilProvider is returned when a nil DeviceProvider is passed.
	ErrNilProvider = errors.New("pagecanvas: nil DeviceProvider")

	// ErrInvalidDrawContext is returned when the draw context cannot draw
	// textures.
	ErrInvalidDrawContext = errors.New("pagecanvas: dc cannot draw textures")

	// ErrInvalidRenderer is returned when the draw context exposes no
	// texture creator.
	ErrInvalidRenderer = errors.New("pagecanvas: dc exposes no texture creator")
)

// textureDestroyer matches the gogpu texture Destroy signature.
type textureDestroyer interface {
	Destroy()
}

// textureUpdater matches the gogpu texture in-place update signature.
type textureUpdater interface {
	UpdateData(data []byte)
}

// textureCreator matches the gogpu renderer texture creation signature.
type textureCreator interface {
	NewTextureFromRGBA(width, height int, data []byte) (any, error)
}

// textureDrawer matches the gogpu draw context signature.
type textureDrawer interface {
	DrawTexture(tex any, x, y float32) error
}

// rendererProvider is how draw contexts expose their texture creator.
type rendererProvider interface {
	Renderer() any
}

// tileState tracks what a page tile currently shows.
type tileState uint8

const (
	tilePlaceholder tileState = iota
	tilePainted
	tileFailed
)

// pageTile is one page's GPU-side state.
type pageTile struct {
	state  tileState
	width  int
	height int

	// pending holds RGBA pixels awaiting upload. Set by the paint side,
	// consumed by Present on the frame loop.
	pending []byte

	texture any
}

// Canvas manages one GPU texture per rendered page.
type Canvas struct {
	provider gpucontext.DeviceProvider

	placeholderColor gputypes.Color
	errorColor       gputypes.Color

	mu    sync.Mutex
	tiles map[int]*pageTile
	// retired textures await deferred destruction: they may still be
	// referenced by in-flight GPU work, so they are destroyed only after
	// the next upload, which waits for the GPU internally.
	retired []any
	closed  bool
}

// Option configures a Canvas.
type Option func(*Canvas)

// WithPlaceholderColor sets the solid color shown while a page render is
// outstanding.
func WithPlaceholderColor(c gputypes.Color) Option {
	return func(cv *Canvas) { cv.placeholderColor = c }
}

// WithErrorColor sets the solid color shown for a page whose render
// failed.
func WithErrorColor(c gputypes.Color) Option {
	return func(cv *Canvas) { cv.errorColor = c }
}

// New creates a canvas. The provider should come from
// gogpu.App.GPUContextProvider().
func New(provider gpucontext.DeviceProvider, opts ...Option) (*Canvas, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	c := &Canvas{
		provider:         provider,
		placeholderColor: gputypes.Color{R: 0.92, G: 0.92, B: 0.92, A: 1},
		errorColor:       gputypes.Color{R: 0.85, G: 0.30, B: 0.30, A: 1},
		tiles:            make(map[int]*pageTile),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetPageSize registers a page's pixel dimensions ahead of its first
// paint, so placeholder tiles upload at the right size. Called from
// document geometry when a compile succeeds.
func (c *Canvas) SetPageSize(page, width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	tile := c.tile(page)
	if tile.width == width && tile.height == height {
		return
	}
	tile.width = width
	tile.height = height
	tile.pending = solidFill(width, height, c.placeholderColor)
	tile.state = tilePlaceholder
}

// Reset drops all page tiles, e.g. after a recompile changed the page
// count. Textures are destroyed on the next Present, when the GPU is
// known idle after an upload.
func (c *Canvas) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tile := range c.tiles {
		c.retireLocked(tile)
	}
	c.tiles = make(map[int]*pageTile)
}

// PaintPlaceholder marks a page as awaiting its raster. Implements
// view.Painter.
func (c *Canvas) PaintPlaceholder(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	tile := c.tile(page)
	if tile.state == tilePlaceholder || tile.width == 0 {
		return
	}
	tile.state = tilePlaceholder
	tile.pending = solidFill(tile.width, tile.height, c.placeholderColor)
}

// PaintPage stores a rendered page for upload on the next Present. The
// bitmap is copied: it is a single-use transfer and the scheduler
// releases it as soon as this call returns. Implements view.Painter.
func (c *Canvas) PaintPage(page int, bm *pageview.Bitmap) {
	if bm == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	tile := c.tile(page)
	tile.width = bm.Width()
	tile.height = bm.Height()
	tile.pending = append(tile.pending[:0], bm.Data()...)
	tile.state = tilePainted
}

// PaintError shows the error tile for a page whose render failed.
// Implements view.Painter.
func (c *Canvas) PaintError(page int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	tile := c.tile(page)
	if tile.width == 0 {
		return
	}
	tile.state = tileFailed
	tile.pending = solidFill(tile.width, tile.height, c.errorColor)
	pageview.Logger().Warn("page tile failed", "page", page, "error", err)
}

// Position maps a page index to its on-screen location for Present.
type Position func(page int) (x, y float32)

// Present uploads pending tiles and draws every sized tile through the
// frame's draw context. Call from the frame loop.
func (c *Canvas) Present(dc any, pos Position) error {
	drawer, ok := dc.(textureDrawer)
	if !ok {
		return ErrInvalidDrawContext
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCanvasClosed
	}

	// Stable draw order keeps overlap deterministic.
	pages := make([]int, 0, len(c.tiles))
	for page := range c.tiles {
		pages = append(pages, page)
	}
	sort.Ints(pages)

	for _, page := range pages {
		tile := c.tiles[page]
		if tile.width == 0 {
			continue
		}
		if err := c.uploadLocked(dc, tile); err != nil {
			return err
		}
		if tile.texture == nil {
			continue
		}
		x, y := pos(page)
		if err := drawer.DrawTexture(tile.texture, x, y); err != nil {
			return fmt.Errorf("pagecanvas: drawing page %d: %w", page, err)
		}
	}
	return nil
}

// uploadLocked realizes a tile's pending pixels as a GPU texture.
func (c *Canvas) uploadLocked(dc any, tile *pageTile) error {
	if tile.pending == nil {
		return nil
	}

	// Same-size update goes in place, no reallocation.
	if tile.texture != nil {
		if updater, ok := tile.texture.(textureUpdater); ok && len(tile.pending) == tile.width*tile.height*4 {
			updater.UpdateData(tile.pending)
			tile.pending = nil
			return nil
		}
		// Size changed: retire the old texture until after the creation
		// call below.
		c.retireLocked(tile)
	}

	creator := creatorFrom(dc)
	if creator == nil {
		return ErrInvalidRenderer
	}
	tex, err := creator.NewTextureFromRGBA(tile.width, tile.height, tile.pending)
	if err != nil {
		return fmt.Errorf("pagecanvas: NewTextureFromRGBA failed: %w", err)
	}
	tile.texture = tex
	tile.pending = nil

	// GPU idle after the upload: deferred destruction is safe now.
	c.destroyRetiredLocked()
	return nil
}

// retireLocked moves a tile's texture to the deferred-destruction list.
func (c *Canvas) retireLocked(tile *pageTile) {
	if tile.texture == nil {
		return
	}
	c.retired = append(c.retired, tile.texture)
	tile.texture = nil
}

func (c *Canvas) destroyRetiredLocked() {
	for _, tex := range c.retired {
		if destroyer, ok := tex.(textureDestroyer); ok {
			destroyer.Destroy()
		}
	}
	c.retired = nil
}

// Provider returns the DeviceProvider associated with this canvas, or nil
// when closed.
func (c *Canvas) Provider() gpucontext.DeviceProvider {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.provider
}

// Close destroys all textures. Idempotent.
func (c *Canvas) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.destroyRetiredLocked()
	for _, tile := range c.tiles {
		if destroyer, ok := tile.texture.(textureDestroyer); ok {
			destroyer.Destroy()
		}
	}
	c.tiles = nil
	c.provider = nil
	return nil
}

func (c *Canvas) tile(page int) *pageTile {
	tile, ok := c.tiles[page]
	if !ok {
		tile = &pageTile{}
		c.tiles[page] = tile
	}
	return tile
}

// creatorFrom extracts a texture creator from a draw context, either
// directly or through its renderer.
func creatorFrom(dc any) textureCreator {
	if creator, ok := dc.(textureCreator); ok {
		return creator
	}
	if rp, ok := dc.(rendererProvider); ok {
		if creator, ok := rp.Renderer().(textureCreator); ok {
			return creator
		}
	}
	return nil
}

// solidFill builds an RGBA pixel buffer of one color.
func solidFill(width, height int, c gputypes.Color) []byte {
	px := [4]byte{
		byte(clamp01(c.R) * 255),
		byte(clamp01(c.G) * 255),
		byte(clamp01(c.B) * 255),
		byte(clamp01(c.A) * 255),
	}
	data := make([]byte, width*height*4)
	for i := 0; i < len(data); i += 4 {
		copy(data[i:], px[:])
	}
	return data
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
