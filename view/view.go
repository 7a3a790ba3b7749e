// Package view schedules page rendering by visibility: pages are laid out
// as a vertical stack, and only slots intersecting the viewport (plus a
// prefetch margin) request rasterization. Rendered bitmaps are painted
// once and released; slots track the generation and scale they last
// painted so edits and zoom changes invalidate exactly the visible work.
package view

// Viewport is the visible window over the document stack, in document
// units (points).
type Viewport struct {
	// Top is the scroll offset from the top of the first page.
	Top float64
	// Height is the visible extent.
	Height float64
}

// PageSlot is the host-side placeholder for one document page. Slots are
// created when page geometry becomes known and destroyed when the
// document is recompiled or unmounted.
type PageSlot struct {
	// Index is the page offset in the document.
	Index int

	// Layout in document units, within the vertical stack.
	Top    float64
	Width  float64
	Height float64

	visible     bool
	outstanding bool

	// renderedGeneration and renderedScale identify the raster currently
	// painted; a mismatch with the live generation or target scale marks
	// the slot unrendered.
	renderedGeneration uint64
	renderedScale      float64
	painted            bool
}

// Visible reports whether the slot currently intersects the viewport
// (including the prefetch margin).
func (s *PageSlot) Visible() bool {
	return s.visible
}

// Rendered reports whether the slot's painted raster matches the given
// generation and scale.
func (s *PageSlot) Rendered(generation uint64, scale float64) bool {
	return s.painted && s.renderedGeneration == generation && s.renderedScale == scale
}

// intersects reports whether the slot overlaps [top, bottom) vertically.
func (s *PageSlot) intersects(top, bottom float64) bool {
	return s.Top < bottom && s.Top+s.Height > top
}
