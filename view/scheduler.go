package view

import (
	"context"
	"sync"

	"github.com/gogpu/pageview"
)

// Layout and scheduling defaults.
const (
	// DefaultPrefetchMargin extends visibility checks beyond the viewport
	// so pages start rendering slightly before they scroll into view.
	DefaultPrefetchMargin = 200.0

	// DefaultPageGap is the vertical spacing between stacked pages.
	DefaultPageGap = 16.0

	// DefaultBaseDensity is the raster density at 100% zoom on a 1x
	// display: one raster pixel per document point.
	DefaultBaseDensity = 1.0
)

// Renderer produces page bitmaps. Satisfied by engine.Engine and
// worker.Host. A (nil, nil) return is a stale drop: the scheduler leaves
// the slot unrendered and retries on the next visibility pass.
type Renderer interface {
	RenderPage(ctx context.Context, page int, scale float64) (*pageview.Bitmap, error)
}

// Painter is the UI sink for scheduler output. PaintPage receives a
// transferred bitmap valid only for the duration of the call; the
// scheduler releases it afterwards.
type Painter interface {
	PaintPlaceholder(page int)
	PaintPage(page int, bm *pageview.Bitmap)
	PaintError(page int, err error)
}

// ReleaseFunc returns a painted bitmap to its owner (e.g. the engine's
// surface pool).
type ReleaseFunc func(*pageview.Bitmap)

// Scheduler drives per-page rendering from viewport visibility.
//
// Raster resolution is zoom-coupled: the target scale is
// baseDensity x devicePixelRatio x zoom, so every zoom step re-rasterizes
// visible pages at their exact on-screen resolution instead of scaling a
// fixed-density raster in the view transform.
//
// Scheduler is safe for concurrent use.
type Scheduler struct {
	renderer Renderer
	painter  Painter
	release  ReleaseFunc

	margin      float64
	gap         float64
	baseDensity float64

	mu         sync.Mutex
	slots      []*PageSlot
	generation uint64
	viewport   Viewport
	zoom       float64
	dpr        float64
	disposed   bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithPrefetchMargin sets how far beyond the viewport (in document units)
// slots are considered visible.
func WithPrefetchMargin(margin float64) SchedulerOption {
	return func(s *Scheduler) { s.margin = margin }
}

// WithPageGap sets the vertical spacing between stacked pages.
func WithPageGap(gap float64) SchedulerOption {
	return func(s *Scheduler) { s.gap = gap }
}

// WithBaseDensity sets raster pixels per document point at 100% zoom on a
// 1x display.
func WithBaseDensity(d float64) SchedulerOption {
	return func(s *Scheduler) { s.baseDensity = d }
}

// WithRelease sets the release hook for painted bitmaps. Without it
// painted bitmaps are dropped for the garbage collector.
func WithRelease(release ReleaseFunc) SchedulerOption {
	return func(s *Scheduler) { s.release = release }
}

// NewScheduler creates a scheduler over a renderer and a painter.
func NewScheduler(r Renderer, p Painter, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		renderer:    r,
		painter:     p,
		margin:      DefaultPrefetchMargin,
		gap:         DefaultPageGap,
		baseDensity: DefaultBaseDensity,
		zoom:        1.0,
		dpr:         1.0,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.release == nil {
		s.release = func(*pageview.Bitmap) {}
	}
	return s
}

// SetDocument replaces the slot set from freshly compiled geometry. All
// previous slots are destroyed; nothing from the old generation is ever
// painted again.
func (s *Scheduler) SetDocument(info pageview.PageInfo, generation uint64) {
	s.mu.Lock()
	s.generation = generation
	s.slots = make([]*PageSlot, info.PageCount)
	top := 0.0
	for i := 0; i < info.PageCount; i++ {
		s.slots[i] = &PageSlot{
			Index:  i,
			Top:    top,
			Width:  info.Widths[i],
			Height: info.Heights[i],
		}
		top += info.Heights[i] + s.gap
	}
	s.mu.Unlock()
	s.schedule()
}

// ClearDocument destroys all slots, e.g. after a failed compile. The view
// shows no content rather than stale pages.
func (s *Scheduler) ClearDocument() {
	s.mu.Lock()
	s.slots = nil
	s.mu.Unlock()
}

// SetViewport updates the visible window and schedules any newly visible
// stale slots.
func (s *Scheduler) SetViewport(v Viewport) {
	s.mu.Lock()
	s.viewport = v
	s.mu.Unlock()
	s.schedule()
}

// SetZoom updates the zoom factor. Visible pages re-render at the new
// target scale.
func (s *Scheduler) SetZoom(zoom float64) {
	if zoom <= 0 {
		return
	}
	s.mu.Lock()
	s.zoom = zoom
	s.mu.Unlock()
	s.schedule()
}

// SetDevicePixelRatio updates the display density factor.
func (s *Scheduler) SetDevicePixelRatio(dpr float64) {
	if dpr <= 0 {
		return
	}
	s.mu.Lock()
	s.dpr = dpr
	s.mu.Unlock()
	s.schedule()
}

// TargetScale returns the raster scale slots currently aim for.
func (s *Scheduler) TargetScale() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetScaleLocked()
}

func (s *Scheduler) targetScaleLocked() float64 {
	return s.baseDensity * s.dpr * s.zoom
}

// Progress returns how many pages are rendered at the current generation
// and target scale, against the total page count.
func (s *Scheduler) Progress() (rendered, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scale := s.targetScaleLocked()
	for _, slot := range s.slots {
		if slot.Rendered(s.generation, scale) {
			rendered++
		}
	}
	return rendered, len(s.slots)
}

// Dispose stops issuing renders. In-flight results are discarded.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	s.disposed = true
	s.slots = nil
	s.mu.Unlock()
}

// schedule recomputes visibility and issues renders for visible slots
// whose painted raster is out of date.
func (s *Scheduler) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	top := s.viewport.Top - s.margin
	bottom := s.viewport.Top + s.viewport.Height + s.margin
	scale := s.targetScaleLocked()

	for _, slot := range s.slots {
		slot.visible = slot.intersects(top, bottom)
		if !slot.visible || slot.outstanding {
			continue
		}
		if slot.Rendered(s.generation, scale) {
			continue
		}
		slot.outstanding = true
		s.painter.PaintPlaceholder(slot.Index)
		go s.render(slot, s.generation, scale)
	}
}

// render performs one render request for a slot and settles it.
func (s *Scheduler) render(slot *PageSlot, generation uint64, scale float64) {
	bm, err := s.renderer.RenderPage(context.Background(), slot.Index, scale)

	s.mu.Lock()
	if s.disposed || !s.containsLocked(slot) {
		s.mu.Unlock()
		if bm != nil {
			s.release(bm)
		}
		return
	}
	slot.outstanding = false

	switch {
	case err != nil:
		s.mu.Unlock()
		pageview.Logger().Warn("page render failed", "page", slot.Index, "error", err)
		s.painter.PaintError(slot.Index, err)
		return
	case bm == nil:
		// Stale drop. The slot stays unrendered; a later visibility pass
		// (after SetDocument for the new generation) re-requests it.
		s.mu.Unlock()
		return
	}

	slot.renderedGeneration = generation
	slot.renderedScale = scale
	slot.painted = true
	s.mu.Unlock()

	// Single-use transfer: paint once, then hand the surface back.
	s.painter.PaintPage(slot.Index, bm)
	s.release(bm)
}

// containsLocked reports whether slot still belongs to the live slot set.
// A recompile replaces the set, orphaning slots with renders in flight.
func (s *Scheduler) containsLocked(slot *PageSlot) bool {
	if slot.Index >= len(s.slots) {
		return false
	}
	return s.slots[slot.Index] == slot
}
