// Package compiler defines the opaque compile/rasterize backend abstraction
// used by the render engine, and a registry for backend implementations.
//
// A Compiler turns markup source into a compact vector document; a Session
// wraps one compiled document and rasterizes individual pages. Both hold
// resources outside Go's garbage collector's view (native memory, cached
// font tables, decoded geometry) and require an explicit Close on every
// exit path.
package compiler

import (
	"context"
	"errors"

	"github.com/gogpu/pageview"
)

// Common compiler errors.
var (
	// ErrCompilerNotAvailable is returned when a requested compiler backend
	// is not registered.
	ErrCompilerNotAvailable = errors.New("compiler: not available")

	// ErrClosed is returned when operations are called after Close.
	ErrClosed = errors.New("compiler: closed")

	// ErrPageOutOfRange is returned by Session.Rasterize for an invalid
	// page index.
	ErrPageOutOfRange = errors.New("compiler: page index out of range")
)

// Compiler is the long-lived compiler/renderer handle.
//
// Implementations are responsible for their own internal caches; the engine
// periodically closes and recreates its Compiler through the registered
// factory to bound memory growth the orchestration layer cannot see.
//
// A Compiler must be safe for concurrent CompileVector/NewSession calls.
type Compiler interface {
	// Name returns the backend identifier (e.g. "markup").
	Name() string

	// CompileVector compiles markup source into the backend's vector
	// document encoding. On failure the returned error's text carries the
	// backend's diagnostic records (see pageview.ParseDiagnostics).
	CompileVector(ctx context.Context, source string) ([]byte, error)

	// NewSession creates a session over a compiled vector document.
	// The caller owns the session and must Close it.
	NewSession(vector []byte) (Session, error)

	// Close releases the compiler handle and everything it accumulated.
	// Close is idempotent.
	Close() error
}

// Session is an opaque handle over one compiled document, enabling
// random-access per-page rasterization.
//
// A Session must support concurrent Rasterize calls for distinct surfaces.
// Close must not be called while a Rasterize call is in flight; the engine
// guarantees this ordering.
type Session interface {
	// PageCount returns the number of pages in the document.
	PageCount() int

	// PageSize returns the size of page index in document units (points).
	PageSize(index int) (width, height float64)

	// Rasterize renders page index into dst at the given scale. dst must be
	// sized ceil(width*scale) x ceil(height*scale) for the page.
	Rasterize(dst *pageview.Bitmap, index int, scale float64) error

	// Close releases the session. Close is idempotent.
	Close() error
}

// PageInfo extracts the document geometry from a session.
func PageInfo(s Session) pageview.PageInfo {
	n := s.PageCount()
	info := pageview.PageInfo{
		PageCount: n,
		Widths:    make([]float64, n),
		Heights:   make([]float64, n),
	}
	for i := 0; i < n; i++ {
		info.Widths[i], info.Heights[i] = s.PageSize(i)
	}
	return info
}
