// Package worker hosts a render engine behind an asynchronous message
// protocol. The host side never blocks on compilation or rasterization:
// every operation is a request message answered by a correlated response,
// and responses arrive in completion order, not request order.
package worker

import (
	"github.com/gogpu/pageview"
)

// Message type tags, host to engine.
const (
	TypeInit          = "init"
	TypeCompileVector = "compile-vector"
	TypeRenderPage    = "render-page"
)

// Message type tags, engine to host.
const (
	TypeReady        = "ready"
	TypeInitError    = "init-error"
	TypeVectorResult = "vector-result"
	TypePageResult   = "page-result"
	TypeCompileError = "compile-error"
)

// messageSuperseded is the compile-error message for a compile displaced by
// a newer request. It rides the compile-error shape so the protocol keeps
// its five response types; the host maps it back to engine.ErrSuperseded so
// callers can distinguish supersession from real failures with errors.Is.
const messageSuperseded = "superseded by newer compile"

// Request is a host-to-engine message. Fields beyond Type and ID are
// populated per message type.
type Request struct {
	Type string `json:"type"`
	ID   uint64 `json:"id,omitempty"`

	// init
	CompilerRef string `json:"compilerRef,omitempty"`

	// compile-vector
	Source string `json:"source,omitempty"`

	// render-page
	PageOffset int     `json:"pageOffset,omitempty"`
	Scale      float64 `json:"scale,omitempty"`
}

// Response is an engine-to-host message. The Bitmap of a page-result is
// transferred: ownership moves to the host, which must release it after
// one paint.
type Response struct {
	Type string `json:"type"`
	ID   uint64 `json:"id,omitempty"`

	// init-error, compile-error
	Message string `json:"message,omitempty"`

	// vector-result
	PageCount   int       `json:"pageCount,omitempty"`
	PageWidths  []float64 `json:"pageWidths,omitempty"`
	PageHeights []float64 `json:"pageHeights,omitempty"`

	// page-result. A nil Bitmap with no error means the render went stale
	// and was dropped; the host simply does not paint.
	Bitmap *pageview.Bitmap `json:"-"`
	Width  int              `json:"width,omitempty"`
	Height int              `json:"height,omitempty"`

	// compile-error
	Diagnostics []pageview.Diagnostic `json:"diagnostics,omitempty"`
}
