// Package pageview orchestrates an incremental markup-to-raster document
// pipeline: source markup is compiled into a paginated vector document by an
// opaque compiler backend, and individual pages are rasterized lazily, on
// demand, at a requested scale.
//
// # Overview
//
// The module is organized around a small set of collaborating pieces:
//
//   - compiler: the compile/rasterize backend abstraction and its registry.
//     The reference "markup" backend lives in compiler/markup.
//   - engine: the render engine. It owns the single live compiler session,
//     the page bitmap cache and the surface pool, and enforces the
//     coalescing-compile and generation-counter protocols.
//   - worker: an asynchronous request/response message transport that hosts
//     the engine on a dedicated goroutine, correlating responses by id.
//   - view: the visibility scheduler. It tracks per-page slots, requests
//     raster output only for pages in or near the viewport, and re-requests
//     when the document generation or target scale changes.
//   - integration/pagecanvas: GPU presentation of rendered pages through
//     gpucontext textures.
//
// The root package holds the shared vocabulary: Bitmap (a raster surface),
// PageInfo (document geometry), Diagnostic (structured compile diagnostics)
// and the error types exchanged between the pieces.
//
// # Staleness
//
// The central correctness rule is generation-based staleness detection:
// every compile advances a generation counter before any compiler work
// begins, and every asynchronous raster result is checked against the
// generation captured at request time before it may become observable.
// A result produced under an older generation is silently dropped, never
// painted.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/pageview/engine"
//
//	    _ "github.com/gogpu/pageview/compiler/markup"
//	)
//
//	eng := engine.New()
//	defer eng.Dispose()
//
//	info, err := eng.Compile(ctx, "= Hello\n\nWorld")
//	bm, err := eng.RenderPage(ctx, 0, 2.0)
//	// paint bm, then hand it back:
//	eng.Release(bm)
package pageview
