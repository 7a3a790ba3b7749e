// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package pagecanvas presents rendered document pages as GPU textures.
//
// It sits between the visibility scheduler and a gogpu draw context: the
// scheduler paints page bitmaps into the canvas (pagecanvas implements
// view.Painter), and each frame the application presents the canvas to a
// texture drawer. Uploads are deferred to presentation time because
// texture creation needs the frame's renderer; a painted page is held as
// pending pixels until then.
//
// Placeholder and error tiles are solid-color uploads so a page slot is
// always visible while its raster is outstanding.
//
// pagecanvas is safe for concurrent painting; Present must be called from
// the frame loop only.
package pagecanvas
