// Command pageviewdemo compiles a markup document and writes each page as
// a PNG file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gogpu/pageview"
	_ "github.com/gogpu/pageview/compiler/markup"
	"github.com/gogpu/pageview/engine"
)

const sampleSource = `= Page Rendering Demo

This document is compiled by the markup backend and rasterized one page
at a time. Paragraphs wrap at the content width using shaped text
measurement, so kerning counts toward line breaks.

== How it works

The engine compiles markup into a compact vector document, creates a
session over it, and rasterizes only the pages you ask for. Rendered
pages land in a small LRU cache; surfaces come from a pool.

#pagebreak

= Second Page

A forced page break put this heading on its own page.
`

func main() {
	var (
		input   = flag.String("input", "", "markup source file (default: built-in sample)")
		outDir  = flag.String("out", ".", "output directory for page PNGs")
		scale   = flag.Float64("scale", 1.0, "raster scale (1.0 = 72 dpi)")
		verbose = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		pageview.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	source := sampleSource
	if *input != "" {
		data, err := os.ReadFile(*input)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", *input, err)
		}
		source = string(data)
	}

	eng := engine.New()
	defer eng.Dispose()

	ctx := context.Background()
	info, err := eng.Compile(ctx, source)
	if err != nil {
		var cerr *pageview.CompileError
		if errors.As(err, &cerr) {
			for _, d := range cerr.Diagnostics {
				fmt.Fprintf(os.Stderr, "%s: %s\n", d.Severity, d.Message)
				for _, hint := range d.Hints {
					fmt.Fprintf(os.Stderr, "  hint: %s\n", hint)
				}
			}
		}
		log.Fatalf("Compile failed: %v", err)
	}

	for page := 0; page < info.PageCount; page++ {
		bm, err := eng.RenderPage(ctx, page, *scale)
		if err != nil {
			log.Fatalf("Failed to render page %d: %v", page, err)
		}
		path := filepath.Join(*outDir, fmt.Sprintf("page-%02d.png", page+1))
		if err := bm.SavePNG(path); err != nil {
			log.Fatalf("Failed to save %s: %v", path, err)
		}
		log.Printf("Wrote %s (%dx%d)", path, bm.Width(), bm.Height())
		eng.Release(bm)
	}

	stats := eng.CacheStats()
	log.Printf("Rendered %d pages (cache: %d hits, %d misses)",
		info.PageCount, stats.Hits, stats.Misses)
}
