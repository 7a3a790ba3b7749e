// Package markup provides the pure Go reference compiler backend,
// registered under the name "markup".
//
// It stands in for a production document compiler the same way a software
// renderer stands in for GPU backends: the full pipeline is exercised —
// compile to a compact binary vector document, open a session over it,
// rasterize pages at arbitrary scales — without any native dependency.
//
// The dialect is deliberately small:
//
//	= Heading        first-level heading
//	== Heading       second-level heading
//	#pagebreak       start a new page
//
// and plain paragraphs separated by blank lines. Text is shaped for
// measurement with go-text/typesetting and rasterized with
// golang.org/x/image using the embedded Go Regular font.
//
// Any other #directive is a compile error; the error text carries
// brace-delimited diagnostic records in the encoding understood by
// pageview.ParseDiagnostics.
package markup
