package markup

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/gogpu/pageview/compiler"
)

// Page geometry in document units (points). A4 with one-inch margins.
const (
	pageWidthPt  = 595.28
	pageHeightPt = 841.89
	marginPt     = 72.0
)

// Type scale.
const (
	bodySize     = 11.0
	heading1Size = 22.0
	heading2Size = 17.0

	leadingFactor  = 1.4
	blockSpacing   = 6.0
	headingSpacing = 12.0

	// ascentFactor approximates the baseline offset from the line top.
	ascentFactor = 0.8
)

// init registers the markup backend on package import.
func init() {
	compiler.Register(compiler.BackendMarkup, func() (compiler.Compiler, error) {
		return New()
	})
}

// Compiler is the pure Go reference compiler backend.
//
// Compiler is safe for concurrent use.
type Compiler struct {
	fonts *fontSet
	meas  *measurer

	mu     sync.Mutex
	closed bool
}

// New creates a markup compiler. The embedded font is parsed once here and
// shared, read-only, with every session the compiler produces.
func New() (*Compiler, error) {
	fonts, err := newFontSet()
	if err != nil {
		return nil, err
	}
	return &Compiler{
		fonts: fonts,
		meas:  newMeasurer(fonts.shaped),
	}, nil
}

// Name returns the backend identifier.
func (c *Compiler) Name() string {
	return compiler.BackendMarkup
}

// Close releases the compiler's cached faces. Sessions already created
// remain valid: they hold their own face caches over the shared read-only
// font tables. Close is idempotent.
func (c *Compiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.fonts.dropFaces()
	return nil
}

// CompileVector compiles markup source into the binary vector encoding.
func (c *Compiler) CompileVector(ctx context.Context, source string) ([]byte, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, compiler.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blocks, err := parseBlocks(normalizeSource(source))
	if err != nil {
		return nil, err
	}

	doc := c.layout(blocks)
	return encodeDocument(doc), nil
}

// NewSession decodes a compiled vector document. The session shares the
// compiler's parsed font tables but keeps its own face cache, so it stays
// usable after the compiler is closed and recreated.
func (c *Compiler) NewSession(vector []byte) (compiler.Session, error) {
	doc, err := decodeDocument(vector)
	if err != nil {
		return nil, err
	}
	return &session{
		doc:   doc,
		fonts: c.fonts.derive(),
	}, nil
}

// blockKind classifies a parsed source block.
type blockKind uint8

const (
	blockParagraph blockKind = iota
	blockHeading1
	blockHeading2
	blockPageBreak
)

// block is one logical unit of source: a heading, a paragraph, or a forced
// page break.
type block struct {
	kind blockKind
	text string
}

// normalizeSource brings the raw source into canonical form: NFC
// normalization and unix line endings.
func normalizeSource(source string) string {
	source = norm.NFC.String(source)
	source = strings.ReplaceAll(source, "\r\n", "\n")
	return strings.ReplaceAll(source, "\r", "\n")
}

// parseBlocks splits normalized source into blocks. A heading or directive
// line always forms its own block; consecutive plain lines merge into one
// paragraph; blank lines separate paragraphs.
func parseBlocks(source string) ([]block, error) {
	var blocks []block
	var para []string

	flush := func() {
		if len(para) > 0 {
			blocks = append(blocks, block{kind: blockParagraph, text: strings.Join(para, " ")})
			para = para[:0]
		}
	}

	for lineNo, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "== "):
			flush()
			blocks = append(blocks, block{kind: blockHeading2, text: strings.TrimSpace(trimmed[3:])})
		case strings.HasPrefix(trimmed, "= "):
			flush()
			blocks = append(blocks, block{kind: blockHeading1, text: strings.TrimSpace(trimmed[2:])})
		case strings.HasPrefix(trimmed, "#"):
			flush()
			if trimmed == "#pagebreak" {
				blocks = append(blocks, block{kind: blockPageBreak})
				continue
			}
			return nil, directiveError(trimmed, lineNo+1)
		default:
			para = append(para, trimmed)
		}
	}
	flush()
	return blocks, nil
}

// directiveError builds a compile error whose text carries a
// brace-delimited diagnostic record, the encoding the engine feeds through
// pageview.ParseDiagnostics.
func directiveError(directive string, line int) error {
	return fmt.Errorf(
		`SourceDiagnostic { severity: Error, message: %q, hints: [%q] }`,
		fmt.Sprintf("line %d: unknown directive %s", line, directive),
		"supported directives: #pagebreak",
	)
}

// layout flows blocks onto pages, wrapping paragraphs to the content width.
func (c *Compiler) layout(blocks []block) *document {
	doc := &document{
		pageWidth:  pageWidthPt,
		pageHeight: pageHeightPt,
		pages:      []pageDesc{{}},
	}
	contentWidth := pageWidthPt - 2*marginPt
	bottom := pageHeightPt - marginPt
	y := marginPt

	page := func() *pageDesc { return &doc.pages[len(doc.pages)-1] }
	newPage := func() {
		doc.pages = append(doc.pages, pageDesc{})
		y = marginPt
	}

	for _, b := range blocks {
		if b.kind == blockPageBreak {
			newPage()
			continue
		}

		size := bodySize
		switch b.kind {
		case blockHeading1:
			size = heading1Size
		case blockHeading2:
			size = heading2Size
		}
		if b.kind != blockParagraph && y > marginPt {
			y += headingSpacing
		}

		lineHeight := size * leadingFactor
		for _, line := range c.wrap(b.text, size, contentWidth) {
			if y+lineHeight > bottom {
				newPage()
			}
			page().ops = append(page().ops, textOp{
				x:    marginPt,
				y:    y + size*ascentFactor,
				size: size,
				text: line,
			})
			y += lineHeight
		}
		y += blockSpacing
	}
	return doc
}

// wrap splits text into lines no wider than width, breaking greedily at
// word boundaries. A single word wider than the line is emitted anyway;
// the rasterizer clips it at the page edge.
func (c *Compiler) wrap(text string, size, width float64) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		candidate := current + " " + word
		if c.meas.advance(candidate, size) > width {
			lines = append(lines, current)
			current = word
			continue
		}
		current = candidate
	}
	return append(lines, current)
}
