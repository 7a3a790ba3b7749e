package markup

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrBadVector is returned when a vector document fails to decode.
var ErrBadVector = errors.New("markup: malformed vector document")

// vectorMagic identifies the markup backend's vector document encoding.
var vectorMagic = [4]byte{'P', 'G', 'V', '1'}

// textOp places one run of text. x is the left edge of the run and y the
// baseline, both in document units.
type textOp struct {
	x    float64
	y    float64
	size float64
	text string
}

// pageDesc holds the placed runs of one page.
type pageDesc struct {
	ops []textOp
}

// document is the decoded form of a compiled vector document.
// All pages share one size; per-page sizes would only need the encoding to
// move the dimensions into the page records.
type document struct {
	pageWidth  float64
	pageHeight float64
	pages      []pageDesc
}

// encodeDocument serializes a document into the backend's wire form.
//
// Layout (big endian): magic, pageWidth f64, pageHeight f64,
// pageCount u32, then per page: opCount u32, then per op:
// x f64, y f64, size f64, textLen u32, text bytes (UTF-8).
func encodeDocument(doc *document) []byte {
	var buf bytes.Buffer
	buf.Write(vectorMagic[:])
	writeFloat(&buf, doc.pageWidth)
	writeFloat(&buf, doc.pageHeight)
	writeUint32(&buf, uint32(len(doc.pages)))
	for _, page := range doc.pages {
		writeUint32(&buf, uint32(len(page.ops)))
		for _, op := range page.ops {
			writeFloat(&buf, op.x)
			writeFloat(&buf, op.y)
			writeFloat(&buf, op.size)
			writeUint32(&buf, uint32(len(op.text)))
			buf.WriteString(op.text)
		}
	}
	return buf.Bytes()
}

// decodeDocument parses the wire form back into a document.
func decodeDocument(data []byte) (*document, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != vectorMagic {
		return nil, ErrBadVector
	}

	doc := &document{}
	var err error
	if doc.pageWidth, err = readFloat(r); err != nil {
		return nil, ErrBadVector
	}
	if doc.pageHeight, err = readFloat(r); err != nil {
		return nil, ErrBadVector
	}
	if doc.pageWidth <= 0 || doc.pageHeight <= 0 {
		return nil, ErrBadVector
	}

	pageCount, err := readUint32(r)
	if err != nil {
		return nil, ErrBadVector
	}
	if int(pageCount) > r.Len() {
		// Each page needs at least its op count; the header lies.
		return nil, ErrBadVector
	}

	doc.pages = make([]pageDesc, pageCount)
	for i := range doc.pages {
		opCount, err := readUint32(r)
		if err != nil {
			return nil, ErrBadVector
		}
		if int(opCount) > r.Len() {
			return nil, ErrBadVector
		}
		ops := make([]textOp, 0, opCount)
		for j := uint32(0); j < opCount; j++ {
			var op textOp
			if op.x, err = readFloat(r); err != nil {
				return nil, ErrBadVector
			}
			if op.y, err = readFloat(r); err != nil {
				return nil, ErrBadVector
			}
			if op.size, err = readFloat(r); err != nil {
				return nil, ErrBadVector
			}
			textLen, err := readUint32(r)
			if err != nil || int(textLen) > r.Len() {
				return nil, ErrBadVector
			}
			text := make([]byte, textLen)
			if _, err := io.ReadFull(r, text); err != nil {
				return nil, ErrBadVector
			}
			op.text = string(text)
			ops = append(ops, op)
		}
		doc.pages[i].ops = ops
	}
	return doc, nil
}

func writeFloat(buf *bytes.Buffer, v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readFloat(r *bytes.Reader) (float64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b[:])), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
