package pageview

import "strings"

// Severity classifies a compile diagnostic.
type Severity uint8

const (
	// SeverityError marks a diagnostic that prevented compilation.
	SeverityError Severity = iota
	// SeverityWarning marks a non-fatal problem in the source.
	SeverityWarning
	// SeverityInfo marks a purely informational note.
	SeverityInfo
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "error"
	}
}

// Diagnostic is one structured record translated from the compiler's raw
// error text.
type Diagnostic struct {
	Severity Severity
	Message  string
	Hints    []string
}

// ParseDiagnostics translates the compiler backend's unstructured error text
// into a structured diagnostic list.
//
// The recognized encoding is a sequence of brace-delimited records, each
// carrying a severity identifier, a quoted (possibly escaped) message, and a
// bracketed list of quoted hints:
//
//	Diag { severity: Error, message: "unknown variable: \"x\"", hints: ["did you mean y?"] }
//
// Records with an unknown or missing severity default to SeverityError. A
// record without a message field is not well formed and is skipped. If the
// input contains no well-formed record at all, exactly one synthetic
// SeverityError diagnostic wrapping the raw text verbatim is returned, so an
// error is never silently dropped.
func ParseDiagnostics(raw string) []Diagnostic {
	var diags []Diagnostic
	for _, block := range diagnosticBlocks(raw) {
		if d, ok := parseDiagnosticRecord(block); ok {
			diags = append(diags, d)
		}
	}
	if len(diags) == 0 {
		return []Diagnostic{{Severity: SeverityError, Message: raw}}
	}
	return diags
}

// diagnosticBlocks extracts the contents of every top-level brace block,
// honoring nested braces and quoted strings.
func diagnosticBlocks(raw string) []string {
	var blocks []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					blocks = append(blocks, raw[start:i])
					start = -1
				}
			}
		}
	}
	return blocks
}

// parseDiagnosticRecord extracts the severity, message and hints fields from
// one block. The message field is mandatory.
func parseDiagnosticRecord(block string) (Diagnostic, bool) {
	d := Diagnostic{Severity: SeverityError}

	msg, ok := quotedField(block, "message")
	if !ok {
		return Diagnostic{}, false
	}
	d.Message = msg

	if sev, ok := identField(block, "severity"); ok {
		d.Severity = parseSeverity(sev)
	}

	if list, ok := bracketField(block, "hints"); ok {
		d.Hints = quotedStrings(list)
	}

	return d, true
}

// parseSeverity maps a severity identifier to a Severity.
// Unknown identifiers default to SeverityError.
func parseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "warning", "warn":
		return SeverityWarning
	case "info", "note":
		return SeverityInfo
	default:
		return SeverityError
	}
}

// fieldIndex locates "name" followed by a colon and returns the offset just
// past the colon, or -1.
func fieldIndex(block, name string) int {
	for from := 0; from < len(block); {
		i := strings.Index(block[from:], name)
		if i < 0 {
			return -1
		}
		i += from
		// The name must not be part of a longer identifier.
		if i > 0 && isIdentByte(block[i-1]) {
			from = i + len(name)
			continue
		}
		j := i + len(name)
		for j < len(block) && (block[j] == ' ' || block[j] == '\t') {
			j++
		}
		if j < len(block) && block[j] == ':' {
			return j + 1
		}
		from = i + len(name)
	}
	return -1
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// identField extracts a bare identifier field value.
func identField(block, name string) (string, bool) {
	i := fieldIndex(block, name)
	if i < 0 {
		return "", false
	}
	for i < len(block) && (block[i] == ' ' || block[i] == '\t') {
		i++
	}
	j := i
	for j < len(block) && isIdentByte(block[j]) {
		j++
	}
	if j == i {
		return "", false
	}
	return block[i:j], true
}

// quotedField extracts a quoted string field value, unescaping \" and \\.
func quotedField(block, name string) (string, bool) {
	i := fieldIndex(block, name)
	if i < 0 {
		return "", false
	}
	for i < len(block) && block[i] != '"' {
		// Only whitespace may separate the colon from the opening quote.
		if block[i] != ' ' && block[i] != '\t' {
			return "", false
		}
		i++
	}
	if i >= len(block) {
		return "", false
	}
	return scanQuoted(block, i)
}

// bracketField extracts the raw contents of a bracketed list field.
func bracketField(block, name string) (string, bool) {
	i := fieldIndex(block, name)
	if i < 0 {
		return "", false
	}
	for i < len(block) && block[i] != '[' {
		if block[i] != ' ' && block[i] != '\t' {
			return "", false
		}
		i++
	}
	if i >= len(block) {
		return "", false
	}
	j := strings.IndexByte(block[i:], ']')
	if j < 0 {
		return "", false
	}
	return block[i+1 : i+j], true
}

// quotedStrings extracts every quoted string from a list body.
func quotedStrings(list string) []string {
	var out []string
	for i := 0; i < len(list); i++ {
		if list[i] != '"' {
			continue
		}
		s, next, ok := scanQuotedAt(list, i)
		if !ok {
			break
		}
		out = append(out, s)
		i = next
	}
	return out
}

// scanQuoted reads a quoted string starting at the opening quote, returning
// the unescaped value.
func scanQuoted(s string, i int) (string, bool) {
	v, _, ok := scanQuotedAt(s, i)
	return v, ok
}

// scanQuotedAt reads a quoted string starting at the opening quote at index
// i. It returns the unescaped value and the index of the closing quote.
func scanQuotedAt(s string, i int) (string, int, bool) {
	var sb strings.Builder
	escaped := false
	for j := i + 1; j < len(s); j++ {
		c := s[j]
		switch {
		case escaped:
			sb.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			return sb.String(), j, true
		default:
			sb.WriteByte(c)
		}
	}
	return "", 0, false
}
