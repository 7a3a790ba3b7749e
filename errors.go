package pageview

import "fmt"

// CompileError is returned when a compile fails. The raw compiler error text
// has already been translated into structured diagnostics; Message carries
// the first diagnostic's message for convenience.
type CompileError struct {
	Message     string
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	if len(e.Diagnostics) > 1 {
		return fmt.Sprintf("pageview: compile failed: %s (and %d more)", e.Message, len(e.Diagnostics)-1)
	}
	return "pageview: compile failed: " + e.Message
}

// RenderError is returned when rasterizing a single page fails.
// It is scoped to one request: the session and all other pages stay valid.
type RenderError struct {
	Page  int
	Cause error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("pageview: render page %d: %v", e.Page, e.Cause)
}

// Unwrap returns the underlying rasterization error.
func (e *RenderError) Unwrap() error {
	return e.Cause
}
