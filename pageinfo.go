package pageview

// PageInfo describes the geometry of a compiled document.
// Widths and Heights are per-page, in document units (points), and always
// have length PageCount.
type PageInfo struct {
	PageCount int
	Widths    []float64
	Heights   []float64
}

// Clone returns a deep copy of the page info.
// The engine hands out clones so that callers cannot mutate the geometry
// backing a live session.
func (p PageInfo) Clone() PageInfo {
	c := PageInfo{PageCount: p.PageCount}
	if p.Widths != nil {
		c.Widths = append([]float64(nil), p.Widths...)
	}
	if p.Heights != nil {
		c.Heights = append([]float64(nil), p.Heights...)
	}
	return c
}
