package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/pageview"
	"github.com/gogpu/pageview/compiler"
)

// stubSession is a scriptable compiler.Session.
type stubSession struct {
	widths    []float64
	heights   []float64
	rasterize func(dst *pageview.Bitmap, index int, scale float64) error

	mu     sync.Mutex
	closed bool
}

func (s *stubSession) PageCount() int { return len(s.widths) }

func (s *stubSession) PageSize(index int) (float64, float64) {
	if index < 0 || index >= len(s.widths) {
		return 0, 0
	}
	return s.widths[index], s.heights[index]
}

func (s *stubSession) Rasterize(dst *pageview.Bitmap, index int, scale float64) error {
	if s.rasterize != nil {
		return s.rasterize(dst, index, scale)
	}
	dst.FillRGBA(10, 20, 30, 255)
	return nil
}

func (s *stubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// stubCompiler is a scriptable compiler.Compiler that records the sources
// it actually compiled.
type stubCompiler struct {
	compileHook func(ctx context.Context, source string) ([]byte, error)
	sessionHook func() *stubSession

	mu       sync.Mutex
	compiled []string
	closed   bool
}

func (c *stubCompiler) Name() string { return "stub" }

func (c *stubCompiler) CompileVector(ctx context.Context, source string) ([]byte, error) {
	c.mu.Lock()
	c.compiled = append(c.compiled, source)
	c.mu.Unlock()
	if c.compileHook != nil {
		return c.compileHook(ctx, source)
	}
	return []byte(source), nil
}

func (c *stubCompiler) NewSession(vector []byte) (compiler.Session, error) {
	if c.sessionHook != nil {
		return c.sessionHook(), nil
	}
	return &stubSession{widths: []float64{100}, heights: []float64{200}}, nil
}

func (c *stubCompiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubCompiler) compiledSources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.compiled...)
}

func newStubEngine(t *testing.T, c *stubCompiler, opts ...Option) *Engine {
	t.Helper()
	e := New(append([]Option{WithCompiler(c)}, opts...)...)
	t.Cleanup(e.Dispose)
	return e
}

func mustCompile(t *testing.T, e *Engine, source string) pageview.PageInfo {
	t.Helper()
	info, err := e.Compile(context.Background(), source)
	if err != nil {
		t.Fatalf("Compile(%q) error: %v", source, err)
	}
	return info
}

func TestCompileReturnsGeometry(t *testing.T) {
	stub := &stubCompiler{
		sessionHook: func() *stubSession {
			return &stubSession{widths: []float64{100, 300}, heights: []float64{200, 400}}
		},
	}
	e := newStubEngine(t, stub)

	info := mustCompile(t, e, "doc")
	if info.PageCount != 2 {
		t.Fatalf("PageCount = %d, want 2", info.PageCount)
	}
	if info.Widths[1] != 300 || info.Heights[1] != 400 {
		t.Errorf("page 1 geometry = (%g, %g), want (300, 400)", info.Widths[1], info.Heights[1])
	}
	if got := e.Generation(); got != 1 {
		t.Errorf("Generation() = %d, want 1", got)
	}
}

func TestCompileCoalescing(t *testing.T) {
	// C1 blocks inside the compiler until released; C2 and C3 arrive while
	// it runs. C2 must be superseded by C3 and never execute.
	c1Started := make(chan struct{})
	releaseC1 := make(chan struct{})
	stub := &stubCompiler{
		compileHook: func(ctx context.Context, source string) ([]byte, error) {
			if source == "C1" {
				close(c1Started)
				<-releaseC1
			}
			return []byte(source), nil
		},
	}
	e := newStubEngine(t, stub)

	var wg sync.WaitGroup
	results := make(map[string]error)
	var resultsMu sync.Mutex
	compile := func(source string) {
		defer wg.Done()
		_, err := e.Compile(context.Background(), source)
		resultsMu.Lock()
		results[source] = err
		resultsMu.Unlock()
	}

	wg.Add(1)
	go compile("C1")
	<-c1Started

	wg.Add(1)
	go compile("C2")
	// C2 must be parked before C3 arrives to supersede it.
	waitFor(t, func() bool {
		e.mailboxMu.Lock()
		defer e.mailboxMu.Unlock()
		return e.pending != nil
	})

	wg.Add(1)
	go compile("C3")
	waitFor(t, func() bool {
		resultsMu.Lock()
		defer resultsMu.Unlock()
		return results["C2"] != nil
	})

	close(releaseC1)
	wg.Wait()

	if err := results["C1"]; err != nil {
		t.Errorf("C1 error: %v", err)
	}
	if err := results["C2"]; !errors.Is(err, ErrSuperseded) {
		t.Errorf("C2 error = %v, want ErrSuperseded", err)
	}
	if err := results["C3"]; err != nil {
		t.Errorf("C3 error: %v", err)
	}

	sources := stub.compiledSources()
	if len(sources) != 2 || sources[0] != "C1" || sources[1] != "C3" {
		t.Errorf("compiled sources = %q, want [C1 C3]", sources)
	}
	if got := e.Generation(); got != 2 {
		t.Errorf("Generation() = %d, want 2", got)
	}
}

func TestRenderPageGeometry(t *testing.T) {
	stub := &stubCompiler{
		sessionHook: func() *stubSession {
			return &stubSession{widths: []float64{595.28}, heights: []float64{841.89}}
		},
	}
	e := newStubEngine(t, stub)
	mustCompile(t, e, "doc")

	bm, err := e.RenderPage(context.Background(), 0, 2.0)
	if err != nil {
		t.Fatalf("RenderPage() error: %v", err)
	}
	defer e.Release(bm)

	wantW := int(math.Ceil(595.28 * 2.0))
	wantH := int(math.Ceil(841.89 * 2.0))
	if bm.Width() != wantW || bm.Height() != wantH {
		t.Errorf("bitmap = %dx%d, want %dx%d", bm.Width(), bm.Height(), wantW, wantH)
	}
}

func TestRenderPageBounds(t *testing.T) {
	e := newStubEngine(t, &stubCompiler{})
	mustCompile(t, e, "doc")

	for _, idx := range []int{-1, 1, 42} {
		if _, err := e.RenderPage(context.Background(), idx, 1.0); err == nil {
			t.Errorf("RenderPage(%d) succeeded, want out-of-range error", idx)
		}
	}
}

func TestRenderPageNoDocument(t *testing.T) {
	e := newStubEngine(t, &stubCompiler{})
	if _, err := e.RenderPage(context.Background(), 0, 1.0); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("RenderPage() error = %v, want ErrNoDocument", err)
	}
}

func TestRenderPageCacheHit(t *testing.T) {
	rasterized := 0
	stub := &stubCompiler{
		sessionHook: func() *stubSession {
			s := &stubSession{widths: []float64{100}, heights: []float64{100}}
			s.rasterize = func(dst *pageview.Bitmap, index int, scale float64) error {
				rasterized++
				dst.FillRGBA(1, 2, 3, 255)
				return nil
			}
			return s
		},
	}
	e := newStubEngine(t, stub)
	mustCompile(t, e, "doc")

	for i := 0; i < 2; i++ {
		bm, err := e.RenderPage(context.Background(), 0, 1.0)
		if err != nil {
			t.Fatalf("RenderPage() #%d error: %v", i, err)
		}
		e.Release(bm)
	}

	if rasterized != 1 {
		t.Errorf("rasterized %d times, want 1 (second call served from cache)", rasterized)
	}
	stats := e.CacheStats()
	if stats.Hits != 1 {
		t.Errorf("cache hits = %d, want 1", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("cache misses = %d, want 1", stats.Misses)
	}
}

func TestRenderPageConcurrentHitsKeepPixelsIntact(t *testing.T) {
	// Two pages fighting over a capacity-1 cache. The hit path duplicates
	// the cached surface under the cache lock; an eviction recycling that
	// surface through the pool while another goroutine is still copying
	// would hand out zeroed or cross-page pixels.
	stub := &stubCompiler{
		sessionHook: func() *stubSession {
			return &stubSession{
				widths:  []float64{10, 10},
				heights: []float64{10, 10},
				rasterize: func(dst *pageview.Bitmap, index int, scale float64) error {
					v := uint8(50 + index*100)
					dst.FillRGBA(v, v, v, 255)
					return nil
				},
			}
		},
	}
	e := newStubEngine(t, stub, WithCacheCapacity(1))
	mustCompile(t, e, "doc")

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for page := 0; page < 2; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			want := uint8(50 + page*100)
			for i := 0; i < 300; i++ {
				bm, err := e.RenderPage(context.Background(), page, 1.0)
				if err != nil {
					errCh <- err
					return
				}
				got := bm.Data()[0]
				e.Release(bm)
				if got != want {
					errCh <- fmt.Errorf("page %d pixel = %d, want %d", page, got, want)
					return
				}
			}
		}(page)
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
}

func TestRenderPageNearbyScalesShareCache(t *testing.T) {
	e := newStubEngine(t, &stubCompiler{})
	mustCompile(t, e, "doc")

	// 1.0 and 1.04 quantize to the same step.
	bm1, err := e.RenderPage(context.Background(), 0, 1.0)
	if err != nil {
		t.Fatalf("RenderPage(1.0) error: %v", err)
	}
	e.Release(bm1)
	bm2, err := e.RenderPage(context.Background(), 0, 1.04)
	if err != nil {
		t.Fatalf("RenderPage(1.04) error: %v", err)
	}
	e.Release(bm2)

	if stats := e.CacheStats(); stats.Hits != 1 {
		t.Errorf("cache hits = %d, want 1", stats.Hits)
	}
}

func TestRenderPageStaleResultDropped(t *testing.T) {
	rasterizing := make(chan struct{})
	releaseRaster := make(chan struct{})
	first := true
	stub := &stubCompiler{
		sessionHook: func() *stubSession {
			s := &stubSession{widths: []float64{50}, heights: []float64{50}}
			s.rasterize = func(dst *pageview.Bitmap, index int, scale float64) error {
				if first {
					first = false
					close(rasterizing)
					<-releaseRaster
				}
				return nil
			}
			return s
		},
	}
	e := newStubEngine(t, stub)
	mustCompile(t, e, "v1")

	type renderResult struct {
		bm  *pageview.Bitmap
		err error
	}
	done := make(chan renderResult, 1)
	go func() {
		bm, err := e.RenderPage(context.Background(), 0, 1.0)
		done <- renderResult{bm, err}
	}()
	<-rasterizing

	// Recompile while the rasterize is blocked. The generation advances
	// immediately; the compile itself waits for the render's read lock.
	compiled := make(chan error, 1)
	go func() {
		_, err := e.Compile(context.Background(), "v2")
		compiled <- err
	}()
	gen := e.Generation()
	waitFor(t, func() bool { return e.Generation() > gen })

	close(releaseRaster)
	res := <-done
	if res.err != nil {
		t.Fatalf("RenderPage() error: %v", res.err)
	}
	if res.bm != nil {
		t.Error("stale render returned a bitmap, want silent (nil, nil) drop")
	}
	if err := <-compiled; err != nil {
		t.Fatalf("Compile(v2) error: %v", err)
	}
	if e.CacheStats().Len != 0 {
		t.Error("stale render left an entry in the cache")
	}
}

func TestRenderPageLRUEviction(t *testing.T) {
	e := newStubEngine(t, &stubCompiler{
		sessionHook: func() *stubSession {
			return &stubSession{
				widths:  []float64{10, 10, 10},
				heights: []float64{10, 10, 10},
			}
		},
	}, WithCacheCapacity(2))
	mustCompile(t, e, "doc")

	render := func(page int) {
		t.Helper()
		bm, err := e.RenderPage(context.Background(), page, 1.0)
		if err != nil {
			t.Fatalf("RenderPage(%d) error: %v", page, err)
		}
		e.Release(bm)
	}

	render(0)
	render(1)
	render(0) // protect page 0: page 1 is now least recently used
	render(2) // evicts page 1

	stats := e.CacheStats()
	if stats.Evictions != 1 {
		t.Fatalf("evictions = %d, want 1", stats.Evictions)
	}

	before := e.CacheStats().Hits
	render(0)
	if got := e.CacheStats().Hits; got != before+1 {
		t.Error("page 0 was evicted; expected it protected by its recent access")
	}
}

func TestCompileFailureLeavesNoDocument(t *testing.T) {
	fail := false
	stub := &stubCompiler{
		compileHook: func(ctx context.Context, source string) ([]byte, error) {
			if fail {
				return nil, errors.New(`Diag { severity: Error, message: "boom", hints: [] }`)
			}
			return []byte(source), nil
		},
	}
	e := newStubEngine(t, stub)
	mustCompile(t, e, "good")

	bm, err := e.RenderPage(context.Background(), 0, 1.0)
	if err != nil {
		t.Fatalf("RenderPage() error: %v", err)
	}
	e.Release(bm)

	fail = true
	_, err = e.Compile(context.Background(), "bad")
	var cerr *pageview.CompileError
	if !errors.As(err, &cerr) {
		t.Fatalf("Compile() error = %v, want *pageview.CompileError", err)
	}
	if cerr.Message != "boom" {
		t.Errorf("CompileError.Message = %q, want boom", cerr.Message)
	}

	// Prior content is disposed, never served stale.
	if _, err := e.RenderPage(context.Background(), 0, 1.0); !errors.Is(err, ErrNoDocument) {
		t.Errorf("RenderPage() after failed compile = %v, want ErrNoDocument", err)
	}
	if e.CacheStats().Len != 0 {
		t.Error("cache not cleared by failed compile")
	}
}

func TestCompileDisposesPreviousSession(t *testing.T) {
	var sessions []*stubSession
	stub := &stubCompiler{
		sessionHook: func() *stubSession {
			s := &stubSession{widths: []float64{10}, heights: []float64{10}}
			sessions = append(sessions, s)
			return s
		},
	}
	e := newStubEngine(t, stub)
	mustCompile(t, e, "v1")
	mustCompile(t, e, "v2")

	if len(sessions) != 2 {
		t.Fatalf("created %d sessions, want 2", len(sessions))
	}
	if !sessions[0].isClosed() {
		t.Error("previous session not closed by recompile")
	}
	if sessions[1].isClosed() {
		t.Error("live session closed")
	}
}

func TestCompilerRecycling(t *testing.T) {
	var created []*stubCompiler
	factory := func() (compiler.Compiler, error) {
		c := &stubCompiler{}
		created = append(created, c)
		return c, nil
	}
	e := New(WithCompilerFactory(factory), WithRecycleInterval(2))
	defer e.Dispose()

	mustCompile(t, e, "a")
	mustCompile(t, e, "b") // second completion triggers a recycle
	mustCompile(t, e, "c") // forces a fresh handle

	if len(created) != 2 {
		t.Fatalf("factory created %d compilers, want 2", len(created))
	}
	created[0].mu.Lock()
	firstClosed := created[0].closed
	created[0].mu.Unlock()
	if !firstClosed {
		t.Error("recycled compiler was not closed")
	}
}

func TestDisposeIdempotent(t *testing.T) {
	stub := &stubCompiler{}
	e := New(WithCompiler(stub))

	// Dispose with nothing held is a no-op, twice.
	e.Dispose()
	e.Dispose()

	if _, err := e.Compile(context.Background(), "x"); !errors.Is(err, ErrDisposed) {
		t.Errorf("Compile() after Dispose = %v, want ErrDisposed", err)
	}
	if _, err := e.RenderPage(context.Background(), 0, 1.0); !errors.Is(err, ErrDisposed) {
		t.Errorf("RenderPage() after Dispose = %v, want ErrDisposed", err)
	}
}

func TestPageInfoSnapshot(t *testing.T) {
	e := newStubEngine(t, &stubCompiler{})
	if _, ok := e.PageInfo(); ok {
		t.Fatal("PageInfo() reported a document before any compile")
	}
	mustCompile(t, e, "doc")
	info, ok := e.PageInfo()
	if !ok || info.PageCount != 1 {
		t.Fatalf("PageInfo() = (%+v, %v), want one page", info, ok)
	}
	// Mutating the snapshot must not touch engine state.
	info.Widths[0] = -1
	again, _ := e.PageInfo()
	if again.Widths[0] == -1 {
		t.Error("PageInfo() exposed internal geometry slice")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
