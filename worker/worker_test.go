package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/pageview"
	"github.com/gogpu/pageview/compiler"
	_ "github.com/gogpu/pageview/compiler/markup"
	"github.com/gogpu/pageview/engine"
)

func newReadyHost(t *testing.T) *Host {
	t.Helper()
	h := NewHost()
	t.Cleanup(h.Close)
	if err := h.Init(context.Background(), compiler.BackendMarkup); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	return h
}

func TestHostLifecycle(t *testing.T) {
	h := newReadyHost(t)

	info, err := h.Compile(context.Background(), "= Hello\n\nWorld")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if info.PageCount != 1 {
		t.Fatalf("PageCount = %d, want 1", info.PageCount)
	}

	bm, err := h.RenderPage(context.Background(), 0, 1.0)
	if err != nil {
		t.Fatalf("RenderPage() error: %v", err)
	}
	if bm == nil {
		t.Fatal("RenderPage() returned no bitmap")
	}
	if bm.Width() <= 0 || bm.Height() <= 0 {
		t.Errorf("bitmap = %dx%d, want positive dimensions", bm.Width(), bm.Height())
	}
}

func TestInitUnknownBackend(t *testing.T) {
	h := NewHost()
	defer h.Close()

	err := h.Init(context.Background(), "no-such-backend")
	var ierr *InitError
	if !errors.As(err, &ierr) {
		t.Fatalf("Init() error = %v, want *InitError", err)
	}
}

func TestRequestBeforeInit(t *testing.T) {
	h := NewHost()
	defer h.Close()

	if _, err := h.Compile(context.Background(), "x"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Compile() before Init = %v, want ErrNotReady", err)
	}
	if _, err := h.RenderPage(context.Background(), 0, 1.0); !errors.Is(err, ErrNotReady) {
		t.Fatalf("RenderPage() before Init = %v, want ErrNotReady", err)
	}
}

func TestCompileErrorCarriesDiagnostics(t *testing.T) {
	h := newReadyHost(t)

	_, err := h.Compile(context.Background(), "#unknown-directive")
	var cerr *pageview.CompileError
	if !errors.As(err, &cerr) {
		t.Fatalf("Compile() error = %v, want *pageview.CompileError", err)
	}
	if len(cerr.Diagnostics) != 1 {
		t.Fatalf("Diagnostics = %+v, want exactly one", cerr.Diagnostics)
	}
	if cerr.Diagnostics[0].Severity != pageview.SeverityError {
		t.Errorf("Severity = %v, want error", cerr.Diagnostics[0].Severity)
	}
}

func TestRenderPageOutOfRange(t *testing.T) {
	h := newReadyHost(t)

	if _, err := h.Compile(context.Background(), "one page"); err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if _, err := h.RenderPage(context.Background(), 5, 1.0); err == nil {
		t.Fatal("RenderPage(5) succeeded, want out-of-range error")
	}
	// The failure is scoped to that one request; the session stays live.
	if _, err := h.RenderPage(context.Background(), 0, 1.0); err != nil {
		t.Fatalf("RenderPage(0) after failed request: %v", err)
	}
}

func TestConcurrentRenders(t *testing.T) {
	h := newReadyHost(t)

	info, err := h.Compile(context.Background(), "a\n\n#pagebreak\n\nb\n\n#pagebreak\n\nc")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if info.PageCount != 3 {
		t.Fatalf("PageCount = %d, want 3", info.PageCount)
	}

	// Responses may resolve out of order; every request must still get its
	// own page back at its own size.
	var wg sync.WaitGroup
	errs := make([]error, info.PageCount)
	for page := 0; page < info.PageCount; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			bm, err := h.RenderPage(context.Background(), page, 1.0)
			if err != nil {
				errs[page] = err
				return
			}
			if bm == nil {
				errs[page] = errors.New("no bitmap")
			}
		}(page)
	}
	wg.Wait()
	for page, err := range errs {
		if err != nil {
			t.Errorf("page %d: %v", page, err)
		}
	}
}

// gateCompiler blocks every compile until its gate closes and reports each
// compile start on started.
type gateCompiler struct {
	gate    chan struct{}
	started chan string
}

func (c *gateCompiler) Name() string { return "gate" }

func (c *gateCompiler) CompileVector(ctx context.Context, source string) ([]byte, error) {
	c.started <- source
	select {
	case <-c.gate:
		return []byte(source), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *gateCompiler) NewSession(vector []byte) (compiler.Session, error) {
	return gateSession{}, nil
}

func (c *gateCompiler) Close() error { return nil }

type gateSession struct{}

func (gateSession) PageCount() int { return 1 }

func (gateSession) PageSize(int) (float64, float64) { return 100, 100 }

func (gateSession) Rasterize(*pageview.Bitmap, int, float64) error { return nil }

func (gateSession) Close() error { return nil }

func TestSupersededCompileMapsToSentinel(t *testing.T) {
	comp := &gateCompiler{gate: make(chan struct{}), started: make(chan string, 3)}
	const backend = "gate-test"
	compiler.Register(backend, func() (compiler.Compiler, error) { return comp, nil })
	t.Cleanup(func() { compiler.Unregister(backend) })

	h := NewHost()
	t.Cleanup(h.Close)
	if err := h.Init(context.Background(), backend); err != nil {
		t.Fatalf("Init() error: %v", err)
	}

	type result struct {
		tag string
		err error
	}
	results := make(chan result, 3)
	compileAsync := func(tag string) {
		go func() {
			_, err := h.Compile(context.Background(), tag)
			results <- result{tag, err}
		}()
	}

	// First compile occupies the compiler behind the gate; the next two
	// fight over the single parked slot, so exactly one of them is
	// displaced and must settle before the gate opens.
	compileAsync("c1")
	if got := <-comp.started; got != "c1" {
		t.Fatalf("first compile = %q, want c1", got)
	}
	compileAsync("c2")
	time.Sleep(20 * time.Millisecond)
	compileAsync("c3")

	displaced := <-results
	if !errors.Is(displaced.err, engine.ErrSuperseded) {
		t.Fatalf("displaced compile %q error = %v, want engine.ErrSuperseded", displaced.tag, displaced.err)
	}
	var cerr *pageview.CompileError
	if errors.As(displaced.err, &cerr) {
		t.Error("supersession surfaced as a compile failure")
	}

	close(comp.gate)
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Errorf("compile %q error: %v", r.tag, r.err)
		}
	}
}

func TestCloseFailsOutstanding(t *testing.T) {
	h := newReadyHost(t)
	h.Close()
	h.Close() // idempotent

	if _, err := h.Compile(context.Background(), "x"); !errors.Is(err, ErrHostClosed) {
		t.Fatalf("Compile() after Close = %v, want ErrHostClosed", err)
	}
}
