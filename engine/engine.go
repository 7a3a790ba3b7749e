// Package engine orchestrates the compile/rasterize pipeline: it owns the
// single live compiler session, the page-bitmap cache, the surface pool,
// and the generation counter that invalidates everything derived from a
// superseded compile.
//
// Concurrency model: compiles are coalesced through a depth-1 pending
// slot, so at most one compile runs at a time and only the most recently
// requested one ever waits. Renders run concurrently under a read lock;
// each captures the generation at entry and re-checks it after
// rasterization, discarding stale results silently instead of blocking
// compiles.
package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gogpu/pageview"
	"github.com/gogpu/pageview/compiler"
	"github.com/gogpu/pageview/internal/lru"
	"github.com/gogpu/pageview/internal/pool"
)

// Engine errors.
var (
	// ErrDisposed is returned by all operations after Dispose.
	ErrDisposed = errors.New("engine: disposed")

	// ErrNoDocument is returned by RenderPage when no compile has
	// succeeded yet, or the last compile failed.
	ErrNoDocument = errors.New("engine: no document")

	// ErrSuperseded is returned to a parked compile request that was
	// replaced by a newer one before it could run.
	ErrSuperseded = errors.New("engine: compile superseded")

	// ErrInvalidScale is returned by RenderPage for a non-positive scale.
	ErrInvalidScale = errors.New("engine: invalid scale")
)

type compileResult struct {
	info pageview.PageInfo
	err  error
}

// compileJob is one parked compile request.
type compileJob struct {
	ctx    context.Context
	source string
	done   chan compileResult
}

// Engine owns the live session and everything derived from it.
//
// Engine is safe for concurrent use.
type Engine struct {
	cfg config

	// generation advances once per started compile, before any compiler
	// work. Artifacts tagged with an older generation are stale.
	generation atomic.Uint64

	// mailboxMu guards the depth-1 compile queue.
	mailboxMu sync.Mutex
	running   bool
	pending   *compileJob

	// stateMu guards the session, compiler handle, and geometry. Renders
	// take the read side; the compile sequence and Dispose take the write
	// side.
	stateMu              sync.RWMutex
	comp                 compiler.Compiler
	session              compiler.Session
	info                 pageview.PageInfo
	compilesSinceRecycle int
	disposed             bool

	cache *lru.Cache
	pool  *pool.Pool
}

// New creates an engine. With no options it uses the registry's best
// available compiler backend and default cache/pool sizing.
func New(opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	e := &Engine{
		cfg:  cfg,
		comp: cfg.comp,
		pool: pool.New(cfg.poolSizeCap),
	}
	// Evicted cache entries go back to the surface pool.
	e.cache = lru.New(cfg.cacheCapacity, e.pool.Release)
	return e
}

// Generation returns the current compile generation.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

// PageInfo returns the geometry of the current document, or false when no
// document is live.
func (e *Engine) PageInfo() (pageview.PageInfo, bool) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.session == nil {
		return pageview.PageInfo{}, false
	}
	return e.info.Clone(), true
}

// CacheStats reports page-bitmap cache instrumentation.
func (e *Engine) CacheStats() lru.Stats {
	return e.cache.Stats()
}

// Compile compiles source into a paginated document and returns its page
// geometry. If a compile is already running, the request parks in a
// single pending slot; a newer request arriving while parked supersedes
// it, failing it with ErrSuperseded without it ever running.
//
// Compile failure leaves the engine with no document (never stale
// content): the previous session, cache, and pool are disposed before the
// compiler runs.
func (e *Engine) Compile(ctx context.Context, source string) (pageview.PageInfo, error) {
	if e.isDisposed() {
		return pageview.PageInfo{}, ErrDisposed
	}

	e.mailboxMu.Lock()
	if e.running {
		job := &compileJob{ctx: ctx, source: source, done: make(chan compileResult, 1)}
		if prev := e.pending; prev != nil {
			prev.done <- compileResult{err: ErrSuperseded}
		}
		e.pending = job
		e.mailboxMu.Unlock()

		select {
		case res := <-job.done:
			return res.info, res.err
		case <-ctx.Done():
			// The job stays parked; a later drain or supersession settles
			// it. This caller just stops waiting.
			return pageview.PageInfo{}, ctx.Err()
		}
	}
	e.running = true
	e.mailboxMu.Unlock()

	res := e.doCompile(ctx, source)
	e.finishRunning()
	return res.info, res.err
}

// finishRunning drains the pending slot after a compile completes. A
// parked job runs on its own goroutine so the finished caller is not held
// hostage to requests that arrived after its own.
func (e *Engine) finishRunning() {
	e.mailboxMu.Lock()
	next := e.pending
	e.pending = nil
	if next == nil {
		e.running = false
		e.mailboxMu.Unlock()
		return
	}
	e.mailboxMu.Unlock()

	go func() {
		res := e.doCompile(next.ctx, next.source)
		next.done <- res
		e.finishRunning()
	}()
}

// doCompile executes one compile. Exactly one doCompile runs at a time;
// the mailbox guarantees it.
func (e *Engine) doCompile(ctx context.Context, source string) compileResult {
	// The staleness barrier: everything produced before this point is now
	// stale, including renders still in flight.
	gen := e.generation.Add(1)
	log := pageview.Logger()
	log.Debug("compile started", "generation", gen, "bytes", len(source))

	e.stateMu.Lock()
	if e.disposed {
		e.stateMu.Unlock()
		return compileResult{err: ErrDisposed}
	}
	e.dropSessionLocked()
	comp, err := e.ensureCompilerLocked()
	e.stateMu.Unlock()
	if err != nil {
		return compileResult{err: err}
	}

	vector, err := comp.CompileVector(ctx, source)
	if err != nil {
		e.compileCompleted()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return compileResult{err: err}
		}
		cerr := translateCompileError(err)
		log.Debug("compile failed", "generation", gen, "diagnostics", len(cerr.Diagnostics))
		return compileResult{err: cerr}
	}

	sess, err := comp.NewSession(vector)
	if err != nil {
		e.compileCompleted()
		return compileResult{err: translateCompileError(err)}
	}
	info := compiler.PageInfo(sess)

	e.stateMu.Lock()
	if e.disposed {
		e.stateMu.Unlock()
		_ = sess.Close()
		return compileResult{err: ErrDisposed}
	}
	e.session = sess
	e.info = info
	e.stateMu.Unlock()

	e.compileCompleted()
	log.Info("compile succeeded", "generation", gen, "pages", info.PageCount)
	return compileResult{info: info.Clone()}
}

// compileCompleted counts a finished compile (success or failure) and
// recycles the compiler handle every recycleInterval completions. Live
// sessions are unaffected: backends keep sessions valid across the
// compiler handle that produced them.
func (e *Engine) compileCompleted() {
	if e.cfg.recycleInterval <= 0 {
		return
	}
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.disposed {
		return
	}
	e.compilesSinceRecycle++
	if e.compilesSinceRecycle < e.cfg.recycleInterval {
		return
	}
	if e.cfg.factory == nil && e.cfg.comp != nil {
		// Explicit compiler with no factory: nothing to recreate from.
		return
	}
	e.compilesSinceRecycle = 0
	if e.comp != nil {
		_ = e.comp.Close()
		e.comp = nil
		pageview.Logger().Debug("compiler handle recycled",
			"interval", e.cfg.recycleInterval)
	}
}

// RenderPage rasterizes one page at the given scale and returns a surface
// the caller owns; hand it back through Release when done.
//
// The scale is quantized to fixed steps (DefaultQuantizeSteps per unit) so
// nearby zooms share cache entries; pages rasterize at the quantized scale,
// and the returned dimensions are ceil(page size x quantized scale).
//
// A (nil, nil) return means the result went stale: a compile advanced the
// generation while rasterization was in flight, and the output was
// discarded. Not an error.
func (e *Engine) RenderPage(ctx context.Context, index int, scale float64) (*pageview.Bitmap, error) {
	if scale <= 0 {
		return nil, &pageview.RenderError{Page: index, Cause: ErrInvalidScale}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	requestedGen := e.generation.Load()

	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.disposed {
		return nil, ErrDisposed
	}
	if e.session == nil {
		return nil, ErrNoDocument
	}
	if index < 0 || index >= e.info.PageCount {
		return nil, &pageview.RenderError{Page: index, Cause: compiler.ErrPageOutOfRange}
	}

	key := lru.Key{Page: index, Scale: quantizeScale(scale)}
	if out, gen, ok := e.cache.GetInto(key, e.pool.Acquire); ok {
		// The duplicate is made inside the cache lock; a concurrent render
		// evicting this entry recycles its backing memory through the pool,
		// so copying after Get returns would read recycled pixels.
		if gen == requestedGen {
			return out, nil
		}
		e.pool.Release(out)
	}

	qs := quantizedValue(key.Scale)
	w := int(math.Ceil(e.info.Widths[index] * qs))
	h := int(math.Ceil(e.info.Heights[index] * qs))
	surface := e.pool.Acquire(w, h)

	if err := e.session.Rasterize(surface, index, qs); err != nil {
		e.pool.Release(surface)
		return nil, &pageview.RenderError{Page: index, Cause: err}
	}

	// Re-validate after the rasterize call: a compile may have advanced
	// the generation, making this output describe a dead document.
	if e.generation.Load() != requestedGen {
		e.pool.Release(surface)
		pageview.Logger().Debug("stale render dropped", "page", index)
		return nil, nil
	}

	e.cache.Put(key, surface.Clone(), requestedGen)
	return surface, nil
}

// Release returns a bitmap obtained from RenderPage to the surface pool.
func (e *Engine) Release(bm *pageview.Bitmap) {
	e.pool.Release(bm)
}

// Dispose frees the session, compiler handle, cache, and pool. Idempotent,
// and a no-op when nothing is held.
func (e *Engine) Dispose() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.disposed {
		return
	}
	e.disposed = true
	e.dropSessionLocked()
	if e.comp != nil {
		_ = e.comp.Close()
		e.comp = nil
	}
	pageview.Logger().Info("engine disposed")
}

func (e *Engine) isDisposed() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.disposed
}

// dropSessionLocked disposes the session and every artifact derived from
// it. Caller holds stateMu.
func (e *Engine) dropSessionLocked() {
	if e.session != nil {
		_ = e.session.Close()
		e.session = nil
	}
	e.info = pageview.PageInfo{}
	e.cache.Clear()
	e.pool.Clear()
}

// ensureCompilerLocked returns the live compiler handle, creating one
// through the configured (or registry default) factory when needed.
// Caller holds stateMu.
func (e *Engine) ensureCompilerLocked() (compiler.Compiler, error) {
	if e.comp != nil {
		return e.comp, nil
	}
	factory := e.cfg.factory
	if factory == nil {
		var err error
		factory, err = compiler.Default()
		if err != nil {
			return nil, err
		}
	}
	comp, err := factory()
	if err != nil {
		return nil, err
	}
	e.comp = comp
	return comp, nil
}

// translateCompileError turns a raw compiler failure into a structured
// CompileError via the diagnostic translator.
func translateCompileError(err error) *pageview.CompileError {
	diags := pageview.ParseDiagnostics(err.Error())
	msg := err.Error()
	if len(diags) > 0 {
		msg = diags[0].Message
	}
	return &pageview.CompileError{Message: msg, Diagnostics: diags}
}

// quantizeScale maps a raw scale onto the cache-key grid.
func quantizeScale(scale float64) int {
	q := int(math.Round(scale * DefaultQuantizeSteps))
	if q < 1 {
		q = 1
	}
	return q
}

// quantizedValue converts a cache-key step back to the scale actually
// rasterized, so key and pixels always agree.
func quantizedValue(step int) float64 {
	return float64(step) / DefaultQuantizeSteps
}
