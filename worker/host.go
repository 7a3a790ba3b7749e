package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gogpu/pageview"
	"github.com/gogpu/pageview/engine"
)

// Host errors.
var (
	// ErrHostClosed is returned for operations on a closed host.
	ErrHostClosed = errors.New("worker: host closed")

	// ErrNotReady is returned when an operation runs before a successful
	// Init.
	ErrNotReady = errors.New("worker: not initialized")
)

// InitError is the fatal initialization failure. It is surfaced once; the
// host is unusable afterwards and there is no automatic retry.
type InitError struct {
	Message string
}

func (e *InitError) Error() string {
	return "worker: init failed: " + e.Message
}

// Host is the application side of the worker protocol. It owns the worker
// goroutine and correlates out-of-order responses back to their callers by
// request ID.
//
// Host is safe for concurrent use; RenderPage calls in particular are
// expected to be in flight simultaneously.
type Host struct {
	requests chan Request
	cancel   context.CancelFunc
	done     chan struct{}

	nextID atomic.Uint64
	ready  atomic.Bool

	mu      sync.Mutex
	pending map[uint64]chan Response
	initCh  chan Response
	closed  bool
}

// NewHost spawns the worker goroutine and the response dispatcher.
// Call Init before anything else, and Close when done.
func NewHost() *Host {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		requests: make(chan Request),
		cancel:   cancel,
		done:     make(chan struct{}),
		pending:  make(map[uint64]chan Response),
		initCh:   make(chan Response, 1),
	}

	responses := make(chan Response)
	go Serve(ctx, h.requests, responses)
	go h.dispatch(responses)
	return h
}

// dispatch routes responses to their waiting callers.
func (h *Host) dispatch(responses <-chan Response) {
	defer close(h.done)
	for resp := range responses {
		switch resp.Type {
		case TypeReady, TypeInitError:
			h.initCh <- resp
		default:
			h.mu.Lock()
			ch, ok := h.pending[resp.ID]
			delete(h.pending, resp.ID)
			h.mu.Unlock()
			if !ok {
				// Caller gave up (context cancellation); if a bitmap was
				// transferred nobody owns it now, so drop it on the floor
				// for the collector rather than leak a pool slot.
				continue
			}
			ch <- resp
		}
	}

	// Worker gone: fail everything still waiting.
	h.mu.Lock()
	for id, ch := range h.pending {
		delete(h.pending, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Init initializes the worker engine with the named compiler backend
// (empty means the registry default). Must complete successfully before
// Compile or RenderPage.
func (h *Host) Init(ctx context.Context, compilerRef string) error {
	if err := h.sendRequest(ctx, Request{Type: TypeInit, CompilerRef: compilerRef}); err != nil {
		return err
	}
	select {
	case resp := <-h.initCh:
		if resp.Type == TypeInitError {
			return &InitError{Message: resp.Message}
		}
		h.ready.Store(true)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHostClosed
	}
}

// Compile sends a compile-vector request and waits for its correlated
// result. Coalescing happens inside the engine: a compile issued while
// another runs parks, and may be superseded by a newer one.
func (h *Host) Compile(ctx context.Context, source string) (pageview.PageInfo, error) {
	resp, err := h.roundTrip(ctx, Request{Type: TypeCompileVector, Source: source})
	if err != nil {
		return pageview.PageInfo{}, err
	}
	if resp.Type == TypeCompileError {
		if resp.Message == messageSuperseded && len(resp.Diagnostics) == 0 {
			return pageview.PageInfo{}, engine.ErrSuperseded
		}
		return pageview.PageInfo{}, &pageview.CompileError{
			Message:     resp.Message,
			Diagnostics: resp.Diagnostics,
		}
	}
	return pageview.PageInfo{
		PageCount: resp.PageCount,
		Widths:    resp.PageWidths,
		Heights:   resp.PageHeights,
	}, nil
}

// RenderPage sends a render-page request and waits for its page-result.
// The returned bitmap is transferred: the caller owns it and must not use
// it past one paint. A (nil, nil) return means the render went stale and
// was dropped.
func (h *Host) RenderPage(ctx context.Context, pageOffset int, scale float64) (*pageview.Bitmap, error) {
	resp, err := h.roundTrip(ctx, Request{Type: TypeRenderPage, PageOffset: pageOffset, Scale: scale})
	if err != nil {
		return nil, err
	}
	if resp.Type == TypeCompileError {
		return nil, errors.New(resp.Message)
	}
	return resp.Bitmap, nil
}

// roundTrip registers a pending slot, sends the request, and waits for
// the correlated response.
func (h *Host) roundTrip(ctx context.Context, req Request) (Response, error) {
	if !h.ready.Load() {
		return Response{}, ErrNotReady
	}

	req.ID = h.nextID.Add(1)
	ch := make(chan Response, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return Response{}, ErrHostClosed
	}
	h.pending[req.ID] = ch
	h.mu.Unlock()

	if err := h.sendRequest(ctx, req); err != nil {
		h.mu.Lock()
		delete(h.pending, req.ID)
		h.mu.Unlock()
		return Response{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, ErrHostClosed
		}
		return resp, nil
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.pending, req.ID)
		h.mu.Unlock()
		return Response{}, ctx.Err()
	}
}

func (h *Host) sendRequest(ctx context.Context, req Request) error {
	select {
	case h.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHostClosed
	}
}

// Close shuts the worker down and fails all outstanding requests.
// Idempotent.
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	// Cancellation alone stops the worker; the request channel stays open
	// so concurrent senders cannot hit a closed channel.
	h.cancel()
	<-h.done
}
