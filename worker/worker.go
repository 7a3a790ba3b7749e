package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/gogpu/pageview"
	"github.com/gogpu/pageview/compiler"
	"github.com/gogpu/pageview/engine"
)

// Serve runs the engine side of the protocol until the request channel
// closes or ctx is canceled. It consumes requests from in and sends
// responses on out; compile and render requests are handled concurrently,
// so responses may arrive out of order relative to requests.
//
// Serve closes out and disposes the engine on return.
func Serve(ctx context.Context, in <-chan Request, out chan<- Response) {
	w := &server{ctx: ctx, out: out}
	defer func() {
		w.handlers.Wait()
		if w.eng != nil {
			w.eng.Dispose()
		}
		close(out)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-in:
			if !ok {
				return
			}
			w.dispatch(req)
		}
	}
}

type server struct {
	ctx      context.Context
	out      chan<- Response
	eng      *engine.Engine
	handlers sync.WaitGroup
}

func (w *server) dispatch(req Request) {
	switch req.Type {
	case TypeInit:
		w.handleInit(req)
	case TypeCompileVector:
		if !w.requireEngine(req.ID) {
			return
		}
		w.handlers.Add(1)
		go func() {
			defer w.handlers.Done()
			w.handleCompile(req)
		}()
	case TypeRenderPage:
		if !w.requireEngine(req.ID) {
			return
		}
		w.handlers.Add(1)
		go func() {
			defer w.handlers.Done()
			w.handleRender(req)
		}()
	default:
		pageview.Logger().Warn("unknown worker message", "type", req.Type)
	}
}

// requireEngine rejects requests that arrive before init.
func (w *server) requireEngine(id uint64) bool {
	if w.eng != nil {
		return true
	}
	w.send(Response{Type: TypeCompileError, ID: id, Message: "worker: not initialized"})
	return false
}

func (w *server) handleInit(req Request) {
	if w.eng != nil {
		// Init failure is fatal and surfaced once; a second init is a
		// protocol violation, not a retry mechanism.
		w.send(Response{Type: TypeInitError, Message: "worker: already initialized"})
		return
	}

	var opts []engine.Option
	if req.CompilerRef != "" {
		factory, err := compiler.Get(req.CompilerRef)
		if err != nil {
			w.send(Response{Type: TypeInitError, Message: err.Error()})
			return
		}
		opts = append(opts, engine.WithCompilerFactory(factory))
	}
	w.eng = engine.New(opts...)
	w.send(Response{Type: TypeReady})
}

func (w *server) handleCompile(req Request) {
	info, err := w.eng.Compile(w.ctx, req.Source)
	if err != nil {
		resp := Response{Type: TypeCompileError, ID: req.ID, Message: err.Error()}
		var cerr *pageview.CompileError
		switch {
		case errors.Is(err, engine.ErrSuperseded):
			resp.Message = messageSuperseded
		case errors.As(err, &cerr):
			resp.Message = cerr.Message
			resp.Diagnostics = cerr.Diagnostics
		}
		w.send(resp)
		return
	}
	w.send(Response{
		Type:        TypeVectorResult,
		ID:          req.ID,
		PageCount:   info.PageCount,
		PageWidths:  info.Widths,
		PageHeights: info.Heights,
	})
}

func (w *server) handleRender(req Request) {
	bm, err := w.eng.RenderPage(w.ctx, req.PageOffset, req.Scale)
	if err != nil {
		// Render failures ride the compile-error shape with no
		// diagnostics; they are scoped to this one request.
		w.send(Response{Type: TypeCompileError, ID: req.ID, Message: err.Error()})
		return
	}
	resp := Response{Type: TypePageResult, ID: req.ID, Bitmap: bm}
	if bm != nil {
		resp.Width = bm.Width()
		resp.Height = bm.Height()
	}
	w.send(resp)
}

func (w *server) send(resp Response) {
	select {
	case w.out <- resp:
	case <-w.ctx.Done():
	}
}
