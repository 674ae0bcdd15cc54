// Package middleware adapts the dispatch engine to the surrounding
// request-processing pipeline: method allow-listing, timeout inheritance,
// and the completion callback. The shape mirrors how skipper's proxy
// package is the single thing the outer HTTP server calls per request.
package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jembi/openhim-router/dispatch"
	"github.com/jembi/openhim-router/route"
)

// Shim is the outer middleware entry point.
type Shim struct {
	Engine *dispatch.Engine
}

// New builds a Shim around an already-wired dispatch engine.
func New(engine *dispatch.Engine) *Shim {
	return &Shim{Engine: engine}
}

// Route is the callback-style entry point: if the inbound method isn't
// allowed by the channel it short-circuits with a 405 and calls next();
// otherwise it propagates the channel timeout and dispatches.
func (s *Shim) Route(ctx context.Context, rctx *route.Context, channel *route.Channel, next func()) {
	if rctx.TransactionID == "" {
		rctx.TransactionID = uuid.NewString()
	}

	if !IsMethodAllowed(rctx.Method, channel.Methods) {
		rctx.Response.Status = 405
		rctx.Response.Timestamp = time.Now()
		rctx.Response.Body = []byte(fmt.Sprintf(
			"Request with method %s is not allowed. Only %s methods are allowed",
			rctx.Method, strings.Join(channel.Methods, ", ")))
		next()
		return
	}

	// Dispatch blocks through both waves and finalization; done() fires as
	// soon as the primary settles, before wave B starts. Run it in its own
	// goroutine so next() can resume the outer pipeline the moment the
	// primary resolves, without waiting for secondary routes or
	// persistence/event finalization.
	go s.Engine.Dispatch(ctx, rctx, channel, func(err error) {
		if err != nil {
			rctx.Err = err
		}
		next()
	})
}

// Middleware adapts the callback-style Route into a blocking call, then
// invokes next. Route returns before dispatch completes, so Middleware
// waits until Route's completion callback has fired (on the 405 path, or
// once the primary completes).
func (s *Shim) Middleware(ctx context.Context, rctx *route.Context, channel *route.Channel, next func()) {
	done := make(chan struct{})
	s.Route(ctx, rctx, channel, func() { close(done) })
	<-done
	next()
}

// IsMethodAllowed reports true when method is empty/blank, or the
// channel's method list is empty (permissive default), or method
// (upper-cased) is a member of the list.
func IsMethodAllowed(method string, methods []string) bool {
	method = strings.TrimSpace(method)
	if method == "" || len(methods) == 0 {
		return true
	}

	upper := strings.ToUpper(method)
	for _, m := range methods {
		if strings.ToUpper(m) == upper {
			return true
		}
	}
	return false
}
