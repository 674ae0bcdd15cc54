// Package dispatch drives the concurrent fan-out to a channel's routes: it
// validates the route set, partitions routes into the two dispatch waves,
// runs them with per-route timeouts, enforces the primary/secondary
// ordering, and finalizes the transaction via the persistence and events
// collaborators.
//
// The wave-partitioned, errgroup-driven dispatcher here shares its "fan a
// single event out to concurrent listeners without blocking the producer"
// shape with a plain broadcast dispatcher, generalized from an unbounded
// broadcast to a bounded, two-phase join.
package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jembi/openhim-router/collaborators"
	"github.com/jembi/openhim-router/errs"
	"github.com/jembi/openhim-router/internal/metrics"
	"github.com/jembi/openhim-router/orchestration"
	"github.com/jembi/openhim-router/pathtransform"
	"github.com/jembi/openhim-router/reqoptions"
	"github.com/jembi/openhim-router/respadapter"
	"github.com/jembi/openhim-router/route"
	"github.com/jembi/openhim-router/transport/busadapter"
	"github.com/jembi/openhim-router/transport/httpadapter"
)

// HTTPSender is satisfied by transport/httpadapter.Adapter.
type HTTPSender interface {
	Send(ctx context.Context, rt *route.Route, opts *reqoptions.HTTPOptions, body []byte) (route.Response, error)
}

// BusSender is satisfied by transport/busadapter.Adapter.
type BusSender interface {
	Send(ctx *route.Context, channel *route.Channel, rt *route.Route) (route.Response, error)
}

// Engine drives dispatch for one channel's routes.
type Engine struct {
	Keystore    collaborators.Keystore
	Persistence collaborators.Persistence
	Events      collaborators.Events
	HTTP        HTTPSender
	Bus         BusSender

	// DefaultTimeout is the process-wide default applied when neither the
	// route nor the channel set a timeout.
	DefaultTimeout time.Duration
	// Brokers is forwarded into the bus options descriptor for route-level
	// producer construction.
	Brokers []string

	Logger  *log.Entry
	Metrics *metrics.Metrics
}

// NewEngine wires a dispatch Engine from concrete collaborators and
// transport adapters, defaulting the logger the way skipper's per-resource
// loggers default to a field-tagged logrus entry. m may be nil or built via
// metrics.NewDisabled(); every Metrics method tolerates both.
func NewEngine(ks collaborators.Keystore, persistence collaborators.Persistence, events collaborators.Events, pool collaborators.ProducerPool, defaultTimeout time.Duration, brokers []string, m *metrics.Metrics) *Engine {
	return &Engine{
		Keystore:       ks,
		Persistence:    persistence,
		Events:         events,
		HTTP:           &httpadapter.Adapter{DefaultTimeout: defaultTimeout},
		Bus:            &busadapter.Adapter{Pool: pool},
		DefaultTimeout: defaultTimeout,
		Brokers:        brokers,
		Logger:         log.WithField("component", "dispatch"),
		Metrics:        m,
	}
}

// Dispatch fans rctx out to channel's enabled routes and invokes done
// exactly once, when the primary route's response has been applied to
// rctx — not when secondary routes finish.
func (e *Engine) Dispatch(ctx context.Context, rctx *route.Context, channel *route.Channel, done func(error)) {
	enabled := channel.EnabledRoutes()

	if err := validatePrimaryCount(enabled); err != nil {
		done(err)
		return
	}

	inheritTimeout(enabled, channel.Timeout)

	if _, err := e.Keystore.GetKeystore(); err != nil {
		e.Metrics.IncKeystoreError()
		done(&errs.KeystoreError{Cause: err})
		return
	}

	waveA, waveB := partition(enabled)

	var mu sync.Mutex
	var primaryDone bool
	var doneOnce sync.Once

	completePrimary := func(err error) {
		doneOnce.Do(func() { done(err) })
	}

	var g errgroup.Group
	for _, r := range waveA {
		r := r
		if r.Primary {
			g.Go(func() error {
				e.runPrimary(ctx, rctx, channel, r, completePrimary)
				mu.Lock()
				primaryDone = true
				mu.Unlock()
				return nil
			})
		} else {
			g.Go(func() error {
				e.runSecondary(ctx, rctx, channel, r, &mu)
				return nil
			})
		}
	}
	_ = g.Wait()

	if !primaryDone {
		// defensive: a primary-less channel (all secondaries) still needs
		// done() invoked once wave A settles.
		completePrimary(nil)
	}

	var gB errgroup.Group
	for _, r := range waveB {
		r := r
		if !Matches(r.StatusCodesCheck, rctx.Response.Status) {
			e.Metrics.IncDispatchOutcome(r.Name, "gated")
			continue
		}
		gB.Go(func() error {
			e.runSecondary(ctx, rctx, channel, r, &mu)
			return nil
		})
	}
	_ = gB.Wait()

	e.finalize(rctx, channel)
}

func validatePrimaryCount(routes []*route.Route) error {
	count := 0
	for _, r := range routes {
		if r.Primary {
			count++
		}
	}
	if count > 1 {
		return errs.NewConfigError("multiple primary routes configured for channel")
	}
	return nil
}

func inheritTimeout(routes []*route.Route, channelTimeout time.Duration) {
	if channelTimeout <= 0 {
		return
	}
	for _, r := range routes {
		if r.Timeout() <= 0 {
			r.SetTimeout(channelTimeout)
		}
	}
}

// partition splits enabled routes into wave A (primary + non-primary routes
// not flagged waitPrimaryResponse) and wave B (waitPrimaryResponse
// non-primary routes).
func partition(routes []*route.Route) (waveA, waveB []*route.Route) {
	for _, r := range routes {
		if !r.Primary && r.WaitPrimary {
			waveB = append(waveB, r)
		} else {
			waveA = append(waveA, r)
		}
	}
	return
}

// Matches is the wave-B gating predicate: an absent check passes;
// otherwise any comma-separated token equal to the status, or any token
// containing "*" whose first character equals the status's first digit,
// passes. Stable regardless of token order.
func Matches(check string, status int) bool {
	if check == "" {
		return true
	}

	statusStr := strconv.Itoa(status)
	firstDigit := statusStr[0]

	for _, tok := range strings.Split(check, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if tok == statusStr {
			return true
		}
		if strings.Contains(tok, "*") && tok[0] == firstDigit {
			return true
		}
	}
	return false
}

func effectivePath(rt *route.Route, inboundPath string) (string, error) {
	return pathtransform.Transform(inboundPath, rt.HTTP.PathTransform, rt.HTTP.Path)
}

// runPrimary performs the option-build/transport/response-adapt/record
// sequence for the primary route and invokes complete() exactly once,
// regardless of outcome.
func (e *Engine) runPrimary(ctx context.Context, rctx *route.Context, channel *route.Channel, r *route.Route, complete func(error)) {
	logger := e.Logger.WithField("route", r.Name).WithField("primary", true)
	start := time.Now()

	resp, reqInfo, err := e.send(ctx, rctx, channel, r)
	e.Metrics.MeasureRouteLatency(r.Name, start)

	if err != nil {
		logger.WithError(err).Warn("primary route failed")
		orchestration.RecordPrimary(rctx, r.Name, reqInfo, nil, err)
		e.Metrics.IncDispatchOutcome(r.Name, "error")

		rctx.Response.Status = 500
		rctx.Response.Body = []byte("An internal server error occurred")
		rctx.Response.Timestamp = time.Now()
		rctx.Response.Headers = http.Header{}
		rctx.Err = err
		rctx.AutoRetry = true

		complete(nil)
		return
	}

	orchestration.RecordPrimary(rctx, r.Name, reqInfo, &resp, nil)
	e.Metrics.IncDispatchOutcome(r.Name, "ok")

	inboundTxnID := rctx.Headers.Get("X-OpenHIM-TransactionID")
	respadapter.Adapt(rctx, resp, inboundTxnID)
	rctx.PrimaryRoute = r

	complete(nil)
}

// runSecondary performs one non-primary route's attempt, records it, and
// persists it, independent of any sibling route.
func (e *Engine) runSecondary(ctx context.Context, rctx *route.Context, channel *route.Channel, r *route.Route, mu *sync.Mutex) {
	logger := e.Logger.WithField("route", r.Name).WithField("primary", false)
	start := time.Now()

	resp, reqInfo, err := e.send(ctx, rctx, channel, r)
	e.Metrics.MeasureRouteLatency(r.Name, start)

	var rec route.SecondaryRouteRecord
	if err != nil {
		logger.WithError(err).Warn("secondary route failed")
		rec = orchestration.RecordSecondary(r.Name, nil, nil, nil, err)
		e.Metrics.IncDispatchOutcome(r.Name, "error")
	} else {
		var mediator *route.MediatorResponse
		if isMediatorContentType(resp.Headers) {
			mediator = parseMediator(resp.Body)
		}
		rec = orchestration.RecordSecondary(r.Name, &reqInfo, &resp, mediator, nil)
		e.Metrics.IncDispatchOutcome(r.Name, "ok")
	}

	mu.Lock()
	rctx.Routes = append(rctx.Routes, rec)
	mu.Unlock()

	if perr := e.Persistence.StoreNonPrimaryResponse(rctx, rec); perr != nil {
		logger.WithError(perr).Error("failed to store non-primary response")
	}
}

func (e *Engine) send(ctx context.Context, rctx *route.Context, channel *route.Channel, r *route.Route) (route.Response, route.RequestInfo, error) {
	path, err := effectivePath(r, rctx.Path)
	if err != nil {
		return route.Response{}, route.RequestInfo{}, err
	}

	if r.Type.IsBus() {
		reqInfo := route.RequestInfo{
			Path:      rctx.URL(),
			Method:    rctx.Method,
			Headers:   rctx.Headers,
			Body:      rctx.Body,
			Timestamp: time.Now(),
		}
		resp, err := e.Bus.Send(rctx, channel, r)
		return resp, reqInfo, err
	}

	httpOpts, _, err := reqoptions.Build(rctx, r, e.Keystore, path, e.Brokers)
	if err != nil {
		return route.Response{}, route.RequestInfo{}, err
	}

	reqInfo := route.RequestInfo{
		Host:      r.HTTP.Host,
		Port:      r.HTTP.Port,
		Path:      httpOpts.Path,
		Method:    httpOpts.Method,
		Headers:   httpOpts.Headers,
		Body:      rctx.Body,
		Timestamp: time.Now(),
	}

	resp, err := e.HTTP.Send(ctx, r, httpOpts, rctx.Body)
	return resp, reqInfo, err
}

func isMediatorContentType(headers http.Header) bool {
	return strings.Contains(headers.Get("Content-Type"), "application/json+openhim")
}

func parseMediator(body []byte) *route.MediatorResponse {
	var m route.MediatorResponse
	if err := json.Unmarshal(body, &m); err != nil {
		return nil
	}
	return &m
}

// finalize asks the persistence and events collaborators to close out the
// transaction; their errors are logged, never surfaced.
func (e *Engine) finalize(rctx *route.Context, channel *route.Channel) {
	if err := e.Persistence.SetFinalStatus(rctx); err != nil {
		e.Logger.WithError(err).Error("failed to set final status")
	}

	buf := &collaborators.EventBuffer{}
	e.Events.CreateSecondaryRouteEvents(buf, rctx.TransactionID, rctx.RequestTimestamp.UnixMilli(), channel, rctx.Routes, rctx.CurrentAttempt)
	if err := e.Events.SaveEvents(buf); err != nil {
		e.Logger.WithError(err).Error("failed to save events")
	}
}
