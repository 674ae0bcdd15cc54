// Package orchestration builds orchestration records for the primary route,
// appending them to the request context, and per-route secondary records,
// which it returns for the caller to append.
// It has no control flow of its own — the dispatch engine calls these
// builders after every transport attempt settles — in the same way
// skipper's access-log records are built as plain structured values from a
// completed exchange (logging/access_test.go's fixtures).
package orchestration

import (
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/jembi/openhim-router/route"
)

// RecordPrimary appends one orchestration record for the primary route's
// transport attempt, success or failure.
func RecordPrimary(ctx *route.Context, name string, req route.RequestInfo, resp *route.Response, err error) {
	rec := route.OrchestrationRecord{
		Name:    name,
		Request: req,
	}
	if err != nil {
		rec.Error = toErrorInfo(err)
	} else {
		rec.Response = resp
	}
	ctx.Orchestrations = append(ctx.Orchestrations, rec)
}

// RecordSecondary builds a secondary-route record for a non-primary route's
// attempt. On success it fills Request/Response; on failure it fills Name
// and the error. For mediator-framed secondary responses it lifts
// MediatorURN/Orchestrations/Properties/Metrics and the embedded response.
func RecordSecondary(name string, req *route.RequestInfo, resp *route.Response, mediator *route.MediatorResponse, err error) route.SecondaryRouteRecord {
	rec := route.SecondaryRouteRecord{Name: name}

	if err != nil {
		rec.Error = toErrorInfo(err)
		return rec
	}

	rec.Request = req
	rec.Response = resp

	if mediator != nil {
		rec.MediatorURN = mediator.MediatorURN
		rec.Orchestrations = mediator.Orchestrations
		rec.Properties = mediator.Properties
		rec.Metrics = mediator.Metrics
		if mediator.Response != nil {
			rec.Response = &route.Response{
				Status:  statusFromMediator(mediator.Response.Status),
				Body:    []byte(mediator.Response.Body),
				Headers: http.Header{},
			}
		}
	}

	return rec
}

// statusFromMediator resolves the embedded response's status field, which
// may arrive from JSON as either a float64 or a numeric string, matching
// respadapter.mediatorStatus's handling of the same field on the primary
// route's response.
func statusFromMediator(raw any) int {
	switch v := raw.(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.WithField("status", v).Warn("orchestration: non-numeric mediator status, passing through 0")
		return 0
	default:
		return 0
	}
}

func toErrorInfo(err error) *route.ErrorInfo {
	return &route.ErrorInfo{Message: err.Error()}
}
