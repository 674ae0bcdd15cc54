// Package busadapter publishes a serialized envelope to a topic via a
// producer obtained from the producer-pool collaborator. There is no
// response correlation: the bus call is fire-and-acknowledge.
package busadapter

import (
	"encoding/json"
	"time"

	"github.com/jembi/openhim-router/collaborators"
	"github.com/jembi/openhim-router/errs"
	"github.com/jembi/openhim-router/route"
)

// Adapter publishes bus envelopes via a ProducerPool collaborator.
type Adapter struct {
	Pool collaborators.ProducerPool
}

// envelope is the wire shape published to the topic.
type envelope struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Pattern string              `json:"pattern"`
	Headers map[string][]string `json:"headers"`
	Body    string              `json:"body"`
}

// Send publishes one envelope for ctx/channel/rt and returns a synthetic
// 200 Response on publish acknowledgement. The status is unconditional on
// ack, even if the broker reported a partial failure elsewhere in the
// batch; this keeps the bus route's success signal tied only to publish
// acknowledgement, asserted explicitly in busadapter_test.go.
func (a *Adapter) Send(ctx *route.Context, channel *route.Channel, rt *route.Route) (route.Response, error) {
	body := ""
	if len(ctx.Body) > 0 {
		body = string(ctx.Body)
	}

	env := envelope{
		Method:  ctx.Method,
		Path:    ctx.URL(),
		Pattern: channel.URLPattern,
		Headers: map[string][]string(ctx.Headers),
		Body:    body,
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return route.Response{}, &errs.TransportError{Route: rt.Name, Cause: err}
	}

	producer, err := a.Pool.GetProducer(channel.Name, rt.Bus.ClientID, rt.Bus.Timeout)
	if err != nil {
		return route.Response{}, &errs.TransportError{Route: rt.Name, Cause: err}
	}

	ack, err := producer.Send(collaborators.SendRequest{
		Topic:    rt.Bus.Topic,
		Messages: []collaborators.Message{{Value: payload}},
	})
	if err != nil {
		return route.Response{}, &errs.TransportError{Route: rt.Name, Cause: err}
	}

	ackBody, _ := json.Marshal(ack)
	return route.Response{
		Status:    200,
		Body:      ackBody,
		Timestamp: time.Now(),
	}, nil
}
