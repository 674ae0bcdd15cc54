package collaborators

import (
	"sync"

	"github.com/jembi/openhim-router/route"
)

// Persistence is the external store for transactions and their per-route
// records. It is out of scope for this module — only the contract is
// specified here.
type Persistence interface {
	// StoreNonPrimaryResponse persists one secondary route's record as soon
	// as it resolves, independent of the others.
	StoreNonPrimaryResponse(ctx *route.Context, rec route.SecondaryRouteRecord) error
	// SetFinalStatus is called once per dispatch, after every secondary
	// route's persistence write has been observed complete.
	SetFinalStatus(ctx *route.Context) error
}

// Events is the external collaborator that turns collected route records
// into durable audit events.
type Events interface {
	// CreateSecondaryRouteEvents populates buf with one event per entry of
	// routes.
	CreateSecondaryRouteEvents(buf *EventBuffer, transactionID string, requestTimestamp int64, channel *route.Channel, routes []route.SecondaryRouteRecord, attempt int)
	// SaveEvents persists the accumulated buffer.
	SaveEvents(buf *EventBuffer) error
}

// EventBuffer is an opaque accumulator passed between CreateSecondaryRouteEvents
// and SaveEvents, mirroring the original's callback-populated buffer.
type EventBuffer struct {
	mu     sync.Mutex
	Events []any
}

// Append adds one event to the buffer. Safe for concurrent use since
// secondary routes may populate events from independent goroutines.
func (b *EventBuffer) Append(e any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Events = append(b.Events, e)
}

// InMemoryPersistence is a fake Persistence collaborator recording every
// call it receives, used by tests exactly as proxy/proxytest records
// requests made through a test backend.
type InMemoryPersistence struct {
	mu          sync.Mutex
	NonPrimary  []route.SecondaryRouteRecord
	FinalStatus []route.Context
	FailNext    error
}

func (p *InMemoryPersistence) StoreNonPrimaryResponse(_ *route.Context, rec route.SecondaryRouteRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailNext != nil {
		err := p.FailNext
		p.FailNext = nil
		return err
	}
	p.NonPrimary = append(p.NonPrimary, rec)
	return nil
}

func (p *InMemoryPersistence) SetFinalStatus(ctx *route.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FinalStatus = append(p.FinalStatus, *ctx)
	return nil
}

// InMemoryEvents is a fake Events collaborator.
type InMemoryEvents struct {
	mu    sync.Mutex
	Saved []*EventBuffer
}

func (e *InMemoryEvents) CreateSecondaryRouteEvents(buf *EventBuffer, _ string, _ int64, _ *route.Channel, routes []route.SecondaryRouteRecord, _ int) {
	for _, r := range routes {
		buf.Append(r)
	}
}

func (e *InMemoryEvents) SaveEvents(buf *EventBuffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Saved = append(e.Saved, buf)
	return nil
}
