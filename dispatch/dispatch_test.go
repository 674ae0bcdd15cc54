package dispatch

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jembi/openhim-router/collaborators"
	"github.com/jembi/openhim-router/reqoptions"
	"github.com/jembi/openhim-router/route"
)

// fakeHTTP is a scripted HTTPSender: one response (or error) per route name.
type fakeHTTP struct {
	mu        sync.Mutex
	responses map[string]route.Response
	errs      map[string]error
	calls     []string
}

func (f *fakeHTTP) Send(_ context.Context, rt *route.Route, _ *reqoptions.HTTPOptions, _ []byte) (route.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rt.Name)
	f.mu.Unlock()

	if err, ok := f.errs[rt.Name]; ok {
		return route.Response{}, err
	}
	return f.responses[rt.Name], nil
}

// fakeBus is a BusSender that always succeeds with a fixed status, mirroring
// the adapter's "ack is the only success signal" behavior without a broker.
type fakeBus struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeBus) Send(_ *route.Context, _ *route.Channel, rt *route.Route) (route.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rt.Name)
	f.mu.Unlock()
	return route.Response{Status: 200, Headers: http.Header{}}, nil
}

func newTestEngine(httpSender HTTPSender, bus BusSender) (*Engine, *collaborators.InMemoryPersistence, *collaborators.InMemoryEvents) {
	persistence := &collaborators.InMemoryPersistence{}
	events := &collaborators.InMemoryEvents{}
	e := &Engine{
		Keystore:       collaborators.NewInMemoryKeystore(nil, nil, nil),
		Persistence:    persistence,
		Events:         events,
		HTTP:           httpSender,
		Bus:            bus,
		DefaultTimeout: time.Second,
	}
	e.Logger = log.NewEntry(log.New())
	return e, persistence, events
}

func newCtx() *route.Context {
	return &route.Context{
		TransactionID:    "txn-1",
		RequestTimestamp: time.Now(),
		Method:           "GET",
		Path:             "/patient",
		Headers:          http.Header{},
	}
}

func TestDispatchSinglePrimaryPassthrough(t *testing.T) {
	httpSender := &fakeHTTP{
		responses: map[string]route.Response{
			"primary": {Status: 200, Body: []byte("ok"), Headers: http.Header{}},
		},
	}
	e, persistence, events := newTestEngine(httpSender, &fakeBus{})

	channel := &route.Channel{
		Name: "test-channel",
		Routes: []*route.Route{
			{Name: "primary", Primary: true, Type: route.TypeHTTP},
		},
	}
	ctx := newCtx()

	var callErr error
	e.Dispatch(context.Background(), ctx, channel, func(err error) { callErr = err })

	require.NoError(t, callErr)
	assert.Equal(t, 200, ctx.Response.Status)
	assert.Equal(t, []byte("ok"), ctx.Response.Body)
	require.Len(t, persistence.FinalStatus, 1)
	require.Len(t, events.Saved, 1)
}

func TestDispatchRejectsMultiplePrimaries(t *testing.T) {
	e, _, _ := newTestEngine(&fakeHTTP{}, &fakeBus{})

	channel := &route.Channel{
		Routes: []*route.Route{
			{Name: "a", Primary: true, Type: route.TypeHTTP},
			{Name: "b", Primary: true, Type: route.TypeHTTP},
		},
	}

	var callErr error
	e.Dispatch(context.Background(), newCtx(), channel, func(err error) { callErr = err })
	assert.Error(t, callErr)
}

func TestDispatchSecondaryGatedByPrimaryStatus(t *testing.T) {
	httpSender := &fakeHTTP{
		responses: map[string]route.Response{
			"primary":   {Status: 404, Body: []byte("missing"), Headers: http.Header{}},
			"secondary": {Status: 200, Body: []byte("ignored"), Headers: http.Header{}},
		},
	}
	e, persistence, _ := newTestEngine(httpSender, &fakeBus{})

	channel := &route.Channel{
		Routes: []*route.Route{
			{Name: "primary", Primary: true, Type: route.TypeHTTP},
			{Name: "secondary", Type: route.TypeHTTP, WaitPrimary: true, StatusCodesCheck: "200"},
		},
	}

	e.Dispatch(context.Background(), newCtx(), channel, func(error) {})

	httpSender.mu.Lock()
	defer httpSender.mu.Unlock()
	assert.NotContains(t, httpSender.calls, "secondary", "gated secondary should not run when primary status doesn't match")
	assert.Len(t, persistence.NonPrimary, 0)
}

func TestDispatchSecondaryRunsWhenStatusMatches(t *testing.T) {
	httpSender := &fakeHTTP{
		responses: map[string]route.Response{
			"primary":   {Status: 200, Body: []byte("ok"), Headers: http.Header{}},
			"secondary": {Status: 200, Body: []byte("audited"), Headers: http.Header{}},
		},
	}
	e, persistence, _ := newTestEngine(httpSender, &fakeBus{})

	channel := &route.Channel{
		Routes: []*route.Route{
			{Name: "primary", Primary: true, Type: route.TypeHTTP},
			{Name: "secondary", Type: route.TypeHTTP, WaitPrimary: true, StatusCodesCheck: "2*"},
		},
	}

	e.Dispatch(context.Background(), newCtx(), channel, func(error) {})

	require.Len(t, persistence.NonPrimary, 1)
	assert.Equal(t, "secondary", persistence.NonPrimary[0].Name)
}

func TestDispatchRunsNonWaitBusSecondary(t *testing.T) {
	bus := &fakeBus{}
	httpSender := &fakeHTTP{
		responses: map[string]route.Response{"primary": {Status: 200, Headers: http.Header{}}},
	}
	e, _, _ := newTestEngine(httpSender, bus)

	channel := &route.Channel{
		Routes: []*route.Route{
			{Name: "primary", Primary: true, Type: route.TypeHTTP},
			{Name: "audit-bus", Type: route.TypeBus},
		},
	}

	e.Dispatch(context.Background(), newCtx(), channel, func(error) {})

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Contains(t, bus.calls, "audit-bus")
}

func TestDispatchPrimaryFailureSetsAutoRetry(t *testing.T) {
	httpSender := &fakeHTTP{
		errs: map[string]error{"primary": assert.AnError},
	}
	e, _, _ := newTestEngine(httpSender, &fakeBus{})

	channel := &route.Channel{
		Routes: []*route.Route{{Name: "primary", Primary: true, Type: route.TypeHTTP}},
	}
	ctx := newCtx()

	e.Dispatch(context.Background(), ctx, channel, func(error) {})

	assert.Equal(t, 500, ctx.Response.Status)
	assert.True(t, ctx.AutoRetry)
	assert.Error(t, ctx.Err)
}

func TestMatchesGating(t *testing.T) {
	cases := []struct {
		check  string
		status int
		want   bool
	}{
		{"", 500, true},
		{"200", 200, true},
		{"200", 201, false},
		{"2*", 201, true},
		{"2*", 301, false},
		{"200,404", 404, true},
		{"404,2*", 200, true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Matches(c.check, c.status), "check=%q status=%d", c.check, c.status)
	}
}

func TestDispatchFinalizeRunsAfterBothWaves(t *testing.T) {
	httpSender := &fakeHTTP{
		responses: map[string]route.Response{
			"primary":   {Status: 200, Headers: http.Header{}},
			"secondary": {Status: 200, Headers: http.Header{}},
		},
	}
	e, persistence, events := newTestEngine(httpSender, &fakeBus{})

	channel := &route.Channel{
		Routes: []*route.Route{
			{Name: "primary", Primary: true, Type: route.TypeHTTP},
			{Name: "secondary", Type: route.TypeHTTP, WaitPrimary: true, StatusCodesCheck: "200"},
		},
	}

	e.Dispatch(context.Background(), newCtx(), channel, func(error) {})

	require.Len(t, persistence.FinalStatus, 1)
	require.Len(t, events.Saved, 1)
	// the context snapshot taken by SetFinalStatus already holds wave B's record
	require.Len(t, persistence.FinalStatus[0].Routes, 1)
}
