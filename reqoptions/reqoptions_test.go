package reqoptions

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jembi/openhim-router/collaborators"
	"github.com/jembi/openhim-router/route"
)

func TestBuildHTTPOptionsAppliesCredentials(t *testing.T) {
	ks := collaborators.NewInMemoryKeystore([]byte("key"), []byte("cert"), nil)
	ctx := &route.Context{Method: "GET", Headers: http.Header{"Authorization": {"Bearer old"}}}
	rt := &route.Route{
		Name:        "primary",
		Type:        route.TypeHTTP,
		Credentials: &route.Credentials{Username: "u", Password: "p"},
	}

	httpOpts, busOpts, err := Build(ctx, rt, ks, "/patient", nil)
	require.NoError(t, err)
	assert.Nil(t, busOpts)
	assert.Equal(t, "Basic dTpw", httpOpts.Auth)
	assert.Empty(t, httpOpts.Headers.Get("Authorization"), "inbound auth header dropped unless ForwardAuthHeader")
}

func TestBuildForwardsAuthHeaderWhenConfigured(t *testing.T) {
	ks := collaborators.NewInMemoryKeystore(nil, nil, nil)
	ctx := &route.Context{Headers: http.Header{"Authorization": {"Bearer token"}}}
	rt := &route.Route{Type: route.TypeHTTP, ForwardAuthHeader: true}

	httpOpts, _, err := Build(ctx, rt, ks, "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer token", httpOpts.Headers.Get("Authorization"))
}

func TestBuildBusRoute(t *testing.T) {
	ks := collaborators.NewInMemoryKeystore(nil, nil, nil)
	ctx := &route.Context{Headers: http.Header{}}
	rt := &route.Route{Type: route.TypeBus, Bus: route.BusTransport{Topic: "audit"}}

	httpOpts, busOpts, err := Build(ctx, rt, ks, "/x", []string{"broker:9092"})
	require.NoError(t, err)
	assert.Nil(t, httpOpts)
	require.NotNil(t, busOpts)
	assert.Equal(t, "audit", busOpts.Topic)
	assert.Equal(t, []string{"broker:9092"}, busOpts.Brokers)
}

func TestBuildResolvesCAByCertID(t *testing.T) {
	ks := collaborators.NewInMemoryKeystore([]byte("key"), []byte("cert"), map[string][]byte{"ca-a": []byte("pem-a")})
	ctx := &route.Context{Headers: http.Header{}}
	rt := &route.Route{Type: route.TypeHTTP, Cert: "ca-a"}

	httpOpts, _, err := Build(ctx, rt, ks, "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("pem-a"), httpOpts.CA)
}

func TestCopyHeadersDropsInvalidValues(t *testing.T) {
	ks := collaborators.NewInMemoryKeystore(nil, nil, nil)
	ctx := &route.Context{Headers: http.Header{"X-Bad": {"line1\r\nInjected: true"}, "X-Good": {"ok"}}}
	rt := &route.Route{Type: route.TypeHTTP}

	httpOpts, _, err := Build(ctx, rt, ks, "/x", nil)
	require.NoError(t, err)
	assert.Empty(t, httpOpts.Headers.Get("X-Bad"))
	assert.Equal(t, "ok", httpOpts.Headers.Get("X-Good"))
}

func TestTLSConfigVerifiesServerWhenRejectUnauthorized(t *testing.T) {
	opts := &HTTPOptions{RejectUnauthorized: true}
	cfg, err := opts.TLSConfig()
	require.NoError(t, err)
	assert.False(t, cfg.InsecureSkipVerify)
}
