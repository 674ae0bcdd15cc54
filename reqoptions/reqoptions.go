// Package reqoptions builds the per-route outbound request descriptor from
// the channel, route, keystore and inbound context, following the
// "copy-then-mutate" header handling skipper's filters/cookie and
// filters/responseheader packages use, and the typed-arg extraction idiom
// of filters/args.go applied here to pulling credentials out of a route.
package reqoptions

import (
	"crypto/tls"
	"encoding/base64"
	"net/http"

	"golang.org/x/net/http/httpguts"

	"github.com/jembi/openhim-router/collaborators"
	"github.com/jembi/openhim-router/route"
)

// HTTPOptions is the outbound descriptor for an http-typed route.
type HTTPOptions struct {
	Hostname           string
	Port               int
	Method             string
	Headers            http.Header
	Path               string
	RejectUnauthorized bool
	Key                []byte
	Cert               []byte
	CA                 []byte
	Auth               string // "Basic <base64>" when route credentials are set
}

// BusOptions is the outbound descriptor for a bus-typed route.
type BusOptions struct {
	Brokers []string
	Topic   string
}

// Build composes the outbound request descriptor for one route. effectivePath
// is the already-transformed path (see pathtransform); querystring, when
// non-empty, is appended to it.
func Build(ctx *route.Context, r *route.Route, ks collaborators.Keystore, effectivePath string, brokers []string) (*HTTPOptions, *BusOptions, error) {
	path := effectivePath
	if ctx.Querystring != "" {
		path = path + "?" + ctx.Querystring
	}

	headers := copyHeaders(ctx.Headers)
	headers.Del("Host")
	if !r.ForwardAuthHeader {
		headers.Del("Authorization")
	}

	if r.Type.IsBus() {
		return nil, &BusOptions{
			Brokers: brokers,
			Topic:   r.Bus.Topic,
		}, nil
	}

	opts := &HTTPOptions{
		Hostname:           r.HTTP.Host,
		Port:               r.HTTP.Port,
		Method:             ctx.Method,
		Headers:            headers,
		Path:               path,
		RejectUnauthorized: true,
	}

	bundle, err := ks.GetKeystore()
	if err != nil {
		return nil, nil, err
	}
	opts.Key = bundle.Key
	opts.Cert = bundle.Cert

	if r.Cert != "" {
		if ca, ok := bundle.CA[r.Cert]; ok {
			opts.CA = ca
		}
	}

	if r.Credentials != nil && r.Credentials.Username != "" && r.Credentials.Password != "" {
		raw := r.Credentials.Username + ":" + r.Credentials.Password
		opts.Auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
	}

	return opts, nil, nil
}

// TLSConfig builds the tls.Config for a secured http route from the
// resolved options.
func (o *HTTPOptions) TLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: !o.RejectUnauthorized}

	if len(o.Cert) > 0 && len(o.Key) > 0 {
		cert, err := tls.X509KeyPair(o.Cert, o.Key)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if len(o.CA) > 0 {
		pool, err := buildCAPool(o.CA)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// copyHeaders copies src, dropping header names or values that aren't
// valid on the wire rather than forwarding them to the downstream route.
func copyHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, vs := range src {
		if !httpguts.ValidHeaderFieldName(k) {
			continue
		}
		cp := make([]string, 0, len(vs))
		for _, v := range vs {
			if httpguts.ValidHeaderFieldValue(v) {
				cp = append(cp, v)
			}
		}
		if len(cp) > 0 {
			dst[k] = cp
		}
	}
	return dst
}
