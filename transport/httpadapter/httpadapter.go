// Package httpadapter is the HTTP/HTTPS transport adapter: it issues one
// outbound request, decompresses the body, and produces a normalized
// route.Response. The gzip/deflate streaming decompression is adapted
// directly from skipper's filters/builtin/decompress.go, which reaches for
// the standard library's compress/gzip and compress/flate rather than a
// third-party codec (brotli is pulled in there only for the "br" encoding,
// which this adapter's contract never needs).
package httpadapter

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jembi/openhim-router/errs"
	"github.com/jembi/openhim-router/reqoptions"
	"github.com/jembi/openhim-router/route"
)

var charsetRe = regexp.MustCompile(`(?i)charset=([^;,\r\n]+)`)

// Adapter issues outbound HTTP/HTTPS requests.
type Adapter struct {
	// DefaultTimeout is the process-wide fallback used when neither the
	// route nor the channel set one.
	DefaultTimeout time.Duration
}

// Send issues one request described by opts, honoring route.Timeout()
// (falling back to a.DefaultTimeout), and returns a normalized Response.
// For POST/PUT the inbound ctx.Body is written verbatim as the outbound body.
func (a *Adapter) Send(ctx context.Context, rt *route.Route, opts *reqoptions.HTTPOptions, body []byte) (route.Response, error) {
	timeout := rt.Timeout()
	if timeout <= 0 {
		timeout = a.DefaultTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := a.client(rt, opts)

	scheme := "http"
	if rt.HTTP.Secured {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(opts.Hostname, portStr(opts.Port)), opts.Path)

	var reader io.Reader
	if opts.Method == http.MethodPost || opts.Method == http.MethodPut {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, opts.Method, url, reader)
	if err != nil {
		return route.Response{}, &errs.TransportError{Route: rt.Name, Cause: err}
	}
	req.Header = opts.Headers.Clone()
	if opts.Auth != "" {
		req.Header.Set("Authorization", opts.Auth)
	}

	resp, err := client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return route.Response{}, &errs.TimeoutError{Route: rt.Name, Timeout: timeout.Milliseconds()}
		}
		return route.Response{}, &errs.TransportError{Route: rt.Name, Cause: err}
	}
	defer resp.Body.Close()

	decoded, err := decodeBody(resp)
	if err != nil {
		return route.Response{}, &errs.TransportError{Route: rt.Name, Cause: err}
	}

	return route.Response{
		Status:    resp.StatusCode,
		Headers:   resp.Header,
		Body:      decoded,
		Timestamp: time.Now(),
	}, nil
}

func (a *Adapter) client(rt *route.Route, opts *reqoptions.HTTPOptions) *http.Client {
	transport := &http.Transport{}
	if rt.HTTP.Secured {
		tlsCfg, err := opts.TLSConfig()
		if err != nil {
			tlsCfg = &tls.Config{InsecureSkipVerify: !opts.RejectUnauthorized}
		}
		transport.TLSClientConfig = tlsCfg
	}
	return &http.Client{Transport: transport}
}

func portStr(p int) string {
	return fmt.Sprintf("%d", p)
}

// decodeBody decompresses the response body according to Content-Encoding
// (gzip, deflate, or raw passthrough). The body is forwarded as the bytes
// the downstream system sent; a non-utf-8 charset is only logged; this
// adapter never transcodes, since mediator/primary responses are expected
// to round-trip their original encoding untouched.
func decodeBody(resp *http.Response) ([]byte, error) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))

	var r io.Reader = resp.Body
	switch enc {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case "deflate":
		fr := flate.NewReader(resp.Body)
		defer fr.Close()
		r = fr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if cs := charset(resp.Header.Get("Content-Type")); !strings.EqualFold(cs, "utf-8") {
		log.WithField("charset", cs).Debug("httpadapter: non-utf-8 response charset, forwarding bytes as-is")
	}
	return data, nil
}

// charset extracts the charset named in a Content-Type header, defaulting
// to utf-8.
func charset(contentType string) string {
	if m := charsetRe.FindStringSubmatch(contentType); m != nil {
		return strings.TrimSpace(m[1])
	}
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if cs, ok := params["charset"]; ok {
			return cs
		}
	}
	return "utf-8"
}
