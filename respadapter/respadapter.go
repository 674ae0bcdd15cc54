// Package respadapter translates a downstream response into the outer
// context's response: status, headers, cookies, redirects and content
// type. It also implements the mediator content-type discriminator that
// unwraps an application/json+openhim envelope.
//
// Cookie option parsing is adapted from skipper's filters/cookie package
// (Set-Cookie emission with Domain/Path/MaxAge/HttpOnly/Secure), and the
// redirect/location handling follows filters/builtin/redirect.go's
// "copy location, fill in missing pieces" shape, simplified here since the
// primary-route response already carries an absolute or relative Location.
package respadapter

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jembi/openhim-router/errs"
	"github.com/jembi/openhim-router/route"
)

const mediatorContentType = "application/json+openhim"
const transactionIDHeader = "X-OpenHIM-TransactionID"

// CookieOption is the small enumerated record of reserved Set-Cookie
// options this engine understands; unlike an open map, any other
// name/value pair in a cookie string is a cookie, not an option override.
type CookieOption struct {
	MaxAge    *int
	Expires   *time.Time
	Path      string
	Domain    string
	Secure    bool
	Signed    bool
	Overwrite bool
	HTTPOnly  string // raw value, passed through uninterpreted
}

// Cookie is one outbound cookie plus its parsed options.
type Cookie struct {
	Name    string
	Value   string
	Options CookieOption
}

// Adapt applies the primary route's response to ctx. inboundTransactionID
// is the inbound X-OpenHIM-TransactionID header value, if any, preserved
// across the hop.
func Adapt(ctx *route.Context, resp route.Response, inboundTransactionID string) {
	status := resolveStatus(resp)

	headers := resp.Headers.Clone()
	if headers == nil {
		headers = map[string][]string{}
	}
	if inboundTransactionID != "" {
		headers.Set(transactionIDHeader, inboundTransactionID)
	}

	if isMediatorResponse(headers.Get("Content-Type")) {
		adaptMediator(ctx, status, resp, headers)
		return
	}

	applyPlain(ctx, status, resp.Body, resp.Timestamp, headers)
}

// resolveStatus is a no-op here: Response.Status is always a typed int, so
// the string/number ambiguity that downstream JSON can carry never reaches
// this path. That ambiguity resurfaces in mediatorStatus below, where the
// field genuinely arrives as `any` from JSON.
func resolveStatus(resp route.Response) int {
	return resp.Status
}

func applyPlain(ctx *route.Context, status int, body []byte, ts time.Time, headers map[string][]string) {
	ctx.Response.Status = status
	ctx.Response.Body = body
	ctx.Response.Timestamp = ts
	ctx.Response.Headers = map[string][]string{}

	for k, vs := range headers {
		lower := strings.ToLower(k)
		switch lower {
		case "set-cookie":
			for _, v := range vs {
				applyCookie(ctx, v)
			}
		case "location":
			if status >= 300 && status < 400 {
				ctx.Response.Headers["Location"] = []string{vs[0]}
			} else {
				ctx.Response.Headers[k] = vs
			}
		case "content-type":
			ctx.Response.Headers["Content-Type"] = vs
		case "content-length", "content-encoding", "transfer-encoding":
			// re-derived by the outer framework; dropped here.
		default:
			ctx.Response.Headers[k] = vs
		}
	}
}

// applyCookie parses one Set-Cookie string's name/value pairs and reserved
// options, then appends it to ctx.Response as a Set-Cookie header. Reserved
// option keys: max-age, expires, path, domain, secure, signed, overwrite,
// httponly.
func applyCookie(ctx *route.Context, raw string) {
	parts := strings.Split(raw, ";")
	if len(parts) == 0 {
		return
	}

	var cookies []Cookie
	opt := CookieOption{}

	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, value, hasValue := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		lowerName := strings.ToLower(name)

		switch lowerName {
		case "max-age":
			if n, err := strconv.Atoi(value); err == nil {
				opt.MaxAge = &n
			}
		case "expires":
			if t, err := time.Parse(time.RFC1123, value); err == nil {
				opt.Expires = &t
			}
		case "path":
			opt.Path = value
		case "domain":
			opt.Domain = value
		case "secure":
			opt.Secure = true
		case "signed":
			opt.Signed = true
		case "overwrite":
			opt.Overwrite = value == "true"
		case "httponly":
			opt.HTTPOnly = value
			if !hasValue {
				// a bare HttpOnly flag carries no value; record its presence
				opt.HTTPOnly = "true"
			}
		default:
			if i == 0 || hasValue {
				cookies = append(cookies, Cookie{Name: name, Value: value})
			}
		}
	}

	for _, c := range cookies {
		c.Options = opt
		ctx.Response.Headers["Set-Cookie"] = append(ctx.Response.Headers["Set-Cookie"], buildSetCookie(c))
	}
}

func buildSetCookie(c Cookie) string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)

	if c.Options.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Options.Path)
	}
	if c.Options.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Options.Domain)
	}
	if c.Options.MaxAge != nil {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(*c.Options.MaxAge))
	}
	if c.Options.Expires != nil {
		b.WriteString("; Expires=")
		b.WriteString(c.Options.Expires.Format(time.RFC1123))
	}
	if c.Options.Secure {
		b.WriteString("; Secure")
	}
	if c.Options.HTTPOnly != "" {
		b.WriteString("; HttpOnly")
	}

	return b.String()
}

func isMediatorResponse(contentType string) bool {
	return strings.Contains(contentType, mediatorContentType)
}

// adaptMediator parses a mediator-framed response body and applies its
// embedded response, lifting error/autoRetry onto ctx.
func adaptMediator(ctx *route.Context, _ int, resp route.Response, headers map[string][]string) {
	var parsed route.MediatorResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		log.WithError(err).Warn("respadapter: failed to parse mediator response body")
		applyPlain(ctx, resp.Status, resp.Body, resp.Timestamp, headers)
		return
	}

	ctx.MediatorResponse = &parsed

	if parsed.Error != nil {
		ctx.Err = &errs.MediatorError{Message: parsed.Error.Message}
		ctx.AutoRetry = true
	}

	if parsed.Response == nil {
		applyPlain(ctx, resp.Status, resp.Body, resp.Timestamp, headers)
		return
	}

	embeddedStatus := mediatorStatus(parsed.Response.Status)
	embeddedHeaders := map[string][]string{}
	for k, v := range parsed.Response.Headers {
		embeddedHeaders[k] = headerValueToSlice(v)
	}
	if tid := http.Header(headers).Get(transactionIDHeader); tid != "" {
		http.Header(embeddedHeaders).Set(transactionIDHeader, tid)
	}

	applyPlain(ctx, embeddedStatus, []byte(parsed.Response.Body), resp.Timestamp, embeddedHeaders)
}

// mediatorStatus resolves the embedded response's status field, which may
// arrive from JSON as either a float64 or a numeric string. A non-numeric
// string is logged and passed through as 0 rather than rejected, matching
// the permissive handling the rest of this adapter gives malformed
// mediator fields.
func mediatorStatus(raw any) int {
	switch v := raw.(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.WithField("status", v).Warn("respadapter: non-numeric mediator status, passing through 0")
		return 0
	default:
		return 0
	}
}

func headerValueToSlice(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
