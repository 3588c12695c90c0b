// Package forwarder performs the outbound HTTP call to the upstream
// provider: URL composition, header sanitization, auth-header rewriting,
// and timeout-bounded relay of the response.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/portablestew/key-commune/internal/errors"
	"github.com/portablestew/key-commune/internal/provider"
)

// hopByHop headers are stripped before forwarding, per RFC 7230 §6.1 plus
// Host and Content-Encoding (the upstream's encoding choice is not ours to
// pass through verbatim since we may re-serialize the body).
var hopByHop = map[string]struct{}{
	"Connection":         {},
	"Keep-Alive":         {},
	"Proxy-Authenticate": {},
	"Te":                 {},
	"Trailer":            {},
	"Transfer-Encoding":  {},
	"Upgrade":            {},
	"Host":               {},
	"Content-Encoding":   {},
}

// authHeaders are stripped from the inbound request before forwarding; the
// Forwarder then sets its own, or restores the caller's when auth rewriting
// is off.
var authHeaders = map[string]struct{}{
	"Authorization":       {},
	"X-Api-Key":           {},
	"Api-Key":             {},
	"Apikey":              {},
	"Proxy-Authorization": {},
}

// Request is the inbound request data the Forwarder needs, decoupled from
// any particular web framework's request type.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is the relayed upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forwarder performs outbound calls against a single upstream provider.
type Forwarder struct {
	client *http.Client
}

// New constructs a Forwarder. One client is shared by every call; each call
// applies the provider's own timeout through its request context, so the
// client itself carries no timeout.
func New() *Forwarder {
	return &Forwarder{client: &http.Client{}}
}

// Forward composes the outbound URL from p.BaseURL and req.Path, rewrites
// the auth header to carry material, and relays the upstream response.
// authRewrite selects whether the credential's auth header is set
// (load-balanced / isolation mode) or the inbound auth headers are passed
// through as presented (cacheable read path, §4.9). Hop-by-hop headers are
// stripped in both modes.
func (f *Forwarder) Forward(ctx context.Context, p provider.Provider, material string, authRewrite bool, req Request) (*Response, error) {
	target, err := joinURL(p.BaseURL, req.Path, req.Query)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrProviderMisconfigured, "invalid base_url: %s", err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	outbound, err := http.NewRequestWithContext(ctx, req.Method, target, bytes.NewReader(req.Body))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to build outbound request")
	}
	outbound.Header = sanitizeHeaders(req.Header)

	if authRewrite {
		outbound.Header.Set(p.AuthHeaderName(), "Bearer "+material)
	} else {
		for k, v := range req.Header {
			canonical := http.CanonicalHeaderKey(k)
			if _, ok := authHeaders[canonical]; ok {
				outbound.Header[canonical] = v
			}
		}
	}

	resp, err := f.client.Do(outbound)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.ErrUpstreamTimeout
		}
		return nil, apperrors.Wrapf(apperrors.ErrUpstreamUnreachable, "%s", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read upstream response body")
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     sanitizeHeaders(resp.Header),
		Body:       body,
	}, nil
}

// joinURL composes base and path using URL-join semantics (not string
// concatenation), preserving the query string.
func joinURL(base, path string, query url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	rel, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	joined := u.ResolveReference(rel)
	if len(query) > 0 {
		joined.RawQuery = query.Encode()
	}
	return joined.String(), nil
}

func sanitizeHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for k, v := range in {
		canonical := http.CanonicalHeaderKey(k)
		if _, skip := hopByHop[canonical]; skip {
			continue
		}
		if _, skip := authHeaders[canonical]; skip {
			continue
		}
		out[canonical] = v
	}
	return out
}

// DecodeJSON attempts to parse body as JSON, returning the decoded value
// and true on success. Callers fall back to treating the body as an opaque
// string when this returns false.
func DecodeJSON(body []byte) (any, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, false
	}
	return v, true
}

// ExtractCredential parses an inbound Authorization header value, accepting
// either "Bearer <credential>" or the raw credential string.
func ExtractCredential(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):]), true
	}
	return header, true
}
