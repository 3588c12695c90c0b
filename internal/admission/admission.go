// Package admission implements the request handler: the 12-step pipeline
// that resolves the configured provider, authenticates the presenter,
// chooses a credential (transient, isolated, or load-balanced), forwards
// the request upstream, and feeds the response back into the credential
// lifecycle.
package admission

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/portablestew/key-commune/internal/credential"
	apperrors "github.com/portablestew/key-commune/internal/errors"
	"github.com/portablestew/key-commune/internal/forwarder"
	"github.com/portablestew/key-commune/internal/hotcache"
	"github.com/portablestew/key-commune/internal/httputil"
	"github.com/portablestew/key-commune/internal/lifecycle"
	"github.com/portablestew/key-commune/internal/loadbalancer"
	"github.com/portablestew/key-commune/internal/metrics"
	"github.com/portablestew/key-commune/internal/provider"
	"github.com/portablestew/key-commune/internal/readcache"
	"github.com/portablestew/key-commune/internal/stats"
	"github.com/portablestew/key-commune/internal/validation"
)

// TrustedProxyHostHeader is the header consulted in step 2. If present, its
// value must resolve to the configured provider's base_url host.
const TrustedProxyHostHeader = "X-Forwarded-Host"

// Pipeline wires every domain module behind the single request handler
// described in §4.8. It fronts exactly one configured provider per process.
type Pipeline struct {
	providerName string
	provider     provider.Provider

	credStore  *credential.Store
	statsStore *stats.Store
	cache      *hotcache.Cache
	lifecycle  *lifecycle.Manager
	selector   *loadbalancer.Selector
	forwarder  *forwarder.Forwarder
	readCache  *readcache.Cache

	metrics metrics.BusinessMetrics
	logger  *slog.Logger
}

// New constructs a Pipeline for a single resolved provider. Callers resolve
// the provider by name from the registry before calling New; a missing
// provider is a startup-time configuration error, not a per-request one.
func New(
	providerName string,
	p provider.Provider,
	credStore *credential.Store,
	statsStore *stats.Store,
	cache *hotcache.Cache,
	lifecycleMgr *lifecycle.Manager,
	selector *loadbalancer.Selector,
	fwd *forwarder.Forwarder,
	readCache *readcache.Cache,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
) *Pipeline {
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		providerName: providerName,
		provider:     p,
		credStore:    credStore,
		statsStore:   statsStore,
		cache:        cache,
		lifecycle:    lifecycleMgr,
		selector:     selector,
		forwarder:    fwd,
		readCache:    readCache,
		metrics:      businessMetrics,
		logger:       logger,
	}
}

// Handle is the gin.HandlerFunc registered as the catch-all proxy route.
func (p *Pipeline) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	start := time.Now()

	status, err := p.serve(c)

	outcome := "success"
	if err != nil {
		outcome = "error"
		httputil.HandleErrorGin(c, err, p.logger)
	}
	p.metrics.RecordOperation(ctx, "admission", "proxy_request", outcome)
	p.metrics.RecordDuration(ctx, "admission", "proxy_request", time.Since(start), outcome)
	_ = status
}

// serve runs steps 1-12 of §4.8. Provider resolution happens at
// construction time, since a Pipeline always fronts exactly one provider;
// step 1 here only rejects a Pipeline whose provider was never wired.
func (p *Pipeline) serve(c *gin.Context) (int, error) {
	ctx := c.Request.Context()

	// Step 1: provider resolution. Normally resolved once at startup; this
	// guards the zero-value Pipeline a caller could construct before wiring
	// a provider.
	if p.provider.BaseURL == "" {
		return 0, apperrors.ErrNotFound
	}

	// Step 2: trusted proxy-host check.
	if host := c.GetHeader(TrustedProxyHostHeader); host != "" {
		if !hostMatchesProvider(host, p.provider.BaseURL) {
			return 0, apperrors.Wrapf(apperrors.ErrProviderMisconfigured, "trusted host %q does not match configured provider", host)
		}
	}

	path := c.Request.URL.Path
	query := c.Request.URL.Query()

	// Step 3: cacheable read delegation.
	if c.Request.Method == http.MethodGet {
		if cp, ok := matchCacheablePath(p.provider, path); ok {
			return p.serveCacheable(c, cp)
		}
	}

	body, err := readBody(c.Request)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to read request body")
	}

	// Step 4: credential extraction.
	material, ok := forwarder.ExtractCredential(c.GetHeader("Authorization"))
	if !ok {
		return 0, apperrors.ErrMissingCredential
	}
	fingerprint := credential.Fingerprint(material)

	// Step 5: presenter rate limit.
	if allow, wait := p.lifecycle.CheckPresenterRateLimit(fingerprint); !allow {
		httputil.HandleRateLimitedGin(c, wait, p.logger)
		return http.StatusTooManyRequests, nil
	}

	// Step 6: length check, then request-content validation.
	if err := validation.ValidateLength(material); err != nil {
		return 0, err
	}
	if err := validation.ValidateRequest(p.provider.Validation, body, path, query); err != nil {
		return 0, err
	}

	// Step 7: client subnet.
	subnet := lifecycle.Subnet(clientIP(c))

	// Step 8: pool decision.
	selected, err := p.selectCredential(ctx, material, fingerprint)
	if err != nil {
		return 0, err
	}

	// Step 9: call-count increment for pool-resident selections.
	if !selected.IsTransient() {
		if err := p.statsStore.IncrementCallCount(ctx, selected.ID, subnet); err != nil {
			return 0, err
		}
	}

	// Step 10: forward upstream.
	resp, err := p.forwarder.Forward(ctx, p.provider, selected.Material, true, forwarder.Request{
		Method: c.Request.Method,
		Path:   path,
		Query:  query,
		Header: c.Request.Header,
		Body:   body,
	})
	if err != nil {
		return 0, err
	}

	// Step 11: lifecycle feedback.
	if _, err := p.lifecycle.HandleResponse(ctx, selected, resp.StatusCode); err != nil {
		p.logger.Error("lifecycle feedback failed", slog.Any("error", err), slog.Int64("credential_id", selected.ID))
	}

	// Step 12: relay.
	relay(c, resp)
	return resp.StatusCode, nil
}

// selectCredential implements step 8's three-way pool decision.
func (p *Pipeline) selectCredential(ctx context.Context, material, fingerprint string) (credential.Record, error) {
	stored, err := p.credStore.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return credential.NewTransient(material), nil
		}
		return credential.Record{}, err
	}

	stored.Material = material
	if stored.Blocked(time.Now().UTC()) {
		return *stored, nil
	}

	available, err := p.cache.AvailableSnapshot(ctx)
	if err != nil {
		return credential.Record{}, err
	}
	if len(available) == 0 {
		return credential.Record{}, apperrors.ErrPoolEmpty
	}

	statsByID, err := p.cache.StatsSnapshot(ctx)
	if err != nil {
		return credential.Record{}, err
	}

	return p.selector.Select(available, statsByID, fingerprint)
}

// serveCacheable implements §4.9: no auth rewriting, no load balancing, no
// lifecycle feedback.
func (p *Pipeline) serveCacheable(c *gin.Context, cp provider.CacheablePath) (int, error) {
	ctx := c.Request.Context()
	key := readcache.Key(c.Request.Method, c.Request.URL.String())

	if entry, ok := p.readCache.Get(key); ok {
		for k, v := range entry.Header {
			c.Writer.Header()[k] = v
		}
		c.Data(entry.StatusCode, entry.Header.Get("Content-Type"), entry.Body)
		return entry.StatusCode, nil
	}

	resp, err := p.forwarder.Forward(ctx, p.provider, "", false, forwarder.Request{
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Query:  c.Request.URL.Query(),
		Header: c.Request.Header,
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrUpstreamTimeout) {
			return 0, apperrors.ErrUpstreamTimeoutCacheable
		}
		return 0, err
	}

	if resp.StatusCode == http.StatusOK {
		p.readCache.Set(key, readcache.Entry{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       resp.Body,
		}, time.Duration(cp.TTLSeconds)*time.Second)
	}

	relay(c, resp)
	return resp.StatusCode, nil
}

func relay(c *gin.Context, resp *forwarder.Response) {
	for k, v := range resp.Header {
		c.Writer.Header()[k] = v
	}
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), resp.Body)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// clientIP resolves the caller's address per §4.8 step 7: leftmost
// X-Forwarded-For, then X-Real-IP, then the socket address.
func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

// matchCacheablePath returns the first configured cacheable-path pattern
// matching path. A pattern matches if it equals path exactly or path has it
// as a prefix ending on a path boundary.
func matchCacheablePath(p provider.Provider, path string) (provider.CacheablePath, bool) {
	for _, cp := range p.CacheablePaths {
		if cp.Pattern == path {
			return cp, true
		}
		if strings.HasPrefix(path, strings.TrimSuffix(cp.Pattern, "/")+"/") {
			return cp, true
		}
	}
	return provider.CacheablePath{}, false
}

// hostMatchesProvider reports whether host (as received in a trusted
// proxy-host header, possibly with a port) matches the host component of
// the configured provider's base_url.
func hostMatchesProvider(host, baseURL string) bool {
	providerHost := extractHost(baseURL)
	return strings.EqualFold(extractHost(host), providerHost)
}

func extractHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, "://"); idx != -1 {
		raw = raw[idx+3:]
	}
	if idx := strings.IndexAny(raw, "/?#"); idx != -1 {
		raw = raw[:idx]
	}
	if h, _, err := net.SplitHostPort(raw); err == nil {
		return h
	}
	return raw
}
