package forwarder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/portablestew/key-commune/internal/errors"
	"github.com/portablestew/key-commune/internal/provider"
)

func TestForward_RewritesAuthHeaderAndRelaysResponse(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Empty(t, r.Header.Get("X-Api-Key"), "presented auth headers are stripped")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	p := provider.Provider{BaseURL: srv.URL, TimeoutMS: 5000}
	f := New()

	req := Request{
		Method: http.MethodPost,
		Path:   "/v1/chat",
		Header: http.Header{"X-Api-Key": {"presented-key"}},
		Body:   []byte(`{"model":"gpt-4"}`),
	}

	resp, err := f.Forward(context.Background(), p, "pool-material", true, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer pool-material", gotAuth)
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestForward_NoAuthRewriteForCacheablePath(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := provider.Provider{BaseURL: srv.URL, TimeoutMS: 5000}
	f := New()

	req := Request{
		Method: http.MethodGet,
		Path:   "/v1/models",
		Header: http.Header{"Authorization": {"Bearer caller-key"}},
	}

	_, err := f.Forward(context.Background(), p, "", false, req)
	require.NoError(t, err)
	assert.Equal(t, "Bearer caller-key", gotAuth, "caller's own Authorization is preserved when auth rewrite is disabled")
}

func TestForward_TimeoutSurfacesAsUpstreamTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := provider.Provider{BaseURL: srv.URL, TimeoutMS: 1}
	f := New()

	_, err := f.Forward(context.Background(), p, "material", true, Request{Method: http.MethodGet, Path: "/"})
	assert.ErrorIs(t, err, apperrors.ErrUpstreamTimeout)
}

func TestForward_UnreachableSurfacesAsUpstreamUnreachable(t *testing.T) {
	p := provider.Provider{BaseURL: "http://127.0.0.1:1", TimeoutMS: 2000}
	f := New()

	_, err := f.Forward(context.Background(), p, "material", true, Request{Method: http.MethodGet, Path: "/"})
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnreachable)
}

func TestJoinURL_PreservesQuery(t *testing.T) {
	got, err := joinURL("https://api.example.com/base", "/v1/models", url.Values{"limit": {"10"}})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/models?limit=10", got)
}

func TestSanitizeHeaders_StripsHopByHopAndAuth(t *testing.T) {
	in := http.Header{
		"Connection":    {"keep-alive"},
		"Authorization": {"Bearer x"},
		"Content-Type":  {"application/json"},
	}
	out := sanitizeHeaders(in)
	assert.Empty(t, out.Get("Connection"))
	assert.Empty(t, out.Get("Authorization"))
	assert.Equal(t, "application/json", out.Get("Content-Type"))
}

func TestExtractCredential(t *testing.T) {
	v, ok := ExtractCredential("Bearer sk-abc")
	assert.True(t, ok)
	assert.Equal(t, "sk-abc", v)

	v, ok = ExtractCredential("sk-raw")
	assert.True(t, ok)
	assert.Equal(t, "sk-raw", v)

	_, ok = ExtractCredential("")
	assert.False(t, ok)
}

func TestDecodeJSON(t *testing.T) {
	v, ok := DecodeJSON([]byte(`{"a":1}`))
	assert.True(t, ok)
	assert.NotNil(t, v)

	_, ok = DecodeJSON([]byte(`not json`))
	assert.False(t, ok)

	_, ok = DecodeJSON(nil)
	assert.False(t, ok)
}
