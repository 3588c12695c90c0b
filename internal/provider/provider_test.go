package provider

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProvidersFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeProvidersFile(t, `
providers:
  - name: acme
    base_url: https://api.acme.test
    auth_header: Authorization
    timeout_ms: 5000
    validation:
      - type: body-json
        key: model
        regexp: "^gpt-"
    cacheable_paths:
      - pattern: /v1/models
        ttl_seconds: 60
`)

	reg, err := Load(path)
	require.NoError(t, err)

	p, ok := reg.Get("acme")
	require.True(t, ok)
	assert.Equal(t, "https://api.acme.test", p.BaseURL)
	assert.Equal(t, 5*time.Second, p.Timeout())
	assert.Equal(t, "Authorization", p.AuthHeaderName())
	require.Len(t, p.Validation, 1)
	assert.Equal(t, "model", p.Validation[0].Key)
	require.Len(t, p.CacheablePaths, 1)
	assert.Equal(t, 60, p.CacheablePaths[0].TTLSeconds)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestProviderDefaults(t *testing.T) {
	p := Provider{}
	assert.Equal(t, 60*time.Second, p.Timeout())
	assert.Equal(t, "Authorization", p.AuthHeaderName())
}

func TestLoad_RejectsMissingBaseURL(t *testing.T) {
	path := writeProvidersFile(t, `
providers:
  - name: acme
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/providers.yaml")
	assert.Error(t, err)
}
