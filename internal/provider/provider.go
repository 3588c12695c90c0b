// Package provider loads and resolves the configured upstream API providers
// from a YAML file. Exactly one provider is selected per process via
// config.Config.ServerProvider.
package provider

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Rule is a single request-validation rule: a regular expression that a
// location in the request (a JSON body dot-path, the URL path, or a query
// parameter) must match.
type Rule struct {
	Type   string `yaml:"type"`   // "body-json" | "path" | "query"
	Key    string `yaml:"key"`    // dot-path for body-json, query param name for query, ignored for path
	Regexp string `yaml:"regexp"` // regular expression the located value must match
}

// CacheablePath pairs a path pattern with the TTL, in seconds, applied to
// cached responses for GETs matching it.
type CacheablePath struct {
	Pattern    string `yaml:"pattern"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// Provider is a single upstream API provider configuration.
type Provider struct {
	Name           string          `yaml:"name"`
	BaseURL        string          `yaml:"base_url"`
	AuthHeader     string          `yaml:"auth_header"`
	TimeoutMS      int             `yaml:"timeout_ms"`
	Validation     []Rule          `yaml:"validation"`
	CacheablePaths []CacheablePath `yaml:"cacheable_paths"`
}

// Timeout returns the configured per-request timeout, defaulting to 60s.
func (p Provider) Timeout() time.Duration {
	if p.TimeoutMS <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// AuthHeaderName returns the header used to carry the rewritten credential,
// defaulting to "Authorization".
func (p Provider) AuthHeaderName() string {
	if p.AuthHeader == "" {
		return "Authorization"
	}
	return p.AuthHeader
}

// file is the top-level shape of the providers YAML document.
type file struct {
	Providers []Provider `yaml:"providers"`
}

// Registry resolves provider configuration by name.
type Registry struct {
	byName map[string]Provider
}

// Load reads and parses the providers YAML file at path.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers config: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse providers config: %w", err)
	}

	byName := make(map[string]Provider, len(f.Providers))
	for _, p := range f.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider entry missing name")
		}
		if p.BaseURL == "" {
			return nil, fmt.Errorf("provider %q missing base_url", p.Name)
		}
		byName[p.Name] = p
	}

	return &Registry{byName: byName}, nil
}

// Get returns the provider configured under name, or false if none matches.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}
