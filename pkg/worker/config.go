package worker

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Default cache names and routing for the Buddha Talk app.
const (
	DefaultCachePrefix  = "buddha-talk"
	DefaultVersion      = "1.0.0"
	DefaultRuntimeCache = "buddha-talk-runtime"
	DefaultAPIPrefix    = "/api/"
)

// DefaultManifest lists the assets pre-cached at install.
// Fonts come from a third-party CDN and are not part of it.
var DefaultManifest = []string{
	"/",
	"/static/css/style.css",
	"/static/js/app.js",
	"/static/js/music-player.js",
	"/static/manifest.json",
}

// Config holds the worker configuration.
type Config struct {
	// Origin is the scheme and host the worker controls, e.g. "https://buddha.example".
	// Requests to any other origin are passed through.
	Origin string

	// CachePrefix and Version form the static store name: <prefix>-v<version>.
	// Bumping Version makes the previous static store unreachable;
	// it is deleted on the next activation.
	CachePrefix string
	Version     string

	// RuntimeCache is the unversioned store for API fallbacks.
	RuntimeCache string

	// APIPrefix routes matching paths to network-first.
	APIPrefix string

	// Manifest is the list of paths pre-cached at install.
	Manifest []string

	// PrecacheConcurrency bounds parallel manifest fetches.
	PrecacheConcurrency int

	// PrecacheTimeout limits each manifest fetch (0 = none).
	PrecacheTimeout time.Duration

	// Transport performs network fetches (default: http.DefaultTransport).
	Transport http.RoundTripper
}

// DefaultConfig returns the Buddha Talk defaults for origin.
func DefaultConfig(origin string) Config {
	manifest := make([]string, len(DefaultManifest))
	copy(manifest, DefaultManifest)

	return Config{
		Origin:              origin,
		CachePrefix:         DefaultCachePrefix,
		Version:             DefaultVersion,
		RuntimeCache:        DefaultRuntimeCache,
		APIPrefix:           DefaultAPIPrefix,
		Manifest:            manifest,
		PrecacheConcurrency: 4,
	}
}

// StaticCacheName returns the versioned static store name.
func (c Config) StaticCacheName() string {
	return c.CachePrefix + "-v" + c.Version
}

// validate checks the configuration and returns the parsed origin.
func (c Config) validate() (*url.URL, error) {
	if c.Origin == "" {
		return nil, fmt.Errorf("origin is required")
	}
	origin, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return nil, fmt.Errorf("origin must be http or https (got %q)", c.Origin)
	}
	if origin.Host == "" {
		return nil, fmt.Errorf("origin must include a host (got %q)", c.Origin)
	}
	if c.CachePrefix == "" || c.Version == "" {
		return nil, fmt.Errorf("cache prefix and version are required")
	}
	if c.RuntimeCache == "" {
		return nil, fmt.Errorf("runtime cache name is required")
	}
	if c.RuntimeCache == c.StaticCacheName() {
		return nil, fmt.Errorf("runtime cache name must differ from static cache name %q", c.RuntimeCache)
	}
	if !strings.HasPrefix(c.APIPrefix, "/") {
		return nil, fmt.Errorf("api prefix must start with / (got %q)", c.APIPrefix)
	}
	for _, path := range c.Manifest {
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("manifest path must be origin-relative (got %q)", path)
		}
	}
	return &url.URL{Scheme: origin.Scheme, Host: origin.Host}, nil
}
