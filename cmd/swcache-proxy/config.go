package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/buddhatalk/swcache/pkg/logging"
	"github.com/buddhatalk/swcache/pkg/registration"
	"github.com/buddhatalk/swcache/pkg/worker"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SWCACHE_"

// Storage backends.
const (
	storageMemory = "memory"
	storageRedis  = "redis"
	storageSQLite = "sqlite"
)

// proxyConfig is read from SWCACHE_* environment variables.
type proxyConfig struct {
	Origin string `env:"ORIGIN,required"`
	Port   string `env:"PORT" envDefault:"8080"`

	Storage     string `env:"STORAGE" envDefault:"memory"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPrefix string `env:"REDIS_PREFIX"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"swcache.db"`

	CachePrefix  string `env:"CACHE_PREFIX" envDefault:"buddha-talk"`
	Version      string `env:"VERSION" envDefault:"1.0.0"`
	RuntimeCache string `env:"RUNTIME_CACHE" envDefault:"buddha-talk-runtime"`
	APIPrefix    string `env:"API_PREFIX" envDefault:"/api/"`
	ManifestFile string `env:"MANIFEST_FILE"`

	PrecacheConcurrency int           `env:"PRECACHE_CONCURRENCY" envDefault:"4"`
	PrecacheTimeout     time.Duration `env:"PRECACHE_TIMEOUT" envDefault:"10s"`
	InstallAttempts     int           `env:"INSTALL_ATTEMPTS" envDefault:"3"`
	InstallBackoff      time.Duration `env:"INSTALL_BACKOFF" envDefault:"1s"`

	// MeditationRefresh dispatches a "daily-meditation" periodic sync at this
	// interval; 0 disables it.
	MeditationRefresh time.Duration `env:"MEDITATION_REFRESH" envDefault:"0s"`

	LogLevel  logging.LogLevel `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool             `env:"LOG_PRETTY" envDefault:"false"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// loadConfig parses environ, or the process environment when environ is nil.
func loadConfig(environ map[string]string) (proxyConfig, error) {
	var cfg proxyConfig
	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return proxyConfig{}, fmt.Errorf("parse env: %w", err)
	}

	switch cfg.Storage {
	case storageMemory, storageRedis, storageSQLite:
	default:
		return proxyConfig{}, fmt.Errorf("unknown storage %q (want memory, redis or sqlite)", cfg.Storage)
	}
	if cfg.InstallAttempts < 1 {
		return proxyConfig{}, fmt.Errorf("install attempts must be >= 1 (got %d)", cfg.InstallAttempts)
	}
	if cfg.MeditationRefresh < 0 {
		return proxyConfig{}, fmt.Errorf("meditation refresh must be >= 0 (got %s)", cfg.MeditationRefresh)
	}
	return cfg, nil
}

// manifestFile is the optional YAML file that pins the version and the
// pre-cached assets. Bumping its version and calling POST /_sw/update
// rolls out a new static store.
type manifestFile struct {
	Version string   `yaml:"version"`
	Assets  []string `yaml:"assets"`
}

func readManifest(path string) (*manifestFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifestFile
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.Version = strings.TrimSpace(m.Version)
	return &m, nil
}

// workerConfig builds the worker configuration, applying the manifest file
// when one is configured. It is re-read on every call.
func (c proxyConfig) workerConfig() (worker.Config, error) {
	wc := worker.DefaultConfig(c.Origin)
	wc.CachePrefix = c.CachePrefix
	wc.Version = c.Version
	wc.RuntimeCache = c.RuntimeCache
	wc.APIPrefix = c.APIPrefix
	wc.PrecacheConcurrency = c.PrecacheConcurrency
	wc.PrecacheTimeout = c.PrecacheTimeout

	if c.ManifestFile != "" {
		m, err := readManifest(c.ManifestFile)
		if err != nil {
			return worker.Config{}, err
		}
		if m.Version != "" {
			wc.Version = m.Version
		}
		if len(m.Assets) > 0 {
			wc.Manifest = m.Assets
		}
	}
	return wc, nil
}

func (c proxyConfig) retryConfig() registration.RetryConfig {
	rc := registration.DefaultRetryConfig()
	rc.MaxAttempts = c.InstallAttempts
	rc.InitialBackoff = c.InstallBackoff
	return rc
}
