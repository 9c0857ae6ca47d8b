package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/buddhatalk/swcache/internal/testutil"
	"github.com/buddhatalk/swcache/pkg/cache"
	"github.com/buddhatalk/swcache/pkg/logging"
	"github.com/buddhatalk/swcache/pkg/registration"
	"github.com/buddhatalk/swcache/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	(&server{}).handleHealth(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		environ     map[string]string
		expectError bool
		check       func(t *testing.T, cfg proxyConfig)
	}{
		{
			name:        "missing origin",
			environ:     map[string]string{},
			expectError: true,
		},
		{
			name:    "defaults",
			environ: map[string]string{"SWCACHE_ORIGIN": "http://localhost:5000"},
			check: func(t *testing.T, cfg proxyConfig) {
				assert.Equal(t, "8080", cfg.Port)
				assert.Equal(t, storageMemory, cfg.Storage)
				assert.Equal(t, worker.DefaultCachePrefix, cfg.CachePrefix)
				assert.Equal(t, worker.DefaultVersion, cfg.Version)
				assert.Equal(t, worker.DefaultRuntimeCache, cfg.RuntimeCache)
				assert.Equal(t, worker.DefaultAPIPrefix, cfg.APIPrefix)
				assert.Equal(t, 3, cfg.InstallAttempts)
				assert.Equal(t, logging.LevelInfo, cfg.LogLevel)
				assert.Zero(t, cfg.MeditationRefresh)
			},
		},
		{
			name: "overrides",
			environ: map[string]string{
				"SWCACHE_ORIGIN":             "http://localhost:5000",
				"SWCACHE_STORAGE":            "sqlite",
				"SWCACHE_SQLITE_PATH":        "/tmp/sw.db",
				"SWCACHE_VERSION":            "2.0.0",
				"SWCACHE_LOG_LEVEL":          "DEBUG",
				"SWCACHE_PRECACHE_TIMEOUT":   "3s",
				"SWCACHE_MEDITATION_REFRESH": "24h",
			},
			check: func(t *testing.T, cfg proxyConfig) {
				assert.Equal(t, storageSQLite, cfg.Storage)
				assert.Equal(t, "/tmp/sw.db", cfg.SQLitePath)
				assert.Equal(t, "2.0.0", cfg.Version)
				assert.Equal(t, logging.LevelDebug, cfg.LogLevel)
				assert.Equal(t, 3*time.Second, cfg.PrecacheTimeout)
				assert.Equal(t, 24*time.Hour, cfg.MeditationRefresh)
			},
		},
		{
			name: "unknown storage",
			environ: map[string]string{
				"SWCACHE_ORIGIN":  "http://localhost:5000",
				"SWCACHE_STORAGE": "etcd",
			},
			expectError: true,
		},
		{
			name: "unknown log level",
			environ: map[string]string{
				"SWCACHE_ORIGIN":    "http://localhost:5000",
				"SWCACHE_LOG_LEVEL": "loud",
			},
			expectError: true,
		},
		{
			name: "no install attempts",
			environ: map[string]string{
				"SWCACHE_ORIGIN":           "http://localhost:5000",
				"SWCACHE_INSTALL_ATTEMPTS": "0",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(tt.environ)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func writeManifest(t *testing.T, path, version string, assets ...string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("version: \"" + version + "\"\n")
	if len(assets) > 0 {
		b.WriteString("assets:\n")
		for _, a := range assets {
			b.WriteString("  - " + a + "\n")
		}
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func TestWorkerConfig_ManifestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	writeManifest(t, path, "1.2.0", "/", "/static/css/style.css")

	cfg, err := loadConfig(map[string]string{
		"SWCACHE_ORIGIN":        "http://localhost:5000",
		"SWCACHE_MANIFEST_FILE": path,
	})
	require.NoError(t, err)

	wc, err := cfg.workerConfig()
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", wc.Version)
	assert.Equal(t, []string{"/", "/static/css/style.css"}, wc.Manifest)
	assert.Equal(t, "buddha-talk-v1.2.0", wc.StaticCacheName())

	t.Run("missing file", func(t *testing.T) {
		cfg.ManifestFile = filepath.Join(t.TempDir(), "nope.yaml")
		_, err := cfg.workerConfig()
		assert.Error(t, err)
	})

	t.Run("version only keeps default assets", func(t *testing.T) {
		writeManifest(t, path, "1.3.0")
		cfg.ManifestFile = path
		wc, err := cfg.workerConfig()
		require.NoError(t, err)
		assert.Equal(t, "1.3.0", wc.Version)
		assert.Equal(t, worker.DefaultManifest, wc.Manifest)
	})
}

// newTestProxy starts a proxy in front of a mock origin.
func newTestProxy(t *testing.T, environ map[string]string) (*server, *httptest.Server, *testutil.MockOrigin) {
	t.Helper()
	origin := testutil.NewMockOrigin()
	t.Cleanup(origin.Close)

	if environ == nil {
		environ = map[string]string{}
	}
	environ["SWCACHE_ORIGIN"] = origin.URL()
	environ["SWCACHE_INSTALL_ATTEMPTS"] = "1"
	cfg, err := loadConfig(environ)
	require.NoError(t, err)

	srv, err := newServer(cfg, cache.NewMemoryStorage(), registration.NewMemoryStateStore(), origin.Transport())
	require.NoError(t, err)
	require.NoError(t, srv.start(context.Background()))
	t.Cleanup(func() { _ = srv.shutdown(context.Background()) })

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, ts, origin
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Post(url, "application/octet-stream", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestServer_ServesThroughWorker(t *testing.T) {
	_, ts, origin := newTestProxy(t, nil)

	var state registration.State
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/_sw/registration", &state))
	assert.Equal(t, registration.PhaseActivated, state.Phase)
	assert.Equal(t, worker.DefaultVersion, state.ActiveVersion)

	before := origin.PathCount("/static/js/app.js")
	resp, err := http.Get(ts.URL + "/static/js/app.js")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "class BuddhaChat {}", string(body))
	assert.Equal(t, "swcache; hit", resp.Header.Get(worker.CacheStatusHeader))
	assert.Equal(t, before, origin.PathCount("/static/js/app.js"), "pre-cached asset must not hit the origin")

	resp, err = http.Get(ts.URL + "/api/meditation/daily")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "swcache; fwd=request; stored", resp.Header.Get(worker.CacheStatusHeader))

	origin.SetOffline(true)
	resp, err = http.Get(ts.URL + "/api/meditation/daily")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "swcache; hit; detail=stale", resp.Header.Get(worker.CacheStatusHeader))

	resp, err = http.Get(ts.URL + "/api/session/summary")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServer_Caches(t *testing.T) {
	_, ts, _ := newTestProxy(t, nil)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()

	var caches []cacheInfo
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/_sw/caches", &caches))
	assert.Equal(t, []cacheInfo{
		{Name: worker.DefaultRuntimeCache, Entries: 1},
		{Name: "buddha-talk-v1.0.0", Entries: len(worker.DefaultManifest)},
	}, caches)
}

func TestServer_Events(t *testing.T) {
	_, ts, origin := newTestProxy(t, nil)

	var res eventResult
	status := postJSON(t, ts.URL+"/_sw/events/periodicsync?tag=daily-meditation", &res)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, res.ID)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, origin.PathCount("/api/meditation/daily"))

	status = postJSON(t, ts.URL+"/_sw/events/push", &res)
	assert.Equal(t, http.StatusOK, status)

	var errBody map[string]string
	status = postJSON(t, ts.URL+"/_sw/events/install", &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, errBody["error"], "install")
}

func TestServer_UpdateRollsOutNewVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	writeManifest(t, path, "1.0.0")

	srv, ts, _ := newTestProxy(t, map[string]string{"SWCACHE_MANIFEST_FILE": path})
	first := srv.current.Load()

	writeManifest(t, path, "1.1.0", "/", "/static/css/style.css")

	var state registration.State
	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/_sw/update", &state))
	assert.Equal(t, "1.1.0", state.ActiveVersion)
	assert.Equal(t, registration.PhaseActivated, state.Phase)
	assert.NotSame(t, first, srv.current.Load())

	var caches []cacheInfo
	getJSON(t, ts.URL+"/_sw/caches", &caches)
	assert.Equal(t, []cacheInfo{{Name: "buddha-talk-v1.1.0", Entries: 2}}, caches)

	resp, err := http.Get(ts.URL + "/static/css/style.css")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "swcache; hit", resp.Header.Get(worker.CacheStatusHeader))
}

func TestServer_UpdateRetiresReplacedWorker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	writeManifest(t, path, "1.0.0")

	srv, ts, origin := newTestProxy(t, map[string]string{"SWCACHE_MANIFEST_FILE": path})
	first := srv.current.Load()

	writeManifest(t, path, "1.1.0", "/", "/static/css/style.css")
	var state registration.State
	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/_sw/update", &state))

	assert.True(t, first.Redundant())
	assert.False(t, first.Controlling())

	// a request that still holds the replaced worker reaches the origin
	// without touching any store
	req, err := http.NewRequest(http.MethodGet, origin.URL()+"/static/js/late.js", nil)
	require.NoError(t, err)
	assert.Equal(t, worker.StrategyPassthrough, first.Route(req))
	if resp, err := first.Fetch(req); err == nil {
		resp.Body.Close()
	} else {
		assert.ErrorIs(t, err, worker.ErrClosed)
	}

	var caches []cacheInfo
	getJSON(t, ts.URL+"/_sw/caches", &caches)
	assert.Equal(t, []cacheInfo{{Name: "buddha-talk-v1.1.0", Entries: 2}}, caches)
}

func TestServer_FailedUpdateKeepsActiveVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	writeManifest(t, path, "1.0.0")

	srv, ts, origin := newTestProxy(t, map[string]string{"SWCACHE_MANIFEST_FILE": path})
	first := srv.current.Load()

	writeManifest(t, path, "1.1.0", "/", "/static/css/style.css")
	origin.FailPath("/static/css/style.css")

	var state registration.State
	require.Equal(t, http.StatusBadGateway, postJSON(t, ts.URL+"/_sw/update", &state))
	assert.Equal(t, registration.PhaseRedundant, state.Phase)
	assert.Equal(t, "1.0.0", state.ActiveVersion)
	assert.NotEmpty(t, state.LastError)
	assert.Same(t, first, srv.current.Load())

	origin.Reset()
	resp, err := http.Get(ts.URL + "/static/js/app.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "swcache; hit", resp.Header.Get(worker.CacheStatusHeader))
}

func TestServer_StartsInPassThroughWhenRegistrationFails(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.FailPath("/static/manifest.json")

	cfg, err := loadConfig(map[string]string{
		"SWCACHE_ORIGIN":           origin.URL(),
		"SWCACHE_INSTALL_ATTEMPTS": "1",
	})
	require.NoError(t, err)

	srv, err := newServer(cfg, cache.NewMemoryStorage(), registration.NewMemoryStateStore(), origin.Transport())
	require.NoError(t, err)
	require.NoError(t, srv.start(context.Background()))
	defer srv.shutdown(context.Background())

	assert.False(t, srv.current.Load().Controlling())

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/js/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(worker.CacheStatusHeader))
}

func TestServer_RefreshLoop(t *testing.T) {
	srv, _, origin := newTestProxy(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.refreshLoop(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return origin.PathCount("/api/meditation/daily") >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh loop did not stop")
	}
}

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		storage, states, err := openStorage(ctx, proxyConfig{Storage: storageMemory})
		require.NoError(t, err)
		defer storage.Close()
		assert.IsType(t, &cache.MemoryStorage{}, storage)
		assert.IsType(t, &registration.MemoryStateStore{}, states)
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "swcache.db")
		storage, _, err := openStorage(ctx, proxyConfig{Storage: storageSQLite, SQLitePath: path})
		require.NoError(t, err)
		defer storage.Close()
		assert.IsType(t, &cache.SQLiteStorage{}, storage)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		_, _, err := openStorage(ctx, proxyConfig{Storage: storageRedis, RedisAddr: "127.0.0.1:1"})
		assert.Error(t, err)
	})
}
