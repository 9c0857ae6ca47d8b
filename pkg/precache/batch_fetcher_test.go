package precache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buddhatalk/swcache/pkg/cache"
	"github.com/buddhatalk/swcache/pkg/logging"
)

func okEntry(path string) *cache.Entry {
	return &cache.Entry{URL: path, StatusCode: 200, Data: []byte("asset " + path)}
}

func TestBatchFetcher_FetchAll_Order(t *testing.T) {
	paths := []string{"/", "/static/css/style.css", "/static/js/app.js", "/static/js/music-player.js", "/static/manifest.json"}

	fetcher := AssetFetcherFunc(func(ctx context.Context, path string) (*cache.Entry, error) {
		// vary completion order
		time.Sleep(time.Duration(len(path)%3) * time.Millisecond)
		return okEntry(path), nil
	})

	assets, err := NewBatchFetcher(fetcher, DefaultConfig()).FetchAll(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, assets, len(paths))
	for i, asset := range assets {
		assert.Equal(t, paths[i], asset.Path)
		assert.Equal(t, "asset "+paths[i], string(asset.Entry.Data))
	}
}

func TestBatchFetcher_FetchAll_FailsOnFirstError(t *testing.T) {
	failure := errors.New("connection refused")
	fetcher := AssetFetcherFunc(func(ctx context.Context, path string) (*cache.Entry, error) {
		if path == "/static/css/style.css" {
			return nil, failure
		}
		return okEntry(path), nil
	})

	assets, err := NewBatchFetcher(fetcher, DefaultConfig()).FetchAll(context.Background(), []string{"/", "/static/css/style.css"})
	require.Error(t, err)
	assert.Nil(t, assets)

	var assetErr *AssetError
	require.ErrorAs(t, err, &assetErr)
	assert.Equal(t, "/static/css/style.css", assetErr.Path)
	assert.ErrorIs(t, err, failure)
}

func TestBatchFetcher_FetchAll_NilEntry(t *testing.T) {
	fetcher := AssetFetcherFunc(func(ctx context.Context, path string) (*cache.Entry, error) {
		return nil, nil
	})

	_, err := NewBatchFetcher(fetcher, DefaultConfig()).FetchAll(context.Background(), []string{"/"})
	require.Error(t, err)
}

func TestBatchFetcher_RespectsConcurrencyLimit(t *testing.T) {
	var (
		current int32
		peak    int32
		mu      sync.Mutex
	)
	fetcher := AssetFetcherFunc(func(ctx context.Context, path string) (*cache.Entry, error) {
		n := atomic.AddInt32(&current, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return okEntry(path), nil
	})

	paths := make([]string, 12)
	for i := range paths {
		paths[i] = "/asset/" + string(rune('a'+i))
	}

	_, err := NewBatchFetcher(fetcher, Config{MaxConcurrency: 2}).FetchAll(context.Background(), paths)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak, int32(2))
}

func TestBatchFetcher_PerAssetTimeout(t *testing.T) {
	fetcher := AssetFetcherFunc(func(ctx context.Context, path string) (*cache.Entry, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := NewBatchFetcher(fetcher, Config{MaxConcurrency: 1, Timeout: 20 * time.Millisecond}).
		FetchAll(context.Background(), []string{"/slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBatchFetcher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	fetcher := AssetFetcherFunc(func(ctx context.Context, path string) (*cache.Entry, error) {
		atomic.AddInt32(&calls, 1)
		return okEntry(path), nil
	})

	_, err := NewBatchFetcher(fetcher, DefaultConfig()).FetchAll(ctx, []string{"/", "/a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestNewBatchFetcher_Defaults(t *testing.T) {
	bf := NewBatchFetcher(nil, Config{})
	assert.Equal(t, 4, bf.config.MaxConcurrency)
}

func TestBatchFetcher_LogsWithComponent(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	logging.Setup(logging.Config{Level: logging.LevelDebug, Output: &buf})

	failure := errors.New("connection refused")
	fetcher := AssetFetcherFunc(func(ctx context.Context, path string) (*cache.Entry, error) {
		if path == "/broken.js" {
			return nil, failure
		}
		return okEntry(path), nil
	})

	_, err := NewBatchFetcher(fetcher, Config{MaxConcurrency: 1}).FetchAll(context.Background(), []string{"/", "/broken.js"})
	require.ErrorIs(t, err, failure)

	_, err = NewBatchFetcher(fetcher, DefaultConfig()).FetchAll(context.Background(), []string{"/"})
	require.NoError(t, err)

	var messages []string
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var line map[string]any
		require.NoError(t, dec.Decode(&line))
		assert.Equal(t, logging.ComponentPrecache, line["component"], "line %v", line)
		messages = append(messages, line["message"].(string))
	}
	assert.Contains(t, messages, "Asset fetch failed")
	assert.Contains(t, messages, "Manifest fetch complete")
}
