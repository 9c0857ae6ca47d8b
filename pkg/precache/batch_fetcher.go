package precache

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/buddhatalk/swcache/pkg/cache"
	"github.com/buddhatalk/swcache/pkg/logging"
)

var (
	precacheFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swcache_precache_fetches_total",
		Help: "Total manifest asset fetches by result",
	}, []string{"result"})

	precacheBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "swcache_precache_batch_duration_seconds",
		Help:    "Duration of a full manifest fetch",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel fetches
	MaxConcurrency int
	// Timeout per asset fetch (0 disables it)
	Timeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
	}
}

// AssetFetcher fetches a single manifest path.
// Implementations return an error for transport failures and for
// responses that must not be cached (non-2xx).
type AssetFetcher interface {
	FetchAsset(ctx context.Context, path string) (*cache.Entry, error)
}

// AssetFetcherFunc adapts a function to AssetFetcher.
type AssetFetcherFunc func(ctx context.Context, path string) (*cache.Entry, error)

// FetchAsset calls f.
func (f AssetFetcherFunc) FetchAsset(ctx context.Context, path string) (*cache.Entry, error) {
	return f(ctx, path)
}

// Asset is a fetched manifest path.
type Asset struct {
	Path  string
	Entry *cache.Entry
}

// AssetError reports which manifest path failed.
type AssetError struct {
	Path string
	Err  error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Path, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// BatchFetcher fetches a manifest with bounded parallelism.
type BatchFetcher struct {
	fetcher AssetFetcher
	config  Config
	logger  zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher AssetFetcher, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
		logger:  logging.NewLogger(logging.ComponentPrecache),
	}
}

// FetchAll fetches every path and returns the assets in the order given.
// On failure it returns an *AssetError for the first failing path and no assets.
func (bf *BatchFetcher) FetchAll(ctx context.Context, paths []string) ([]Asset, error) {
	start := time.Now()
	defer func() {
		precacheBatchDuration.Observe(time.Since(start).Seconds())
	}()

	assets := make([]Asset, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bf.config.MaxConcurrency)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			// a sibling may already have failed
			if err := gctx.Err(); err != nil {
				return &AssetError{Path: path, Err: err}
			}

			fetchCtx := gctx
			if bf.config.Timeout > 0 {
				var cancel context.CancelFunc
				fetchCtx, cancel = context.WithTimeout(gctx, bf.config.Timeout)
				defer cancel()
			}

			entry, err := bf.fetcher.FetchAsset(fetchCtx, path)
			if err != nil {
				precacheFetchesTotal.WithLabelValues("error").Inc()
				bf.logger.Warn().
					Err(err).
					Str("path", path).
					Msg("Asset fetch failed")
				return &AssetError{Path: path, Err: err}
			}
			if entry == nil {
				precacheFetchesTotal.WithLabelValues("error").Inc()
				return &AssetError{Path: path, Err: fmt.Errorf("fetcher returned no entry")}
			}

			precacheFetchesTotal.WithLabelValues("ok").Inc()
			assets[i] = Asset{Path: path, Entry: entry}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	bf.logger.Debug().
		Int("assets", len(assets)).
		Dur("duration", time.Since(start)).
		Msg("Manifest fetch complete")

	return assets, nil
}
