// Command swcache-proxy serves a Buddha Talk origin through the offline
// caching worker: static assets cache-first, API calls network-first.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buddhatalk/swcache/pkg/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, nil); err != nil {
		log.Fatal().Err(err).Msg("swcache-proxy failed")
	}
}

// run serves until ctx is cancelled. environ replaces the process
// environment when non-nil.
func run(ctx context.Context, environ map[string]string) error {
	cfg, err := loadConfig(environ)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Pretty = cfg.LogPretty
	logging.Setup(logCfg)
	logger := logging.NewLogger(logging.ComponentProxy)

	storage, states, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	srv, err := newServer(cfg, storage, states, http.DefaultTransport)
	if err != nil {
		return err
	}
	if err := srv.start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	if cfg.MeditationRefresh > 0 {
		go srv.refreshLoop(ctx, cfg.MeditationRefresh)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", httpServer.Addr).
			Str("origin", cfg.Origin).
			Str("storage", cfg.Storage).
			Msg("Starting swcache proxy")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	logger.Info().Msg("Shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server did not drain")
	}
	if err := srv.shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown worker: %w", err)
	}
	return nil
}
