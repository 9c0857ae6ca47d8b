package registration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/buddhatalk/swcache/pkg/logging"
	"github.com/buddhatalk/swcache/pkg/worker"
)

var (
	installAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swcache_install_attempts_total",
		Help: "Total number of install attempts",
	})

	installFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swcache_install_failures_total",
		Help: "Total number of failed install attempts",
	})

	activationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swcache_activations_total",
		Help: "Total number of activations by result",
	}, []string{"result"})
)

// Worker is the part of a worker the registrar drives.
type Worker interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
	Config() worker.Config
}

// Registrar installs and activates worker versions and records every step
// in a state store, the way a browser manages a service worker registration.
type Registrar struct {
	store  StateStore
	retry  RetryConfig
	logger zerolog.Logger

	// serializes registrations within this process
	mu sync.Mutex
}

// NewRegistrar creates a registrar that records state in store.
func NewRegistrar(store StateStore, retry RetryConfig) *Registrar {
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &Registrar{
		store:  store,
		retry:  retry.withDefaults(),
		logger: logging.NewLogger(logging.ComponentRegistration),
	}
}

// State returns the current registration state.
func (r *Registrar) State(ctx context.Context) (*State, error) {
	return r.store.Load(ctx)
}

// Register installs w, retrying with backoff, and then activates it.
//
// The previously active version keeps serving until activation succeeds.
// When every install attempt fails the registration ends up redundant and
// the returned error wraps both ErrRetryExhausted and the install failure.
func (r *Registrar) Register(ctx context.Context, w Worker) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	version := w.Config().Version
	logger := r.logger.With().Str("version", version).Logger()

	state, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registration state: %w", err)
	}

	state.WaitingVersion = version
	state.InstallAttempts = 0
	state.LastError = ""
	if err := r.transition(ctx, state, PhaseInstalling); err != nil {
		return nil, err
	}

	logger.Info().
		Str("active_version", state.ActiveVersion).
		Msg("Registering worker")

	installErr := retryWithBackoff(ctx, r.retry, logger, func(attempt int) error {
		installAttemptsTotal.Inc()
		state.InstallAttempts = attempt
		if err := r.save(ctx, state); err != nil {
			logger.Warn().Err(err).Msg("Failed to record install attempt")
		}

		if err := w.Install(ctx); err != nil {
			installFailuresTotal.Inc()
			return err
		}
		return nil
	})
	if installErr != nil {
		return r.fail(ctx, state, installErr)
	}

	if err := r.transition(ctx, state, PhaseInstalled); err != nil {
		return nil, err
	}
	if err := r.transition(ctx, state, PhaseActivating); err != nil {
		return nil, err
	}

	if err := w.Activate(ctx); err != nil {
		activationsTotal.WithLabelValues("error").Inc()
		return r.fail(ctx, state, fmt.Errorf("activate: %w", err))
	}
	activationsTotal.WithLabelValues("ok").Inc()

	state.ActiveVersion = version
	state.WaitingVersion = ""
	if err := r.transition(ctx, state, PhaseActivated); err != nil {
		return nil, err
	}

	logger.Info().
		Int("attempts", state.InstallAttempts).
		Msg("Worker activated")

	return state, nil
}

// fail marks the newest worker redundant; the active version is kept.
func (r *Registrar) fail(ctx context.Context, state *State, cause error) (*State, error) {
	state.LastError = cause.Error()
	state.WaitingVersion = ""

	r.logger.Error().
		Err(cause).
		Str("active_version", state.ActiveVersion).
		Int("attempt", state.InstallAttempts).
		Msg("Registration failed")

	if err := r.transition(ctx, state, PhaseRedundant); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to record redundant state")
	}
	return state, cause
}

func (r *Registrar) transition(ctx context.Context, state *State, phase Phase) error {
	state.Phase = phase
	if err := r.save(ctx, state); err != nil {
		return fmt.Errorf("record %s state: %w", phase, err)
	}
	r.logger.Debug().
		Str("state", string(phase)).
		Str("version", state.WaitingVersion).
		Msg("Registration state updated")
	return nil
}

func (r *Registrar) save(ctx context.Context, state *State) error {
	state.LastUpdate = time.Now()
	return r.store.Save(ctx, state)
}
