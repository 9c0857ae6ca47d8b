package registration

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buddhatalk/swcache/internal/testutil"
	"github.com/buddhatalk/swcache/pkg/cache"
	"github.com/buddhatalk/swcache/pkg/worker"
)

// fakeWorker fails the first failInstalls installs.
type fakeWorker struct {
	version      string
	failInstalls int32
	activateErr  error
	installs     atomic.Int32
	activations  atomic.Int32
}

func (f *fakeWorker) Install(ctx context.Context) error {
	n := f.installs.Add(1)
	if n <= f.failInstalls {
		return &worker.InstallError{Version: f.version, Path: "/static/css/style.css", Err: errors.New("connection refused")}
	}
	return nil
}

func (f *fakeWorker) Activate(ctx context.Context) error {
	f.activations.Add(1)
	return f.activateErr
}

func (f *fakeWorker) Config() worker.Config {
	cfg := worker.DefaultConfig("https://buddha.test")
	cfg.Version = f.version
	return cfg
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestRegister_Success(t *testing.T) {
	store := NewMemoryStateStore()
	r := NewRegistrar(store, fastRetry(3))
	w := &fakeWorker{version: "1.0.0"}

	state, err := r.Register(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, PhaseActivated, state.Phase)
	assert.Equal(t, "1.0.0", state.ActiveVersion)
	assert.Empty(t, state.WaitingVersion)
	assert.Equal(t, 1, state.InstallAttempts)
	assert.True(t, state.Controlling())
	assert.False(t, state.Pending())

	stored, err := r.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.ActiveVersion, stored.ActiveVersion)
	assert.Equal(t, PhaseActivated, stored.Phase)
	assert.False(t, stored.LastUpdate.IsZero())
}

func TestRegister_RetriesInstall(t *testing.T) {
	r := NewRegistrar(NewMemoryStateStore(), fastRetry(3))
	w := &fakeWorker{version: "1.0.0", failInstalls: 2}

	state, err := r.Register(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, int32(3), w.installs.Load())
	assert.Equal(t, 3, state.InstallAttempts)
	assert.Equal(t, PhaseActivated, state.Phase)
}

func TestRegister_ExhaustedKeepsActiveVersion(t *testing.T) {
	store := NewMemoryStateStore()
	r := NewRegistrar(store, fastRetry(3))

	_, err := r.Register(context.Background(), &fakeWorker{version: "1.0.0"})
	require.NoError(t, err)

	w := &fakeWorker{version: "1.1.0", failInstalls: 10}
	state, err := r.Register(context.Background(), w)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.ErrorIs(t, err, worker.ErrInstallFailed)

	var installErr *worker.InstallError
	require.ErrorAs(t, err, &installErr)
	assert.Equal(t, "1.1.0", installErr.Version)

	assert.Equal(t, int32(3), w.installs.Load())
	assert.Zero(t, w.activations.Load(), "a failed install is never activated")

	assert.Equal(t, PhaseRedundant, state.Phase)
	assert.Equal(t, "1.0.0", state.ActiveVersion)
	assert.Empty(t, state.WaitingVersion)
	assert.Equal(t, 3, state.InstallAttempts)
	assert.Contains(t, state.LastError, "connection refused")
}

func TestRegister_ActivationFailure(t *testing.T) {
	r := NewRegistrar(NewMemoryStateStore(), fastRetry(1))
	w := &fakeWorker{version: "1.0.0", activateErr: errors.New("storage unavailable")}

	state, err := r.Register(context.Background(), w)
	require.Error(t, err)
	assert.Equal(t, PhaseRedundant, state.Phase)
	assert.Empty(t, state.ActiveVersion)
	assert.False(t, state.Controlling())
}

func TestRegister_CancelledDuringBackoff(t *testing.T) {
	r := NewRegistrar(NewMemoryStateStore(), RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Hour,
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2,
	})
	w := &fakeWorker{version: "1.0.0", failInstalls: 10}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Register(ctx, w)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContextCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), w.installs.Load())
}

func TestRegister_RealWorker(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()

	storage := cache.NewMemoryStorage()
	cfg := worker.DefaultConfig(origin.URL())
	cfg.Transport = origin.Transport()
	w, err := worker.New(storage, cfg)
	require.NoError(t, err)
	defer w.Shutdown(context.Background())

	// first attempt fails, the second one sees the asset again
	var calls atomic.Int32
	origin.SetHandler("/static/js/music-player.js", func(rw http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.Write([]byte("class MusicPlayer {}"))
	})

	r := NewRegistrar(NewMemoryStateStore(), fastRetry(3))
	state, err := r.Register(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 2, state.InstallAttempts)
	assert.True(t, w.Controlling())

	names, err := storage.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"buddha-talk-v1.0.0"}, names)
}

func TestRetryConfig_Defaults(t *testing.T) {
	config := DefaultRetryConfig()
	assert.Equal(t, 3, config.MaxAttempts)
	assert.Equal(t, 1*time.Second, config.InitialBackoff)
	assert.Equal(t, 30*time.Second, config.MaxBackoff)
	assert.Equal(t, 2.0, config.BackoffMultiplier)

	filled := RetryConfig{}.withDefaults()
	assert.Equal(t, 3, filled.MaxAttempts)
	assert.Equal(t, 30*time.Second, filled.MaxBackoff)
	assert.Equal(t, 2.0, filled.BackoffMultiplier)
}
