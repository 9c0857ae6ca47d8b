package worker

import (
	"errors"
	"fmt"
)

// Common errors returned by the worker.
var (
	// ErrNetwork marks a failed network fetch that no cached entry could answer.
	ErrNetwork = errors.New("network error")

	// ErrInstallFailed marks a failed install; nothing from the attempt is stored.
	ErrInstallFailed = errors.New("install failed")

	// ErrNotInstalled is returned when activation is requested before a successful install.
	ErrNotInstalled = errors.New("worker not installed")

	// ErrRedundant is returned when a retired worker is asked to activate.
	ErrRedundant = errors.New("worker is redundant")

	// ErrClosed is returned for events dispatched after Shutdown.
	ErrClosed = errors.New("worker shut down")

	// ErrReservedEvent is returned when a handler is registered for a built-in event.
	ErrReservedEvent = errors.New("event kind handled by the worker")
)

// FetchError carries a network failure for a request.
// It matches ErrNetwork with errors.Is.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrNetwork.
func (e *FetchError) Is(target error) bool {
	return target == ErrNetwork
}

// InstallError carries the failing manifest path of an install.
// It matches ErrInstallFailed with errors.Is.
type InstallError struct {
	Version string
	Path    string
	Err     error
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("install %s: %s: %v", e.Version, e.Path, e.Err)
	}
	return fmt.Sprintf("install %s: %v", e.Version, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *InstallError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrInstallFailed.
func (e *InstallError) Is(target error) bool {
	return target == ErrInstallFailed
}
