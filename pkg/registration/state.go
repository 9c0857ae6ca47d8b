// Package registration persists the worker registration and drives a new
// worker version through install and activation.
package registration

import (
	"time"
)

// DefaultRedisPrefix namespaces the registration keys in Redis.
const DefaultRedisPrefix = "swcache:registration"

// Redis key suffixes for registration state storage.
const (
	keyActiveVersion   = "active_version"
	keyWaitingVersion  = "waiting_version"
	keyPhase           = "state"
	keyInstallAttempts = "install_attempts"
	keyLastError       = "last_error"
	keyLastUpdate      = "last_update"
)

// Phase is the lifecycle state of the most recently registered worker.
type Phase string

const (
	PhaseParsed     Phase = "parsed"
	PhaseInstalling Phase = "installing"
	PhaseInstalled  Phase = "installed"
	PhaseActivating Phase = "activating"
	PhaseActivated  Phase = "activated"
	PhaseRedundant  Phase = "redundant"
)

// State is the persisted registration of an origin.
// It is shared by every proxy instance that uses the same state store.
type State struct {
	// ActiveVersion is the version currently serving requests.
	ActiveVersion string `json:"active_version"`

	// WaitingVersion is the version being installed or activated.
	WaitingVersion string `json:"waiting_version,omitempty"`

	// Phase is the lifecycle state of the newest worker.
	Phase Phase `json:"state"`

	// InstallAttempts counts install attempts of the newest worker.
	InstallAttempts int `json:"install_attempts"`

	// LastError is the last install or activation error, if any.
	LastError string `json:"last_error,omitempty"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// NewState returns the state of an origin with no registration.
func NewState() *State {
	return &State{Phase: PhaseParsed}
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Controlling reports whether an activated version serves requests.
func (s *State) Controlling() bool {
	return s.ActiveVersion != ""
}

// Pending reports whether a version is between install and activation.
func (s *State) Pending() bool {
	switch s.Phase {
	case PhaseInstalling, PhaseInstalled, PhaseActivating:
		return true
	default:
		return false
	}
}
