package cache

import (
	"sync"
	"time"
)

// Thresholds for remote backend gating.
const (
	// FailureThresholdCritical skips remote lookups once this many
	// consecutive remote operations have failed.
	FailureThresholdCritical = 5

	// DefaultCooldown is how long remote lookups stay skipped after the
	// critical threshold is reached.
	DefaultCooldown = 30 * time.Second
)

// BackendState is a snapshot of the remote backend's recent health.
type BackendState struct {
	// ConsecutiveFailures counts remote failures since the last success.
	ConsecutiveFailures int

	// BlockedUntil is when remote lookups resume after a critical streak.
	BlockedUntil time.Time

	// LastUpdate is when the state last changed.
	LastUpdate time.Time
}

// NeedsCriticalBlock returns true if remote calls should be skipped at now.
func (s BackendState) NeedsCriticalBlock(now time.Time) bool {
	return s.ConsecutiveFailures >= FailureThresholdCritical && now.Before(s.BlockedUntil)
}

// TimeUntilReset returns the duration until remote calls resume.
// Returns 0 if the block has already passed.
func (s BackendState) TimeUntilReset(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// backendHealth gates remote calls after repeated failures so a dead
// backend does not add its timeout to every fetch of every render.
type backendHealth struct {
	mu       sync.Mutex
	state    BackendState
	cooldown time.Duration
	trialing bool // a post-cooldown call is in flight
}

func newBackendHealth(cooldown time.Duration) *backendHealth {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &backendHealth{cooldown: cooldown}
}

// Allow reports whether a remote call may be made at now. Once the
// cooldown passes a single call is let through; until it reports Success
// or Failure every other caller is refused.
func (h *backendHealth) Allow(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.ConsecutiveFailures < FailureThresholdCritical {
		return true
	}
	if h.state.NeedsCriticalBlock(now) || h.trialing {
		return false
	}
	h.trialing = true
	return true
}

// Success resets the failure streak.
func (h *backendHealth) Success(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = BackendState{LastUpdate: now}
	h.trialing = false
	RemoteFailuresInARow.Set(0)
}

// Failure records a failed remote call and returns the new state.
func (h *backendHealth) Failure(now time.Time) BackendState {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.ConsecutiveFailures++
	h.state.LastUpdate = now
	h.trialing = false
	if h.state.ConsecutiveFailures >= FailureThresholdCritical {
		h.state.BlockedUntil = now.Add(h.cooldown)
	}
	RemoteFailuresInARow.Set(float64(h.state.ConsecutiveFailures))
	return h.state
}

// State returns a snapshot of the current state.
func (h *backendHealth) State() BackendState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}
