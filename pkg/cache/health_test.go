package cache

import (
	"testing"
	"time"
)

func TestBackendState_NeedsCriticalBlock(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		state    BackendState
		expected bool
	}{
		{
			name:     "healthy",
			state:    BackendState{},
			expected: false,
		},
		{
			name:     "below threshold",
			state:    BackendState{ConsecutiveFailures: FailureThresholdCritical - 1, BlockedUntil: now.Add(time.Minute)},
			expected: false,
		},
		{
			name:     "at threshold within cooldown",
			state:    BackendState{ConsecutiveFailures: FailureThresholdCritical, BlockedUntil: now.Add(time.Minute)},
			expected: true,
		},
		{
			name:     "cooldown elapsed",
			state:    BackendState{ConsecutiveFailures: FailureThresholdCritical, BlockedUntil: now.Add(-time.Second)},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.NeedsCriticalBlock(now); got != tt.expected {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBackendState_TimeUntilReset(t *testing.T) {
	now := time.Now()

	state := BackendState{BlockedUntil: now.Add(10 * time.Second)}
	if got := state.TimeUntilReset(now); got != 10*time.Second {
		t.Errorf("TimeUntilReset() = %v, want 10s", got)
	}

	past := BackendState{BlockedUntil: now.Add(-10 * time.Second)}
	if got := past.TimeUntilReset(now); got != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0", got)
	}
}

func TestBackendHealth_FailureStreak(t *testing.T) {
	now := time.Now()
	h := newBackendHealth(0)

	for i := 1; i < FailureThresholdCritical; i++ {
		h.Failure(now)
		if !h.Allow(now) {
			t.Fatalf("blocked after %d failures", i)
		}
	}

	state := h.Failure(now)
	if !state.BlockedUntil.Equal(now.Add(DefaultCooldown)) {
		t.Errorf("BlockedUntil = %v, want now+%v", state.BlockedUntil, DefaultCooldown)
	}
	if h.Allow(now) {
		t.Error("expected remote calls to be blocked")
	}
	if !h.Allow(now.Add(DefaultCooldown)) {
		t.Error("expected a call to be allowed once the cooldown passed")
	}

	h.Success(now)
	if got := h.State().ConsecutiveFailures; got != 0 {
		t.Errorf("ConsecutiveFailures after success = %d, want 0", got)
	}
}

func TestBackendHealth_SingleCallAfterCooldown(t *testing.T) {
	now := time.Now()
	h := newBackendHealth(time.Minute)
	for i := 0; i < FailureThresholdCritical; i++ {
		h.Failure(now)
	}

	later := now.Add(time.Minute)
	if !h.Allow(later) {
		t.Fatal("expected one call once the cooldown passed")
	}
	if h.Allow(later) {
		t.Error("second concurrent call let through while the first is in flight")
	}

	// Failed again: blocked for a fresh cooldown
	h.Failure(later)
	if h.Allow(later.Add(30 * time.Second)) {
		t.Error("expected block to restart after a failed call")
	}

	again := later.Add(time.Minute)
	if !h.Allow(again) {
		t.Fatal("expected one call after the second cooldown")
	}
	h.Success(again)
	for i := 0; i < 3; i++ {
		if !h.Allow(again) {
			t.Fatalf("call %d refused after recovery", i)
		}
	}
}
