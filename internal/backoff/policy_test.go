package backoff

import (
	"testing"
	"time"
)

func TestComputeBackoffWithRand(t *testing.T) {
	base := BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2}

	tests := []struct {
		name        string
		policy      BackoffPolicy
		attempt     int
		randomValue float64
		expected    time.Duration
	}{
		{name: "first attempt", policy: base, attempt: 1, randomValue: 0.5, expected: 100 * time.Millisecond},
		{name: "second attempt doubles", policy: base, attempt: 2, randomValue: 0.5, expected: 200 * time.Millisecond},
		{name: "fifth attempt", policy: base, attempt: 5, randomValue: 0.5, expected: 1600 * time.Millisecond},
		{name: "zero attempt treated as first", policy: base, attempt: 0, randomValue: 0, expected: 100 * time.Millisecond},
		{
			name:        "clamped to max",
			policy:      BackoffPolicy{InitialMs: 100, MaxMs: 500, Factor: 2},
			attempt:     10,
			randomValue: 0.5,
			expected:    500 * time.Millisecond,
		},
		{
			name:        "jitter adds on top",
			policy:      BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0.1},
			attempt:     1,
			randomValue: 1,
			expected:    110 * time.Millisecond,
		},
		{
			name:        "factor below one is flat",
			policy:      BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 0.5},
			attempt:     4,
			randomValue: 0,
			expected:    100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBackoffWithRand(tt.policy, tt.attempt, tt.randomValue)
			if got != tt.expected {
				t.Errorf("ComputeBackoffWithRand() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestPolicyFromDurations(t *testing.T) {
	tests := []struct {
		name        string
		initial     time.Duration
		max         time.Duration
		wantInitial float64
		wantMax     float64
	}{
		{name: "defaults", wantInitial: 500, wantMax: 30000},
		{name: "custom", initial: time.Second, max: 8 * time.Second, wantInitial: 1000, wantMax: 8000},
		{name: "max raised to initial", initial: 2 * time.Second, max: time.Second, wantInitial: 2000, wantMax: 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PolicyFromDurations(tt.initial, tt.max)
			if p.InitialMs != tt.wantInitial || p.MaxMs != tt.wantMax {
				t.Errorf("PolicyFromDurations() = %+v, want initial=%v max=%v", p, tt.wantInitial, tt.wantMax)
			}
			if p.Factor != 2 {
				t.Errorf("Factor = %v, want 2", p.Factor)
			}
		})
	}
}
