package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// backendStub returns err, or a text answer naming itself.
type backendStub struct {
	name  string
	err   error
	calls atomic.Int32
}

func (s *backendStub) Name() string { return s.name }

func (s *backendStub) Reason(ctx context.Context, req *ReasonRequest) (*ReasonerOutput, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &ReasonerOutput{Text: "answer from " + s.name}, nil
}

// classifiedError mimics a backend error that knows whether to fail over.
type classifiedError struct{ failover bool }

func (e classifiedError) Error() string        { return "classified" }
func (e classifiedError) ShouldFailover() bool { return e.failover }

func exhausted() error {
	return &ReasonerError{Provider: "primary", Attempts: 5, Retryable: true, Cause: ErrReasonerUnavailable}
}

func TestFailoverReasonerPrimarySuccess(t *testing.T) {
	primary := &backendStub{name: "primary"}
	secondary := &backendStub{name: "secondary"}
	f := NewFailoverReasoner(primary, []Reasoner{secondary}, FailoverConfig{})

	out, err := f.Reason(context.Background(), &ReasonRequest{})
	if err != nil {
		t.Fatalf("Reason() error = %v", err)
	}
	if out.Text != "answer from primary" || secondary.calls.Load() != 0 {
		t.Errorf("out = %q, secondary calls = %d", out.Text, secondary.calls.Load())
	}
}

func TestFailoverReasonerDecision(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantFailover bool
	}{
		{name: "exhausted transient", err: exhausted(), wantFailover: true},
		{name: "permanent", err: &ReasonerError{Provider: "primary", Attempts: 1, Cause: errors.New("bad request")}},
		{name: "classified auth", err: &ReasonerError{Provider: "primary", Attempts: 1, Cause: classifiedError{failover: true}}, wantFailover: true},
		{name: "classified content filter", err: &ReasonerError{Provider: "primary", Attempts: 1, Retryable: true, Cause: classifiedError{}}},
		{name: "deadline", err: context.DeadlineExceeded, wantFailover: true},
		{name: "cancelled", err: ErrContextCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &backendStub{name: "primary", err: tt.err}
			secondary := &backendStub{name: "secondary"}
			f := NewFailoverReasoner(primary, []Reasoner{secondary}, FailoverConfig{})

			out, err := f.Reason(context.Background(), &ReasonRequest{})
			if tt.wantFailover {
				if err != nil || out.Text != "answer from secondary" {
					t.Fatalf("Reason() = %v, %v, want secondary answer", out, err)
				}
				if f.Stats().Failovers != 1 {
					t.Errorf("Failovers = %d, want 1", f.Stats().Failovers)
				}
				return
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("Reason() error = %v, want %v", err, tt.err)
			}
			if secondary.calls.Load() != 0 {
				t.Error("secondary should not be called")
			}
		})
	}
}

func TestFailoverReasonerAllFail(t *testing.T) {
	lastErr := &ReasonerError{Provider: "secondary", Attempts: 5, Retryable: true, Cause: errors.New("secondary down")}
	f := NewFailoverReasoner(
		&backendStub{name: "primary", err: exhausted()},
		[]Reasoner{&backendStub{name: "secondary", err: lastErr}},
		FailoverConfig{},
	)
	_, err := f.Reason(context.Background(), &ReasonRequest{})
	if !errors.Is(err, lastErr) {
		t.Errorf("Reason() error = %v, want the last backend's error", err)
	}
	stats := f.Stats()
	if stats.BackendFailures["primary"] != 1 || stats.BackendFailures["secondary"] != 1 {
		t.Errorf("BackendFailures = %v", stats.BackendFailures)
	}
}

func TestFailoverReasonerCircuitBreaker(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	primary := &backendStub{name: "primary", err: exhausted()}
	secondary := &backendStub{name: "secondary"}
	f := NewFailoverReasoner(primary, []Reasoner{secondary}, FailoverConfig{
		CircuitBreakerThreshold: 2,
		CircuitBreakerTimeout:   time.Minute,
	})
	f.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := f.Reason(context.Background(), &ReasonRequest{}); err != nil {
			t.Fatalf("Reason() #%d error = %v", i, err)
		}
	}
	if primary.calls.Load() != 2 {
		t.Errorf("primary calls = %d, want 2 before the circuit opens", primary.calls.Load())
	}
	if states := f.BackendStates(); !states[0].CircuitOpen || states[1].CircuitOpen {
		t.Errorf("BackendStates() = %+v", states)
	}
	if f.Stats().CircuitBreaks != 1 {
		t.Errorf("CircuitBreaks = %d, want 1", f.Stats().CircuitBreaks)
	}

	// Half-open after the timeout: the primary gets one probe.
	now = now.Add(2 * time.Minute)
	primary.err = nil
	out, err := f.Reason(context.Background(), &ReasonRequest{})
	if err != nil || out.Text != "answer from primary" {
		t.Fatalf("Reason() = %v, %v, want primary answer", out, err)
	}
	if f.BackendStates()[0].CircuitOpen {
		t.Error("circuit should close after a success")
	}
}

func TestFailoverReasonerAllCircuitsOpen(t *testing.T) {
	f := NewFailoverReasoner(&backendStub{name: "primary", err: exhausted()}, nil, FailoverConfig{CircuitBreakerThreshold: 1})
	if _, err := f.Reason(context.Background(), &ReasonRequest{}); err == nil {
		t.Fatal("first Reason() error = nil")
	}
	_, err := f.Reason(context.Background(), &ReasonRequest{})
	if !errors.Is(err, ErrReasonerUnavailable) {
		t.Errorf("Reason() error = %v, want ErrReasonerUnavailable", err)
	}

	f.ResetCircuitBreakers()
	if f.BackendStates()[0].CircuitOpen {
		t.Error("ResetCircuitBreakers() left the circuit open")
	}
}

func TestFailoverReasonerName(t *testing.T) {
	f := NewFailoverReasoner(&backendStub{name: "openai"}, []Reasoner{&backendStub{name: "anthropic"}}, FailoverConfig{})
	if got := f.Name(); got != "failover:openai,anthropic" {
		t.Errorf("Name() = %q", got)
	}
}
