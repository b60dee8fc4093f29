package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{
		Name:           "test",
		MaxAttempts:    3,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", p.InitialBackoff)
	}
	if p.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", p.Multiplier)
	}
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_Budget(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   time.Duration
	}{
		{name: "default", policy: DefaultPolicy(), want: 33 * time.Second},
		{name: "single attempt", policy: Policy{MaxAttempts: 1, InitialBackoff: time.Second}, want: 10 * time.Second},
		{name: "zero attempts", policy: Policy{}, want: 10 * time.Second},
		{
			name:   "jitter widens waits",
			policy: Policy{MaxAttempts: 2, InitialBackoff: time.Second, Multiplier: 2, Jitter: 0.5},
			want:   21500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Budget(10 * time.Second); got != tt.want {
				t.Errorf("Budget(10s) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDo_Success(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestDo_MaxAttemptsExhausted(t *testing.T) {
	callCount := 0
	testErr := errors.New("persistent error")
	err := Do(context.Background(), fastPolicy(), func(context.Context) error {
		callCount++
		return testErr
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Expected wrapped original error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls (MaxAttempts), got %d", callCount)
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	permanent := errors.New("client error")
	p := fastPolicy()
	p.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	callCount := 0
	err := Do(context.Background(), p, func(context.Context) error {
		callCount++
		return permanent
	})

	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry), got %d", callCount)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("Should not return ErrRetryExhausted when no retry was attempted")
	}
	if !errors.Is(err, permanent) {
		t.Errorf("Expected original error, got %v", err)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := fastPolicy()
	p.InitialBackoff = time.Second

	callCount := 0
	err := Do(ctx, p, func(context.Context) error {
		callCount++
		cancel()
		return errors.New("fail")
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", callCount)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	p := fastPolicy()
	p.MaxAttempts = 0

	callCount := 0
	_ = Do(context.Background(), p, func(context.Context) error {
		callCount++
		return errors.New("fail")
	})

	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestPolicy_JitterBounds(t *testing.T) {
	p := Policy{Jitter: 0.2}
	base := 100 * time.Millisecond

	for i := 0; i < 50; i++ {
		got := p.jittered(base)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("jittered(%v) = %v, outside ±20%%", base, got)
		}
	}
}
