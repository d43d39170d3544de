package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	}, fastConfig(5))

	if err != nil {
		t.Fatalf("ожидали успех, получили %v", err)
	}
	if calls != 3 {
		t.Errorf("ожидали 3 вызова, получили %d", calls)
	}
}

func TestDo_ReturnsLastError(t *testing.T) {
	calls := 0
	last := errors.New("boom 3")
	err := Do(context.Background(), func() error {
		calls++
		if calls == 3 {
			return last
		}
		return errors.New("boom")
	}, fastConfig(3))

	if !errors.Is(err, last) {
		t.Errorf("ожидали последнюю ошибку, получили %v", err)
	}
	if calls != 3 {
		t.Errorf("ожидали 3 вызова, получили %d", calls)
	}
}

func TestDo_PermanentNotRetried(t *testing.T) {
	calls := 0
	base := errors.New("bad request")
	err := Do(context.Background(), func() error {
		calls++
		return Permanent(base)
	}, fastConfig(5))

	if calls != 1 {
		t.Errorf("Permanent ошибка не должна повторяться, вызовов: %d", calls)
	}
	if !errors.Is(err, base) {
		t.Errorf("Permanent должна разворачиваться в исходную ошибку")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func() error {
		calls++
		return nil
	}, fastConfig(3))

	if !errors.Is(err, context.Canceled) {
		t.Errorf("ожидали context.Canceled, получили %v", err)
	}
	if calls != 0 {
		t.Errorf("операция не должна вызываться при отменённом контексте")
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	v, err := DoWithResult(context.Background(), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("once")
		}
		return 42, nil
	}, fastConfig(3))

	if err != nil || v != 42 {
		t.Errorf("ожидали 42,nil получили %d,%v", v, err)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), func() error { return errors.New("x") }, cfg)

	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry: ожидали [1 2], получили %v", attempts)
	}
}

func TestConfig_Delay(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 300 * time.Millisecond}, // ограничено MaxDelay
		{5, 300 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := cfg.Delay(tt.attempt); got != tt.expected {
			t.Errorf("Delay(%d) = %v, ожидали %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestConfig_DelayJitterBounds(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, JitterFactor: 0.5}
	for i := 0; i < 100; i++ {
		d := cfg.Delay(0)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jitter вне границ: %v", d)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), true},
		{"permanent", Permanent(errors.New("x")), false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, ожидали %v", tt.err, got, tt.expected)
			}
		})
	}
}
