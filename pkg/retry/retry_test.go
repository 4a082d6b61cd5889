package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryer_Success(t *testing.T) {
	config := EnableRetry(3, 10*time.Millisecond)
	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return nil
	}

	if err := retryer.Do(context.Background(), fn); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_SuccessAfterRetries(t *testing.T) {
	config := EnableRetry(5, time.Millisecond)
	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	if err := retryer.Do(context.Background(), fn); err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	config := EnableRetry(DefaultMaxAttempts, time.Millisecond)
	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	cause := errors.New("persistent error")
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return cause
	}

	err = retryer.Do(context.Background(), fn)

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != DefaultMaxAttempts {
		t.Errorf("Expected %d attempts in error, got %d", DefaultMaxAttempts, exhausted.Attempts)
	}
	if !errors.Is(err, cause) {
		t.Error("Expected original error to be preserved")
	}
	if attempts != DefaultMaxAttempts {
		t.Errorf("Expected %d attempts, got %d", DefaultMaxAttempts, attempts)
	}
}

func TestRetryer_CalculateDelay(t *testing.T) {
	config := EnableRetry(5, 100*time.Millisecond)
	config.Jitter = 0 // Отключаем jitter для предсказуемости
	config.MaxDelay = 350 * time.Millisecond

	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, w := range want {
		if got := retryer.calculateDelay(i + 1); got != w {
			t.Errorf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := EnableRetry(10, 50*time.Millisecond)
	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("error")
	}

	err = retryer.Do(ctx, fn)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context cancellation error, got %v", err)
	}

	if attempts != 2 {
		t.Errorf("Expected 2 attempts with context cancellation, got %d", attempts)
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	callbackCalls := 0
	config := EnableRetry(3, time.Millisecond)
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		callbackCalls++
	}

	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	_ = retryer.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("error")
	})

	// 3 попытки = 2 retry = 2 callback calls
	if callbackCalls != 2 {
		t.Errorf("Expected 2 callback calls, got %d", callbackCalls)
	}
}

func TestRetryer_RetryablePredicate(t *testing.T) {
	transient := errors.New("connection refused")
	config := EnableRetry(3, time.Millisecond)
	config.Retryable = func(err error) bool {
		return errors.Is(err, transient)
	}

	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	attempts := 0
	_ = retryer.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return transient
	})
	if attempts != 3 {
		t.Errorf("Expected 3 attempts for retryable error, got %d", attempts)
	}

	attempts = 0
	permanent := errors.New("invalid input")
	err = retryer.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return permanent
	})
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
	if err != permanent {
		t.Errorf("Expected non-retryable error to be returned as is, got %v", err)
	}
}

func TestRetryer_Disabled(t *testing.T) {
	retryer, err := NewRetryer(DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	attempts := 0
	err = retryer.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("error")
	})
	if err == nil {
		t.Error("Expected error when retry disabled")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt when retry disabled, got %d", attempts)
	}
}

func TestConfig_Validate(t *testing.T) {
	config := EnableRetry(3, time.Second)
	config.Jitter = 1.5
	if err := config.Validate(); err == nil {
		t.Error("Expected error for jitter out of range")
	}

	config = EnableRetry(-1, time.Second)
	if err := config.Validate(); err == nil {
		t.Error("Expected error for negative max attempts")
	}
}
