package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/legionruntime/legion/internal/ai"
)

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := retry(context.Background(), 3, time.Millisecond, ai.IsRetryable, func() error {
		attempts++
		if attempts < 3 {
			return ai.NewProviderError("test", "m", errors.New("rate limit exceeded"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	attempts := 0
	wantErr := ai.NewProviderError("test", "m", errors.New("bad request")).WithStatus(400)
	err := retry(context.Background(), 3, time.Millisecond, ai.IsRetryable, func() error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("retry() error = %v, want the original error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	attempts := 0
	err := retry(context.Background(), 2, time.Millisecond, ai.IsRetryable, func() error {
		attempts++
		return ai.NewProviderError("test", "m", errors.New("500 internal server error"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	// maxRetries=2 means one initial attempt plus two retries.
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := retry(ctx, 5, 50*time.Millisecond, ai.IsRetryable, func() error {
		attempts++
		cancel()
		return ai.NewProviderError("test", "m", errors.New("timeout"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("retry() error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 before cancellation", attempts)
	}
}

func TestRetry_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := retry(ctx, 3, time.Millisecond, ai.IsRetryable, func() error {
		attempts++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("retry() error = %v, want context.Canceled", err)
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0", attempts)
	}
}
