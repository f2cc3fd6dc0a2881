// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	gerrors "github.com/phasegate/phasegate/pkg/errors"
)

func quickRetry(attempts int) RetryConfig {
	return DefaultRetryConfig().
		WithMaxAttempts(attempts).
		WithInitialDelay(time.Millisecond)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := quickRetry(3).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := quickRetry(3).Do(context.Background(), func() error {
		calls++
		return errors.New("still broken")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnNonRecoverable(t *testing.T) {
	calls := 0
	err := quickRetry(5).Do(context.Background(), func() error {
		calls++
		return gerrors.New(gerrors.CodeInvalidInput, "bad request", nil)
	})
	if !gerrors.IsCode(err, gerrors.CodeInvalidInput) {
		t.Fatalf("unexpected error %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-recoverable error retried %d times", calls)
	}
}

func TestRetryHonorsRecoverableFlag(t *testing.T) {
	calls := 0
	err := quickRetry(2).Do(context.Background(), func() error {
		calls++
		return gerrors.New(gerrors.CodeTelemetryWrite, "append failed", nil).WithRecoverable(true)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := quickRetry(3).Do(ctx, func() error {
		return errors.New("transient")
	})
	if !gerrors.IsCode(err, gerrors.CodeTimeout) {
		t.Fatalf("expected timeout code, got %v", err)
	}
}

func TestBackoffCapped(t *testing.T) {
	rc := RetryConfig{
		InitialDelay: time.Second,
		MaxDelay:     2 * time.Second,
		Multiplier:   10,
	}
	if got := calculateBackoff(5, rc); got > 2*time.Second {
		t.Fatalf("backoff %v exceeds cap", got)
	}
}
