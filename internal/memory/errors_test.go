package memory

import (
	"context"
	"errors"
	"testing"
)

func TestWithRetryRetriesOnlyTransientErrors(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), "test", func() error {
		attempts++
		if attempts < 3 {
			return transient("test", errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetryDoesNotRetryNonTransient(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), "test", func() error {
		attempts++
		return fatal("test", errors.New("boom"))
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if attempts != 1 {
		t.Fatalf("expected no retries for a fatal error, got %d attempts", attempts)
	}
}

func TestWithRetryExhaustsSchedule(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), "test", func() error {
		attempts++
		return transient("test", errors.New("always flaky"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != len(retrySchedule)+1 {
		t.Fatalf("expected %d attempts, got %d", len(retrySchedule)+1, attempts)
	}
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	err := notFound("test", errors.New("missing"))
	kind, ok := KindOf(err)
	if !ok || kind != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v ok=%v", kind, ok)
	}
}

func TestKindOfFalseForPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	if ok {
		t.Fatal("expected ok=false for a plain error")
	}
}
