package httpclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySingleAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 1, time.Millisecond, func() error {
		calls++
		return errors.New("boom")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one failing call, got %d calls err=%v", calls, err)
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third call, got %d calls err=%v", calls, err)
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	sentinel := errors.New("rejected")
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if _, wrapped := err.(permanentError); wrapped {
		t.Fatal("expected Permanent wrapper to be removed")
	}
}

func TestIsRetriable(t *testing.T) {
	if !IsRetriable(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded should be retriable")
	}
	if IsRetriable(errors.New("409")) {
		t.Fatal("plain errors should not be retriable")
	}
}
