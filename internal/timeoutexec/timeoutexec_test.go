package timeoutexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nethalo/queryguard/internal/gwerrors"
)

func TestExecute_SuccessPassthrough(t *testing.T) {
	e := New()
	result, err := e.Execute(context.Background(), "q1", 1000, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %v, want ok", result)
	}
	if e.InFlight() != 0 {
		t.Errorf("InFlight() after completion = %d, want 0", e.InFlight())
	}
}

func TestExecute_TimeoutClassification(t *testing.T) {
	e := New()
	_, err := e.Execute(context.Background(), "q2", 20, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	var timeoutErr *gwerrors.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *gwerrors.TimeoutError, got %v", err)
	}
	if timeoutErr.TimeoutMs != 20 {
		t.Errorf("TimeoutMs = %d, want 20", timeoutErr.TimeoutMs)
	}
	if e.InFlight() != 0 {
		t.Errorf("InFlight() after timeout = %d, want 0 (cleanup guaranteed)", e.InFlight())
	}
}

func TestExecute_ExplicitCancelClassification(t *testing.T) {
	e := New()
	started := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := e.Execute(context.Background(), "q3", 60_000, func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
		done <- err
	}()

	<-started
	time.Sleep(10 * time.Millisecond)
	if !e.Cancel("q3") {
		t.Fatal("expected Cancel to find the in-flight entry")
	}

	select {
	case err := <-done:
		var cancelledErr *gwerrors.CancelledError
		if !errors.As(err, &cancelledErr) {
			t.Fatalf("expected *gwerrors.CancelledError (not TimeoutError), got %v", err)
		}
		var timeoutErr *gwerrors.TimeoutError
		if errors.As(err, &timeoutErr) {
			t.Fatal("explicit cancel must not be classified as a timeout")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after Cancel")
	}
}

func TestExecute_WorkErrorWrappedAsExecutionFailed(t *testing.T) {
	e := New()
	boom := errors.New("boom")
	_, err := e.Execute(context.Background(), "q4", 60_000, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	var execErr *gwerrors.ExecutionFailedError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *gwerrors.ExecutionFailedError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected Unwrap() to expose the underlying error")
	}
}

func TestCancel_UnknownIDReturnsFalse(t *testing.T) {
	e := New()
	if e.Cancel("does-not-exist") {
		t.Error("expected Cancel on an unknown id to return false")
	}
}

func TestCancelAll_CancelsEveryInFlightEntry(t *testing.T) {
	e := New()
	const n = 3
	startedCh := make(chan struct{}, n)
	doneCh := make(chan error, n)

	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		go func(id string) {
			_, err := e.Execute(context.Background(), id, 60_000, func(ctx context.Context) (any, error) {
				startedCh <- struct{}{}
				<-ctx.Done()
				return nil, ctx.Err()
			})
			doneCh <- err
		}(id)
	}

	for i := 0; i < n; i++ {
		<-startedCh
	}
	time.Sleep(10 * time.Millisecond)

	if got := e.InFlight(); got != n {
		t.Fatalf("InFlight() before CancelAll = %d, want %d", got, n)
	}

	cancelled := e.CancelAll()
	if cancelled != n {
		t.Errorf("CancelAll() = %d, want %d", cancelled, n)
	}

	for i := 0; i < n; i++ {
		select {
		case err := <-doneCh:
			var cancelledErr *gwerrors.CancelledError
			if !errors.As(err, &cancelledErr) {
				t.Errorf("expected *gwerrors.CancelledError, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("not all entries completed after CancelAll")
		}
	}

	if e.InFlight() != 0 {
		t.Errorf("InFlight() after all complete = %d, want 0", e.InFlight())
	}
}
