package safego

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGo_RunsFunction(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	Go(func() {
		defer wg.Done()
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// function ran successfully
	case <-time.After(2 * time.Second):
		t.Error("goroutine did not complete within timeout")
	}
}

func TestGo_RecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	// This should not crash the test process; the panic must be recovered.
	Go(func() {
		defer wg.Done()
		panic("intentional panic in test")
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// panic was recovered; test passes
	case <-time.After(2 * time.Second):
		t.Error("goroutine did not complete within timeout after panic")
	}
}

func TestGoWithTimeout_ContextHasDeadline(t *testing.T) {
	got := make(chan bool, 1)

	GoWithTimeout(time.Minute, func(ctx context.Context) {
		deadline, ok := ctx.Deadline()
		got <- ok && time.Until(deadline) > 0
	})

	select {
	case ok := <-got:
		if !ok {
			t.Error("context has no future deadline")
		}
	case <-time.After(2 * time.Second):
		t.Error("goroutine did not complete within timeout")
	}
}

func TestGoWithTimeout_ContextExpires(t *testing.T) {
	done := make(chan error, 1)

	GoWithTimeout(10*time.Millisecond, func(ctx context.Context) {
		<-ctx.Done()
		done <- ctx.Err()
	})

	select {
	case err := <-done:
		if err != context.DeadlineExceeded {
			t.Errorf("ctx.Err() = %v, want DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("context never expired")
	}
}
