package admission

import (
	"context"
	"testing"
	"time"
)

func TestTryAcquireRespectsCapacity(t *testing.T) {
	s := NewSemaphore(2)
	if !s.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if !s.TryAcquire() {
		t.Fatal("expected second acquire to succeed")
	}
	if s.TryAcquire() {
		t.Fatal("expected third acquire to fail at capacity")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Fatal("expected acquire to succeed after a release")
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	s := NewSemaphore(1)
	if !s.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}

	done := make(chan struct{})
	go func() {
		ctx := context.Background()
		if err := s.Acquire(ctx); err != nil {
			t.Error(err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("acquire should not have completed before release")
	case <-time.After(20 * time.Millisecond):
	}

	s.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire did not complete after release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	s := NewSemaphore(1)
	s.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := s.Acquire(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}
