package useitem

import (
	"context"
	"testing"
	"time"
)

func TestAcquireSucceedsImmediatelyWhenUsable(t *testing.T) {
	l := NewLock()
	owner := NewOwnerToken()

	done := make(chan error, 1)
	go func() {
		_, err := l.Acquire(context.Background(), owner)
		done <- err
	}()

	// No prior use recorded, so the very first Check with an unlocked
	// player should release the waiter.
	time.Sleep(10 * time.Millisecond)
	l.Check(1, false)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return")
	}
}

func TestAcquireWaitsForVersionChange(t *testing.T) {
	l := NewLock()
	owner := NewOwnerToken()
	l.RecordUse(5)

	done := make(chan error, 1)
	go func() {
		_, err := l.Acquire(context.Background(), owner)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	l.Check(5, false) // same version: must not release
	select {
	case <-done:
		t.Fatal("Acquire returned before version changed")
	case <-time.After(50 * time.Millisecond):
	}

	l.Check(6, false) // version changed: should release
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after version changed")
	}
}

func TestAcquireWaitsWhilePlayerLocked(t *testing.T) {
	l := NewLock()
	owner := NewOwnerToken()

	done := make(chan error, 1)
	go func() {
		_, err := l.Acquire(context.Background(), owner)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	l.Check(1, true) // locked: must not release
	select {
	case <-done:
		t.Fatal("Acquire returned while player locked")
	case <-time.After(50 * time.Millisecond):
	}

	l.Check(1, false)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return once unlocked")
	}
}

func TestReentrantAcquireDoesNotBlock(t *testing.T) {
	l := NewLock()
	owner := NewOwnerToken()

	var release1 func()
	outerDone := make(chan error, 1)
	go func() {
		r, err := l.Acquire(context.Background(), owner)
		release1 = r
		outerDone <- err
	}()
	time.Sleep(10 * time.Millisecond)
	l.Check(1, false) // satisfy the outer acquire's parked waiter
	if err := <-outerDone; err != nil {
		t.Fatalf("outer Acquire: %v", err)
	}

	// Reentrant acquire by the same owner must return immediately even
	// though no Check call satisfies it.
	innerDone := make(chan error, 1)
	go func() {
		_, err := l.Acquire(context.Background(), owner)
		innerDone <- err
	}()
	select {
	case err := <-innerDone:
		if err != nil {
			t.Fatalf("inner Acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reentrant Acquire blocked")
	}
	release1()
}

func TestDifferentOwnerBlocksUntilReleased(t *testing.T) {
	l := NewLock()
	ownerA := NewOwnerToken()
	ownerB := NewOwnerToken()

	var releaseA func()
	aDone := make(chan error, 1)
	go func() {
		r, err := l.Acquire(context.Background(), ownerA)
		releaseA = r
		aDone <- err
	}()
	time.Sleep(10 * time.Millisecond)
	l.Check(1, false)
	if err := <-aDone; err != nil {
		t.Fatalf("Acquire A: %v", err)
	}

	bDone := make(chan error, 1)
	go func() {
		_, err := l.Acquire(context.Background(), ownerB)
		bDone <- err
	}()

	select {
	case <-bDone:
		t.Fatal("owner B acquired while owner A still holds the lock")
	case <-time.After(50 * time.Millisecond):
	}

	releaseA()
	time.Sleep(10 * time.Millisecond)
	l.Check(2, false)

	select {
	case err := <-bDone:
		if err != nil {
			t.Fatalf("Acquire B: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("owner B never acquired after release")
	}
}

func TestResetFailsParkedWaiter(t *testing.T) {
	l := NewLock()
	owner := NewOwnerToken()

	done := make(chan error, 1)
	go func() {
		_, err := l.Acquire(context.Background(), owner)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	l.Reset()

	select {
	case err := <-done:
		if err != ErrReset {
			t.Fatalf("Acquire error = %v, want ErrReset", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after Reset")
	}
}

func TestContextCancelUnparksAcquire(t *testing.T) {
	l := NewLock()
	owner := NewOwnerToken()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := l.Acquire(ctx, owner)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after context cancel")
	}
}
