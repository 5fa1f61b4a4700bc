// Package useitem implements the at-most-one-in-flight use-item coordination
// described in spec §4.5/§9: a reentrant lock that, on its outermost
// acquisition, parks until the game reports a usable player state, while
// nested acquisitions by the same caller never block.
//
// Go has no native reentrant mutex, so reentrancy is modeled explicitly: callers
// identify themselves with an owner token (see NewOwnerToken) that they thread
// through any nested calls they make while holding the lock.
package useitem

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrReset is the distinguished cause used to fail a parked waiter when
// Reset is called, per spec §4.5 ("UseItemReset").
var ErrReset = errors.New("useitem: reset while waiting")

var tokenCounter uint64

// NewOwnerToken returns a fresh token identifying one logical top-level
// caller. Pass the same token into any nested Acquire calls made while
// already holding the lock.
func NewOwnerToken() uint64 {
	return atomic.AddUint64(&tokenCounter, 1)
}

// Lock is the use-item coordination primitive described in spec §3/§4.5.
type Lock struct {
	mu   sync.Mutex
	cond *sync.Cond

	count int
	owner uint64

	// waiter is non-nil while an outermost Acquire is parked waiting for
	// Check to report a usable state (or Reset to abandon it).
	waiter chan error

	lastUseVersion uint64
	hasLastUse     bool
}

// NewLock returns a ready-to-use Lock.
func NewLock() *Lock {
	l := &Lock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire acquires the lock on behalf of owner. If owner already holds the
// lock (a nested/reentrant acquire), it succeeds immediately without
// blocking on game state. Otherwise it blocks — first until any other
// owner releases, then until Check reports the player is in a usable
// state — before returning a release function the caller must call exactly
// once. If ctx is canceled while parked, Acquire returns ctx.Err().
func (l *Lock) Acquire(ctx context.Context, owner uint64) (release func(), err error) {
	l.mu.Lock()
	for l.count > 0 && l.owner != owner {
		l.cond.Wait()
	}
	if l.count > 0 && l.owner == owner {
		l.count++
		l.mu.Unlock()
		return func() { l.release(owner) }, nil
	}

	// Outermost acquire: become owner and park on game-state confirmation.
	l.owner = owner
	l.count = 1
	waiter := make(chan error, 1)
	l.waiter = waiter
	l.mu.Unlock()

	select {
	case err := <-waiter:
		if err != nil {
			l.release(owner)
			return nil, err
		}
		return func() { l.release(owner) }, nil
	case <-ctx.Done():
		l.release(owner)
		return nil, ctx.Err()
	}
}

func (l *Lock) release(owner uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 || l.owner != owner {
		return
	}
	l.count--
	if l.count == 0 {
		l.waiter = nil
		l.owner = 0
		l.cond.Broadcast()
	}
}

// Check is called on every pip update. It reports the parked waiter's
// acquisition as successful iff: a waiter is parked and unfulfilled; the
// player is not locked (paused, in VATS, etc); and either no use has been
// recorded yet or currentVersion differs from the version recorded by the
// last RecordUse (i.e. we are observing state after that use took effect).
func (l *Lock) Check(currentVersion uint64, playerLocked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.waiter == nil || playerLocked {
		return
	}
	if l.hasLastUse && currentVersion == l.lastUseVersion {
		return
	}
	w := l.waiter
	l.waiter = nil
	select {
	case w <- nil:
	default:
	}
}

// RecordUse records the inventory version observed at the moment a use was
// submitted, so a subsequent outermost Acquire can wait for that use to take
// effect before unblocking.
func (l *Lock) RecordUse(version uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastUseVersion = version
	l.hasLastUse = true
}

// Reset fails any parked waiter with ErrReset and clears the recorded use
// version, per spec §4.5.
func (l *Lock) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hasLastUse = false
	if l.waiter != nil {
		w := l.waiter
		l.waiter = nil
		select {
		case w <- ErrReset:
		default:
		}
	}
}
