package async

import (
	"context"
	"sync/atomic"
)

type lockKind uint8

const (
	kindUnlocked lockKind = iota
	kindLocked
	kindLockedWaiting
)

// lockedTag marks a locked mutex with no waiters. It is never linked into a
// list.
var lockedTag = new(Link)

func decodeLock(p *Link) (lockKind, *Link) {
	switch p {
	case nil:
		return kindUnlocked, nil
	case lockedTag:
		return kindLocked, nil
	default:
		return kindLockedWaiting, p
	}
}

// Mutex is a mutual-exclusion lock acquired without blocking a goroutine.
// A waiter is an Operation that gets executed once ownership has been handed
// to it; unlock never exposes an unlocked state while someone is waiting.
//
// Waiters are served in arrival order within each batch claimed by Unlock.
// Late arrivals queue behind the current batch. The zero value is unlocked.
type Mutex struct {
	_     noCopy
	state atomic.Pointer[Link]

	// pending holds waiters already claimed from state, in arrival order.
	// Only the goroutine holding the lock reads or writes it.
	pending *Link
}

// TryLock acquires m if it is unlocked and reports whether it did.
func (m *Mutex) TryLock() bool {
	return m.state.CompareAndSwap(nil, lockedTag)
}

// StartAcquire tries to acquire m on behalf of op. It returns false if the
// lock was acquired at once; op is then left untouched and the caller holds
// the lock. It returns true if op was queued; op.Execute runs once ownership
// is handed to it.
func (m *Mutex) StartAcquire(op Operation) bool {
	l := linkOf(op)
	for {
		cur := m.state.Load()
		kind, head := decodeLock(cur)
		if kind == kindUnlocked {
			if m.state.CompareAndSwap(nil, lockedTag) {
				l.detach()
				return false
			}
			continue
		}
		l.attach(op, head)
		if m.state.CompareAndSwap(cur, l) {
			return true
		}
	}
}

// Unlock releases m. If operations are waiting, ownership passes directly to
// the oldest claimed one, whose Execute runs on the calling goroutine.
//
// Unlock panics if m is not locked.
func (m *Mutex) Unlock() {
	if m.pending == nil {
		if kind, _ := decodeLock(m.state.Load()); kind == kindUnlocked {
			panic("async: unlock of unlocked Mutex")
		}
		if m.state.CompareAndSwap(lockedTag, nil) {
			return
		}
		// Only the holder moves state off a waiter stack, so it is one now.
		_, head := decodeLock(m.state.Swap(lockedTag))
		m.pending = reverse(head)
	}
	next := m.pending
	m.pending = next.next
	op := next.op
	next.detach()
	op.Execute()
}

// Acquire runs fn while holding m. If m is free, fn runs at once on the
// calling goroutine; otherwise it runs on the goroutine that hands the lock
// over. fn must eventually lead to Unlock.
func (m *Mutex) Acquire(fn func()) {
	c := NewCallback(fn)
	if !m.StartAcquire(c) {
		fn()
	}
}

// Lock blocks until m is held or ctx is done. If ctx ends first, Lock
// returns its error and any ownership that reaches the waiter later is
// released immediately.
func (m *Mutex) Lock(ctx context.Context) error {
	if m.TryLock() {
		return nil
	}
	h := newHandoff(m.Unlock)
	if !m.StartAcquire(h) {
		return nil
	}
	return h.wait(ctx)
}

// WithLock runs fn while holding m and unlocks afterwards, even if fn
// panics.
func (m *Mutex) WithLock(ctx context.Context, fn func()) error {
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer m.Unlock()
	fn()
	return nil
}
