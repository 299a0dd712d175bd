package async

import "context"

const uniqueHolder = -1

// SharedMutex is a reader/writer lock with the same handoff discipline as
// Mutex. Its bookkeeping is small enough to sit behind a SpinLock; resumed
// operations run after the spin lock is released.
//
// Once any acquisition is queued, new shared acquisitions queue as well, so
// a waiting writer is not starved by a stream of readers.
type SharedMutex struct {
	_  noCopy
	mu SpinLock

	holders int   // reader count, or uniqueHolder
	waiting *Link // LIFO
	pending *Link // FIFO
}

// TryLock acquires the lock exclusively if nobody holds it.
func (m *SharedMutex) TryLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holders != 0 {
		return false
	}
	m.holders = uniqueHolder
	return true
}

// TryRLock acquires the lock in shared mode if no writer holds it and no
// acquisition is queued.
func (m *SharedMutex) TryRLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sharedFree() {
		return false
	}
	m.holders++
	return true
}

// StartAcquire is the exclusive counterpart of Mutex.StartAcquire.
func (m *SharedMutex) StartAcquire(op Operation) bool {
	l := linkOf(op)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holders == 0 {
		m.holders = uniqueHolder
		return false
	}
	m.push(op, l, false)
	return true
}

// StartAcquireShared is the shared counterpart of StartAcquire.
func (m *SharedMutex) StartAcquireShared(op Operation) bool {
	l := linkOf(op)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sharedFree() {
		m.holders++
		return false
	}
	m.push(op, l, true)
	return true
}

// Unlock releases an exclusive hold.
func (m *SharedMutex) Unlock() {
	m.mu.Lock()
	if m.holders != uniqueHolder {
		m.mu.Unlock()
		panic("async: Unlock of SharedMutex not held exclusively")
	}
	m.holders = 0
	res := m.resumable()
	m.mu.Unlock()
	drain(res)
}

// RUnlock releases a shared hold.
func (m *SharedMutex) RUnlock() {
	m.mu.Lock()
	if m.holders <= 0 {
		m.mu.Unlock()
		panic("async: RUnlock of SharedMutex not held in shared mode")
	}
	m.holders--
	var res *Link
	if m.holders == 0 {
		res = m.resumable()
	}
	m.mu.Unlock()
	drain(res)
}

// Lock blocks until the lock is held exclusively or ctx is done.
func (m *SharedMutex) Lock(ctx context.Context) error {
	h := newHandoff(m.Unlock)
	if !m.StartAcquire(h) {
		return nil
	}
	return h.wait(ctx)
}

// RLock blocks until the lock is held in shared mode or ctx is done.
func (m *SharedMutex) RLock(ctx context.Context) error {
	h := newHandoff(m.RUnlock)
	if !m.StartAcquireShared(h) {
		return nil
	}
	return h.wait(ctx)
}

// WithLock runs fn while holding m exclusively and unlocks afterwards, even
// if fn panics.
func (m *SharedMutex) WithLock(ctx context.Context, fn func()) error {
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer m.Unlock()
	fn()
	return nil
}

// WithRLock is WithLock in shared mode.
func (m *SharedMutex) WithRLock(ctx context.Context, fn func()) error {
	if err := m.RLock(ctx); err != nil {
		return err
	}
	defer m.RUnlock()
	fn()
	return nil
}

func (m *SharedMutex) sharedFree() bool {
	return m.holders != uniqueHolder && m.waiting == nil && m.pending == nil
}

func (m *SharedMutex) push(op Operation, l *Link, shared bool) {
	l.attach(op, m.waiting)
	l.shared = shared
	m.waiting = l
}

// resumable grants the lock to the next waiter, or to the run of shared
// waiters at the front of pending, and returns them as a chain. Called with
// mu held and holders == 0.
func (m *SharedMutex) resumable() *Link {
	if m.pending == nil {
		m.pending = reverse(m.waiting)
		m.waiting = nil
	}
	if m.pending == nil {
		return nil
	}
	res := m.pending
	if !res.shared {
		m.holders = uniqueHolder
		m.pending = res.next
		res.next = nil
		return res
	}
	var last *Link
	for m.pending != nil && m.pending.shared {
		last = m.pending
		m.pending = m.pending.next
		m.holders++
	}
	last.next = nil
	return res
}
