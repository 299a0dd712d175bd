package async

import (
	"runtime"
	"sync/atomic"
)

// DefaultSpinCount is the number of failed attempts after which Lock yields
// the processor once.
const DefaultSpinCount = 20

// SpinLock is a busy-waiting lock for critical sections shorter than a
// context switch. It is not reentrant and not fair. The zero value is an
// unlocked lock using DefaultSpinCount.
type SpinLock struct {
	_         noCopy
	locked    atomic.Bool
	spinCount int
}

// NewSpinLock returns a lock that yields after spinCount failed attempts.
// Values below one select DefaultSpinCount.
func NewSpinLock(spinCount int) *SpinLock {
	return &SpinLock{spinCount: spinCount}
}

// Lock spins until the lock is acquired.
func (l *SpinLock) Lock() {
	limit := l.spinCount
	if limit < 1 {
		limit = DefaultSpinCount
	}
	spins := 0
	for l.locked.Swap(true) {
		spins++
		if spins == limit {
			spins = 0
			runtime.Gosched()
		}
	}
}

// TryLock makes a single attempt and reports whether it acquired the lock.
func (l *SpinLock) TryLock() bool {
	return !l.locked.Swap(true)
}

// Unlock releases the lock.
func (l *SpinLock) Unlock() {
	l.locked.Store(false)
}
