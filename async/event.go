package async

import (
	"context"
	"sync/atomic"
)

type eventKind uint8

const (
	kindEmpty eventKind = iota
	kindSignaled
	kindWaiting
)

// signaledTag marks a set event. It is never linked into a list.
var signaledTag = new(Link)

func decodeEvent(p *Link) (eventKind, *Link) {
	switch p {
	case nil:
		return kindEmpty, nil
	case signaledTag:
		return kindSignaled, nil
	default:
		return kindWaiting, p
	}
}

// ManualResetEvent is an asynchronous signal. Once set, it releases every
// registered operation and every operation registered afterwards, until it
// is reset. The zero value is an unset event.
//
// The whole state is one atomic word: empty, signaled, or the head of a
// LIFO stack of waiting operations.
type ManualResetEvent struct {
	_     noCopy
	state atomic.Pointer[Link]
}

// NewManualResetEvent returns an event, already set if set is true.
func NewManualResetEvent(set bool) *ManualResetEvent {
	e := &ManualResetEvent{}
	if set {
		e.state.Store(signaledTag)
	}
	return e
}

// IsSet reports whether the event is set. The answer may be stale by the
// time the caller looks at it.
func (e *ManualResetEvent) IsSet() bool {
	kind, _ := decodeEvent(e.state.Load())
	return kind == kindSignaled
}

// Set signals the event and executes all waiting operations in registration
// order on the calling goroutine before returning. Setting a set event does
// nothing.
func (e *ManualResetEvent) Set() {
	kind, head := decodeEvent(e.state.Swap(signaledTag))
	if kind != kindWaiting {
		return
	}
	drain(reverse(head))
}

// Reset returns a set event to the unset state. It does nothing unless the
// event is currently set.
//
// Reset must not race with Set or Register; callers synchronize that
// themselves.
func (e *ManualResetEvent) Reset() {
	e.state.CompareAndSwap(signaledTag, nil)
}

// Register enqueues op to be executed when the event is set. If the event
// is already set, op is executed immediately on the calling goroutine.
func (e *ManualResetEvent) Register(op Operation) {
	l := linkOf(op)
	for {
		cur := e.state.Load()
		kind, head := decodeEvent(cur)
		if kind == kindSignaled {
			l.detach()
			op.Execute()
			return
		}
		l.attach(op, head)
		if e.state.CompareAndSwap(cur, l) {
			return
		}
	}
}

// Wait blocks until the event is set or ctx is done. A waiter that gives up
// stays registered until the next Set.
func (e *ManualResetEvent) Wait(ctx context.Context) error {
	if e.IsSet() {
		return nil
	}
	return Await(ctx, e)
}
