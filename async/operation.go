package async

import (
	"context"
	"sync/atomic"
)

// Operation is a suspended computation waiting on a primitive.
//
// Implementations embed Link, which is the only way to satisfy the
// unexported part of the interface. Execute is called at most once per
// registration and must not panic.
type Operation interface {
	Execute()
	link() *Link
}

// Link is the intrusive hook an Operation embeds. While the operation is
// registered, its Link belongs to exactly one wait list and must not be
// touched by the owner.
type Link struct {
	next   *Link
	op     Operation
	shared bool
}

func (l *Link) link() *Link { return l }

// attach prepares l for publication at the head of a chain.
func (l *Link) attach(op Operation, next *Link) {
	l.op = op
	l.next = next
}

func (l *Link) detach() {
	l.op = nil
	l.next = nil
	l.shared = false
}

func linkOf(op Operation) *Link {
	l := op.link()
	if l.op != nil {
		panic("async: operation is already registered")
	}
	return l
}

// reverse flips a LIFO chain into arrival order in place.
func reverse(head *Link) *Link {
	var prev *Link
	for head != nil {
		next := head.next
		head.next = prev
		prev, head = head, next
	}
	return prev
}

// drain executes every operation of a FIFO chain. Each link is cleared
// before its Execute so the chain keeps no reference afterwards.
func drain(head *Link) {
	for head != nil {
		next, op := head.next, head.op
		head.detach()
		op.Execute()
		head = next
	}
}

// Callback is an Operation that calls a function.
type Callback struct {
	Link
	fn func()
}

// NewCallback returns an Operation whose Execute calls fn.
func NewCallback(fn func()) *Callback {
	return &Callback{fn: fn}
}

// Execute calls the wrapped function.
func (c *Callback) Execute() { c.fn() }

// Awaitable is anything an Operation can be registered on.
type Awaitable interface {
	Register(op Operation)
}

// Await blocks until a executes the operation registered on it, or until
// ctx is done. The registration is not withdrawn when ctx ends first.
func Await(ctx context.Context, a Awaitable) error {
	s := newSignal()
	a.Register(s)
	return s.wait(ctx)
}

// signal parks a goroutine until Execute closes its channel.
type signal struct {
	Link
	ch chan struct{}
}

func newSignal() *signal { return &signal{ch: make(chan struct{})} }

func (s *signal) Execute() { close(s.ch) }

func (s *signal) wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		select {
		case <-s.ch:
			return nil
		default:
			return ctx.Err()
		}
	}
}

const (
	handoffWaiting int32 = iota
	handoffGranted
	handoffAbandoned
)

// handoff parks a goroutine until lock ownership is handed to it. If the
// goroutine gives up first, ownership that arrives later is released at once.
type handoff struct {
	Link
	state   atomic.Int32
	ch      chan struct{}
	release func()
}

func newHandoff(release func()) *handoff {
	return &handoff{ch: make(chan struct{}), release: release}
}

func (h *handoff) Execute() {
	if h.state.CompareAndSwap(handoffWaiting, handoffGranted) {
		close(h.ch)
		return
	}
	h.release()
}

func (h *handoff) wait(ctx context.Context) error {
	select {
	case <-h.ch:
		return nil
	case <-ctx.Done():
		if h.state.CompareAndSwap(handoffWaiting, handoffAbandoned) {
			return ctx.Err()
		}
		<-h.ch
		return nil
	}
}

// noCopy trips go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
