package async

import (
	"context"
	"errors"
)

// Overflow selects what a bounded Channel does with a value sent while its
// buffer is full.
type Overflow uint8

const (
	// Suspend queues the sender until a receiver makes room.
	Suspend Overflow = iota
	// DropOldest discards the oldest buffered value to make room.
	DropOldest
	// DropLatest overwrites the most recently buffered value.
	DropLatest
)

// Unbounded is the buffer size of a Channel whose buffer never fills.
const Unbounded = -1

// ErrChannelCanceled is returned by Send and Receive when the channel is
// canceled while they wait.
var ErrChannelCanceled = errors.New("async: channel canceled")

// Channel is a FIFO queue between senders and receivers that never parks a
// goroutine unless asked to. Pending sends and receives are Operations held
// in intrusive queues and completed inline by the party that matches them.
//
// A buffer size of zero makes every send a rendezvous with a receiver.
// Only Suspend is valid for such a channel.
type Channel[T any] struct {
	_      noCopy
	mu     SpinLock
	policy Overflow
	buf    ring[T]

	senders   linkQueue
	receivers linkQueue
}

// NewChannel returns a channel buffering up to size values, or any number
// of them when size is Unbounded.
func NewChannel[T any](size int, policy Overflow) *Channel[T] {
	switch {
	case size < Unbounded:
		panic("async: negative channel buffer size")
	case size == 0 && policy != Suspend:
		panic("async: only Suspend applies to an unbuffered channel")
	}
	c := &Channel[T]{policy: policy, buf: ring[T]{limit: size}}
	if size > 0 {
		c.buf.items = make([]T, size)
	}
	return c
}

// TrySend hands v to a waiting receiver or buffers it. It reports false
// when the channel would have to suspend the sender.
func (c *Channel[T]) TrySend(v T) bool {
	c.mu.Lock()
	if op := c.receivers.pop(); op != nil {
		c.mu.Unlock()
		deliver(op.(*recvOp[T]), v)
		return true
	}
	if c.policy == Suspend && !c.buf.canPush() {
		c.mu.Unlock()
		return false
	}
	c.buf.push(v, c.policy)
	c.mu.Unlock()
	return true
}

// TryReceive takes the oldest available value without waiting.
func (c *Channel[T]) TryReceive() (T, bool) {
	c.mu.Lock()
	if c.buf.canPop() {
		v := c.buf.pop()
		s := c.refill()
		c.mu.Unlock()
		accept(s)
		return v, true
	}
	if op := c.senders.pop(); op != nil {
		c.mu.Unlock()
		s := op.(*sendOp[T])
		v := s.value
		accept(s)
		return v, true
	}
	c.mu.Unlock()
	var zero T
	return zero, false
}

// SendAsync offers v. fn is called with true once v is taken by a receiver
// or the buffer, or with false if the channel is canceled first. It runs on
// the calling goroutine when the send completes at once, otherwise on the
// goroutine that makes room.
func (c *Channel[T]) SendAsync(v T, fn func(ok bool)) {
	c.send(&sendOp[T]{value: v, fn: fn})
}

// ReceiveAsync asks for the next value. fn is called with it and true, or
// with the zero value and false if the channel is canceled first.
func (c *Channel[T]) ReceiveAsync(fn func(v T, ok bool)) {
	c.receive(&recvOp[T]{fn: fn})
}

// Send blocks until v is taken, the channel is canceled, or ctx is done.
// A send abandoned because of ctx is withdrawn; its value is never
// delivered.
func (c *Channel[T]) Send(ctx context.Context, v T) error {
	done := make(chan bool, 1)
	op := &sendOp[T]{value: v, fn: func(ok bool) { done <- ok }}
	c.send(op)
	select {
	case ok := <-done:
		return canceledUnless(ok)
	case <-ctx.Done():
		if c.withdraw(&c.senders, &op.Link) {
			return ctx.Err()
		}
		return canceledUnless(<-done)
	}
}

// Receive blocks until a value arrives, the channel is canceled, or ctx is
// done. An abandoned receive is withdrawn and consumes nothing.
func (c *Channel[T]) Receive(ctx context.Context) (T, error) {
	type result struct {
		v  T
		ok bool
	}
	done := make(chan result, 1)
	op := &recvOp[T]{fn: func(v T, ok bool) { done <- result{v, ok} }}
	c.receive(op)
	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		if c.withdraw(&c.receivers, &op.Link) {
			var zero T
			return zero, ctx.Err()
		}
		r = <-done
	}
	return r.v, canceledUnless(r.ok)
}

// Cancel drops every buffered value and completes every pending send and
// receive with ok false. The channel stays usable afterwards.
func (c *Channel[T]) Cancel() {
	c.mu.Lock()
	c.buf.clear()
	snd := c.senders.take()
	rcv := c.receivers.take()
	c.mu.Unlock()
	for l := snd; l != nil; {
		next, op := l.next, l.op.(*sendOp[T])
		l.detach()
		op.ok = false
		op.Execute()
		l = next
	}
	for l := rcv; l != nil; {
		next, op := l.next, l.op.(*recvOp[T])
		l.detach()
		op.ok = false
		op.Execute()
		l = next
	}
}

// Len returns the number of buffered values.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.n
}

func (c *Channel[T]) send(op *sendOp[T]) {
	l := linkOf(op)
	c.mu.Lock()
	if r := c.receivers.pop(); r != nil {
		c.mu.Unlock()
		deliver(r.(*recvOp[T]), op.value)
		accept(op)
		return
	}
	if c.policy == Suspend && !c.buf.canPush() {
		l.attach(op, nil)
		c.senders.push(l)
		c.mu.Unlock()
		return
	}
	c.buf.push(op.value, c.policy)
	c.mu.Unlock()
	accept(op)
}

func (c *Channel[T]) receive(op *recvOp[T]) {
	l := linkOf(op)
	c.mu.Lock()
	if c.buf.canPop() {
		v := c.buf.pop()
		s := c.refill()
		c.mu.Unlock()
		accept(s)
		deliver(op, v)
		return
	}
	if s := c.senders.pop(); s != nil {
		c.mu.Unlock()
		snd := s.(*sendOp[T])
		deliver(op, snd.value)
		accept(snd)
		return
	}
	l.attach(op, nil)
	c.receivers.push(l)
	c.mu.Unlock()
}

// refill moves the oldest suspended send into the room a pop just made.
// Called with mu held.
func (c *Channel[T]) refill() *sendOp[T] {
	op := c.senders.pop()
	if op == nil {
		return nil
	}
	s := op.(*sendOp[T])
	c.buf.push(s.value, c.policy)
	return s
}

func (c *Channel[T]) withdraw(q *linkQueue, l *Link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return q.remove(l)
}

func canceledUnless(ok bool) error {
	if ok {
		return nil
	}
	return ErrChannelCanceled
}

type sendOp[T any] struct {
	Link
	value T
	ok    bool
	fn    func(ok bool)
}

func (o *sendOp[T]) Execute() { o.fn(o.ok) }

func accept[T any](o *sendOp[T]) {
	if o == nil {
		return
	}
	o.ok = true
	o.Execute()
}

type recvOp[T any] struct {
	Link
	value T
	ok    bool
	fn    func(v T, ok bool)
}

func (o *recvOp[T]) Execute() { o.fn(o.value, o.ok) }

func deliver[T any](o *recvOp[T], v T) {
	o.value, o.ok = v, true
	o.Execute()
}

// linkQueue is a FIFO of links guarded by its owner's lock.
type linkQueue struct {
	head, tail *Link
}

func (q *linkQueue) push(l *Link) {
	if q.tail == nil {
		q.head = l
	} else {
		q.tail.next = l
	}
	q.tail = l
}

// pop unlinks the front operation and returns it, or nil.
func (q *linkQueue) pop() Operation {
	l := q.head
	if l == nil {
		return nil
	}
	q.head = l.next
	if q.head == nil {
		q.tail = nil
	}
	op := l.op
	l.detach()
	return op
}

// take empties the queue and returns its former head.
func (q *linkQueue) take() *Link {
	head := q.head
	q.head, q.tail = nil, nil
	return head
}

// remove unlinks l and reports whether it was queued.
func (q *linkQueue) remove(l *Link) bool {
	var prev *Link
	for cur := q.head; cur != nil; prev, cur = cur, cur.next {
		if cur != l {
			continue
		}
		if prev == nil {
			q.head = cur.next
		} else {
			prev.next = cur.next
		}
		if q.tail == cur {
			q.tail = prev
		}
		cur.detach()
		return true
	}
	return false
}

// ring is a circular buffer. limit is its capacity, or Unbounded; an
// unbounded ring grows on demand.
type ring[T any] struct {
	items []T
	head  int
	n     int
	limit int
}

func (r *ring[T]) canPush() bool { return r.limit == Unbounded || r.n < r.limit }

func (r *ring[T]) canPop() bool { return r.n > 0 }

// push appends v, applying policy when the ring is full. A full ring never
// sees Suspend.
func (r *ring[T]) push(v T, policy Overflow) {
	if r.canPush() {
		if r.n == len(r.items) {
			r.grow()
		}
		r.items[(r.head+r.n)%len(r.items)] = v
		r.n++
		return
	}
	switch policy {
	case DropOldest:
		r.items[r.head] = v
		r.head = (r.head + 1) % len(r.items)
	case DropLatest:
		r.items[(r.head+r.n-1)%len(r.items)] = v
	default:
		panic("async: push into a full channel buffer")
	}
}

func (r *ring[T]) pop() T {
	var zero T
	v := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.n--
	return v
}

func (r *ring[T]) grow() {
	items := make([]T, max(4, 2*len(r.items)))
	for i := 0; i < r.n; i++ {
		items[i] = r.items[(r.head+i)%len(r.items)]
	}
	r.items, r.head = items, 0
}

func (r *ring[T]) clear() {
	clear(r.items)
	r.head, r.n = 0, 0
}
