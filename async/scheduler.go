package async

import "golang.org/x/sync/errgroup"

// Scheduler decides where an Operation's Execute runs.
type Scheduler interface {
	Schedule(op Operation)
}

// Inline executes operations on the scheduling goroutine.
type Inline struct{}

// Schedule executes op at once.
func (Inline) Schedule(op Operation) { op.Execute() }

// Goroutine executes each operation as a one-way task on a new goroutine.
type Goroutine struct{}

// Schedule starts op on a new goroutine.
func (Goroutine) Schedule(op Operation) { go OneWay(op.Execute) }

// Pool executes operations on a bounded set of goroutines.
type Pool struct {
	g errgroup.Group
}

// NewPool returns a pool running at most n operations at a time. A
// non-positive n leaves it unbounded.
func NewPool(n int) *Pool {
	p := &Pool{}
	if n > 0 {
		p.g.SetLimit(n)
	}
	return p
}

// Schedule queues op. It blocks while the pool is at its limit, so it must
// not be called from an operation running on the same pool.
func (p *Pool) Schedule(op Operation) {
	p.g.Go(func() error {
		OneWay(op.Execute)
		return nil
	})
}

// Wait blocks until every scheduled operation has returned.
func (p *Pool) Wait() {
	_ = p.g.Wait()
}

type redispatch struct {
	Link
	s  Scheduler
	op Operation
}

func (r *redispatch) Execute() { r.s.Schedule(r.op) }

// Via wraps op so that, when a primitive executes it, op.Execute is handed to
// s instead of running on the releasing goroutine. Register the returned
// operation in place of op.
func Via(s Scheduler, op Operation) Operation {
	return &redispatch{s: s, op: op}
}
