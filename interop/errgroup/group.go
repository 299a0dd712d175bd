// Package errgroup provides an adapter that mimics golang.org/x/sync/errgroup
// semantics on top of a counting scope. It lets code written against errgroup
// move onto scope.Scope one call site at a time.
package errgroup

import (
	"context"
	"sync"

	"github.com/NetPo4ki/go-async/scope"
)

// Group is an errgroup-like wrapper over scope.Scope. The zero value is
// usable and does not cancel on error.
type Group struct {
	once   sync.Once
	opts   []scope.Option
	s      *scope.Scope
	ctx    context.Context
	cancel context.CancelCauseFunc

	errOnce sync.Once
	err     error
}

// WithContext creates a Group bound to ctx. The returned context is canceled
// when any function passed to Go returns a non-nil error or when Wait
// returns, whichever occurs first.
func WithContext(ctx context.Context, opts ...scope.Option) (*Group, context.Context) {
	cctx, cancel := context.WithCancelCause(ctx)
	g := &Group{opts: opts, ctx: cctx, cancel: cancel}
	return g, cctx
}

func (g *Group) scope() *scope.Scope {
	g.once.Do(func() {
		g.s = scope.New(g.opts...)
		if g.ctx == nil {
			g.ctx = context.Background()
		}
	})
	return g.s
}

// Go starts a function. It should return a non-nil error to signal failure.
func (g *Group) Go(f func() error) {
	if f == nil {
		return
	}
	s := g.scope()
	s.Go(g.ctx, func(context.Context) error {
		err := f()
		if err != nil {
			g.errOnce.Do(func() {
				g.err = err
				if g.cancel != nil {
					g.cancel(err)
				}
			})
		}
		return err
	})
}

// Wait blocks until all functions have returned and reports the first
// non-nil error, if any. An error that caused the cancellation wins over
// errors siblings returned because of it.
func (g *Group) Wait() error {
	err := g.scope().Wait()
	if g.err != nil {
		err = g.err
	}
	if g.cancel != nil {
		g.cancel(err)
	}
	return err
}
