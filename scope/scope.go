package scope

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/NetPo4ki/go-async/async"
)

type Option func(*Options)

type Options struct {
	PanicAsError   bool
	Observer       Observer
	MaxConcurrency int
	Logger         *slog.Logger
}

func defaultOptions() Options { return Options{PanicAsError: true} }

func WithPanicAsError(v bool) Option { return func(o *Options) { o.PanicAsError = v } }

func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

func WithMaxConcurrency(n int) Option { return func(o *Options) { o.MaxConcurrency = n } }

func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

// Observer receives scope lifecycle callbacks. Implementations must be safe
// for concurrent use and must not block.
type Observer interface {
	ScopeCreated()
	TaskSpawned()
	TaskFinished(dur time.Duration, err error, panicked bool)
	ScopeJoined(wait time.Duration)
}

const errUnmatchedCompletion = "scope: OperationCompleted without a matching spawn"

// Scope counts outstanding operations and releases joiners when the count
// drops to zero. Until the first join the scope holds one reference of its
// own, so operations may be spawned while earlier ones are completing; the
// first join drops it. Joining a scope that never spawned anything completes
// at once.
//
// Spawning after a join has completed re-arms the scope. That is only safe
// once the join has been observed; a spawn racing the final completion of a
// joined scope is a caller error.
type Scope struct {
	count  atomic.Int64
	closed atomic.Bool
	joined async.ManualResetEvent

	mu       async.SpinLock
	firstErr error

	opts Options
	obs  Observer
	lim  Limiter
	log  *slog.Logger
}

func New(optFns ...Option) *Scope {
	s := &Scope{opts: defaultOptions()}
	for _, fn := range optFns {
		fn(&s.opts)
	}
	s.init()
	return s
}

func (s *Scope) init() {
	s.count.Store(1)
	s.obs = s.opts.Observer
	s.lim = newSemaphoreLimiter(s.opts.MaxConcurrency)
	s.log = s.opts.Logger
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.obs != nil {
		s.obs.ScopeCreated()
	}
}

// Spawn counts a new operation and starts it at once on the calling
// goroutine. start must arrange for done to be called when the operation
// finishes, on every path; calls after the first are ignored. A panic in
// start terminates the process (see async.OneWay).
func (s *Scope) Spawn(start func(done func())) {
	if start == nil {
		return
	}
	finish := s.begin()
	async.OneWay(func() {
		start(func() { finish(nil, false) })
	})
}

// SpawnOn counts a new operation whose body runs on sched.
func (s *Scope) SpawnOn(sched async.Scheduler, fn func()) {
	if fn == nil {
		return
	}
	s.Spawn(func(done func()) {
		sched.Schedule(async.NewCallback(func() {
			defer done()
			fn()
		}))
	})
}

// Go runs fn on a new goroutine under the scope. A returned error is
// recorded; the first one is reported by Err and Wait. A panic becomes an
// *async.PanicError when PanicAsError is set and terminates the process
// otherwise.
func (s *Scope) Go(ctx context.Context, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	finish := s.begin()
	go async.OneWay(func() {
		escaped := true
		defer func() {
			if escaped {
				finish(nil, true)
			}
		}()
		err := s.run(ctx, fn)
		escaped = false
		finish(err, errors.As(err, new(*async.PanicError)))
	})
}

func (s *Scope) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.lim != nil {
		if err := s.lim.Acquire(ctx); err != nil {
			s.fail(err)
			return err
		}
		defer s.lim.Release()
	}
	if s.opts.PanicAsError {
		defer func() {
			if r := recover(); r != nil {
				pe := async.NewPanicError(r)
				s.log.Warn("scope: task panicked", slog.Any("panic", r))
				s.fail(pe)
				err = pe
			}
		}()
	}
	if err = fn(ctx); err != nil {
		s.log.Debug("scope: task failed", slog.Any("error", err))
		s.fail(err)
	}
	return err
}

// Nest runs fn with a child scope and counts the child as one operation of
// s until everything spawned by fn has finished. The child inherits the
// options of s unless overridden; its first error is recorded on s.
func (s *Scope) Nest(fn func(child *Scope), optFns ...Option) {
	if fn == nil {
		return
	}
	child := &Scope{opts: s.opts}
	for _, o := range optFns {
		o(&child.opts)
	}
	child.init()
	s.Spawn(func(done func()) {
		fn(child)
		child.JoinAsync(async.NewCallback(func() {
			if err := child.Err(); err != nil {
				s.fail(err)
			}
			done()
		}))
	})
}

// begin counts a new operation and returns its completion callback.
func (s *Scope) begin() func(err error, panicked bool) {
	s.joined.Reset()
	s.count.Add(1)
	var start time.Time
	if s.obs != nil {
		start = time.Now()
		s.obs.TaskSpawned()
	}
	var once atomic.Bool
	return func(err error, panicked bool) {
		if !once.CompareAndSwap(false, true) {
			return
		}
		if s.obs != nil {
			s.obs.TaskFinished(time.Since(start), err, panicked)
		}
		s.OperationCompleted()
	}
}

// OperationCompleted marks one spawned operation as finished. The call that
// takes the count from one to zero releases every joiner. It panics rather
// than take the count below zero.
func (s *Scope) OperationCompleted() {
	for {
		c := s.count.Load()
		if c <= s.reserved() {
			panic(errUnmatchedCompletion)
		}
		if s.count.CompareAndSwap(c, c-1) {
			if c == 1 {
				s.joined.Set()
			}
			return
		}
	}
}

// reserved is the part of count held by the scope itself.
func (s *Scope) reserved() int64 {
	if s.closed.Load() {
		return 0
	}
	return 1
}

// close drops the scope's own reference, once.
func (s *Scope) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.count.Add(-1) == 0 {
		s.joined.Set()
	}
}

// JoinAsync registers op to be executed once no operation is outstanding.
// Every join path goes through here, so the observer sees each one.
func (s *Scope) JoinAsync(op async.Operation) {
	s.close()
	if s.obs != nil {
		start := time.Now()
		inner := op
		op = async.NewCallback(func() {
			s.obs.ScopeJoined(time.Since(start))
			inner.Execute()
		})
	}
	s.joined.Register(op)
}

// Register makes a Scope an async.Awaitable; it is JoinAsync.
func (s *Scope) Register(op async.Operation) {
	s.JoinAsync(op)
}

// Join blocks until no operation is outstanding or ctx is done.
func (s *Scope) Join(ctx context.Context) error {
	return async.Await(ctx, s)
}

// Wait joins the scope and returns the first recorded error.
func (s *Scope) Wait() error {
	// Await fails only when its context ends.
	_ = async.Await(context.Background(), s)
	return s.Err()
}

// Err returns the first error recorded by a task, or nil.
func (s *Scope) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Count returns the number of outstanding operations.
func (s *Scope) Count() int64 {
	if n := s.count.Load() - s.reserved(); n > 0 {
		return n
	}
	return 0
}

func (s *Scope) fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
}
