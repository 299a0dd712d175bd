package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder collects the ids of executed operations in order.
type recorder struct {
	mu  sync.Mutex
	ids []int
}

func (r *recorder) op(id int) *Callback {
	return NewCallback(func() {
		r.mu.Lock()
		r.ids = append(r.ids, id)
		r.mu.Unlock()
	})
}

func (r *recorder) got() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ids...)
}

func TestEventSetReleasesInRegistrationOrder(t *testing.T) {
	t.Parallel()
	var ev ManualResetEvent
	rec := &recorder{}
	for i := 1; i <= 5; i++ {
		ev.Register(rec.op(i))
	}
	require.Empty(t, rec.got(), "nothing may run before Set")
	ev.Set()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, rec.got())
	assert.True(t, ev.IsSet())
}

func TestEventSetIsIdempotent(t *testing.T) {
	t.Parallel()
	var ev ManualResetEvent
	var runs atomic.Int32
	for i := 0; i < 3; i++ {
		ev.Register(NewCallback(func() { runs.Add(1) }))
	}
	ev.Set()
	ev.Set()
	assert.Equal(t, int32(3), runs.Load())
}

func TestEventResetOnEmpty(t *testing.T) {
	t.Parallel()
	var ev ManualResetEvent
	ev.Reset()
	assert.False(t, ev.IsSet())

	ev.Set()
	ev.Reset()
	assert.False(t, ev.IsSet())
	ev.Set()
	assert.True(t, ev.IsSet())
}

func TestEventResetLeavesWaitersAlone(t *testing.T) {
	t.Parallel()
	var ev ManualResetEvent
	rec := &recorder{}
	ev.Register(rec.op(1))
	ev.Reset()
	require.Empty(t, rec.got())
	ev.Set()
	assert.Equal(t, []int{1}, rec.got())
}

func TestEventRegisterAfterSetRunsInline(t *testing.T) {
	t.Parallel()
	ev := NewManualResetEvent(true)
	ran := false
	ev.Register(NewCallback(func() { ran = true }))
	assert.True(t, ran)

	ev.Reset()
	ran = false
	ev.Register(NewCallback(func() { ran = true }))
	assert.False(t, ran)
	ev.Set()
	assert.True(t, ran)
}

func TestEventOperationReusableAfterExecute(t *testing.T) {
	t.Parallel()
	var ev ManualResetEvent
	var runs int
	op := NewCallback(func() { runs++ })
	ev.Register(op)
	ev.Set()
	ev.Reset()
	ev.Register(op)
	ev.Set()
	assert.Equal(t, 2, runs)
}

func TestEventDoubleRegisterPanics(t *testing.T) {
	t.Parallel()
	var ev ManualResetEvent
	op := NewCallback(func() {})
	ev.Register(op)
	assert.PanicsWithValue(t, "async: operation is already registered", func() {
		ev.Register(op)
	})
	ev.Set()
}

func TestEventConcurrentRegisterAndSet(t *testing.T) {
	t.Parallel()
	const n = 64
	var ev ManualResetEvent
	var runs atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ev.Register(NewCallback(func() { runs.Add(1) }))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		ev.Set()
	}()
	close(start)
	wg.Wait()
	ev.Set()
	assert.Equal(t, int32(n), runs.Load(), "every registration executes exactly once")
}

func TestEventWaitProducerFirst(t *testing.T) {
	t.Parallel()
	var ev ManualResetEvent
	value := 42
	ev.Set()

	var wg sync.WaitGroup
	out := make([]int, 2)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(5 * time.Millisecond)
			if err := ev.Wait(context.Background()); err == nil {
				out[i] = value
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, []int{42, 42}, out)
}

func TestEventWaitConsumerFirst(t *testing.T) {
	t.Parallel()
	var ev ManualResetEvent
	value := 0

	var wg sync.WaitGroup
	out := make([]int, 2)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := ev.Wait(context.Background()); err == nil {
				out[i] = value
			}
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	value = 42
	ev.Set()
	wg.Wait()
	assert.Equal(t, []int{42, 42}, out)
}

func TestEventWaitRespectsContext(t *testing.T) {
	t.Parallel()
	var ev ManualResetEvent
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := ev.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	// The abandoned waiter is still linked; Set must release it harmlessly.
	ev.Set()
	require.NoError(t, ev.Wait(context.Background()))
}
