package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexTryLock(t *testing.T) {
	t.Parallel()
	var m Mutex
	require.True(t, m.TryLock())
	require.False(t, m.TryLock())
	m.Unlock()
	require.True(t, m.TryLock())
	m.Unlock()
}

func TestMutexStartAcquireSynchronous(t *testing.T) {
	t.Parallel()
	var m Mutex
	ran := false
	op := NewCallback(func() { ran = true })
	require.False(t, m.StartAcquire(op), "free mutex is acquired without suspending")
	assert.False(t, ran, "op is not executed when acquired synchronously")
	assert.False(t, m.TryLock())
	m.Unlock()
}

func TestMutexUnlockOfUnlockedPanics(t *testing.T) {
	t.Parallel()
	var m Mutex
	assert.PanicsWithValue(t, "async: unlock of unlocked Mutex", m.Unlock)
}

func TestMutexEveryWaiterResumedOnce(t *testing.T) {
	t.Parallel()
	const n = 8
	var m Mutex
	require.True(t, m.TryLock())

	counts := make([]int, n)
	rec := &recorder{}
	for i := 0; i < n; i++ {
		i := i
		require.True(t, m.StartAcquire(NewCallback(func() {
			counts[i]++
			rec.mu.Lock()
			rec.ids = append(rec.ids, i)
			rec.mu.Unlock()
		})))
	}
	for i := 0; i < n; i++ {
		m.Unlock()
	}
	for i, c := range counts {
		assert.Equal(t, 1, c, "waiter %d", i)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, rec.got(), "one batch is served in arrival order")

	// Ownership went to the last waiter; one more unlock frees the mutex.
	assert.False(t, m.TryLock())
	m.Unlock()
	assert.True(t, m.TryLock())
	m.Unlock()
}

func TestMutexLateArrivalsQueueBehindBatch(t *testing.T) {
	t.Parallel()
	var m Mutex
	rec := &recorder{}
	require.True(t, m.TryLock())
	m.StartAcquire(rec.op(1))
	m.StartAcquire(rec.op(2))

	m.Unlock() // claims {1,2}, hands over to 1
	m.StartAcquire(rec.op(3))
	m.Unlock() // 2 is still pending ahead of 3
	m.Unlock() // pending empty, claims {3}
	m.Unlock()

	assert.Equal(t, []int{1, 2, 3}, rec.got())
	assert.True(t, m.TryLock())
	m.Unlock()
}

func TestMutexHandoffNeverExposesUnlocked(t *testing.T) {
	t.Parallel()
	var m Mutex
	require.True(t, m.TryLock())

	var stolen bool
	m.StartAcquire(NewCallback(func() {
		// Running as the new owner: the mutex must still be locked.
		stolen = m.TryLock()
	}))
	m.Unlock()
	assert.False(t, stolen)
	m.Unlock()
}

func TestMutexAcquireCallback(t *testing.T) {
	t.Parallel()
	var m Mutex
	var order []string
	m.Acquire(func() { order = append(order, "first") })
	m.Acquire(func() {
		order = append(order, "second")
		m.Unlock()
	})
	assert.Equal(t, []string{"first"}, order)
	m.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
	assert.True(t, m.TryLock())
	m.Unlock()
}

func TestMutexSafetyUnderContention(t *testing.T) {
	t.Parallel()
	const workers = 16
	const rounds = 200
	var m Mutex
	var inside, maxSeen atomic.Int32
	var total int

	enter := func() {
		c := inside.Add(1)
		for {
			old := maxSeen.Load()
			if c <= old || maxSeen.CompareAndSwap(old, c) {
				break
			}
		}
		total++
		inside.Add(-1)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				if w%2 == 0 {
					assert.NoError(t, m.WithLock(context.Background(), enter))
					continue
				}
				done := make(chan struct{})
				m.Acquire(func() {
					enter()
					m.Unlock()
					close(done)
				})
				<-done
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load(), "critical section entered concurrently")
	assert.Equal(t, workers*rounds, total)
}

func TestMutexLockRespectsContext(t *testing.T) {
	t.Parallel()
	var m Mutex
	require.NoError(t, m.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.Lock(ctx), context.DeadlineExceeded)

	// The abandoned waiter receives ownership and passes it on.
	m.Unlock()
	assert.True(t, m.TryLock(), "ownership stranded on abandoned waiter")
	m.Unlock()
}

func TestMutexAbandonedWaiterPassesOwnershipOn(t *testing.T) {
	t.Parallel()
	var m Mutex
	require.True(t, m.TryLock())

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() { abandoned <- m.Lock(ctx) }()
	time.Sleep(10 * time.Millisecond)

	got := make(chan error, 1)
	go func() { got <- m.Lock(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-abandoned, context.Canceled)
	m.Unlock()

	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second waiter never acquired the mutex")
	}
	m.Unlock()
}
