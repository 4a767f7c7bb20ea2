package msgworker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TryDispatch no debe bloquear al caller aunque el job tarde
func TestPool_TryDispatchNonBlocking(t *testing.T) {
	pool := NewPool(2, 10)
	pool.Start(context.Background())
	defer pool.Stop()

	start := time.Now()
	ok := pool.TryDispatch(Job{
		SessionID: "s1",
		Kind:      "message",
		Handler: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})
	require.True(t, ok)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

// Jobs de la misma sesión se procesan en orden
func TestPool_SameSessionSequential(t *testing.T) {
	pool := NewPool(4, 100)
	pool.Start(context.Background())
	defer pool.Stop()

	var mu sync.Mutex
	var results []int

	for i := 1; i <= 5; i++ {
		val := i
		require.NoError(t, pool.Submit(context.Background(), Job{
			SessionID: "session-a",
			Kind:      "message",
			Handler: func(ctx context.Context) error {
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				results = append(results, val)
				mu.Unlock()
				return nil
			},
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 5
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, results)
}

func TestPool_DifferentSessionsInParallel(t *testing.T) {
	pool := NewPool(4, 100)
	pool.Start(context.Background())
	defer pool.Stop()

	var active, maxActive int32
	var done sync.WaitGroup

	// busca sesiones que caigan en workers distintos
	used := map[int]bool{}
	var sessions []string
	for i := 0; len(sessions) < 3 && i < 1000; i++ {
		id := fmt.Sprintf("s-%d", i)
		if shard := pool.shardFor(id); !used[shard] {
			used[shard] = true
			sessions = append(sessions, id)
		}
	}
	require.Len(t, sessions, 3)

	for _, id := range sessions {
		done.Add(1)
		require.True(t, pool.TryDispatch(Job{
			SessionID: id,
			Handler: func(ctx context.Context) error {
				defer done.Done()
				cur := atomic.AddInt32(&active, 1)
				for {
					prev := atomic.LoadInt32(&maxActive)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			},
		}))
	}

	done.Wait()
	assert.GreaterOrEqual(t, atomic.LoadInt32(&maxActive), int32(2))
}

// Un job que falla o entra en pánico no detiene la cola
func TestPool_FailuresDoNotBlockQueue(t *testing.T) {
	pool := NewPool(1, 10)
	pool.Start(context.Background())
	defer pool.Stop()

	var ran atomic.Bool
	require.NoError(t, pool.Submit(context.Background(), Job{SessionID: "s", Handler: func(ctx context.Context) error {
		return errors.New("boom")
	}}))
	require.NoError(t, pool.Submit(context.Background(), Job{SessionID: "s", Handler: func(ctx context.Context) error {
		panic("kaboom")
	}}))
	require.NoError(t, pool.Submit(context.Background(), Job{SessionID: "s", Handler: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}}))

	require.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), pool.Stats().TotalErrors)
}

func TestPool_StopDrainsQueuedJobs(t *testing.T) {
	pool := NewPool(1, 10)
	pool.Start(context.Background())

	var completed int32
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Submit(context.Background(), Job{
			SessionID: "s",
			Handler: func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&completed, 1)
				return nil
			},
		}))
	}

	pool.Stop()
	assert.Equal(t, int32(3), atomic.LoadInt32(&completed))

	assert.ErrorIs(t, pool.Submit(context.Background(), Job{SessionID: "s", Handler: func(ctx context.Context) error { return nil }}), ErrPoolStopped)
	assert.False(t, pool.TryDispatch(Job{SessionID: "s", Handler: func(ctx context.Context) error { return nil }}))
}

func TestPool_SubmitHonoursContextWhenFull(t *testing.T) {
	pool := NewPool(1, 1)
	pool.Start(context.Background())
	defer pool.Stop()

	release := make(chan struct{})
	block := func(ctx context.Context) error {
		<-release
		return nil
	}
	require.NoError(t, pool.Submit(context.Background(), Job{SessionID: "s", Handler: block}))
	// el worker ya tomó el primer job, este ocupa la única posición de la cola
	require.Eventually(t, func() bool { return pool.Stats().ActiveWorkers == 1 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(context.Background(), Job{SessionID: "s", Handler: block}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, Job{SessionID: "s", Handler: block})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestPool_ConsistentHashing(t *testing.T) {
	pool := NewPool(4, 100)

	shard := pool.shardFor("session-123")
	assert.Equal(t, shard, pool.shardFor("session-123"))
	assert.GreaterOrEqual(t, shard, 0)
	assert.Less(t, shard, 4)
}

func TestPool_FairDistribution(t *testing.T) {
	pool := NewPool(4, 100)

	counts := make(map[int]int)
	for i := 0; i < 400; i++ {
		counts[pool.shardFor(fmt.Sprintf("session-%d", i))]++
	}

	for shard, count := range counts {
		assert.Greater(t, count, 60, "worker %d", shard)
		assert.Less(t, count, 140, "worker %d", shard)
	}
}
