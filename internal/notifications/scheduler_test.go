package notifications

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dharshni15/job/internal/pkg/lease"
)

func TestScheduler_RunsTasksWithoutOverlap(t *testing.T) {
	s := NewScheduler(lease.NewLocal(), testLogger())

	var running, maxRunning, runs int32
	s.Add("tick", 10*time.Millisecond, func(context.Context) {
		cur := atomic.AddInt32(&running, 1)
		for {
			prev := atomic.LoadInt32(&maxRunning)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxRunning, prev, cur) {
				break
			}
		}
		time.Sleep(3 * time.Millisecond)
		atomic.AddInt32(&runs, 1)
		atomic.AddInt32(&running, -1)
	})

	s.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2), "task should run repeatedly")
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning), "runs must never overlap")
}

func TestScheduler_HeldLeaseSkipsRun(t *testing.T) {
	locker := lease.NewLocal()

	// Another instance holds the lease for this task.
	_, acquired, err := locker.Acquire(context.Background(), "tick", time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	s := NewScheduler(locker, testLogger())
	var runs int32
	s.Add("tick", 10*time.Millisecond, func(context.Context) {
		atomic.AddInt32(&runs, 1)
	})

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(0), atomic.LoadInt32(&runs), "held lease means the tick is a no-op")
}

func TestScheduler_IndependentTasks(t *testing.T) {
	s := NewScheduler(lease.NewLocal(), testLogger())

	var a, b int32
	s.Add("task_a", 10*time.Millisecond, func(context.Context) { atomic.AddInt32(&a, 1) })
	s.Add("task_b", 10*time.Millisecond, func(context.Context) { atomic.AddInt32(&b, 1) })

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	assert.Greater(t, atomic.LoadInt32(&a), int32(0))
	assert.Greater(t, atomic.LoadInt32(&b), int32(0))
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	s := NewScheduler(lease.NewLocal(), testLogger())

	var runs int32
	s.Add("tick", 5*time.Millisecond, func(context.Context) { atomic.AddInt32(&runs, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	before := atomic.LoadInt32(&runs)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, atomic.LoadInt32(&runs), "no runs after cancellation")

	s.Stop()
}
