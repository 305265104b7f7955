package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsJobsInOrder(t *testing.T) {
	q := New(Config{Size: 16})
	defer q.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, q.Submit("ordered", func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	q.Drain()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
	assert.Equal(t, int64(10), q.Stats().Completed)
}

func TestQueue_RetriesThenGivesUp(t *testing.T) {
	q := New(Config{Size: 4, MaxRetries: 3, RetryDelay: time.Millisecond})
	defer q.Close()

	attempts := 0
	q.Submit("flaky", func(ctx context.Context) error {
		attempts++
		return errors.New("store unavailable")
	})
	q.Drain()

	assert.Equal(t, 3, attempts)
	assert.Equal(t, int64(1), q.Stats().Failed)
}

func TestQueue_RecoversFromPanic(t *testing.T) {
	q := New(Config{Size: 4, RetryDelay: time.Millisecond})
	defer q.Close()

	q.Submit("boom", func(ctx context.Context) error { panic("bad write") })
	ran := false
	q.Submit("after", func(ctx context.Context) error { ran = true; return nil })
	q.Drain()

	assert.True(t, ran)
	assert.Equal(t, int64(1), q.Stats().Failed)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := New(Config{Size: 1})
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, q.Submit("block", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.True(t, q.Submit("queued", func(ctx context.Context) error { return nil }))
	assert.False(t, q.Submit("overflow", func(ctx context.Context) error { return nil }))

	close(release)
	q.Drain()
	assert.Equal(t, int64(1), q.Stats().Dropped)
}

func TestQueue_RejectsAfterClose(t *testing.T) {
	q := New(Config{})
	q.Close()
	q.Close()

	assert.False(t, q.Submit("late", func(ctx context.Context) error { return nil }))
}

func TestQueue_DrainWhileSubmitting(t *testing.T) {
	q := New(Config{Size: 64})
	defer q.Close()

	var accepted, ran atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if q.Submit("record_query", func(ctx context.Context) error {
					ran.Add(1)
					return nil
				}) {
					accepted.Add(1)
				}
			}
		}()
	}

	stop := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case <-stop:
				return
			default:
				q.Drain()
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-drained
	q.Drain()

	assert.Equal(t, accepted.Load(), ran.Load())
	assert.Equal(t, accepted.Load(), q.Stats().Completed)
}
