package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{Workers: 2, MaxAttempts: 3, Backoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func waitState(t *testing.T, q *Queue, id string, want State) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = q.Get(id)
		return ok && job.State == want
	}, 2*time.Second, 2*time.Millisecond)
	return job
}

func TestQueue_ProcessesJob(t *testing.T) {
	var got atomic.Value
	q := New(fastOptions(), func(ctx context.Context, job Job) error {
		got.Store(job.Payload)
		return nil
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue("a", "payload"))
	job := waitState(t, q, "a", StateDone)

	assert.Equal(t, 1, job.Attempts)
	assert.Empty(t, job.LastError)
	assert.Equal(t, "payload", got.Load())
	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	q := New(fastOptions(), func(ctx context.Context, job Job) error {
		if calls.Add(1) < 3 {
			return errors.New("db down")
		}
		return nil
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue("b", nil))
	job := waitState(t, q, "b", StateDone)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	q := New(fastOptions(), func(ctx context.Context, job Job) error {
		calls.Add(1)
		return errors.New("still down")
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue("c", nil))
	job := waitState(t, q, "c", StateFailed)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "still down", job.LastError)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_PermanentIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	q := New(fastOptions(), func(ctx context.Context, job Job) error {
		calls.Add(1)
		return Permanent(errors.New("bad input"))
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue("d", nil))
	job := waitState(t, q, "d", StateFailed)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_PanicIsAFailure(t *testing.T) {
	q := New(Options{MaxAttempts: 1}, func(ctx context.Context, job Job) error {
		panic("boom")
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue("p", nil))
	job := waitState(t, q, "p", StateFailed)
	assert.Contains(t, job.LastError, "boom")
}

func TestQueue_WorkerLimit(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	q := New(Options{Workers: 2}, func(ctx context.Context, job Job) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	for _, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, q.Enqueue(id, nil))
	}
	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, time.Millisecond)
	st := q.Status()
	assert.Equal(t, 2, st.Running)
	assert.Equal(t, 3, st.Queued)
	assert.Equal(t, 2, st.Workers)

	close(release)
	require.Eventually(t, func() bool { return q.Status().Done == 5 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(2), peak.Load())
}

func TestQueue_DuplicateAndClosed(t *testing.T) {
	q := New(fastOptions(), func(ctx context.Context, job Job) error { return nil }, nil)

	require.NoError(t, q.Enqueue("x", nil))
	err := q.Enqueue("x", nil)
	assert.True(t, errors.Is(err, ErrDuplicate))

	require.NoError(t, q.Stop(context.Background()))
	assert.Equal(t, ErrClosed, q.Enqueue("y", nil))
}

func TestQueue_Full(t *testing.T) {
	q := New(Options{Buffer: 1}, func(ctx context.Context, job Job) error { return nil }, nil)
	require.NoError(t, q.Enqueue("1", nil))
	assert.Equal(t, ErrQueueFull, q.Enqueue("2", nil))

	_, ok := q.Get("2")
	assert.False(t, ok)
}

func TestQueue_Backoff(t *testing.T) {
	q := New(Options{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second}, nil, nil)
	assert.Equal(t, 100*time.Millisecond, q.backoff(1))
	assert.Equal(t, 200*time.Millisecond, q.backoff(2))
	assert.Equal(t, 400*time.Millisecond, q.backoff(3))
	assert.Equal(t, 800*time.Millisecond, q.backoff(4))
	assert.Equal(t, time.Second, q.backoff(5))
	assert.Equal(t, time.Second, q.backoff(12))
}

func TestQueue_Defaults(t *testing.T) {
	o := New(Options{}, nil, nil).Options()
	assert.Equal(t, 5, o.Workers)
	assert.Equal(t, 3, o.MaxAttempts)
}

func TestQueue_Prune(t *testing.T) {
	q := New(fastOptions(), func(ctx context.Context, job Job) error { return nil }, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue("old", nil))
	waitState(t, q, "old", StateDone)

	assert.Equal(t, 0, q.Prune(time.Hour))
	q.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, q.Prune(time.Hour))
	_, ok := q.Get("old")
	assert.False(t, ok)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("x")
	err := errors.Wrap(Permanent(base), "ctx")
	assert.True(t, IsPermanent(err))
	assert.True(t, errors.Is(err, base))
	assert.False(t, IsPermanent(base))
}
