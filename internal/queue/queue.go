package queue

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"trade_hook/internal/metrics"
	"trade_hook/pkg/tracing"
)

var (
	ErrClosed    = errors.New("queue is closed")
	ErrQueueFull = errors.New("queue is full")
	ErrDuplicate = errors.New("job already queued")
)

type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateRetry   State = "retry"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Handler обрабатывает одну попытку задачи. Ошибка => повтор, Permanent(err) => сразу failed.
type Handler func(ctx context.Context, job Job) error

type Options struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Buffer      int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.MaxBackoff < o.Backoff {
		o.MaxBackoff = o.Backoff
	}
	if o.Buffer <= 0 {
		o.Buffer = 1024
	}
	return o
}

// Job: снимок задачи. Payload передаётся обработчику как есть.
type Job struct {
	ID         string    `json:"id"`
	Payload    any       `json:"-"`
	State      State     `json:"state"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Status struct {
	Workers int `json:"workers"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Retry   int `json:"retry"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

// Queue: очередь с ограниченным пулом воркеров и повторами с экспоненциальной паузой.
// Гарантия at-least-once: обработчик должен быть идемпотентным.
type Queue struct {
	opts    Options
	handler Handler
	log     *zap.Logger
	now     func() time.Time

	jobs chan string
	done chan struct{}

	mu      sync.RWMutex
	index   map[string]*Job
	closed  bool
	started bool
}

func New(opts Options, handler Handler, log *zap.Logger) *Queue {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		opts:    opts,
		handler: handler,
		log:     log,
		now:     time.Now,
		jobs:    make(chan string, opts.Buffer),
		done:    make(chan struct{}),
		index:   make(map[string]*Job),
	}
}

func (q *Queue) Options() Options { return q.opts }

// Start запускает диспетчер. Задачи выполняются до отмены ctx или Stop.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go func() {
		defer close(q.done)

		p := pool.New().WithMaxGoroutines(q.opts.Workers)
		defer p.Wait()

		for {
			select {
			case <-ctx.Done():
				return
			case id, ok := <-q.jobs:
				if !ok {
					return
				}
				p.Go(func() { q.run(ctx, id) })
			}
		}
	}()
}

// Stop перестаёт принимать задачи и ждёт завершения текущих (или отмены ctx).
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	close(q.jobs)
	q.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue ставит задачу с заданным id. Повторный id, пока задача жива, отклоняется.
func (q *Queue) Enqueue(id string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if job, ok := q.index[id]; ok && job.State != StateDone && job.State != StateFailed {
		return errors.Wrapf(ErrDuplicate, "job %s", id)
	}

	now := q.now()
	job := &Job{ID: id, Payload: payload, State: StateQueued, EnqueuedAt: now, UpdatedAt: now}

	select {
	case q.jobs <- id:
	default:
		return ErrQueueFull
	}
	q.index[id] = job
	metrics.QueueDepth.Inc()
	return nil
}

// Get возвращает копию состояния задачи.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.index[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (q *Queue) Status() Status {
	q.mu.RLock()
	defer q.mu.RUnlock()

	st := Status{Workers: q.opts.Workers}
	for _, job := range q.index {
		switch job.State {
		case StateQueued:
			st.Queued++
		case StateRunning:
			st.Running++
		case StateRetry:
			st.Retry++
		case StateDone:
			st.Done++
		case StateFailed:
			st.Failed++
		}
	}
	return st
}

// Prune удаляет завершённые задачи старше olderThan.
func (q *Queue) Prune(olderThan time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	removed := 0
	for id, job := range q.index {
		if (job.State == StateDone || job.State == StateFailed) && job.UpdatedAt.Before(cutoff) {
			delete(q.index, id)
			removed++
		}
	}
	return removed
}

// backoff для попытки attempt (с 1): Backoff * 2^(attempt-1), не больше MaxBackoff.
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.opts.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.opts.MaxBackoff {
			return q.opts.MaxBackoff
		}
	}
	return d
}

func (q *Queue) run(ctx context.Context, id string) {
	defer metrics.QueueDepth.Dec()

	for attempt := 1; attempt <= q.opts.MaxAttempts; attempt++ {
		snapshot, ok := q.transition(id, StateRunning, attempt, "")
		if !ok {
			return
		}

		err := q.attempt(ctx, snapshot)
		if err == nil {
			q.transition(id, StateDone, attempt, "")
			metrics.QueueJobs.WithLabelValues("done").Inc()
			return
		}

		if IsPermanent(err) || attempt == q.opts.MaxAttempts {
			q.transition(id, StateFailed, attempt, err.Error())
			metrics.QueueJobs.WithLabelValues("failed").Inc()
			q.log.Error("queue job failed",
				zap.String("job_id", id),
				zap.Int("attempt", attempt),
				zap.Bool("permanent", IsPermanent(err)),
				zap.Error(err),
			)
			return
		}

		q.transition(id, StateRetry, attempt, err.Error())
		metrics.QueueJobs.WithLabelValues("retry").Inc()
		wait := q.backoff(attempt)
		q.log.Warn("queue job retry",
			zap.String("job_id", id),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			q.transition(id, StateFailed, attempt, ctx.Err().Error())
			metrics.QueueJobs.WithLabelValues("failed").Inc()
			return
		case <-t.C:
		}
	}
}

func (q *Queue) attempt(ctx context.Context, job Job) (err error) {
	span, ctx := tracing.Start(ctx, "queue.job", map[string]any{"job_id": job.ID, "attempt": job.Attempts})
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("panic: %v", p)
		}
		tracing.Finish(span, err)
	}()
	return q.handler(ctx, job)
}

func (q *Queue) transition(id string, state State, attempt int, lastErr string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.index[id]
	if !ok {
		return Job{}, false
	}
	job.State = state
	job.Attempts = attempt
	job.LastError = lastErr
	job.UpdatedAt = q.now()
	return *job, true
}
