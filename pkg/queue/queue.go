package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrClosed = errors.New("queue closed")

// Task is a unit of work run by the queue. ctx is cancelled when the task's
// TaskTimeout elapses.
type Task[T any] func(ctx context.Context) (T, error)

type Config struct {
	// RateLimit caps task starts per second. Zero disables limiting.
	RateLimit float64
	Burst     int
	// TaskTimeout bounds each task through its context. Zero disables it.
	TaskTimeout time.Duration
	Logger      *zap.Logger
}

// Queue runs submitted tasks one at a time, in submission order, on a single
// worker goroutine. A failing task only affects its own Handle.
type Queue struct {
	config  Config
	logger  *zap.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	pending   []job
	running   bool
	closed    bool
	submitted uint64
	stats     Status

	wake chan struct{}
	done chan struct{}
}

type job struct {
	run  func(ctx context.Context) error
	seq  uint64
	fail func(err error)
}

// Status is a point-in-time view of the queue.
type Status struct {
	Pending   int  `json:"pending"`
	Running   bool `json:"running"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
}

// New starts the worker goroutine. Call Close to stop it.
func New(config Config) *Queue {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	q := &Queue{
		config: config,
		logger: config.Logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	go q.loop()
	return q
}

// Enqueue submits task and returns a handle that settles with the task's own
// result. It never blocks on other tasks. After Close, the handle settles
// immediately with ErrClosed.
func Enqueue[T any](q *Queue, task Task[T]) *Handle[T] {
	h := newHandle[T]()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		h.settle(*new(T), ErrClosed)
		return h
	}
	q.submitted++
	q.pending = append(q.pending, job{
		seq: q.submitted,
		run: func(ctx context.Context) error {
			v, err := runTask(ctx, task)
			h.settle(v, err)
			return err
		},
		fail: func(err error) {
			h.settle(*new(T), err)
		},
	})
	// under mu so Close cannot close wake concurrently
	q.signal()
	q.mu.Unlock()

	return h
}

// Do enqueues task and waits for it. If ctx ends first, Do returns ctx.Err()
// while the task itself still runs to completion in its turn.
func Do[T any](ctx context.Context, q *Queue, task Task[T]) (T, error) {
	return Enqueue(q, task).Wait(ctx)
}

func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	s.Running = q.running
	return s
}

// Close stops accepting tasks, lets already queued tasks finish and waits
// for the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.wake)
	}
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) loop() {
	defer close(q.done)

	for {
		if j, ok := q.next(); ok {
			q.execute(j)
			continue
		}
		if _, open := <-q.wake; !open {
			// closed: drain what was queued before Close, then exit
			for {
				j, ok := q.next()
				if !ok {
					return
				}
				q.execute(j)
			}
		}
	}
}

// next pops the head of the pending buffer and marks the queue running.
func (q *Queue) next() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return job{}, false
	}
	j := q.pending[0]
	q.pending[0] = job{}
	q.pending = q.pending[1:]
	q.running = true
	return j, true
}

func (q *Queue) execute(j job) {
	ctx := context.Background()

	var err error
	if q.limiter != nil {
		err = q.limiter.Wait(ctx)
	}
	if err != nil {
		j.fail(fmt.Errorf("rate limiter: %w", err))
	} else {
		if q.config.TaskTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, q.config.TaskTimeout)
			defer cancel()
		}
		err = j.run(ctx)
	}

	q.mu.Lock()
	q.running = false
	if err != nil {
		q.stats.Failed++
	} else {
		q.stats.Completed++
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Debug("queued task failed", zap.Uint64("seq", j.seq), zap.Error(err))
	}
}

func runTask[T any](ctx context.Context, task Task[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}
