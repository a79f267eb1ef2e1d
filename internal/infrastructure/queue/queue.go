// Package queue is an in-process job queue with cron schedules, retry with
// backoff, expiry and singleton deduplication. Retry state lives in memory.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/semmidev/vaultkeeper/internal/domain"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/scheduler"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrStopped  = errors.New("queue stopped")
)

const maxHistory = 100

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type entry struct {
	job   domain.Job
	opts  domain.ScheduleOptions
	timer clock.Timer
	done  chan struct{}
}

type Queue struct {
	clock  clock.Clock
	logger Logger
	sched  *scheduler.Scheduler

	baseCtx context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup

	mu        sync.Mutex
	stopped   bool
	schedules map[string]scheduled
	handlers  map[string]domain.JobHandler
	jobs      map[string]*entry
	singleton map[string]string
	finished  []string
}

type scheduled struct {
	entryID scheduler.EntryID
	opts    domain.ScheduleOptions
}

func New(clk clock.Clock, logger Logger) *Queue {
	if clk == nil {
		clk = clock.WallClock
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		clock:     clk,
		logger:    logger,
		sched:     scheduler.New(),
		baseCtx:   ctx,
		cancel:    cancel,
		schedules: make(map[string]scheduled),
		handlers:  make(map[string]domain.JobHandler),
		jobs:      make(map[string]*entry),
		singleton: make(map[string]string),
	}
}

// Schedule registers (or replaces) the recurring schedule for name.
func (q *Queue) Schedule(name, cronExpr string, opts domain.ScheduleOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrStopped
	}

	id, err := q.sched.AddJob(cronExpr, opts.TZ, func(context.Context) error {
		if _, err := q.enqueue(name); err != nil {
			q.logger.Errorf("queue %s: scheduled send failed: %v", name, err)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	if prev, ok := q.schedules[name]; ok {
		q.sched.Remove(prev.entryID)
	}
	q.schedules[name] = scheduled{entryID: id, opts: opts}
	q.logger.Infof("queue %s: scheduled %q (tz %s, retry limit %d)", name, cronExpr, tzOrUTC(opts.TZ), opts.RetryLimit)
	return nil
}

// Work attaches the handler for name and delivers any jobs already waiting.
func (q *Queue) Work(name string, handler domain.JobHandler) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	q.handlers[name] = handler
	var pending []string
	for id, e := range q.jobs {
		if e.job.Name == name && e.job.State == domain.JobCreated {
			pending = append(pending, id)
		}
	}
	q.mu.Unlock()

	for _, id := range pending {
		q.dispatch(id)
	}
	return nil
}

// Send enqueues an immediate run of name. When a job with the same singleton
// key is already pending, its id is returned instead.
func (q *Queue) Send(name string) (string, error) {
	return q.enqueue(name)
}

// GetJobByID returns a snapshot of a live or recently finished job.
func (q *Queue) GetJobByID(id string) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.job, nil
}

// Wait blocks until the job reaches a terminal state or ctx ends.
func (q *Queue) Wait(ctx context.Context, id string) (domain.Job, error) {
	q.mu.Lock()
	e, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	select {
	case <-e.done:
		return q.GetJobByID(id)
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	}
}

func (q *Queue) Start() {
	q.sched.Start()
}

// Stop halts schedules and pending retries, then waits for running handlers.
// If ctx ends first, running handlers are cancelled.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	for _, e := range q.jobs {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	q.mu.Unlock()

	q.sched.Stop()

	idle := make(chan struct{})
	go func() {
		q.running.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-idle
		return ctx.Err()
	}
}

func (q *Queue) enqueue(name string) (string, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", ErrStopped
	}

	opts := q.schedules[name].opts
	if key := opts.SingletonKey; key != "" {
		if existing, ok := q.singleton[key]; ok {
			q.mu.Unlock()
			q.logger.Warnf("queue %s: job %s with singleton key %q still pending, skipping", name, existing, key)
			return existing, nil
		}
	}

	id := uuid.NewString()
	q.jobs[id] = &entry{
		job: domain.Job{
			ID:         id,
			Name:       name,
			State:      domain.JobCreated,
			RetryLimit: opts.RetryLimit,
			CreatedAt:  q.clock.Now(),
		},
		opts: opts,
		done: make(chan struct{}),
	}
	if opts.SingletonKey != "" {
		q.singleton[opts.SingletonKey] = id
	}
	_, hasHandler := q.handlers[name]
	q.mu.Unlock()

	if hasHandler {
		q.dispatch(id)
	}
	return id, nil
}

func (q *Queue) dispatch(id string) {
	q.mu.Lock()
	e, ok := q.jobs[id]
	if !ok || q.stopped {
		q.mu.Unlock()
		return
	}
	handler := q.handlers[e.job.Name]
	if handler == nil || e.job.State == domain.JobActive {
		q.mu.Unlock()
		return
	}
	e.job.State = domain.JobActive
	e.job.StartedAt = q.clock.Now()
	e.timer = nil
	snapshot := e.job
	expireIn := e.opts.ExpireIn
	q.running.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.running.Done()

		ctx, cancel := q.baseCtx, context.CancelFunc(func() {})
		if expireIn > 0 {
			ctx, cancel = context.WithTimeout(q.baseCtx, expireIn)
		}
		err := invoke(ctx, handler, snapshot)
		expired := errors.Is(ctx.Err(), context.DeadlineExceeded)
		cancel()

		q.complete(id, err, expired)
	}()
}

func invoke(ctx context.Context, handler domain.JobHandler, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) complete(id string, err error, expired bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[id]
	if !ok {
		return
	}
	if expired && err == nil {
		err = fmt.Errorf("job expired after %s", e.opts.ExpireIn)
	}

	if err == nil {
		e.job.State = domain.JobCompleted
		e.job.LastError = ""
		q.finish(e)
		return
	}

	e.job.LastError = err.Error()
	if e.job.RetryCount < e.job.RetryLimit && !q.stopped {
		e.job.RetryCount++
		e.job.State = domain.JobRetry
		delay := retryDelay(e.opts, e.job.RetryCount)
		q.logger.Warnf("queue %s: job %s failed (attempt %d/%d), retrying in %s: %v",
			e.job.Name, id, e.job.RetryCount, e.job.RetryLimit+1, delay, err)
		e.timer = q.clock.AfterFunc(delay, func() { q.dispatch(id) })
		return
	}

	e.job.State = domain.JobFailed
	if expired {
		e.job.State = domain.JobExpired
	}
	q.logger.Errorf("queue %s: job %s %s after %d retries: %v", e.job.Name, id, e.job.State, e.job.RetryCount, err)
	q.finish(e)
}

// finish must be called with q.mu held.
func (q *Queue) finish(e *entry) {
	if key := e.opts.SingletonKey; key != "" && q.singleton[key] == e.job.ID {
		delete(q.singleton, key)
	}
	close(e.done)

	q.finished = append(q.finished, e.job.ID)
	for len(q.finished) > maxHistory {
		delete(q.jobs, q.finished[0])
		q.finished = q.finished[1:]
	}
}

func retryDelay(opts domain.ScheduleOptions, attempt int) time.Duration {
	delay := opts.RetryDelay
	if opts.RetryBackoff {
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
	}
	return delay
}

func tzOrUTC(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}
