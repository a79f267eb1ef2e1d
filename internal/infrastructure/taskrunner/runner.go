// Package taskrunner runs independent tasks under a concurrency cap.
package taskrunner

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is one labelled unit of work. It is run at most once.
type Task struct {
	Label string
	Run   func(ctx context.Context) error
}

// RunAll runs every task with at most limit in flight. Tasks are admitted in
// submission order as slots free up. It waits for all tasks to finish and
// returns the first failure observed; running tasks are never cancelled.
// A limit of zero or less admits everything at once.
func RunAll(ctx context.Context, tasks []Task, limit int) error {
	if len(tasks) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(tasks) {
		limit = len(tasks)
	}

	sem := semaphore.NewWeighted(int64(limit))
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() { firstErr = err })
	}

	// Acquire is not tied to ctx: queued tasks must still run so that every
	// task reaches a terminal state.
	admit := context.WithoutCancel(ctx)
	for _, task := range tasks {
		if err := sem.Acquire(admit, 1); err != nil {
			fail(fmt.Errorf("%s: %w", task.Label, err))
			continue
		}
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			defer sem.Release(1)
			if err := runTask(ctx, task); err != nil {
				fail(fmt.Errorf("%s: %w", task.Label, err))
			}
		}(task)
	}

	wg.Wait()
	return firstErr
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(ctx)
}
