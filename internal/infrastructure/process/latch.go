package process

import "sync"

// latch settles exactly once. The first resolve or reject wins; every later
// call is a no-op and reports false.
type latch struct {
	once   sync.Once
	done   chan struct{}
	result Result
	err    error
}

func newLatch() *latch {
	return &latch{done: make(chan struct{})}
}

func (l *latch) resolve(r Result) bool {
	return l.settle(r, nil)
}

func (l *latch) reject(err error) bool {
	return l.settle(Result{}, err)
}

func (l *latch) settle(r Result, err error) bool {
	won := false
	l.once.Do(func() {
		l.result, l.err = r, err
		won = true
		close(l.done)
	})
	return won
}

func (l *latch) wait() (Result, error) {
	<-l.done
	return l.result, l.err
}
