package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type probe struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	started  []string
	finished map[string]bool
}

func newProbe() *probe {
	return &probe{finished: make(map[string]bool)}
}

func (p *probe) task(label string, d time.Duration, err error) Task {
	return Task{Label: label, Run: func(ctx context.Context) error {
		p.mu.Lock()
		p.inFlight++
		if p.inFlight > p.peak {
			p.peak = p.inFlight
		}
		p.started = append(p.started, label)
		p.mu.Unlock()

		time.Sleep(d)

		p.mu.Lock()
		p.inFlight--
		p.finished[label] = true
		p.mu.Unlock()
		return err
	}}
}

func TestRunAll(t *testing.T) {
	Convey("Given a set of tasks", t, func() {
		ctx := context.Background()

		Convey("When the limit is smaller than the task count", func() {
			p := newProbe()
			var tasks []Task
			for i := 0; i < 12; i++ {
				tasks = append(tasks, p.task(fmt.Sprintf("db.t%d", i), 5*time.Millisecond, nil))
			}
			err := RunAll(ctx, tasks, 3)

			Convey("It never exceeds the limit and runs everything", func() {
				So(err, ShouldBeNil)
				So(p.peak, ShouldBeLessThanOrEqualTo, 3)
				So(p.peak, ShouldBeGreaterThan, 0)
				So(len(p.finished), ShouldEqual, 12)
			})
		})

		Convey("When the limit is one", func() {
			p := newProbe()
			tasks := []Task{
				p.task("a", 2*time.Millisecond, nil),
				p.task("b", 2*time.Millisecond, nil),
				p.task("c", 2*time.Millisecond, nil),
			}
			So(RunAll(ctx, tasks, 1), ShouldBeNil)

			Convey("Tasks are admitted in submission order", func() {
				So(p.started, ShouldResemble, []string{"a", "b", "c"})
				So(p.peak, ShouldEqual, 1)
			})
		})

		Convey("When exactly one task fails", func() {
			p := newProbe()
			boom := errors.New("boom")
			tasks := []Task{
				p.task("fast-fail", time.Millisecond, boom),
				p.task("slow-1", 30*time.Millisecond, nil),
				p.task("slow-2", 30*time.Millisecond, nil),
				p.task("queued", 5*time.Millisecond, nil),
			}
			err := RunAll(ctx, tasks, 3)

			Convey("It reports that error after every task finished", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "fast-fail")
				So(len(p.finished), ShouldEqual, 4)
			})
		})

		Convey("When several tasks fail", func() {
			first := errors.New("first")
			tasks := []Task{
				{Label: "one", Run: func(context.Context) error { return first }},
				{Label: "two", Run: func(context.Context) error {
					time.Sleep(20 * time.Millisecond)
					return errors.New("second")
				}},
			}
			err := RunAll(ctx, tasks, 2)

			Convey("Only the first failure is reported", func() {
				So(errors.Is(err, first), ShouldBeTrue)
			})
		})

		Convey("When a task panics", func() {
			err := RunAll(ctx, []Task{{Label: "p", Run: func(context.Context) error { panic("bad") }}}, 1)

			Convey("It is reported as a failure", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "panic")
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			var ran int32
			tasks := []Task{
				{Label: "x", Run: func(context.Context) error { atomic.AddInt32(&ran, 1); return nil }},
				{Label: "y", Run: func(context.Context) error { atomic.AddInt32(&ran, 1); return nil }},
			}
			err := RunAll(cctx, tasks, 1)

			Convey("Queued tasks still reach a terminal state", func() {
				So(err, ShouldBeNil)
				So(ran, ShouldEqual, 2)
			})
		})

		Convey("When there are no tasks", func() {
			So(RunAll(ctx, nil, 4), ShouldBeNil)
		})

		Convey("When the limit is zero", func() {
			p := newProbe()
			tasks := []Task{p.task("a", 10*time.Millisecond, nil), p.task("b", 10*time.Millisecond, nil)}
			So(RunAll(ctx, tasks, 0), ShouldBeNil)
			So(len(p.finished), ShouldEqual, 2)
		})
	})
}
