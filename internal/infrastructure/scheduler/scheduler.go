package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Schedules accept an optional leading seconds field and descriptors such as @hourly.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type EntryID = cron.EntryID

type Scheduler struct {
	cron *cron.Cron
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(parser)),
	}
}

// Validate reports whether spec parses in the given timezone.
func Validate(spec, tz string) error {
	_, err := parser.Parse(withTZ(spec, tz))
	return err
}

// AddJob registers job to run on spec, evaluated in tz when tz is set.
func (s *Scheduler) AddJob(spec, tz string, job func(context.Context) error) (EntryID, error) {
	id, err := s.cron.AddFunc(withTZ(spec, tz), func() {
		_ = job(context.Background())
	})
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return id, nil
}

func (s *Scheduler) Remove(id EntryID) {
	s.cron.Remove(id)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func withTZ(spec, tz string) string {
	if tz == "" {
		return spec
	}
	return "CRON_TZ=" + tz + " " + spec
}
