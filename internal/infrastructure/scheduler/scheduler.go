package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
)

// Scheduler runs recurring pipeline jobs on cron schedules. Each job
// receives the scheduler's base context so an application shutdown
// cancels in-flight runs through the normal pipeline cleanup path.
type Scheduler struct {
	cron    *cron.Cron
	baseCtx context.Context
}

func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		baseCtx: ctx,
	}
}

func (s *Scheduler) AddJob(spec string, job func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		_ = job(s.baseCtx)
	})
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
