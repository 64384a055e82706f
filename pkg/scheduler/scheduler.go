// Package scheduler runs the monitor passes on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/observability/metrics"
)

// Job is one scheduled pass. A job never overlaps with itself: a tick that
// fires while the previous run is still active is skipped.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error

	entry   cron.EntryID
	running atomic.Bool
}

type Scheduler struct {
	cron *cron.Cron
	jobs []*Job

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

func New() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// Add registers a job. Empty schedules disable the job.
func (s *Scheduler) Add(name, schedule string, run func(ctx context.Context) error) error {
	if schedule == "" {
		logger.WithField("job", name).Info("No schedule configured, job disabled")
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}
	job := &Job{Name: name, Schedule: schedule, Run: run}
	id, err := s.cron.AddFunc(schedule, func() { s.run(s.context(), job) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	job.entry = id
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

// Start begins firing jobs. Runs receive a context derived from ctx that is
// cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.running = true

	for _, job := range s.jobs {
		logger.WithFields(logrus.Fields{"job": job.Name, "schedule": job.Schedule}).Info("Job scheduled")
	}
}

// Stop halts the schedule and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	cancel()
	<-done.Done()
	logger.Log.Info("Scheduler stopped")
}

// NextRuns maps job names to their next fire time.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	jobs := append([]*Job(nil), s.jobs...)
	s.mu.Unlock()

	out := make(map[string]time.Time, len(jobs))
	for _, job := range jobs {
		out[job.Name] = s.cron.Entry(job.entry).Next
	}
	return out
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// run executes one tick of job unless the previous tick is still running.
// It reports whether the job actually ran.
func (s *Scheduler) run(ctx context.Context, job *Job) bool {
	if !job.running.CompareAndSwap(false, true) {
		metrics.ObserveSkipped(job.Name)
		logger.WithField("job", job.Name).Warn("Previous run still active, skipping tick")
		return false
	}
	defer job.running.Store(false)

	start := time.Now()
	fields := logrus.Fields{"job": job.Name}
	if err := job.Run(ctx); err != nil {
		logger.WithFields(fields).WithError(err).Error("Scheduled run failed")
		return true
	}
	fields["duration"] = time.Since(start).String()
	logger.WithFields(fields).Debug("Scheduled run finished")
	return true
}
