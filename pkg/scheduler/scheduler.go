// Package scheduler runs the engine's periodic sweeps on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/metrics"
)

// ErrUnknownJob is returned by RunNow for a name that was never added.
var ErrUnknownJob = errors.New("unknown job")

// Job is one periodic task. An empty Schedule registers the job for RunNow
// without scheduling it.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Entry describes a scheduled job.
type Entry struct {
	Name     string
	Schedule string
	Next     time.Time
}

// Scheduler owns a cron instance running in UTC. A job never overlaps
// with itself; a tick that arrives while the previous run is busy is skipped.
type Scheduler struct {
	cron    *cron.Cron
	metrics *metrics.Metrics

	mu      sync.Mutex
	jobs    map[string]Job
	ids     map[string]cron.EntryID
	running bool
}

// New creates an idle Scheduler.
func New(m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		metrics: m,
		jobs:    make(map[string]Job),
		ids:     make(map[string]cron.EntryID),
	}
}

// Add registers job. ctx is passed to every scheduled run.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	s.jobs[job.Name] = job
	if job.Schedule == "" {
		log.Info().Str("job", job.Name).Msg("job has no schedule, available on demand only")
		return nil
	}
	if _, err := cron.ParseStandard(job.Schedule); err != nil {
		delete(s.jobs, job.Name)
		return fmt.Errorf("invalid cron schedule %q for %s: %w", job.Schedule, job.Name, err)
	}
	id, err := s.cron.AddFunc(job.Schedule, func() { s.execute(ctx, job) })
	if err != nil {
		delete(s.jobs, job.Name)
		return fmt.Errorf("schedule %s: %w", job.Name, err)
	}
	s.ids[job.Name] = id
	return nil
}

// Start runs the cron loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.cron.Start()
	s.running = true
	s.mu.Unlock()

	for _, e := range s.Entries() {
		log.Info().Str("job", e.Name).Str("schedule", e.Schedule).Time("next", e.Next).Msg("job scheduled")
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	log.Info().Msg("scheduler stopped")
}

// IsRunning reports whether the cron loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Entries returns scheduled jobs ordered by name. Next is zero until Start.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.ids))
	for name, id := range s.ids {
		out = append(out, Entry{
			Name:     name,
			Schedule: s.jobs[name].Schedule,
			Next:     s.cron.Entry(id).Next,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunNow executes the named job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownJob, name)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	start := time.Now()
	log.Debug().Str("job", job.Name).Msg("job started")
	err := job.Run(ctx)
	d := time.Since(start)
	s.metrics.Sweep(job.Name, d, err)
	if err != nil {
		log.Error().Err(err).Str("job", job.Name).Dur("duration", d).Msg("job failed")
		return err
	}
	log.Info().Str("job", job.Name).Dur("duration", d).Msg("job finished")
	return nil
}
