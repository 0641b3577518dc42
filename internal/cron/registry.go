package cron

import (
	"context"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"
)

// Job is one maintenance task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduled jobs run once their schedule comes due after the previous run in
// this process. Jobs without a schedule run on every cycle.
type Scheduled interface {
	Schedule() robfig.Schedule
}

// Registry holds jobs in registration order and tracks when each last ran in
// this process. A second job with an already registered name is ignored.
type Registry struct {
	mu      sync.Mutex
	jobs    []Job
	lastRun map[string]time.Time
}

func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{lastRun: map[string]time.Time{}}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.jobs {
		if existing.Name() == job.Name() {
			return
		}
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// Due returns the jobs due at now and records now as their last run.
func (r *Registry) Due(now time.Time) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Job
	for _, job := range r.jobs {
		if s, ok := job.(Scheduled); ok && s.Schedule() != nil {
			if last, seen := r.lastRun[job.Name()]; seen && now.Before(s.Schedule().Next(last)) {
				continue
			}
		}
		r.lastRun[job.Name()] = now
		due = append(due, job)
	}
	return due
}
