// internal/scheduler/scheduler.go
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named recurring callback.
type Job struct {
	Name     string
	Schedule string
	Run      func()
}

// Entry describes a registered job.
type Entry struct {
	Name     string
	Schedule string
	Next     time.Time
	Prev     time.Time
}

// Scheduler runs recurring jobs on cron schedules. A job whose previous run
// has not returned is skipped rather than stacked.
type Scheduler struct {
	mu    sync.Mutex
	cron  *cron.Cron
	names map[cron.EntryID]Job
}

// cronParser accepts standard 5-field cron expressions, 6-field expressions
// with an optional seconds field, and descriptors such as "@every 1m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates an idle Scheduler.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		names: make(map[cron.EntryID]Job),
	}
}

// Every returns the descriptor for a fixed interval.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Add registers job. It may be called before or after Start.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s: no run func", job.Name)
	}
	run := job.Run
	name := job.Name
	id, err := s.cron.AddFunc(job.Schedule, func() {
		slog.Debug("job firing", "name", name)
		run()
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Schedule, err)
	}
	s.mu.Lock()
	s.names[id] = job
	s.mu.Unlock()
	slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	return nil
}

// Start starts the cron ticker in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the ticker and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entries lists registered jobs sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.cron.Entries() {
		job := s.names[e.ID]
		out = append(out, Entry{Name: job.Name, Schedule: job.Schedule, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
