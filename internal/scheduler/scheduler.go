// Package scheduler implements the Scheduler (C9): a single-process
// cooperative ticker that fans a due monitoring task out to the Monitor
// Runner without letting one slow task block the tick.
package scheduler

import (
	"context"
	"time"

	"github.com/hostwarden/control-plane/internal/config"
	"github.com/hostwarden/control-plane/internal/store"
	"github.com/rs/zerolog/log"
)

// taskRunner is the slice of *monitor.Runner the scheduler needs, kept
// as an interface so tests can stub it.
type taskRunner interface {
	ExecuteTask(ctx context.Context, taskID string) error
}

type Scheduler struct {
	Tasks        store.MonitoringTaskStore
	Runner       taskRunner
	TickInterval time.Duration
	StartupDelay time.Duration
}

func New(tasks store.MonitoringTaskStore, runner taskRunner, cfg config.SchedulerConfig) *Scheduler {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = 60 * time.Second
	}
	return &Scheduler{
		Tasks:        tasks,
		Runner:       runner,
		TickInterval: tick,
		StartupDelay: cfg.StartupDelay,
	}
}

// Run blocks until ctx is canceled, ticking every TickInterval after an
// initial StartupDelay — grounded on the teacher's retention janitor's
// ticker-loop shape, generalized from retention cycles to monitoring
// cycles.
func (s *Scheduler) Run(ctx context.Context) {
	if s.StartupDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.StartupDelay):
		}
	}

	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fetches every enabled task, fires a goroutine per due task, and
// never blocks on any one task's completion.
func (s *Scheduler) tick(ctx context.Context) {
	tasks, err := s.Tasks.ListEnabledTasks(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to list enabled tasks")
		return
	}

	now := time.Now().UTC()
	for _, task := range tasks {
		if !isDue(task.LastRun, task.IntervalMinutes, now) {
			continue
		}
		taskID := task.ID
		go func() {
			if err := s.Runner.ExecuteTask(ctx, taskID); err != nil {
				log.Error().Err(err).Str("task_id", taskID).Msg("scheduler: task execution failed")
			}
		}()
	}
}

func isDue(lastRun *time.Time, intervalMinutes int, now time.Time) bool {
	if lastRun == nil {
		return true
	}
	return now.Sub(*lastRun) >= time.Duration(intervalMinutes)*time.Minute
}
