package tally

import (
	"context"
	"fmt"
	"time"

	"github.com/jkbrsn/taskman"
)

// DefaultReportingPeriod is how often the store is flushed when no period is configured.
const DefaultReportingPeriod = 10 * time.Second

// flushStep is one independent flush sub-routine.
type flushStep struct {
	name string
	fn   func(context.Context) error
}

func (s *Store) flushSteps() []flushStep {
	return []flushStep{
		{name: "http", fn: s.FlushHTTP},
		{name: "system", fn: s.FlushSystem},
		{name: "users", fn: s.FlushUsers},
		{name: "sales", fn: s.FlushSales},
		{name: "auth", fn: s.FlushAuth},
	}
}

// runStep runs a flush sub-routine, turning a panic into an error, and logs failures.
// It never returns them: one failing sub-routine must not stop the others.
func (s *Store) runStep(ctx context.Context, step flushStep) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return step.fn(ctx)
	}()
	if err != nil {
		s.cfg.logger.Error().Err(err).Str("step", step.name).Msg("error sending metrics")
		s.cfg.observer.ObserveEvent(EventFlushFailed, map[string]any{"step": step.name, "error": err.Error()})
	}
}

// Flush runs one full flush cycle synchronously: HTTP, system, users, sales and auth,
// in that order. Failures are logged and the remaining sub-routines still run.
func (s *Store) Flush(ctx context.Context) {
	for _, step := range s.flushSteps() {
		s.runStep(ctx, step)
	}
}

// flushTask is an implementation of taskman.Task that runs one flush sub-routine.
type flushTask struct {
	store *Store
	step  flushStep
}

// Execute runs the sub-routine. It always reports success to the task manager, since
// failures are already logged and the next tick must still fire.
func (t flushTask) Execute() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.store.cfg.period)
	defer cancel()
	t.store.runStep(ctx, t.step)
	return nil
}

// job returns a taskman.Job with one task per flush sub-routine, first firing one period
// from now.
func (s *Store) job(id string) taskman.Job {
	steps := s.flushSteps()
	tasks := make([]taskman.Task, 0, len(steps))
	for _, step := range steps {
		tasks = append(tasks, flushTask{store: s, step: step})
	}
	return taskman.Job{
		ID:       id,
		Cadence:  s.cfg.period,
		NextExec: time.Now().Add(s.cfg.period),
		Tasks:    tasks,
	}
}
