package worker

import (
	"context"
	"time"
)

// Task is a unit of periodic work. The runner calls Run every Interval;
// runs of the same task never overlap.
type Task interface {
	// Name identifies the task in logs and metrics. It must be unique within
	// a runner.
	Name() string

	// Interval is the time between the start of consecutive runs.
	Interval() time.Duration

	// Run performs one pass. A returned error is logged and counted; the
	// task keeps its schedule.
	Run(ctx context.Context) error
}

type funcTask struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
}

// NewTask adapts a function to the Task interface.
func NewTask(name string, interval time.Duration, fn func(ctx context.Context) error) Task {
	return &funcTask{name: name, interval: interval, fn: fn}
}

func (t *funcTask) Name() string                  { return t.name }
func (t *funcTask) Interval() time.Duration       { return t.interval }
func (t *funcTask) Run(ctx context.Context) error { return t.fn(ctx) }
