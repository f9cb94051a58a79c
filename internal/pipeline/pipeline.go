// Package pipeline runs installation steps in order and forwards their progress lines.
package pipeline

import (
	"context"
	"fmt"
)

// Sink receives human-readable progress lines. Implementations must be safe
// for use from the goroutine that runs the step.
type Sink func(line string)

// Discard drops every line.
func Discard(string) {}

// Step is one unit of an installation pipeline.
type Step interface {
	Name() string
	Execute(ctx context.Context, sink Sink) error
}

// StepError is returned by Runner when a step fails.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Runner executes steps sequentially.
type Runner struct {
	Sink Sink
}

// NewRunner returns a Runner reporting to sink; a nil sink discards lines.
func NewRunner(sink Sink) *Runner {
	if sink == nil {
		sink = Discard
	}

	return &Runner{Sink: sink}
}

// Run executes steps in order and stops at the first failure or cancellation.
func (r *Runner) Run(ctx context.Context, steps ...Step) error {
	total := len(steps)

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: step.Name(), Err: err}
		}

		prefix := fmt.Sprintf("[%d/%d] %s", i+1, total, step.Name())
		r.Sink(prefix)

		sink := func(line string) {
			r.Sink(prefix + ": " + line)
		}

		if err := step.Execute(ctx, sink); err != nil {
			r.Sink(prefix + " failed: " + err.Error())
			return &StepError{Step: step.Name(), Err: err}
		}
	}

	return nil
}

// StepFunc adapts a function to the Step interface.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, sink Sink) error
}

// Name returns the step name.
func (s StepFunc) Name() string { return s.StepName }

// Execute calls Fn.
func (s StepFunc) Execute(ctx context.Context, sink Sink) error { return s.Fn(ctx, sink) }
