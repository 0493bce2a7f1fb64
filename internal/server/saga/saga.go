// Package saga runs a multi-step operation as an ordered list of actions,
// each with a compensation that undoes it when a later step fails.
package saga

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/logging"
)

// Step is one action and its compensation. Compensate may be nil.
//
// When Action fails, the failing step's own Compensate runs too, so an
// action that did partial work (some chunks stored) can clean it up.
type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Saga is an ordered list of steps.
type Saga struct {
	name   string
	steps  []Step
	logger logging.Logger
}

func New(name string, logger logging.Logger) *Saga {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Saga{name: name, logger: logger}
}

// Add appends a step and returns the saga for chaining.
func (s *Saga) Add(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Error is returned by Run when a step fails. It unwraps to the step's error.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Run executes the steps in order. On the first failure it runs the
// compensations of the failed step and every earlier step in reverse order,
// then returns the original failure. Compensation errors are logged only.
//
// Compensations run detached from ctx cancellation: a cancelled caller must
// still get its partial work cleaned up.
func (s *Saga) Run(ctx context.Context) error {
	for i, step := range s.steps {
		if err := ctx.Err(); err != nil {
			s.compensate(ctx, i-1)
			return &Error{Step: step.Name, Err: err}
		}
		if err := step.Action(ctx); err != nil {
			s.logger.Warn(ctx, "saga step failed", "saga", s.name, "step", step.Name, "error", err)
			s.compensate(ctx, i)
			return &Error{Step: step.Name, Err: err}
		}
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, from int) {
	ctx = context.WithoutCancel(ctx)
	for i := from; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			s.logger.Warn(ctx, "saga compensation failed", "saga", s.name, "step", step.Name, "error", err)
			continue
		}
		s.logger.Debug(ctx, "saga step compensated", "saga", s.name, "step", step.Name)
	}
}
