package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/dealbench/dealbench/pkg/state"
)

// Controller is the domain-logic strategy each concrete agent implements.
// BaseAgent wraps it with the uniform lifecycle (name/inputs/outputs
// bookkeeping and cancellation/timeout classification) every agent needs.
type Controller interface {
	// Name is the stable agent identifier.
	Name() string
	// RequiredInputs lists state keys the controller reads.
	RequiredInputs() []string
	// ProducedOutputs lists state keys the controller is the sole writer of.
	ProducedOutputs() []string
	// Run performs the domain logic.
	Run(ctx context.Context, h *state.Handle, execCtx *Context) (*Result, error)
}

// BaseAgent adapts a Controller to the Agent contract. Every concrete
// analytical agent is constructed as a BaseAgent wrapping its own
// Controller (strategy pattern) — this is the sole place cancellation and
// timeout classification happen, so no concrete agent has to get it right
// on its own.
type BaseAgent struct {
	controller Controller
}

// NewBaseAgent wraps a controller. Panics if controller is nil (programming error).
func NewBaseAgent(controller Controller) *BaseAgent {
	if controller == nil {
		panic("NewBaseAgent: controller must not be nil")
	}
	return &BaseAgent{controller: controller}
}

func (a *BaseAgent) Name() string              { return a.controller.Name() }
func (a *BaseAgent) RequiredInputs() []string  { return a.controller.RequiredInputs() }
func (a *BaseAgent) ProducedOutputs() []string { return a.controller.ProducedOutputs() }

// Execute delegates to the controller and classifies the outcome.
func (a *BaseAgent) Execute(ctx context.Context, h *state.Handle, execCtx *Context) (*Result, error) {
	result, err := a.controller.Run(ctx, h, execCtx)

	// Use errors.Is on the returned error (not ctx.Err()) so that a
	// concurrent context expiration doesn't misclassify an unrelated
	// failure as timed-out.
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &Result{Status: StatusTimedOut, Errors: []string{err.Error()}, Err: err}, nil
		}
		if errors.Is(err, context.Canceled) {
			return &Result{Status: StatusCancelled, Errors: []string{err.Error()}, Err: err}, nil
		}
		return &Result{Status: StatusError, Errors: []string{err.Error()}, Err: err}, nil
	}

	// Defensive nil-check: a nil result without an error indicates a
	// programming bug in the controller, not a domain failure.
	if result == nil {
		err := fmt.Errorf("controller %s returned nil result", a.controller.Name())
		return &Result{Status: StatusError, Errors: []string{err.Error()}, Err: err}, nil
	}

	return result, nil
}
