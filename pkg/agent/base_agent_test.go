package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/dealbench/dealbench/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubController struct {
	name    string
	inputs  []string
	outputs []string
	result  *Result
	err     error
}

func (c *stubController) Name() string              { return c.name }
func (c *stubController) RequiredInputs() []string  { return c.inputs }
func (c *stubController) ProducedOutputs() []string { return c.outputs }
func (c *stubController) Run(ctx context.Context, h *state.Handle, execCtx *Context) (*Result, error) {
	return c.result, c.err
}

func TestBaseAgentExecutePassesThroughOK(t *testing.T) {
	s := state.New()
	h := s.HandleFor("stub", nil)
	c := &stubController{name: "stub", result: &Result{Status: StatusOK}}
	a := NewBaseAgent(c)

	res, err := a.Execute(context.Background(), h, &Context{})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "stub", a.Name())
}

func TestBaseAgentExecuteClassifiesTimeout(t *testing.T) {
	s := state.New()
	h := s.HandleFor("stub", nil)
	c := &stubController{name: "stub", err: context.DeadlineExceeded}
	a := NewBaseAgent(c)

	res, err := a.Execute(context.Background(), h, &Context{})
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, res.Status)
}

func TestBaseAgentExecuteClassifiesCancellation(t *testing.T) {
	s := state.New()
	h := s.HandleFor("stub", nil)
	c := &stubController{name: "stub", err: context.Canceled}
	a := NewBaseAgent(c)

	res, err := a.Execute(context.Background(), h, &Context{})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
}

func TestBaseAgentExecuteWrapsOtherErrors(t *testing.T) {
	s := state.New()
	h := s.HandleFor("stub", nil)
	c := &stubController{name: "stub", err: errors.New("boom")}
	a := NewBaseAgent(c)

	res, err := a.Execute(context.Background(), h, &Context{})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
}

func TestBaseAgentExecuteRejectsNilResult(t *testing.T) {
	s := state.New()
	h := s.HandleFor("stub", nil)
	c := &stubController{name: "stub"}
	a := NewBaseAgent(c)

	res, err := a.Execute(context.Background(), h, &Context{})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
}

func TestNewBaseAgentPanicsOnNilController(t *testing.T) {
	assert.Panics(t, func() { NewBaseAgent(nil) })
}
