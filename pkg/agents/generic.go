// Package agents holds the concrete registry of analytical agents (§4.2,
// §4.1 dependency graph). Most agents share one shape — build a prompt
// from upstream state, call the LLM pipeline once, record the response
// as a structured payload — so GenericAgent implements that shape once;
// financial-analyst and advanced-valuation (which do real quantitative
// work, not just an LLM call) get dedicated Controllers.
package agents

import (
	"context"
	"fmt"

	"github.com/dealbench/dealbench/pkg/agent"
	"github.com/dealbench/dealbench/pkg/state"
)

// PromptFunc builds the LLM prompt for one agent invocation from the
// resolved upstream state values and job parameters.
type PromptFunc func(execCtx *agent.Context, inputs map[string]any) string

// GenericAgent is an agent.Controller for the common "read inputs, call
// LLM once, write the response as a payload" shape used by agents whose
// domain analysis is out of scope for this system (§4.2).
type GenericAgent struct {
	name            string
	requiredInputs  []string
	producedOutputs []string
	label           string
	buildPrompt     PromptFunc
}

// NewGenericAgent constructs a single-call LLM agent.
func NewGenericAgent(name, label string, requiredInputs, producedOutputs []string, buildPrompt PromptFunc) *GenericAgent {
	return &GenericAgent{
		name:            name,
		requiredInputs:  requiredInputs,
		producedOutputs: producedOutputs,
		label:           label,
		buildPrompt:     buildPrompt,
	}
}

func (a *GenericAgent) Name() string              { return a.name }
func (a *GenericAgent) RequiredInputs() []string  { return a.requiredInputs }
func (a *GenericAgent) ProducedOutputs() []string { return a.producedOutputs }

// Run resolves required inputs, calls the LLM once, and writes the single
// produced output key with the response wrapped in a payload envelope.
// Agents that produce more than one output key should use a dedicated
// Controller instead (this shape assumes exactly one owned key, which
// covers every generic agent in the dependency graph).
func (a *GenericAgent) Run(ctx context.Context, h *state.Handle, execCtx *agent.Context) (*agent.Result, error) {
	inputs := make(map[string]any, len(a.requiredInputs))
	var missing []string
	for _, key := range a.requiredInputs {
		v, ok := h.Get(key)
		if !ok {
			missing = append(missing, key)
			continue
		}
		inputs[key] = v
	}
	if len(missing) > 0 {
		return &agent.Result{
			Status: agent.StatusError,
			Errors: []string{fmt.Sprintf("required input(s) not available: %v", missing)},
		}, nil
	}

	prompt := a.buildPrompt(execCtx, inputs)
	text, usage, err := execCtx.LLM.Call(ctx, prompt, a.label)
	if err != nil {
		return &agent.Result{Status: agent.StatusError, Errors: []string{err.Error()}, Usage: usage}, nil
	}

	payload := map[string]any{"analysis": text}
	if len(a.producedOutputs) != 1 {
		return &agent.Result{Status: agent.StatusError, Errors: []string{fmt.Sprintf("agent %s declared %d output keys; GenericAgent supports exactly 1", a.name, len(a.producedOutputs))}}, nil
	}
	if err := h.Set(a.producedOutputs[0], payload); err != nil {
		return &agent.Result{Status: agent.StatusError, Errors: []string{err.Error()}, Usage: usage}, nil
	}

	return &agent.Result{Status: agent.StatusOK, Payload: payload, Usage: usage}, nil
}
