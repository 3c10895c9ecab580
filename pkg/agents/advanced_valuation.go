package agents

import (
	"context"
	"fmt"

	"github.com/dealbench/dealbench/pkg/agent"
	"github.com/dealbench/dealbench/pkg/state"
)

// AdvancedValuationName is the stable agent identifier for the
// dependency-graph node "advanced-valuation (DCF scenarios + LBO)".
//
// §4.2 names financial-analyst as owner of advanced_valuation.dcf_analysis
// and advanced_valuation.lbo_analysis, while §4.1's dependency graph lists
// a distinct downstream "advanced-valuation" agent. Per the ownership
// invariant (§3, one owning agent per key) these cannot both own the same
// keys, so advanced-valuation is implemented here as the agent that goes
// one layer deeper than financial-analyst's base scenarios: scenario
// sensitivity and LBO return analysis, using the reasoning channel
// (§4.3) for the multi-step sensitivity reasoning design note calls out
// (§9 "Many parallel LLM calls").
const AdvancedValuationName = "advanced-valuation"

// reasoningCaller is satisfied by pipelines exposing the non-fallback
// reasoning channel; advanced-valuation prefers it when available and
// falls back to the regular call otherwise.
type reasoningCaller interface {
	CallReasoning(ctx context.Context, prompt, label string) (string, agent.TokenUsage, error)
}

type AdvancedValuation struct{}

func NewAdvancedValuation() *AdvancedValuation { return &AdvancedValuation{} }

func (a *AdvancedValuation) Name() string { return AdvancedValuationName }

func (a *AdvancedValuation) RequiredInputs() []string {
	return []string{"advanced_valuation.dcf_analysis", "advanced_valuation.lbo_analysis"}
}

func (a *AdvancedValuation) ProducedOutputs() []string {
	return []string{"advanced_valuation.scenario_sensitivity", "advanced_valuation.lbo_returns"}
}

func (a *AdvancedValuation) Run(ctx context.Context, h *state.Handle, execCtx *agent.Context) (*agent.Result, error) {
	dcf, ok := h.Get("advanced_valuation.dcf_analysis")
	if !ok {
		return &agent.Result{Status: agent.StatusError, Errors: []string{"advanced_valuation.dcf_analysis not available"}}, nil
	}
	lbo, ok := h.Get("advanced_valuation.lbo_analysis")
	if !ok {
		return &agent.Result{Status: agent.StatusError, Errors: []string{"advanced_valuation.lbo_analysis not available"}}, nil
	}

	prompt := fmt.Sprintf(
		"Given base-case DCF output %v and LBO entry assumptions %v, perform a sensitivity "+
			"walk across WACC +/-100bps and exit multiple +/-1.0x, and estimate LBO sponsor IRR/MOIC ranges.",
		dcf, lbo)

	var text string
	var usage agent.TokenUsage
	var err error
	if rc, ok := execCtx.LLM.(reasoningCaller); ok {
		text, usage, err = rc.CallReasoning(ctx, prompt, "advanced valuation / sensitivity reasoning")
	} else {
		text, usage, err = execCtx.LLM.Call(ctx, prompt, "advanced valuation / sensitivity reasoning")
	}
	if err != nil {
		return &agent.Result{Status: agent.StatusError, Errors: []string{err.Error()}, Usage: usage}, nil
	}

	sensitivity := map[string]any{"narrative": text}
	lboReturns := map[string]any{"narrative": text}

	if err := h.Set("advanced_valuation.scenario_sensitivity", sensitivity); err != nil {
		return nil, err
	}
	if err := h.Set("advanced_valuation.lbo_returns", lboReturns); err != nil {
		return nil, err
	}

	return &agent.Result{Status: agent.StatusOK, Payload: sensitivity, Usage: usage}, nil
}
