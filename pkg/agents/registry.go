package agents

import (
	"fmt"

	"github.com/dealbench/dealbench/pkg/agent"
)

// genericSpec declares one GenericAgent's wiring.
type genericSpec struct {
	name    string
	label   string
	inputs  []string
	outputs string // GenericAgent owns exactly one key
	prompt  func(execCtx *agent.Context, inputs map[string]any) string
}

func simplePrompt(instruction string) PromptFunc {
	return func(execCtx *agent.Context, inputs map[string]any) string {
		return fmt.Sprintf("%s\n\nTarget: %s\nAcquirer: %s\nThesis: %s\nUpstream data: %v",
			instruction, execCtx.Target, execCtx.Acquirer, execCtx.Thesis, inputs)
	}
}

var genericSpecs = []genericSpec{
	{
		name: "legal-counsel", label: "legal diligence",
		inputs: []string{"sec_filings", "proxy_data"}, outputs: "legal_diligence",
		prompt: simplePrompt("Assess legal and regulatory diligence risk from filings and proxy data."),
	},
	{
		name: "market-strategist", label: "market analysis",
		inputs: []string{"market_data", "peer_data"}, outputs: "market_analysis_raw",
		prompt: simplePrompt("Assess market positioning, demand trends, and competitive dynamics."),
	},
	{
		name: "macroeconomic-analyst", label: "macroeconomic analysis",
		inputs: []string{"macro_data"}, outputs: "macro_analysis",
		prompt: simplePrompt("Assess macroeconomic scenario models, correlations, and sensitivity to rates/FX/commodities."),
	},
	{
		name: "financial-deep-dive", label: "financial deep-dive",
		inputs: []string{"normalized_financials"}, outputs: "financial_deep_dive",
		prompt: simplePrompt("Perform a deep-dive review of normalized financials: working capital, capex trends, margin bridges."),
	},
	{
		name: "competitive-benchmarking", label: "competitive benchmarking",
		inputs: []string{"normalized_financials", "peer_data"}, outputs: "competitive_benchmarking",
		prompt: simplePrompt("Benchmark the target against its peer set on growth, margin, and valuation multiples."),
	},
	{
		name: "risk-assessment", label: "risk assessment",
		inputs: []string{"financial_deep_dive", "advanced_valuation.scenario_sensitivity"}, outputs: "risk_assessment",
		prompt: simplePrompt("Synthesize financial and valuation-sensitivity findings into a ranked risk register."),
	},
	{
		name: "tax-structuring", label: "tax structuring",
		inputs: []string{"advanced_valuation.lbo_returns"}, outputs: "tax_structuring",
		prompt: simplePrompt("Recommend a tax-efficient deal structure given LBO return sensitivity."),
	},
	{
		name: "deal-structuring", label: "deal structuring",
		inputs: []string{"advanced_valuation.scenario_sensitivity"}, outputs: "deal_structuring",
		prompt: simplePrompt("Propose a deal structure (consideration mix, earnouts, covenants) given valuation sensitivity."),
	},
	{
		name: "accretion-dilution", label: "accretion/dilution",
		inputs: []string{"deal_structuring"}, outputs: "accretion_dilution",
		prompt: simplePrompt("Estimate pro-forma EPS accretion/dilution from the proposed deal structure."),
	},
	{
		name: "sources-uses", label: "sources and uses",
		inputs: []string{"deal_structuring"}, outputs: "sources_uses",
		prompt: simplePrompt("Build a sources-and-uses table for the proposed deal structure."),
	},
	{
		name: "contribution-analysis", label: "contribution analysis",
		inputs: []string{"deal_structuring"}, outputs: "contribution_analysis",
		prompt: simplePrompt("Compute relative contribution of each party to pro-forma revenue/EBITDA/equity value."),
	},
	{
		name: "exchange-ratio", label: "exchange ratio",
		inputs: []string{"deal_structuring"}, outputs: "exchange_ratio",
		prompt: simplePrompt("Derive an indicative exchange ratio for a stock-for-stock structure."),
	},
	{
		name: "integration-planner", label: "integration planning",
		inputs: []string{"deal_structuring"}, outputs: "integration_blueprint_raw",
		prompt: simplePrompt("Draft a 100-day post-merger integration blueprint."),
	},
	{
		name: "external-validator", label: "external validation",
		inputs: []string{
			"normalized_financials", "legal_diligence", "market_analysis_raw", "macro_analysis",
			"competitive_benchmarking", "financial_deep_dive", "risk_assessment", "tax_structuring",
			"deal_structuring", "accretion_dilution", "sources_uses", "contribution_analysis",
			"exchange_ratio", "integration_blueprint_raw",
			"advanced_valuation.scenario_sensitivity", "advanced_valuation.lbo_returns",
		},
		outputs: "external_validation",
		prompt:  simplePrompt("Cross-reference every agent finding against external/public sources and flag discrepancies."),
	},
}

// All returns every concrete analytical agent in the dependency graph
// (§4.1), wrapped as agent.Agent. The scheduler computes execution waves
// dynamically from each agent's declared inputs/outputs; order here is
// irrelevant to execution, only to registry bookkeeping.
func All() []agent.Agent {
	out := make([]agent.Agent, 0, len(genericSpecs)+2)
	out = append(out, agent.NewBaseAgent(NewFinancialAnalyst()))
	out = append(out, agent.NewBaseAgent(NewAdvancedValuation()))
	for _, spec := range genericSpecs {
		out = append(out, agent.NewBaseAgent(NewGenericAgent(spec.name, spec.label, spec.inputs, []string{spec.outputs}, spec.prompt)))
	}
	return out
}

// RequiredAgentNames lists agents whose failure fails the whole job
// (§4.1 "Failure policy": ingestion, financial-analyst, synthesis,
// consistency-validator are required; ingestion/synthesis/validator are
// pipeline stages handled directly by the orchestrator).
func RequiredAgentNames() []string {
	return []string{FinancialAnalystName}
}
