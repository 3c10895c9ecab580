package agents

import (
	"context"
	"fmt"

	"github.com/dealbench/dealbench/pkg/agent"
	"github.com/dealbench/dealbench/pkg/financial"
	"github.com/dealbench/dealbench/pkg/state"
)

// FinancialAnalystName is the stable agent identifier.
const FinancialAnalystName = "financial-analyst"

// FinancialAnalyst owns normalized_financials, valuation_models,
// advanced_valuation.dcf_analysis, advanced_valuation.lbo_analysis,
// ebitda, and anomaly_detection (§4.2). It is the only agent with
// non-trivial quantitative logic described in the spec, so it gets a
// dedicated Controller instead of GenericAgent.
type FinancialAnalyst struct {
	RDCapitalizationRate float64 // configurable portion of R&D capitalized; default 0.2
}

func NewFinancialAnalyst() *FinancialAnalyst {
	return &FinancialAnalyst{RDCapitalizationRate: 0.2}
}

func (a *FinancialAnalyst) Name() string { return FinancialAnalystName }

func (a *FinancialAnalyst) RequiredInputs() []string {
	return []string{"financial_data", "sec_filings"}
}

func (a *FinancialAnalyst) ProducedOutputs() []string {
	return []string{
		"normalized_financials",
		"valuation_models",
		"advanced_valuation.dcf_analysis",
		"advanced_valuation.lbo_analysis",
		"ebitda",
		"anomaly_detection",
	}
}

func (a *FinancialAnalyst) Run(ctx context.Context, h *state.Handle, execCtx *agent.Context) (*agent.Result, error) {
	rawFinData, ok := h.Get("financial_data")
	if !ok {
		return &agent.Result{Status: agent.StatusError, Errors: []string{"financial_data not available"}}, nil
	}
	finData, _ := rawFinData.(map[string]any)

	history := extractAnnualHistory(finData)
	if len(history.years) == 0 {
		return &agent.Result{Status: agent.StatusError, Errors: []string{"no annual statement history available to normalize"}}, nil
	}

	kept, exclusions := financial.ExcludeExtremeMarginYears(history.netMargins, history.opMargins)
	keptSet := make(map[int]bool, len(kept))
	for _, y := range kept {
		keptSet[y] = true
	}

	var revenueSeries, ebitdaSeries []financial.YearValue
	for _, y := range history.years {
		if !keptSet[y] {
			continue
		}
		revenueSeries = append(revenueSeries, financial.YearValue{Year: y, Value: history.revenue[y]})
		ebitdaSeries = append(ebitdaSeries, financial.YearValue{Year: y, Value: history.ebitda[y]})
	}

	simpleCAGR := financial.SimpleCAGR(revenueSeries)
	weightedCAGR := financial.RecencyWeightedCAGR(revenueSeries)

	qualityScore := computeQualityScore(len(exclusions), len(history.years))

	latestEBITDA := 0.0
	if len(ebitdaSeries) > 0 {
		latestEBITDA = ebitdaSeries[len(ebitdaSeries)-1].Value
	}
	capitalizedRD := history.latestRD * a.RDCapitalizationRate
	normalizedEBITDA := latestEBITDA + capitalizedRD

	dcfInputs := financial.DCFInputs{
		BaseFreeCashFlow:   normalizedEBITDA * 0.6, // approximate FCF conversion from normalized EBITDA
		GrowthRate:         weightedCAGR,
		WACC:               0.09,
		TerminalGrowthRate: 0.025,
		ProjectionYears:    5,
		NetDebt:            history.netDebt,
		SharesOutstanding:  history.sharesOutstanding,
	}
	scenarios := financial.ComputeScenarios(dcfInputs, 0.02, 0.01)
	monteCarlo := financial.RunMonteCarlo(dcfInputs, 0.015, 0.01, 2000, nil)

	var warnings []string
	if scenarios.Base.WACCAdjusted {
		warnings = append(warnings, "WACC was at or below terminal growth rate; corrected to terminal growth + 100bps")
		h.AppendAnomaly("WACC/terminal growth inversion corrected", "medium")
	}
	for _, exc := range exclusions {
		h.AppendAnomaly(fmt.Sprintf("excluded year %d: %s (margin %.2f)", exc.Year, exc.Reason, exc.Margin), "medium")
	}

	normalized := map[string]any{
		"quality_score": qualityScore,
		"exclusions":    exclusionRecords(exclusions),
		"simple_cagr":   simpleCAGR,
		"weighted_cagr": weightedCAGR,
		"capitalized_rd": capitalizedRD,
	}
	valuationModels := map[string]any{
		"dcf_base_enterprise_value": scenarios.Base.EnterpriseValue,
		"monte_carlo": map[string]any{
			"mean": monteCarlo.Mean, "p5": monteCarlo.P5, "p50": monteCarlo.P50, "p95": monteCarlo.P95,
		},
	}
	dcfAnalysis := map[string]any{
		"scenarios": map[string]any{
			"base":        scenarioToMap(scenarios.Base),
			"optimistic":  scenarioToMap(scenarios.Optimistic),
			"pessimistic": scenarioToMap(scenarios.Pessimistic),
		},
		// base-case values promoted to root, per §4.2 "promotes the
		// base-case DCF outputs to the root of its payload".
		"enterprise_value":      scenarios.Base.EnterpriseValue,
		"equity_value":          scenarios.Base.EquityValue,
		"equity_value_per_share": scenarios.Base.EquityValuePerShare,
		"wacc":                  scenarios.Base.WACC,
		"terminal_growth_rate":  scenarios.Base.TerminalGrowthRate,
	}
	lboAnalysis := map[string]any{
		"entry_ebitda_multiple": 10.0,
		"estimated_entry_value": normalizedEBITDA * 10.0,
	}
	anomalyDetection := map[string]any{
		"excluded_year_count": len(exclusions),
	}

	if err := h.Set("normalized_financials", normalized); err != nil {
		return nil, err
	}
	if err := h.Set("valuation_models", valuationModels); err != nil {
		return nil, err
	}
	if err := h.Set("advanced_valuation.dcf_analysis", dcfAnalysis); err != nil {
		return nil, err
	}
	if err := h.Set("advanced_valuation.lbo_analysis", lboAnalysis); err != nil {
		return nil, err
	}
	if err := h.Set("ebitda", normalizedEBITDA); err != nil {
		return nil, err
	}
	if err := h.Set("anomaly_detection", anomalyDetection); err != nil {
		return nil, err
	}

	status := agent.StatusOK
	if len(warnings) > 0 {
		status = agent.StatusWarning
	}
	return &agent.Result{
		Status:   status,
		Payload:  dcfAnalysis,
		Warnings: warnings,
	}, nil
}

func scenarioToMap(o financial.DCFOutputs) map[string]any {
	return map[string]any{
		"enterprise_value":       o.EnterpriseValue,
		"equity_value":           o.EquityValue,
		"equity_value_per_share": o.EquityValuePerShare,
		"wacc":                   o.WACC,
		"terminal_growth_rate":   o.TerminalGrowthRate,
	}
}

func exclusionRecords(exclusions []financial.Exclusion) []map[string]any {
	out := make([]map[string]any, 0, len(exclusions))
	for _, e := range exclusions {
		out = append(out, map[string]any{"year": e.Year, "reason": e.Reason, "margin": e.Margin})
	}
	return out
}

func computeQualityScore(exclusionCount, totalYears int) int {
	if totalYears == 0 {
		return 0
	}
	score := 100 - (exclusionCount*100)/totalYears
	if score < 0 {
		score = 0
	}
	return score
}

type annualHistory struct {
	years             []int
	revenue           map[int]float64
	ebitda            map[int]float64
	netMargins        map[int]float64
	opMargins         map[int]float64
	latestRD          float64
	netDebt           float64
	sharesOutstanding float64
}

// extractAnnualHistory tolerates a loosely-typed ingestion payload: the
// financial-data adapter's shape is implementation-defined (§6), so the
// analyst reads defensively and treats missing fields as zero rather
// than failing the whole agent.
func extractAnnualHistory(finData map[string]any) annualHistory {
	h := annualHistory{
		revenue:    map[int]float64{},
		ebitda:     map[int]float64{},
		netMargins: map[int]float64{},
		opMargins:  map[int]float64{},
	}
	years, _ := finData["years"].([]any)
	for _, y := range years {
		yearData, ok := y.(map[string]any)
		if !ok {
			continue
		}
		year := asInt(yearData["year"])
		h.years = append(h.years, year)
		h.revenue[year] = asFloat(yearData["revenue"])
		h.ebitda[year] = asFloat(yearData["ebitda"])
		h.netMargins[year] = asFloat(yearData["net_margin"])
		h.opMargins[year] = asFloat(yearData["operating_margin"])
	}
	h.latestRD = asFloat(finData["latest_rd_expense"])
	h.netDebt = asFloat(finData["net_debt"])
	h.sharesOutstanding = asFloat(finData["shares_outstanding"])
	return h
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
