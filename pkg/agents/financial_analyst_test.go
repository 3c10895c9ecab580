package agents

import (
	"context"
	"testing"

	"github.com/dealbench/dealbench/pkg/agent"
	"github.com/dealbench/dealbench/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFinancialData() map[string]any {
	return map[string]any{
		"years": []any{
			map[string]any{"year": 2020, "revenue": 100.0, "ebitda": 20.0, "net_margin": 0.12, "operating_margin": 0.15},
			map[string]any{"year": 2021, "revenue": 130.0, "ebitda": 28.0, "net_margin": -1.2, "operating_margin": -0.5},
			map[string]any{"year": 2022, "revenue": 160.0, "ebitda": 34.0, "net_margin": 0.14, "operating_margin": 0.17},
		},
		"latest_rd_expense":  10.0,
		"net_debt":           50.0,
		"shares_outstanding": 20.0,
	}
}

func TestFinancialAnalystProducesAllDeclaredOutputs(t *testing.T) {
	st := state.New()
	require.NoError(t, st.HandleFor("ingestion", []string{"financial_data", "sec_filings"}).Set("financial_data", sampleFinancialData()))
	require.NoError(t, st.HandleFor("ingestion", []string{"financial_data", "sec_filings"}).Set("sec_filings", map[string]any{}))

	fa := NewFinancialAnalyst()
	h := st.HandleFor(fa.Name(), fa.ProducedOutputs())
	result, err := fa.Run(context.Background(), h, &agent.Context{})
	require.NoError(t, err)
	require.NotEqual(t, agent.StatusError, result.Status)

	for _, key := range fa.ProducedOutputs() {
		_, ok := st.Get(key)
		assert.True(t, ok, "expected %s to be written", key)
	}
}

func TestFinancialAnalystExcludesExtremeMarginYear(t *testing.T) {
	st := state.New()
	require.NoError(t, st.HandleFor("ingestion", []string{"financial_data", "sec_filings"}).Set("financial_data", sampleFinancialData()))
	require.NoError(t, st.HandleFor("ingestion", []string{"financial_data", "sec_filings"}).Set("sec_filings", map[string]any{}))

	fa := NewFinancialAnalyst()
	h := st.HandleFor(fa.Name(), fa.ProducedOutputs())
	_, err := fa.Run(context.Background(), h, &agent.Context{})
	require.NoError(t, err)

	v, _ := st.Get("normalized_financials")
	normalized := v.(map[string]any)
	exclusions := normalized["exclusions"].([]map[string]any)
	require.Len(t, exclusions, 1)
	assert.Equal(t, 2021, exclusions[0]["year"])

	anomalies := st.AnomalyLog()
	found := false
	for _, a := range anomalies {
		if a.Agent == FinancialAnalystName {
			found = true
		}
	}
	assert.True(t, found, "expected financial-analyst to log the exclusion as an anomaly")
}

func TestFinancialAnalystMissingInputErrors(t *testing.T) {
	st := state.New()
	fa := NewFinancialAnalyst()
	h := st.HandleFor(fa.Name(), fa.ProducedOutputs())
	result, err := fa.Run(context.Background(), h, &agent.Context{})
	require.NoError(t, err)
	assert.Equal(t, agent.StatusError, result.Status)
}

func TestFinancialAnalystPromotesBaseDCFToRoot(t *testing.T) {
	st := state.New()
	require.NoError(t, st.HandleFor("ingestion", []string{"financial_data", "sec_filings"}).Set("financial_data", sampleFinancialData()))
	require.NoError(t, st.HandleFor("ingestion", []string{"financial_data", "sec_filings"}).Set("sec_filings", map[string]any{}))

	fa := NewFinancialAnalyst()
	h := st.HandleFor(fa.Name(), fa.ProducedOutputs())
	_, err := fa.Run(context.Background(), h, &agent.Context{})
	require.NoError(t, err)

	v, _ := st.Get("advanced_valuation.dcf_analysis")
	dcf := v.(map[string]any)
	assert.Contains(t, dcf, "enterprise_value")
	assert.Contains(t, dcf, "equity_value_per_share")
	assert.Contains(t, dcf, "scenarios")
}
