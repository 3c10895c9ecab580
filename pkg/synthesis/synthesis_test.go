package synthesis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealbench/dealbench/pkg/state"
	"github.com/dealbench/dealbench/pkg/validator"
)

func recordOutput(st *state.State, agent string, payload map[string]any) {
	st.RecordAgentOutput(state.AgentOutputRecord{
		Agent:   agent,
		Status:  state.StatusOK,
		Payload: payload,
	})
}

func fullState() *state.State {
	st := state.New()
	_ = st.HandleFor("ingestion", []string{"financial_data"}).Set("financial_data", map[string]any{
		"years": []any{map[string]any{"year": 2024.0, "ebitda": 500_000_000.0}},
	})
	recordOutput(st, "financial-analyst", map[string]any{
		"scenarios": map[string]any{
			"base": map[string]any{"enterprise_value": 2.7e12},
		},
		"enterprise_value": 2.7e12,
		"equity_value":     2.6e12,
		"wacc":             0.09,
	})
	recordOutput(st, "advanced-valuation", map[string]any{"analysis": "LBO returns look favorable"})
	recordOutput(st, "legal-counsel", map[string]any{"analysis": "No material litigation found"})
	recordOutput(st, "market-strategist", map[string]any{"analysis": "Market is growing"})
	recordOutput(st, "macroeconomic-analyst", map[string]any{"analysis": "Rates expected to stabilize"})
	recordOutput(st, "financial-deep-dive", map[string]any{"analysis": "Deep dive complete"})
	recordOutput(st, "competitive-benchmarking", map[string]any{"analysis": "Three primary competitors identified"})
	recordOutput(st, "risk-assessment", map[string]any{"analysis": "Key person risk noted"})
	recordOutput(st, "tax-structuring", map[string]any{"analysis": "Forward merger recommended"})
	recordOutput(st, "deal-structuring", map[string]any{"analysis": "All-cash structure recommended"})
	recordOutput(st, "accretion-dilution", map[string]any{"analysis": "Accretive in year two"})
	recordOutput(st, "sources-uses", map[string]any{"analysis": "Debt financing covers 60%"})
	recordOutput(st, "contribution-analysis", map[string]any{"analysis": "Target contributes 30% of pro forma revenue"})
	recordOutput(st, "exchange-ratio", map[string]any{"analysis": "N/A for cash deal"})
	recordOutput(st, "integration-planner", map[string]any{"analysis": "12-month integration plan"})
	recordOutput(st, "external-validator", map[string]any{"analysis": "Figures cross-checked against filings"})

	st.AppendAnomaly("financial-analyst", "Revenue recognition policy changed in 2024", "medium")
	st.AppendAnomaly("legal-counsel", "revenue recognition policy changed in 2024", "medium")
	st.AppendAnomaly("risk-assessment", "Customer concentration above 40%", "high")
	return st
}

func TestSynthesizeHappyPathProducesValidDocument(t *testing.T) {
	st := fullState()
	syn := New()
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	outcome := syn.Run(st, Params{Target: "Acme Co", Acquirer: "Globex"}, now)
	require.Equal(t, state.StatusOK, outcome.Status)
	require.Empty(t, outcome.Errors)

	doc, err := st.MustGetSynthesized()
	require.NoError(t, err)

	v := validator.Validate(true, doc, validator.Config{}, nil)
	assert.True(t, v.Valid, "issues: %+v", v.Issues)
}

func TestSynthesizeMissingFinancialAnalystIsBlockerAndDoesNotCommit(t *testing.T) {
	st := state.New()
	recordOutput(st, "legal-counsel", map[string]any{"analysis": "ok"})
	syn := New()

	outcome := syn.Run(st, Params{Target: "Acme Co", Acquirer: "Globex"}, time.Now())
	assert.Equal(t, state.StatusError, outcome.Status)
	require.NotEmpty(t, outcome.Errors)
	assert.False(t, st.SynthesizedWritten())

	_, err := st.MustGetSynthesized()
	assert.Error(t, err)
}

func TestSynthesizeMissingOtherAgentsWarnsButCommits(t *testing.T) {
	st := state.New()
	recordOutput(st, "financial-analyst", map[string]any{
		"dcf_outputs": map[string]any{
			"enterprise_value": 1.0e9,
		},
	})
	syn := New()

	outcome := syn.Run(st, Params{Target: "Acme Co", Acquirer: "Globex"}, time.Now())
	assert.Equal(t, state.StatusWarning, outcome.Status)
	assert.NotEmpty(t, outcome.Warnings)
	assert.True(t, st.SynthesizedWritten())
}

func TestSynthesizeDealValueUserProvidedRecordsVariance(t *testing.T) {
	st := fullState()
	syn := New()
	dealValue := 3.0e12

	outcome := syn.Run(st, Params{Target: "Acme Co", Acquirer: "Globex", DealValue: &dealValue}, time.Now())
	require.Equal(t, state.StatusOK, outcome.Status)

	doc, err := st.MustGetSynthesized()
	require.NoError(t, err)

	metadata := doc["deal_value_metadata"].(map[string]any)
	assert.Equal(t, "user_provided", metadata["source"])
	variance := metadata["variance_vs_dcf_base"].(float64)
	assert.InDelta(t, (3.0e12-2.7e12)/2.7e12, variance, 1e-9)
	assert.Equal(t, dealValue, doc["deal_value"])
}

func TestSynthesizeDealValueAutoCalculatedUsesBaseCase(t *testing.T) {
	st := fullState()
	syn := New()

	outcome := syn.Run(st, Params{Target: "Acme Co", Acquirer: "Globex"}, time.Now())
	require.Equal(t, state.StatusOK, outcome.Status)

	doc, err := st.MustGetSynthesized()
	require.NoError(t, err)

	metadata := doc["deal_value_metadata"].(map[string]any)
	assert.Equal(t, "auto_calculated", metadata["source"])
	assert.Equal(t, 2.7e12, doc["deal_value"])
}

func TestSynthesizeDCFOutputsPromotedWithDualShape(t *testing.T) {
	st := fullState()
	syn := New()

	outcome := syn.Run(st, Params{Target: "Acme Co", Acquirer: "Globex"}, time.Now())
	require.Equal(t, state.StatusOK, outcome.Status)

	doc, err := st.MustGetSynthesized()
	require.NoError(t, err)

	financials := doc["detailed_financials"].(map[string]any)
	dcf := financials["dcf_outputs"].(map[string]any)
	assert.Contains(t, dcf, "scenarios")
	assert.Equal(t, 2.7e12, dcf["enterprise_value"])
}

func TestSynthesizeDeduplicatesNearIdenticalAnomalies(t *testing.T) {
	st := fullState()
	syn := New()

	outcome := syn.Run(st, Params{Target: "Acme Co", Acquirer: "Globex"}, time.Now())
	require.Equal(t, state.StatusOK, outcome.Status)

	doc, err := st.MustGetSynthesized()
	require.NoError(t, err)

	anomalies := doc["anomaly_log"].([]map[string]any)
	// Three raw entries, two near-duplicates -> two groups.
	assert.Len(t, anomalies, 2)

	synMeta := doc["synthesis_metadata"].(map[string]any)
	assert.Equal(t, 1, synMeta["deduplication_count"])
}

func TestSynthesizeCompetitiveLandscapePrefersRealDataOverPlaceholder(t *testing.T) {
	st := fullState()
	syn := New()

	outcome := syn.Run(st, Params{Target: "Acme Co", Acquirer: "Globex"}, time.Now())
	require.Equal(t, state.StatusOK, outcome.Status)

	doc, err := st.MustGetSynthesized()
	require.NoError(t, err)

	market := doc["market_analysis"].(map[string]any)
	assert.Equal(t, "Three primary competitors identified", market["competitive_landscape"])
}

func TestSynthesizeMetadataStampedOnEveryRun(t *testing.T) {
	st := fullState()
	syn := New()
	now := time.Date(2026, 7, 29, 9, 30, 0, 0, time.UTC)

	outcome := syn.Run(st, Params{Target: "Acme Co", Acquirer: "Globex"}, now)
	require.Equal(t, state.StatusOK, outcome.Status)

	doc, err := st.MustGetSynthesized()
	require.NoError(t, err)

	metadata := doc["metadata"].(map[string]any)
	assert.Equal(t, DataVersion, metadata["data_version"])
	assert.Equal(t, now.UTC().Format(time.RFC3339Nano), metadata["consolidated_timestamp"])
	assert.Equal(t, 16, metadata["agent_coverage"])
}

func TestSynthesizeNormalizedEBITDAFallsBackToRawFinancialData(t *testing.T) {
	st := fullState()
	if err := st.HandleFor("ingestion", []string{"financial_data"}).Set("financial_data", map[string]any{
		"years": []any{
			map[string]any{"year": 2023.0, "ebitda": 400_000_000.0},
			map[string]any{"year": 2024.0, "ebitda": 450_000_000.0},
		},
	}); err != nil {
		t.Fatalf("set financial_data: %v", err)
	}
	syn := New()

	outcome := syn.Run(st, Params{Target: "Acme Co", Acquirer: "Globex"}, time.Now())
	require.Equal(t, state.StatusOK, outcome.Status)

	doc, err := st.MustGetSynthesized()
	require.NoError(t, err)

	financials := doc["detailed_financials"].(map[string]any)
	assert.Equal(t, 450_000_000.0, financials["normalized_ebitda"])
}

func TestSynthesizeCommitTwiceFails(t *testing.T) {
	st := fullState()
	syn := New()

	first := syn.Run(st, Params{Target: "Acme Co", Acquirer: "Globex"}, time.Now())
	require.Equal(t, state.StatusOK, first.Status)

	second := syn.Run(st, Params{Target: "Acme Co", Acquirer: "Globex"}, time.Now())
	assert.Equal(t, state.StatusError, second.Status)
	require.NotEmpty(t, second.Errors)
}
