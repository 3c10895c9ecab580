package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/dealbench/dealbench/pkg/agent"
	"github.com/dealbench/dealbench/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	text  string
	usage agent.TokenUsage
	err   error
}

func (s *stubLLM) Call(ctx context.Context, prompt, label string) (string, agent.TokenUsage, error) {
	return s.text, s.usage, s.err
}

func TestGenericAgentWritesDeclaredOutput(t *testing.T) {
	st := state.New()
	require.NoError(t, st.HandleFor("ingestion", []string{"market_data", "peer_data"}).Set("market_data", map[string]any{"x": 1}))
	require.NoError(t, st.HandleFor("ingestion", []string{"market_data", "peer_data"}).Set("peer_data", map[string]any{"y": 2}))

	a := NewGenericAgent("market-strategist", "market analysis", []string{"market_data", "peer_data"}, []string{"market_analysis_raw"},
		simplePrompt("assess market"))
	execCtx := &agent.Context{Target: "Acme", Acquirer: "Globex", LLM: &stubLLM{text: "looks good"}}
	h := st.HandleFor(a.Name(), a.ProducedOutputs())

	result, err := a.Run(context.Background(), h, execCtx)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusOK, result.Status)

	v, ok := st.Get("market_analysis_raw")
	require.True(t, ok)
	payload, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "looks good", payload["analysis"])
}

func TestGenericAgentMissingInputErrors(t *testing.T) {
	st := state.New()
	a := NewGenericAgent("macroeconomic-analyst", "macro analysis", []string{"macro_data"}, []string{"macro_analysis"},
		simplePrompt("assess macro"))
	execCtx := &agent.Context{LLM: &stubLLM{text: "n/a"}}
	h := st.HandleFor(a.Name(), a.ProducedOutputs())

	result, err := a.Run(context.Background(), h, execCtx)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusError, result.Status)
	assert.Contains(t, result.Errors[0], "macro_data")
}

func TestGenericAgentLLMFailurePropagates(t *testing.T) {
	st := state.New()
	require.NoError(t, st.HandleFor("ingestion", []string{"macro_data"}).Set("macro_data", map[string]any{}))

	a := NewGenericAgent("macroeconomic-analyst", "macro analysis", []string{"macro_data"}, []string{"macro_analysis"},
		simplePrompt("assess macro"))
	execCtx := &agent.Context{LLM: &stubLLM{err: errors.New("provider exhausted")}}
	h := st.HandleFor(a.Name(), a.ProducedOutputs())

	result, err := a.Run(context.Background(), h, execCtx)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusError, result.Status)
	assert.Contains(t, result.Errors[0], "provider exhausted")
}

func TestGenericAgentRejectsMultiOutputDeclaration(t *testing.T) {
	st := state.New()
	require.NoError(t, st.HandleFor("ingestion", []string{"macro_data"}).Set("macro_data", map[string]any{}))

	a := NewGenericAgent("broken", "broken", []string{"macro_data"}, []string{"a", "b"}, simplePrompt("x"))
	execCtx := &agent.Context{LLM: &stubLLM{text: "ok"}}
	h := st.HandleFor(a.Name(), a.ProducedOutputs())

	result, err := a.Run(context.Background(), h, execCtx)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusError, result.Status)
}
