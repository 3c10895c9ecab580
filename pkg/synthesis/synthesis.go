// Package synthesis implements the synthesis agent (§4.4): the stage that
// consolidates every preceding agent's output into the single canonical
// synthesized_data document, written exactly once via state.CommitSynthesized.
package synthesis

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dealbench/dealbench/pkg/state"
)

// DataVersion is stamped on every synthesized document (§4.4 step 6).
// Schema migrations that change the dual dcf_outputs shape (§9 "Validator
// evolution") should bump this.
const DataVersion = "1"

var (
	// ErrMissingRequiredAgent is returned when financial-analyst (the
	// section synthesis cannot proceed without) never ran.
	ErrMissingRequiredAgent = errors.New("synthesis: required agent output missing")
)

// Params carries the job parameters synthesis needs (§4.4 "Inputs").
type Params struct {
	Target    string
	Acquirer  string
	DealValue *float64
	Thesis    string
}

// Outcome is what the orchestrator records for the synthesis stage —
// shaped like an agent result since the scheduler treats synthesis as a
// pipeline stage with the same ok/warning/error status vocabulary (§4.1).
type Outcome struct {
	Status   state.Status
	Warnings []string
	Errors   []string
}

// declaredAgents is the collect-step list (§4.4 step 1): every agent name
// synthesis looks for by record, independent of whether it actually ran.
var declaredAgents = []string{
	"financial-analyst",
	"advanced-valuation",
	"legal-counsel",
	"market-strategist",
	"macroeconomic-analyst",
	"financial-deep-dive",
	"competitive-benchmarking",
	"risk-assessment",
	"tax-structuring",
	"deal-structuring",
	"accretion-dilution",
	"sources-uses",
	"contribution-analysis",
	"exchange-ratio",
	"integration-planner",
	"external-validator",
}

// Synthesizer runs the synthesis procedure over a job's State.
type Synthesizer struct {
	// SimilarityThreshold bounds how close two anomaly descriptions must
	// be (Jaccard over normalized tokens) to be merged as the same
	// finding (§4.4 step 3, §9 "avoid fuzzy LLM-based deduplication").
	SimilarityThreshold float64
}

// New constructs a Synthesizer with the default similarity threshold.
func New() *Synthesizer {
	return &Synthesizer{SimilarityThreshold: 0.8}
}

// Run executes the synthesis procedure (§4.4 steps 1-7). now is injected
// so tests can assert deterministic timestamps.
func (s *Synthesizer) Run(st *state.State, params Params, now time.Time) Outcome {
	records := make(map[string]state.AgentOutputRecord, len(declaredAgents))
	var missing []string
	for _, name := range declaredAgents {
		rec, ok := st.AgentOutput(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		records[name] = rec
	}

	faRecord, haveFA := records["financial-analyst"]
	if !haveFA {
		return Outcome{
			Status: state.StatusError,
			Errors: []string{fmt.Sprintf("%v: financial-analyst did not run", ErrMissingRequiredAgent)},
		}
	}

	var warnings []string
	for _, name := range missing {
		warnings = append(warnings, fmt.Sprintf("agent %q did not produce a record; section coverage reduced", name))
	}

	// The financial analyst commits its DCF block under
	// advanced_valuation.dcf_analysis; its record payload is the fallback.
	dcfSource := faRecord.Payload
	if v, ok := st.Get("advanced_valuation.dcf_analysis"); ok {
		if m, ok := v.(map[string]any); ok {
			dcfSource = m
		}
	}
	dcfOutputs := serialize(dcfSource)
	financials := map[string]any{
		"dcf_outputs":       dcfOutputs,
		"normalized_ebitda": s.resolveNormalizedEBITDA(st, &warnings),
	}

	dedupedAnomalies, dedupCount := deduplicateAnomalies(st.AnomalyLog(), s.SimilarityThreshold)

	doc := map[string]any{
		"executive_summary":     executiveSummary(records, params),
		"detailed_financials":   financials,
		"legal_diligence":       payloadOrEmpty(records, "legal-counsel"),
		"market_analysis":       marketAnalysis(records),
		"risk_macro":            riskMacro(records),
		"validation_summary":    payloadOrEmpty(records, "external-validator"),
		"integration_blueprint": payloadOrEmpty(records, "integration-planner"),
		"tax_structure":         payloadOrEmpty(records, "tax-structuring"),
		"anomaly_log":           dedupedAnomalies,
	}

	annotateDealValue(doc, financials, params)

	doc["metadata"] = map[string]any{
		"agent_coverage":         len(records),
		"data_version":           DataVersion,
		"consolidated_timestamp": now.UTC().Format(time.RFC3339Nano),
	}
	doc["synthesis_metadata"] = map[string]any{
		"contributing_agents":   contributingAgentNames(records),
		"deduplication_count":   dedupCount,
		"missing_agent_records": missing,
	}

	if err := st.CommitSynthesized(doc); err != nil {
		return Outcome{Status: state.StatusError, Errors: []string{err.Error()}}
	}

	status := state.StatusOK
	if len(warnings) > 0 {
		status = state.StatusWarning
	}
	return Outcome{Status: status, Warnings: warnings}
}

// resolveNormalizedEBITDA implements §4.4 step 4's normalized_ebitda
// fallback chain: financial-analyst's computed value, else the raw
// latest income statement's EBITDA, else 0 with a warning.
func (s *Synthesizer) resolveNormalizedEBITDA(st *state.State, warnings *[]string) float64 {
	if v, ok := st.Get("ebitda"); ok {
		if f, ok := asFloat(v); ok {
			return f
		}
	}
	if raw, ok := st.Get("financial_data"); ok {
		if finData, ok := raw.(map[string]any); ok {
			if years, ok := finData["years"].([]any); ok && len(years) > 0 {
				if latest, ok := years[len(years)-1].(map[string]any); ok {
					if f, ok := asFloat(latest["ebitda"]); ok {
						return f
					}
				}
			}
		}
	}
	*warnings = append(*warnings, "normalized_ebitda unavailable from any source; defaulted to 0")
	return 0
}

// annotateDealValue implements §4.4 step 5.
func annotateDealValue(doc map[string]any, financials map[string]any, params Params) {
	dcf, _ := financials["dcf_outputs"].(map[string]any)
	baseEV, _ := asFloat(dcf["enterprise_value"])

	metadata, _ := doc["deal_value_metadata"].(map[string]any)
	if metadata == nil {
		metadata = map[string]any{}
	}

	if params.DealValue != nil {
		variance := 0.0
		if baseEV != 0 {
			variance = (*params.DealValue - baseEV) / baseEV
		}
		metadata["source"] = "user_provided"
		metadata["variance_vs_dcf_base"] = variance
		doc["deal_value"] = *params.DealValue
	} else {
		metadata["source"] = "auto_calculated"
		if scenarios, ok := dcf["scenarios"].(map[string]any); ok {
			metadata["scenario_range"] = scenarios
		}
		doc["deal_value"] = baseEV
	}
	doc["deal_value_metadata"] = metadata
}

func executiveSummary(records map[string]state.AgentOutputRecord, params Params) map[string]any {
	rec, ok := records["external-validator"]
	summary := map[string]any{
		"target":   params.Target,
		"acquirer": params.Acquirer,
		"thesis":   params.Thesis,
	}
	if ok {
		summary["cross_validation"] = serialize(rec.Payload)
	}
	return summary
}

func marketAnalysis(records map[string]state.AgentOutputRecord) map[string]any {
	out := map[string]any{}
	if rec, ok := records["market-strategist"]; ok {
		out["market_overview"] = serialize(rec.Payload)
	}
	// §4.4 step 4: prefer real competitive-benchmarking data over any
	// "N/A" placeholder the synthesis layer might otherwise produce.
	landscape := "N/A"
	if rec, ok := records["competitive-benchmarking"]; ok {
		if narrative, ok := rec.Payload["analysis"].(string); ok && narrative != "" {
			landscape = narrative
		} else if len(rec.Payload) > 0 {
			landscape = fmt.Sprintf("%v", serialize(rec.Payload))
		}
	}
	out["competitive_landscape"] = landscape
	return out
}

func riskMacro(records map[string]state.AgentOutputRecord) map[string]any {
	rec, ok := records["macroeconomic-analyst"]
	if !ok {
		return map[string]any{}
	}
	// The macro agent is out-of-scope domain logic (§4.2) and returns a
	// single narrative; §4.4 calls for three distinct subsections, so the
	// narrative is carried under all three rather than fabricated data.
	return map[string]any{
		"scenario_models":     serialize(rec.Payload),
		"correlation_analysis": serialize(rec.Payload),
		"sensitivity_analysis": serialize(rec.Payload),
	}
}

func payloadOrEmpty(records map[string]state.AgentOutputRecord, name string) map[string]any {
	rec, ok := records[name]
	if !ok {
		return map[string]any{}
	}
	return serialize(rec.Payload)
}

func contributingAgentNames(records map[string]state.AgentOutputRecord) []string {
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// serialize recursively converts agent payloads into ordered maps and
// plain slices so the document round-trips deterministically through
// JSON (§4.4 step 2, §9 "numeric-library tables crossing boundaries" —
// agents already return plain records by construction, so this is a
// defensive deep-copy rather than a table-to-record conversion).
func serialize(v any) map[string]any {
	out, _ := serializeValue(v).(map[string]any)
	if out == nil {
		return map[string]any{}
	}
	return out
}

func serializeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = serializeValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = serializeValue(vv)
		}
		return out
	default:
		return val
	}
}

// deduplicateAnomalies merges anomaly entries whose normalized
// descriptions are near-identical (§4.4 step 3, §9 "category +
// canonicalized subject string with a small normalization function").
// Anomaly entries have no category field distinct from description, so
// the normalized description itself is the dedup key.
func deduplicateAnomalies(entries []state.AnomalyEntry, threshold float64) ([]map[string]any, int) {
	type group struct {
		description string
		severity    string
		agents      map[string]bool
	}
	var groups []*group

	for _, e := range entries {
		canon := canonicalize(e.Description)
		var matched *group
		for _, g := range groups {
			if similarity(canon, canonicalize(g.description)) >= threshold {
				matched = g
				break
			}
		}
		if matched == nil {
			matched = &group{description: e.Description, severity: e.Severity, agents: map[string]bool{}}
			groups = append(groups, matched)
		}
		matched.agents[e.Agent] = true
	}

	merged := 0
	out := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		agents := make([]string, 0, len(g.agents))
		for a := range g.agents {
			agents = append(agents, a)
		}
		sort.Strings(agents)
		if len(agents) > 1 {
			merged++
		}
		out = append(out, map[string]any{
			"description":         g.description,
			"severity":            g.severity,
			"contributing_agents": agents,
		})
	}
	return out, merged
}

func canonicalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// similarity is a Jaccard index over whitespace-separated tokens — cheap,
// deterministic, and reproducible (§9 "avoid fuzzy LLM-based
// deduplication ... document the rule").
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	aTokens := tokenSet(a)
	bTokens := tokenSet(b)
	if len(aTokens) == 0 && len(bTokens) == 0 {
		return 1
	}
	intersection := 0
	for t := range aTokens {
		if bTokens[t] {
			intersection++
		}
	}
	union := len(aTokens) + len(bTokens) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	tokens := strings.Fields(s)
	out := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		out[t] = true
	}
	return out
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
