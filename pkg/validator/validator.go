// Package validator implements the consistency validator (§4.5): the
// boundary guard between synthesis and any downstream consumer. It never
// mutates the synthesized document; it only inspects it and reports issues.
package validator

import (
	"fmt"
)

// Severity classifies how serious an issue is. Only SeverityCriticalBlocker
// fails the job; everything else is logged but allows rendering to proceed.
type Severity string

const (
	SeverityCriticalBlocker Severity = "critical-blocker"
	// SeverityCriticalAlert marks a post-generation alert serious enough to
	// page someone but that must not fail the job (§4.5 "Cross-format value
	// consistency" — non-blocking but raises the alarm).
	SeverityCriticalAlert Severity = "critical-alert"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
)

// Issue is one finding from a validation pass.
type Issue struct {
	Severity    Severity
	Description string
	Remediation string
}

// Outcome is the result of a validation pass (§4.5 "Outcome").
type Outcome struct {
	Valid  bool
	Issues []Issue
}

// HasBlocker reports whether any issue is a critical blocker.
func (o Outcome) HasBlocker() bool {
	for _, issue := range o.Issues {
		if issue.Severity == SeverityCriticalBlocker {
			return true
		}
	}
	return false
}

// HasCriticalAlert reports whether any issue is a non-blocking critical
// alert (currently only raised by the cross-format consistency check).
func (o Outcome) HasCriticalAlert() bool {
	for _, issue := range o.Issues {
		if issue.Severity == SeverityCriticalAlert {
			return true
		}
	}
	return false
}

// requiredSections are the fixed top-level sections of the synthesized
// document (§3 "Synthesized Document").
var requiredSections = []string{
	"metadata",
	"executive_summary",
	"detailed_financials",
	"legal_diligence",
	"market_analysis",
	"risk_macro",
	"validation_summary",
	"integration_blueprint",
	"tax_structure",
}

// declaredAgentCount is the coverage floor at or above which a shortfall is
// reported as a blocker rather than a high-severity issue. It is a fixed
// constant and does not track the registry, which declares 16 agents.
const declaredAgentCount = 13

// Config tunes validator thresholds.
type Config struct {
	// MinAgentCoverage is the minimum metadata.agent_coverage accepted
	// without a high-severity issue. Default 10 (§4.5).
	MinAgentCoverage int
}

func (c Config) withDefaults() Config {
	if c.MinAgentCoverage <= 0 {
		c.MinAgentCoverage = 10
	}
	return c
}

// RenderedMetrics carries the subset of values a renderer independently
// computed from its own output format, for the cross-format consistency
// check (§4.5 "Cross-format value consistency"). Supply nil to skip it.
type RenderedMetrics struct {
	EnterpriseValue float64
	EBITDA          float64
	AgentCount      int
}

// Validate runs every check against a synthesized document. synthesizedPresent
// must be false if the document itself could not be retrieved (e.g.
// state.ErrSynthesizedMissing) — in that case doc is ignored.
func Validate(synthesizedPresent bool, doc map[string]any, cfg Config, rendered *RenderedMetrics) Outcome {
	cfg = cfg.withDefaults()

	if !synthesizedPresent {
		return Outcome{Valid: false, Issues: []Issue{{
			Severity:    SeverityCriticalBlocker,
			Description: "synthesized_data is not present",
			Remediation: "Synthesis agent must commit synthesized_data before validation runs",
		}}}
	}

	var issues []Issue
	issues = append(issues, checkRequiredSections(doc)...)
	issues = append(issues, checkDCFShape(doc)...)
	issues = append(issues, checkNormalizedEBITDA(doc)...)
	issues = append(issues, checkAgentCoverage(doc, cfg)...)
	issues = append(issues, checkVersionMetadata(doc)...)
	issues = append(issues, checkCrossFormatConsistency(doc, rendered)...)

	valid := true
	for _, issue := range issues {
		if issue.Severity == SeverityCriticalBlocker {
			valid = false
			break
		}
	}
	return Outcome{Valid: valid, Issues: issues}
}

func checkRequiredSections(doc map[string]any) []Issue {
	var issues []Issue
	for _, section := range requiredSections {
		v, ok := doc[section]
		if !ok || isNilOrEmptyMap(v) {
			severity := SeverityHigh
			remediation := fmt.Sprintf("Ensure at least one contributing agent populates %q", section)
			if section == "detailed_financials" {
				severity = SeverityCriticalBlocker
				remediation = "Financial analyst must complete valuation before synthesis"
			}
			issues = append(issues, Issue{
				Severity:    severity,
				Description: fmt.Sprintf("required section %q is missing", section),
				Remediation: remediation,
			})
		}
	}
	return issues
}

func checkDCFShape(doc map[string]any) []Issue {
	financials, ok := doc["detailed_financials"].(map[string]any)
	if !ok {
		// Already reported as a blocker by checkRequiredSections.
		return nil
	}
	dcf, ok := financials["dcf_outputs"].(map[string]any)
	if !ok {
		return []Issue{{
			Severity:    SeverityCriticalBlocker,
			Description: "detailed_financials.dcf_outputs is missing",
			Remediation: "Financial analyst must complete valuation before synthesis",
		}}
	}

	_, hasScenarios := dcf["scenarios"].(map[string]any)
	ev, hasEV := asPositiveFloat(dcf["enterprise_value"])

	if !hasEV {
		desc := "detailed_financials.dcf_outputs.enterprise_value is missing or not greater than zero"
		if hasScenarios {
			desc = "detailed_financials.dcf_outputs has nested scenarios but no root-promoted enterprise_value"
		}
		return []Issue{{
			Severity:    SeverityCriticalBlocker,
			Description: desc,
			Remediation: "DCF valuation missing from detailed_financials",
		}}
	}
	_ = ev
	return nil
}

func checkNormalizedEBITDA(doc map[string]any) []Issue {
	financials, ok := doc["detailed_financials"].(map[string]any)
	if !ok {
		return nil
	}
	v, ok := financials["normalized_ebitda"]
	if !ok {
		return []Issue{{
			Severity:    SeverityHigh,
			Description: "detailed_financials.normalized_ebitda is missing",
			Remediation: "Synthesis must fall back to raw latest-statement EBITDA or 0",
		}}
	}
	if _, isNumber := asFloat(v); !isNumber {
		return []Issue{{
			Severity:    SeverityHigh,
			Description: "detailed_financials.normalized_ebitda is not numeric",
			Remediation: "Synthesis must coerce normalized_ebitda to a number",
		}}
	}
	return nil
}

func checkAgentCoverage(doc map[string]any, cfg Config) []Issue {
	metadata, ok := doc["metadata"].(map[string]any)
	if !ok {
		return nil
	}
	coverage, _ := asFloat(metadata["agent_coverage"])
	if int(coverage) < cfg.MinAgentCoverage {
		severity := SeverityHigh
		if cfg.MinAgentCoverage >= declaredAgentCount {
			severity = SeverityCriticalBlocker
		}
		return []Issue{{
			Severity:    severity,
			Description: fmt.Sprintf("agent coverage %d is below the configured floor of %d", int(coverage), cfg.MinAgentCoverage),
			Remediation: "Re-run missing agents before relying on this analysis",
		}}
	}
	return nil
}

func checkVersionMetadata(doc map[string]any) []Issue {
	metadata, ok := doc["metadata"].(map[string]any)
	if !ok {
		return nil
	}
	var issues []Issue
	if s, _ := metadata["data_version"].(string); s == "" {
		issues = append(issues, Issue{
			Severity:    SeverityHigh,
			Description: "metadata.data_version is empty",
			Remediation: "Synthesis must stamp a data_version on every run",
		})
	}
	if s, _ := metadata["consolidated_timestamp"].(string); s == "" {
		issues = append(issues, Issue{
			Severity:    SeverityHigh,
			Description: "metadata.consolidated_timestamp is empty",
			Remediation: "Synthesis must stamp a consolidated_timestamp on every run",
		})
	}
	return issues
}

func checkCrossFormatConsistency(doc map[string]any, rendered *RenderedMetrics) []Issue {
	if rendered == nil {
		return nil
	}
	financials, _ := doc["detailed_financials"].(map[string]any)
	dcf, _ := financials["dcf_outputs"].(map[string]any)
	ev, _ := asFloat(dcf["enterprise_value"])
	ebitda, _ := asFloat(financials["normalized_ebitda"])
	metadata, _ := doc["metadata"].(map[string]any)
	coverage, _ := asFloat(metadata["agent_coverage"])

	if ev != rendered.EnterpriseValue || ebitda != rendered.EBITDA || int(coverage) != rendered.AgentCount {
		return []Issue{{
			Severity:    SeverityCriticalAlert,
			Description: "rendered output metrics do not match the synthesized document bit-for-bit",
			Remediation: "Re-render from synthesized_data; do not patch rendered artifacts independently",
		}}
	}
	return nil
}

func isNilOrEmptyMap(v any) bool {
	if v == nil {
		return true
	}
	if m, ok := v.(map[string]any); ok {
		return len(m) == 0
	}
	return false
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

func asPositiveFloat(v any) (float64, bool) {
	f, ok := asFloat(v)
	if !ok || f <= 0 {
		return 0, false
	}
	return f, true
}
