// Package masking redacts sensitive financial identifiers (account numbers,
// SSNs/EINs, API keys/tokens) from text and decoded JSON payloads. The
// submission API applies it to the synthesized document it returns from the
// result endpoint.
package masking

import (
	"log/slog"
	"regexp"
)

// Pattern is a named, pre-compiled regex masking rule.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatternDefs covers the sensitive identifiers a due-diligence payload
// is likely to surface: SSNs, EINs, bank account/routing numbers, and
// common API-key/bearer-token shapes pulled in verbatim from source
// documents or adapter responses.
var builtinPatternDefs = []struct {
	name        string
	pattern     string
	replacement string
}{
	{"ssn", `\b\d{3}-\d{2}-\d{4}\b`, "[REDACTED-SSN]"},
	{"ein", `\b\d{2}-\d{7}\b`, "[REDACTED-EIN]"},
	{"bank_account", `\b\d{9,17}\b`, "[REDACTED-ACCOUNT]"},
	{"routing_number", `\b(?:ABA|routing)[:# ]*\d{9}\b`, "[REDACTED-ROUTING]"},
	{"api_key", `\b(?:sk|pk|api)[-_][A-Za-z0-9]{16,}\b`, "[REDACTED-KEY]"},
	{"bearer_token", `(?i)\bBearer\s+[A-Za-z0-9._-]{10,}\b`, "Bearer [REDACTED-TOKEN]"},
}

// Service applies the built-in pattern set to text content. Created once at
// startup; safe for concurrent use (read-only after construction).
type Service struct {
	enabled  bool
	patterns []*Pattern
}

// NewService compiles the built-in patterns. Invalid patterns (none,
// normally — this is a defensive guard against a future edit introducing
// a broken regex) are logged and skipped rather than panicking.
func NewService(enabled bool) *Service {
	s := &Service{enabled: enabled}
	for _, def := range builtinPatternDefs {
		re, err := regexp.Compile(def.pattern)
		if err != nil {
			slog.Error("masking: failed to compile built-in pattern, skipping", "pattern", def.name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &Pattern{Name: def.name, Regex: re, Replacement: def.replacement})
	}
	return s
}

// Mask redacts every built-in pattern match in text. Fail-closed: if
// masking is enabled but content is non-empty and something downstream
// should not see raw PII, callers should prefer Mask over passing content
// through unmasked on any doubt.
func (s *Service) Mask(text string) string {
	if !s.enabled || text == "" {
		return text
	}
	masked := text
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}

// MaskPayload walks a decoded JSON-like payload (map/slice/string/etc, as
// produced by an agent's map[string]any output) and masks every string
// leaf, returning a new structure; the input is not modified.
func (s *Service) MaskPayload(v any) any {
	if !s.enabled {
		return v
	}
	switch t := v.(type) {
	case string:
		return s.Mask(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = s.MaskPayload(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = s.MaskPayload(val)
		}
		return out
	default:
		return v
	}
}
