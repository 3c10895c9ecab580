// Package agent defines the uniform contract every analytical agent
// satisfies (§4.2), and the scaffolding (BaseAgent/Controller) shared by
// every concrete agent.
package agent

import (
	"context"

	"github.com/dealbench/dealbench/pkg/state"
)

// Status is the terminal outcome of one agent execution.
type Status string

const (
	StatusOK        Status = "ok"
	StatusWarning   Status = "warning"
	StatusError     Status = "error"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// TokenUsage tracks LLM token consumption for one agent execution, summed
// across every call the agent made via the LLM invocation pipeline.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is what execute() returns per §4.2: payload, warnings, errors,
// recommendations, plus bookkeeping the scheduler needs.
type Result struct {
	Status          Status
	Payload         map[string]any
	Warnings        []string
	Errors          []string
	Recommendations []string
	Usage           TokenUsage
	// Err carries the underlying error for StatusError/StatusTimedOut/
	// StatusCancelled outcomes; nil for StatusOK/StatusWarning.
	Err error
}

// Context carries everything an agent needs besides the shared State:
// job parameters and injected collaborators. Collaborators are typed as
// narrow interfaces so this package never imports pkg/llm or
// pkg/adapters/*, avoiding an import cycle between the contract and its
// callers.
type Context struct {
	JobID     string
	Target    string
	Acquirer  string
	DealValue *float64
	Thesis    string

	LLM       LLMCaller
	FinData   FinancialDataSource
	Filings   FilingsSource
	WebSearch WebSearcher
}

// LLMCaller is the subset of the LLM invocation pipeline (pkg/llm) agents depend on.
type LLMCaller interface {
	Call(ctx context.Context, prompt, label string) (string, TokenUsage, error)
}

// FinancialDataSource is the subset of pkg/adapters/findata agents consume.
type FinancialDataSource interface {
	Statements(ctx context.Context, ticker string) (map[string]any, error)
}

// FilingsSource is the subset of pkg/adapters/filings agents consume.
type FilingsSource interface {
	Filings(ctx context.Context, ticker string, formTypes []string) (map[string]any, error)
}

// WebSearcher is the subset of pkg/adapters/websearch the external-validator agent consumes.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// Agent is the uniform contract of §4.2.
type Agent interface {
	// Name is the stable identifier used in logs, events, and state writer audits.
	Name() string

	// RequiredInputs lists state keys that must be present and non-empty for the agent to run.
	RequiredInputs() []string

	// ProducedOutputs lists state keys this agent is the sole writer of.
	ProducedOutputs() []string

	// Execute performs the work. Implementations must not mutate any
	// state key outside ProducedOutputs() (enforced by the Handle they
	// are given) except the append-only anomaly log.
	Execute(ctx context.Context, h *state.Handle, execCtx *Context) (*Result, error)
}
