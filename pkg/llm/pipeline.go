// Package llm implements the invocation pipeline (§4.3): retry against a
// primary provider with exponential backoff, fall back to a secondary
// provider, and a separate non-fallback reasoning channel.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dealbench/dealbench/pkg/agent"
)

// Provider is a chat-completion backend. pkg/adapters/llmprovider supplies
// concrete implementations over google.golang.org/genai (primary) and
// go-resty (secondary, HTTP chat-completion).
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, agent.TokenUsage, error)
}

// Config tunes retry/backoff/timeout behavior. Zero-value fields are
// replaced with the documented defaults by New.
type Config struct {
	MaxRetries       int           // default 3
	PrimaryTimeout   time.Duration // default 90s, per primary attempt
	SecondaryTimeout time.Duration // default 120s, per secondary attempt
	ReasoningTimeout time.Duration // default 180s, for the reasoning channel
	BackoffBase      time.Duration // default 1s; doubles per attempt (1s, 2s, 4s, ...)
	FallbackEnabled  bool          // default true
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.PrimaryTimeout <= 0 {
		c.PrimaryTimeout = 90 * time.Second
	}
	if c.SecondaryTimeout <= 0 {
		c.SecondaryTimeout = 120 * time.Second
	}
	if c.ReasoningTimeout <= 0 {
		c.ReasoningTimeout = 180 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	return c
}

// AttemptRecord is one attempt in a call's history, kept for diagnostics
// and for tests asserting the fallback-chain shape (scenario 2 of §8).
type AttemptRecord struct {
	Provider string
	Attempt  int // 1-indexed within its provider
	Err      error
}

// CallError is returned when the primary chain is exhausted and the
// secondary chain, if fallback is enabled and a secondary provider is
// configured, is exhausted too. It names every attempt so callers (and the job's terminal
// error) can report exactly what was tried.
type CallError struct {
	Label    string
	Attempts []AttemptRecord
}

func (e *CallError) Error() string {
	return fmt.Sprintf("llm call %q exhausted %d attempt(s) across all providers", e.Label, len(e.Attempts))
}

var ErrNoFallbackConfigured = errors.New("llm: fallback requested but no secondary provider configured")

type sleeper func(ctx context.Context, d time.Duration)

func realSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Pipeline is the single helper agents call for every LLM interaction
// (§4.3). Safe for concurrent use by multiple agents.
type Pipeline struct {
	primary   Provider
	secondary Provider
	reasoning Provider
	cfg       Config
	sleep     sleeper
	logger    *slog.Logger

	mu           sync.Mutex      // guards lastAttempts
	lastAttempts []AttemptRecord // most recent call's attempt log, for tests/observability
}

// New constructs a Pipeline. secondary and reasoning may be nil if unused.
func New(primary, secondary, reasoning Provider, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		primary:   primary,
		secondary: secondary,
		reasoning: reasoning,
		cfg:       cfg.withDefaults(),
		sleep:     realSleep,
		logger:    logger,
	}
}

// WithSleeper overrides the backoff sleep function (used by tests to avoid
// real wall-clock delays while still exercising the retry count/order).
func (p *Pipeline) WithSleeper(s func(ctx context.Context, d time.Duration)) *Pipeline {
	p.sleep = s
	return p
}

// LastAttempts returns the attempt log of the most recently completed
// call. With calls in flight on other goroutines, that is whichever call
// finished last; intended for test assertions.
func (p *Pipeline) LastAttempts() []AttemptRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAttempts
}

// Call implements agent.LLMCaller: call(prompt, context_label, ...) → text.
// fallback_enabled and max_retries come from the Pipeline's Config; §4.3
// describes them as call-contract parameters, which we resolve once at
// Pipeline construction since every agent in this system shares the same
// retry policy.
func (p *Pipeline) Call(ctx context.Context, prompt, label string) (string, agent.TokenUsage, error) {
	var attempts []AttemptRecord
	defer func() {
		p.mu.Lock()
		p.lastAttempts = attempts
		p.mu.Unlock()
	}()

	text, usage, err := p.attemptChain(ctx, p.primary, prompt, label, p.cfg.PrimaryTimeout, &attempts)
	if err == nil {
		return text, usage, nil
	}

	if p.cfg.FallbackEnabled && p.secondary != nil {
		text, usage, err2 := p.attemptChain(ctx, p.secondary, prompt, label, p.cfg.SecondaryTimeout, &attempts)
		if err2 == nil {
			return text, usage, nil
		}
	}

	return "", agent.TokenUsage{}, &CallError{Label: label, Attempts: attempts}
}

// attemptChain runs up to MaxRetries attempts against one provider, with
// exponential backoff between attempts, each bounded by perAttemptTimeout.
func (p *Pipeline) attemptChain(ctx context.Context, provider Provider, prompt, label string, perAttemptTimeout time.Duration, attempts *[]AttemptRecord) (string, agent.TokenUsage, error) {
	if provider == nil {
		return "", agent.TokenUsage{}, fmt.Errorf("llm: no provider configured for %q", label)
	}

	backoff := p.cfg.BackoffBase
	for i := 1; i <= p.cfg.MaxRetries; i++ {
		if i > 1 {
			p.sleep(ctx, backoff)
			backoff *= 2
		}
		if err := ctx.Err(); err != nil {
			*attempts = append(*attempts, AttemptRecord{Provider: provider.Name(), Attempt: i, Err: err})
			return "", agent.TokenUsage{}, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		text, usage, err := provider.Complete(attemptCtx, prompt)
		cancel()

		if err == nil {
			*attempts = append(*attempts, AttemptRecord{Provider: provider.Name(), Attempt: i})
			return text, usage, nil
		}
		p.logger.Warn("llm attempt failed", "provider", provider.Name(), "label", label, "attempt", i, "error", err)
		*attempts = append(*attempts, AttemptRecord{Provider: provider.Name(), Attempt: i, Err: err})
	}
	return "", agent.TokenUsage{}, fmt.Errorf("llm: %s exhausted %d attempt(s) for %q", provider.Name(), p.cfg.MaxRetries, label)
}

// CallReasoning performs a multi-step reasoning call against the
// dedicated reasoning provider. It does not participate in the
// primary/secondary fallback chain (§4.3 "Reasoning channel").
func (p *Pipeline) CallReasoning(ctx context.Context, prompt, label string) (string, agent.TokenUsage, error) {
	if p.reasoning == nil {
		return "", agent.TokenUsage{}, fmt.Errorf("llm: no reasoning provider configured for %q", label)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.ReasoningTimeout)
	defer cancel()
	return p.reasoning.Complete(attemptCtx, prompt)
}
