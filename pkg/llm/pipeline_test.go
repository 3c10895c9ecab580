package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dealbench/dealbench/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	calls int
	fn    func(call int) (string, agent.TokenUsage, error)
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Complete(ctx context.Context, prompt string) (string, agent.TokenUsage, error) {
	s.calls++
	return s.fn(s.calls)
}

func noSleep(ctx context.Context, d time.Duration) {}

func TestCallSucceedsOnFirstPrimaryAttempt(t *testing.T) {
	primary := &stubProvider{name: "primary", fn: func(int) (string, agent.TokenUsage, error) {
		return "ok", agent.TokenUsage{TotalTokens: 10}, nil
	}}
	p := New(primary, nil, nil, Config{}, nil).WithSleeper(noSleep)

	text, usage, err := p.Call(context.Background(), "do thing", "label")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 10, usage.TotalTokens)
	assert.Equal(t, 1, primary.calls)
}

func TestCallFallsBackAfterPrimaryExhausted(t *testing.T) {
	var sleeps []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) { sleeps = append(sleeps, d) }

	primary := &stubProvider{name: "primary", fn: func(int) (string, agent.TokenUsage, error) {
		return "", agent.TokenUsage{}, errors.New("timeout")
	}}
	secondary := &stubProvider{name: "secondary", fn: func(call int) (string, agent.TokenUsage, error) {
		return "fallback ok", agent.TokenUsage{}, nil
	}}

	p := New(primary, secondary, nil, Config{FallbackEnabled: true}, nil).WithSleeper(sleeper)
	text, _, err := p.Call(context.Background(), "prompt", "label")
	require.NoError(t, err)
	assert.Equal(t, "fallback ok", text)
	assert.Equal(t, 3, primary.calls)
	assert.Equal(t, 1, secondary.calls)

	// backoff 1s, 2s before primary attempts 2 and 3 (no sleep before attempt 1)
	require.Len(t, sleeps, 2)
	assert.Equal(t, time.Second, sleeps[0])
	assert.Equal(t, 2*time.Second, sleeps[1])

	attempts := p.LastAttempts()
	require.Len(t, attempts, 4)
	assert.Equal(t, "primary", attempts[0].Provider)
	assert.Equal(t, "secondary", attempts[3].Provider)
}

func TestCallReturnsCallErrorWhenBothExhausted(t *testing.T) {
	fail := func(int) (string, agent.TokenUsage, error) { return "", agent.TokenUsage{}, errors.New("down") }
	primary := &stubProvider{name: "primary", fn: fail}
	secondary := &stubProvider{name: "secondary", fn: fail}

	p := New(primary, secondary, nil, Config{FallbackEnabled: true}, nil).WithSleeper(noSleep)
	_, _, err := p.Call(context.Background(), "prompt", "label")

	require.Error(t, err)
	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Len(t, callErr.Attempts, 6)
}

func TestCallDoesNotFallBackWhenDisabled(t *testing.T) {
	fail := func(int) (string, agent.TokenUsage, error) { return "", agent.TokenUsage{}, errors.New("down") }
	primary := &stubProvider{name: "primary", fn: fail}
	secondary := &stubProvider{name: "secondary", fn: func(int) (string, agent.TokenUsage, error) {
		return "should not be called", agent.TokenUsage{}, nil
	}}

	p := New(primary, secondary, nil, Config{FallbackEnabled: false}, nil).WithSleeper(noSleep)
	_, _, err := p.Call(context.Background(), "prompt", "label")

	require.Error(t, err)
	assert.Equal(t, 0, secondary.calls)
}

func TestCallReasoningDoesNotParticipateInFallback(t *testing.T) {
	reasoning := &stubProvider{name: "reasoning", fn: func(int) (string, agent.TokenUsage, error) {
		return "reasoned", agent.TokenUsage{}, nil
	}}
	p := New(nil, nil, reasoning, Config{}, nil).WithSleeper(noSleep)

	text, _, err := p.CallReasoning(context.Background(), "deep prompt", "sensitivity")
	require.NoError(t, err)
	assert.Equal(t, "reasoned", text)
	assert.Equal(t, 1, reasoning.calls)
}
