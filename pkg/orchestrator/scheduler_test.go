package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealbench/dealbench/pkg/agent"
	"github.com/dealbench/dealbench/pkg/config"
	"github.com/dealbench/dealbench/pkg/events"
	"github.com/dealbench/dealbench/pkg/ingestion"
	"github.com/dealbench/dealbench/pkg/job"
	"github.com/dealbench/dealbench/pkg/state"
	"github.com/dealbench/dealbench/pkg/synthesis"
)

// stubController is a minimal agent.Controller for exercising the
// scheduler's wave computation and failure handling independent of any
// concrete agent's domain logic.
type stubController struct {
	name    string
	inputs  []string
	outputs []string
	run     func(ctx context.Context, h *state.Handle, execCtx *agent.Context) (*agent.Result, error)
}

func (c *stubController) Name() string             { return c.name }
func (c *stubController) RequiredInputs() []string  { return c.inputs }
func (c *stubController) ProducedOutputs() []string { return c.outputs }
func (c *stubController) Run(ctx context.Context, h *state.Handle, execCtx *agent.Context) (*agent.Result, error) {
	return c.run(ctx, h, execCtx)
}

func okResult(payload map[string]any) func(context.Context, *state.Handle, *agent.Context) (*agent.Result, error) {
	return func(_ context.Context, h *state.Handle, _ *agent.Context) (*agent.Result, error) {
		for k, v := range payload {
			if err := h.Set(k, v); err != nil {
				return nil, err
			}
		}
		return &agent.Result{Status: agent.StatusOK, Payload: payload}, nil
	}
}

type stubFinData struct{}

func (stubFinData) Statements(context.Context, string) (map[string]any, error) { return map[string]any{}, nil }
func (stubFinData) MarketData(context.Context, string) (map[string]any, error) { return map[string]any{}, nil }
func (stubFinData) PeerData(context.Context, string) (map[string]any, error)   { return map[string]any{}, nil }
func (stubFinData) MacroData(context.Context) (map[string]any, error)         { return map[string]any{}, nil }

type stubFilings struct{}

func (stubFilings) Filings(context.Context, string, []string) (map[string]any, error) {
	return map[string]any{}, nil
}
func (stubFilings) ProxyStatement(context.Context, string) (map[string]any, error) {
	return map[string]any{}, nil
}

func financialAnalystStub() *agent.BaseAgent {
	dcf := map[string]any{"enterprise_value": 1000.0, "equity_value": 900.0}
	return agent.NewBaseAgent(&stubController{
		name:    "financial-analyst",
		inputs:  []string{"financial_data", "sec_filings"},
		outputs: []string{"normalized_financials", "advanced_valuation.dcf_analysis", "ebitda"},
		run: okResult(map[string]any{
			"normalized_financials":           map[string]any{"quality_score": 0.9},
			"advanced_valuation.dcf_analysis": dcf,
			"ebitda":                          100.0,
		}),
	})
}

func newTestScheduler(t *testing.T, agents []agent.Agent, defaults config.JobDefaults) (*Scheduler, *job.Manager, *events.Publisher) {
	t.Helper()
	jm := job.NewManager()
	pub := events.NewPublisher(events.NewConnectionManager(5 * time.Second))
	sched := New(agents, ingestion.New(stubFinData{}, stubFilings{}), synthesis.New(), pub, jm,
		func(j *job.Job) *agent.Context {
			return &agent.Context{JobID: j.ID, Target: j.Params.Target}
		}, defaults, []string{"financial-analyst"})
	return sched, jm, pub
}

func TestRunHappyPathCompletesJob(t *testing.T) {
	second := agent.NewBaseAgent(&stubController{
		name:    "legal-counsel",
		inputs:  []string{"sec_filings"},
		outputs: []string{"legal_diligence"},
		run:     okResult(map[string]any{"legal_diligence": map[string]any{"risk": "low"}}),
	})
	sched, jm, _ := newTestScheduler(t, []agent.Agent{financialAnalystStub(), second}, config.JobDefaults{})

	j, err := jm.Create(job.Params{Target: "ACME"})
	require.NoError(t, err)

	sched.Run(context.Background(), j)

	snap := j.Snapshot()
	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Nil(t, snap.TerminalError)
}

func TestRunFailsWhenRequiredAgentErrors(t *testing.T) {
	failing := agent.NewBaseAgent(&stubController{
		name:    "financial-analyst",
		inputs:  []string{"financial_data", "sec_filings"},
		outputs: []string{"normalized_financials", "advanced_valuation.dcf_analysis", "ebitda"},
		run: func(context.Context, *state.Handle, *agent.Context) (*agent.Result, error) {
			return &agent.Result{Status: agent.StatusError, Errors: []string{"provider unreachable"}}, nil
		},
	})
	sched, jm, _ := newTestScheduler(t, []agent.Agent{failing}, config.JobDefaults{})

	j, err := jm.Create(job.Params{Target: "ACME"})
	require.NoError(t, err)

	sched.Run(context.Background(), j)

	snap := j.Snapshot()
	assert.Equal(t, job.StatusFailed, snap.Status)
	require.NotNil(t, snap.TerminalError)
	assert.Equal(t, "agent_failure", snap.TerminalError.Kind)
	assert.Equal(t, "financial-analyst", snap.TerminalError.Agent)
}

func TestRunFailsOnUnrequiredAgentErrorStillCompletes(t *testing.T) {
	failingOptional := agent.NewBaseAgent(&stubController{
		name:    "legal-counsel",
		inputs:  []string{"sec_filings"},
		outputs: []string{"legal_diligence"},
		run: func(context.Context, *state.Handle, *agent.Context) (*agent.Result, error) {
			return &agent.Result{Status: agent.StatusError, Errors: []string{"timed out"}}, nil
		},
	})
	sched, jm, _ := newTestScheduler(t, []agent.Agent{financialAnalystStub(), failingOptional}, config.JobDefaults{})

	j, err := jm.Create(job.Params{Target: "ACME"})
	require.NoError(t, err)

	sched.Run(context.Background(), j)

	snap := j.Snapshot()
	assert.Equal(t, job.StatusCompleted, snap.Status, "a non-required agent's failure must not fail the job")
}

func TestComputeWavesOrdersByDependency(t *testing.T) {
	downstream := agent.NewBaseAgent(&stubController{
		name:    "risk-assessment",
		inputs:  []string{"normalized_financials"},
		outputs: []string{"risk_assessment"},
		run:     okResult(nil),
	})
	sched, _, _ := newTestScheduler(t, []agent.Agent{financialAnalystStub(), downstream}, config.JobDefaults{})

	waves, total, err := sched.computeWaves()
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, waves, 2)
	assert.Equal(t, "financial-analyst", waves[0][0].Name())
	assert.Equal(t, "risk-assessment", waves[1][0].Name())
}

func TestComputeWavesRejectsOverlappingOutputs(t *testing.T) {
	a1 := agent.NewBaseAgent(&stubController{name: "a1", outputs: []string{"shared_key"}, run: okResult(nil)})
	a2 := agent.NewBaseAgent(&stubController{name: "a2", outputs: []string{"shared_key"}, run: okResult(nil)})
	sched, _, _ := newTestScheduler(t, []agent.Agent{a1, a2}, config.JobDefaults{})

	_, _, err := sched.computeWaves()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shared_key")
}

func TestComputeWavesRejectsUnsatisfiableDependency(t *testing.T) {
	orphan := agent.NewBaseAgent(&stubController{
		name:    "stray",
		inputs:  []string{"nonexistent_upstream_key"},
		outputs: []string{"stray_output"},
		run:     okResult(nil),
	})
	sched, _, _ := newTestScheduler(t, []agent.Agent{orphan}, config.JobDefaults{})

	_, _, err := sched.computeWaves()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsatisfiable")
}

func TestRunFailsOnSchedulingErrorBeforeIngestion(t *testing.T) {
	a1 := agent.NewBaseAgent(&stubController{name: "a1", outputs: []string{"dup"}, run: okResult(nil)})
	a2 := agent.NewBaseAgent(&stubController{name: "a2", outputs: []string{"dup"}, run: okResult(nil)})
	sched, jm, _ := newTestScheduler(t, []agent.Agent{a1, a2}, config.JobDefaults{})

	j, err := jm.Create(job.Params{Target: "ACME"})
	require.NoError(t, err)

	sched.Run(context.Background(), j)

	snap := j.Snapshot()
	assert.Equal(t, job.StatusFailed, snap.Status)
	assert.Equal(t, "scheduling_error", snap.TerminalError.Kind)
}

func TestRunRespectsJobHardTimeout(t *testing.T) {
	slow := agent.NewBaseAgent(&stubController{
		name:    "financial-analyst",
		inputs:  []string{"financial_data", "sec_filings"},
		outputs: []string{"normalized_financials", "advanced_valuation.dcf_analysis", "ebitda"},
		run: func(ctx context.Context, h *state.Handle, _ *agent.Context) (*agent.Result, error) {
			select {
			case <-time.After(2 * time.Second):
				return &agent.Result{Status: agent.StatusOK}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	sched, jm, _ := newTestScheduler(t, []agent.Agent{slow}, config.JobDefaults{JobHardTimeout: 50 * time.Millisecond})

	j, err := jm.Create(job.Params{Target: "ACME"})
	require.NoError(t, err)

	sched.Run(context.Background(), j)

	snap := j.Snapshot()
	assert.Equal(t, job.StatusFailed, snap.Status)
	require.NotNil(t, snap.TerminalError)
	assert.Equal(t, "job_timeout", snap.TerminalError.Kind)
}

// TestRunHonorsCooperativeCancellation asserts §5's cancellation contract:
// cancel(job-id) never aborts a running agent — it only takes effect at the
// next wave boundary, after the in-flight agent's record is committed.
func TestRunHonorsCooperativeCancellation(t *testing.T) {
	agentStarted := make(chan struct{})
	inFlight := agent.NewBaseAgent(&stubController{
		name:    "financial-analyst",
		inputs:  []string{"financial_data", "sec_filings"},
		outputs: []string{"normalized_financials", "advanced_valuation.dcf_analysis", "ebitda"},
		run: func(ctx context.Context, h *state.Handle, _ *agent.Context) (*agent.Result, error) {
			close(agentStarted)
			// Cancel is requested while this sleep is in flight; a context
			// cancellation here would fail the test via ctx.Err() below.
			time.Sleep(75 * time.Millisecond)
			if ctx.Err() != nil {
				return nil, fmt.Errorf("agent context was cancelled mid-flight: %w", ctx.Err())
			}
			return okResult(map[string]any{
				"normalized_financials":           map[string]any{"quality_score": 0.9},
				"advanced_valuation.dcf_analysis": map[string]any{"enterprise_value": 1000.0},
				"ebitda":                           100.0,
			})(ctx, h, nil)
		},
	})
	second := agent.NewBaseAgent(&stubController{
		name:    "legal-counsel",
		inputs:  []string{"normalized_financials"},
		outputs: []string{"legal_diligence"},
		run:     okResult(map[string]any{"legal_diligence": map[string]any{"risk": "low"}}),
	})
	sched, jm, _ := newTestScheduler(t, []agent.Agent{inFlight, second}, config.JobDefaults{JobHardTimeout: time.Minute})

	j, err := jm.Create(job.Params{Target: "ACME"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		sched.Run(context.Background(), j)
		close(done)
	}()

	<-agentStarted
	require.True(t, jm.Cancel(j.ID))
	<-done

	snap := j.Snapshot()
	assert.Equal(t, job.StatusCancelled, snap.Status)

	rec, ok := j.State.AgentOutput("financial-analyst")
	require.True(t, ok, "the in-flight agent's record must still be committed despite the cancel")
	assert.Equal(t, state.StatusOK, rec.Status)

	_, secondRan := j.State.AgentOutput("legal-counsel")
	assert.False(t, secondRan, "the wave after the cancel boundary must not run")
}

func TestRecordStatusCollapsesFiveWayToThreeWay(t *testing.T) {
	cases := map[agent.Status]state.Status{
		agent.StatusOK:        state.StatusOK,
		agent.StatusWarning:   state.StatusWarning,
		agent.StatusError:     state.StatusError,
		agent.StatusTimedOut:  state.StatusError,
		agent.StatusCancelled: state.StatusError,
	}
	for in, want := range cases {
		assert.Equal(t, want, recordStatus(in), fmt.Sprintf("input=%s", in))
	}
}
