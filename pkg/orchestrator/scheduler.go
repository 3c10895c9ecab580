// Package orchestrator implements the Orchestrator/Scheduler (§4.1):
// drives one job from queued to terminal through the five fixed
// pipeline stages, computing agent execution waves dynamically from the
// registry's declared RequiredInputs()/ProducedOutputs().
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dealbench/dealbench/pkg/agent"
	"github.com/dealbench/dealbench/pkg/config"
	"github.com/dealbench/dealbench/pkg/events"
	"github.com/dealbench/dealbench/pkg/ingestion"
	"github.com/dealbench/dealbench/pkg/job"
	"github.com/dealbench/dealbench/pkg/state"
	"github.com/dealbench/dealbench/pkg/synthesis"
	"github.com/dealbench/dealbench/pkg/validator"
)

// requiredStageNames marks the pipeline stages whose failure
// fails the whole job (§4.1 "Failure policy"). ingestion/synthesis/
// consistency-validator are pipeline stages, not registry agents, so
// they're checked by name directly rather than via agents.RequiredAgentNames.
var requiredStageNames = map[string]bool{
	ingestion.Name:     true,
	synthesisStageName: true,
	validatorStageName: true,
}

const (
	synthesisStageName = "synthesis"
	validatorStageName = "consistency-validator"
)

// Scheduler drives exactly one job's pipeline (§4.1 "Operate on exactly
// one job per instance; multiple jobs run as independent instances").
type Scheduler struct {
	Agents      []agent.Agent
	Ingestion   *ingestion.Stage
	Synthesizer *synthesis.Synthesizer
	Validator   validator.Config
	Publisher   *events.Publisher
	JobManager  *job.Manager
	ExecContext func(j *job.Job) *agent.Context // builds per-job collaborator wiring
	JobDefaults config.JobDefaults
	Logger      *slog.Logger
	Now         func() time.Time
	RequiredAgentNames []string // additional required registry agents (e.g. financial-analyst)
}

// New constructs a Scheduler with sane defaults for Logger/Now.
func New(agents []agent.Agent, ing *ingestion.Stage, syn *synthesis.Synthesizer, pub *events.Publisher, jm *job.Manager, execCtx func(j *job.Job) *agent.Context, defaults config.JobDefaults, requiredAgents []string) *Scheduler {
	return &Scheduler{
		Agents:             agents,
		Ingestion:          ing,
		Synthesizer:        syn,
		Publisher:          pub,
		JobManager:         jm,
		ExecContext:        execCtx,
		JobDefaults:        defaults,
		Logger:             slog.Default(),
		Now:                time.Now,
		RequiredAgentNames: requiredAgents,
	}
}

func (s *Scheduler) isRequired(name string) bool {
	if requiredStageNames[name] {
		return true
	}
	for _, n := range s.RequiredAgentNames {
		if n == name {
			return true
		}
	}
	return false
}

// Run executes the pipeline to completion for j (§4.1 "run(job-id)").
// Idempotent with respect to jobs already terminal.
//
// hardCtx bounds every agent's context with the job's hard deadline
// (§5 "Timeouts") — it is the context agents actually execute under, so
// individual provider calls are disconnected once it elapses. cancel(job-id)
// is deliberately kept off that context: it only raises cancelRequested, a
// flag checked solely at wave boundaries, so a running agent always runs to
// completion (or to its own provider timeout) rather than being aborted
// mid-call (§5 "Cancellation semantics").
func (s *Scheduler) Run(ctx context.Context, j *job.Job) {
	if j.Status().IsTerminal() {
		return
	}

	hardCtx, hardCancel := context.WithTimeout(ctx, s.hardTimeout())
	defer hardCancel()

	cancelRequested := make(chan struct{})
	var cancelOnce sync.Once
	s.JobManager.RegisterCancel(j.ID, func() { cancelOnce.Do(func() { close(cancelRequested) }) })
	defer s.JobManager.UnregisterCancel(j.ID)

	j.SetStatus(job.StatusRunning)

	waves, total, err := s.computeWaves()
	if err != nil {
		s.failJob(j, &job.TerminalError{Kind: "scheduling_error", Message: err.Error()})
		return
	}

	execCtx := s.ExecContext(j)

	if err := s.runIngestion(hardCtx, j); err != nil {
		s.handleStageFailure(j, ingestion.Name, err)
		return
	}

	completed := 0
	for _, wave := range waves {
		if stop, kind := checkBoundary(hardCtx, cancelRequested); stop {
			s.handleBoundaryStop(j, kind)
			return
		}

		results := s.runWave(hardCtx, j, wave, execCtx)

		for _, r := range results {
			completed++
			j.AdvanceProgress(completed, total)
			s.Publisher.PublishJobProgress(j.ID, completed, total)

			if r.result.Status == agent.StatusError && s.isRequired(r.agentName) {
				s.failJob(j, &job.TerminalError{
					Kind:    "agent_failure",
					Agent:   r.agentName,
					Message: firstOrJoined(r.result.Errors),
				})
				return
			}
		}

		if stop, kind := checkBoundary(hardCtx, cancelRequested); stop {
			s.handleBoundaryStop(j, kind)
			return
		}
	}

	j.SetStatus(job.StatusSynthesizing)
	s.runSynthesisAndValidation(hardCtx, j)
}

// boundaryStop names which wave-boundary condition fired.
type boundaryStop int

const (
	boundaryNone boundaryStop = iota
	boundaryTimeout
	boundaryCancelled
)

// checkBoundary is polled only at wave boundaries (never inside a running
// agent), distinguishing the job's hard deadline from a cooperative
// cancel() request (§5 "Cancellation semantics", "Timeouts").
func checkBoundary(hardCtx context.Context, cancelRequested <-chan struct{}) (bool, boundaryStop) {
	select {
	case <-hardCtx.Done():
		return true, boundaryTimeout
	default:
	}
	select {
	case <-cancelRequested:
		return true, boundaryCancelled
	default:
	}
	return false, boundaryNone
}

func (s *Scheduler) handleBoundaryStop(j *job.Job, kind boundaryStop) {
	if kind == boundaryTimeout {
		s.failJob(j, &job.TerminalError{Kind: "job_timeout", Message: "job exceeded its hard timeout"})
		return
	}
	j.Cancel()
}

func (s *Scheduler) handleStageFailure(j *job.Job, stage string, err error) {
	s.failJob(j, &job.TerminalError{Kind: "stage_failure", Agent: stage, Message: err.Error()})
}

func (s *Scheduler) failJob(j *job.Job, termErr *job.TerminalError) {
	j.Fail(termErr)
	s.Publisher.PublishJobError(j.ID, termErr.Error())
}

func (s *Scheduler) hardTimeout() time.Duration {
	if s.JobDefaults.JobHardTimeout > 0 {
		return s.JobDefaults.JobHardTimeout
	}
	return 30 * time.Minute
}

func (s *Scheduler) softTimeout() time.Duration {
	if s.JobDefaults.AgentSoftTimeout > 0 {
		return s.JobDefaults.AgentSoftTimeout
	}
	return 300 * time.Second
}

func (s *Scheduler) runIngestion(ctx context.Context, j *job.Job) error {
	s.Publisher.PublishAgentStatus(j.ID, ingestion.Name, "running")
	err := s.Ingestion.Run(ctx, j.State, j.Params.Target, j.Params.Acquirer)
	if err != nil {
		s.Publisher.PublishAgentStatus(j.ID, ingestion.Name, "error")
		return err
	}
	s.Publisher.PublishAgentStatus(j.ID, ingestion.Name, "ok")
	return nil
}

type waveResult struct {
	agentName string
	result    *agent.Result
}

// runWave executes every agent in wave concurrently against the shared
// state (§4.1 "Within one scheduling wave, agents run concurrently");
// the ownership invariant guarantees the absence of write-write
// conflicts, so no additional locking is needed here.
func (s *Scheduler) runWave(ctx context.Context, j *job.Job, wave []agent.Agent, execCtx *agent.Context) []waveResult {
	var wg sync.WaitGroup
	results := make([]waveResult, len(wave))

	var sem chan struct{}
	if n := s.JobDefaults.MaxConcurrentAgents; n > 0 {
		sem = make(chan struct{}, n)
	}

	for i, a := range wave {
		wg.Add(1)
		go func(i int, a agent.Agent) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			j.SetCurrentAgent(a.Name())
			s.Publisher.PublishAgentStatus(j.ID, a.Name(), "running")

			startTime := s.Now()
			result := s.runOneAgent(ctx, j, a, execCtx)
			results[i] = waveResult{agentName: a.Name(), result: result}

			j.State.RecordAgentOutput(state.AgentOutputRecord{
				Agent:     a.Name(),
				StartTime: startTime,
				EndTime:   s.Now(),
				Status:    recordStatus(result.Status),
				Payload:   result.Payload,
				Warnings:  result.Warnings,
				Errors:    result.Errors,
			})
			s.Publisher.PublishAgentStatus(j.ID, a.Name(), string(result.Status))
		}(i, a)
	}
	wg.Wait()
	return results
}

// runOneAgent executes a with the soft per-agent timeout watcher (§5
// "per-agent soft timeout ... logs a warning but does not kill the
// agent"): a background timer logs once if the agent outruns the soft
// timeout, but the agent's own context is only bound by the job's hard
// deadline, never cancelled by the soft timeout itself.
func (s *Scheduler) runOneAgent(ctx context.Context, j *job.Job, a agent.Agent, execCtx *agent.Context) *agent.Result {
	handle := j.State.HandleFor(a.Name(), a.ProducedOutputs())

	done := make(chan struct{})
	timer := time.AfterFunc(s.softTimeout(), func() {
		s.Logger.Warn("agent exceeded soft timeout", "job_id", j.ID, "agent", a.Name(), "soft_timeout", s.softTimeout())
	})
	defer timer.Stop()

	var result *agent.Result
	go func() {
		defer close(done)
		r, err := a.Execute(ctx, handle, execCtx)
		if err != nil {
			r = &agent.Result{Status: agent.StatusError, Errors: []string{err.Error()}, Err: err}
		}
		result = r
	}()
	<-done
	return result
}

func (s *Scheduler) runSynthesisAndValidation(ctx context.Context, j *job.Job) {
	s.Publisher.PublishAgentStatus(j.ID, synthesisStageName, "running")
	params := synthesis.Params{
		Target:    j.Params.Target,
		Acquirer:  j.Params.Acquirer,
		DealValue: j.Params.DealValue,
		Thesis:    j.Params.Thesis,
	}
	outcome := s.Synthesizer.Run(j.State, params, s.Now())
	if outcome.Status == state.StatusError {
		s.Publisher.PublishAgentStatus(j.ID, synthesisStageName, "error")
		s.failJob(j, &job.TerminalError{
			Kind:    "agent_failure",
			Agent:   synthesisStageName,
			Message: firstOrJoined(outcome.Errors),
		})
		return
	}
	s.Publisher.PublishAgentStatus(j.ID, synthesisStageName, string(outcome.Status))

	j.SetStatus(job.StatusValidating)
	s.Publisher.PublishAgentStatus(j.ID, validatorStageName, "running")

	doc, err := j.State.MustGetSynthesized()
	present := err == nil
	v := validator.Validate(present, doc, s.Validator, nil)

	if v.HasBlocker() {
		s.Publisher.PublishAgentStatus(j.ID, validatorStageName, "error")
		s.failJob(j, &job.TerminalError{
			Kind:        "validator_blocker",
			Agent:       validatorStageName,
			Message:     firstBlockerDescription(v),
			Remediation: firstBlockerRemediation(v),
		})
		return
	}
	s.Publisher.PublishAgentStatus(j.ID, validatorStageName, "ok")

	// Rendering handoff (§4.1 stage 5) is out of scope; the orchestrator's
	// contract ends at emitting JobComplete once the document is valid.
	j.Complete(nil)
	s.Publisher.PublishJobComplete(j.ID)
}

func firstBlockerDescription(v validator.Outcome) string {
	for _, issue := range v.Issues {
		if issue.Severity == validator.SeverityCriticalBlocker {
			return issue.Description
		}
	}
	return "validation failed"
}

func firstBlockerRemediation(v validator.Outcome) string {
	for _, issue := range v.Issues {
		if issue.Severity == validator.SeverityCriticalBlocker {
			return issue.Remediation
		}
	}
	return ""
}

func firstOrJoined(errs []string) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	return errs[0]
}

// computeWaves performs a topological sort of s.Agents by declared
// RequiredInputs()/ProducedOutputs(), grouping agents with satisfied
// dependencies into concurrent waves (§4.1 "the scheduler decides based
// on a topological traversal"). It statically rejects any agent set with
// overlapping declared outputs (§4.1 "The scheduler enforces this
// statically").
func (s *Scheduler) computeWaves() ([][]agent.Agent, int, error) {
	owner := make(map[string]string, len(s.Agents))
	for _, key := range ingestion.OwnedKeys {
		owner[key] = ingestion.Name
	}
	for _, a := range s.Agents {
		for _, out := range a.ProducedOutputs() {
			if existing, ok := owner[out]; ok {
				return nil, 0, fmt.Errorf("orchestrator: state key %q declared by both %q and %q", out, existing, a.Name())
			}
			owner[out] = a.Name()
		}
	}

	available := make(map[string]bool, len(owner))
	for _, key := range ingestion.OwnedKeys {
		available[key] = true
	}

	remaining := make([]agent.Agent, len(s.Agents))
	copy(remaining, s.Agents)
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].Name() < remaining[j].Name() })

	var waves [][]agent.Agent
	total := len(remaining)
	for len(remaining) > 0 {
		var wave []agent.Agent
		var next []agent.Agent
		for _, a := range remaining {
			if hasAllInputs(a.RequiredInputs(), available) {
				wave = append(wave, a)
			} else {
				next = append(next, a)
			}
		}
		if len(wave) == 0 {
			names := make([]string, len(remaining))
			for i, a := range remaining {
				names[i] = a.Name()
			}
			return nil, 0, fmt.Errorf("orchestrator: unsatisfiable dependency among agents %v", names)
		}
		for _, a := range wave {
			for _, out := range a.ProducedOutputs() {
				available[out] = true
			}
		}
		waves = append(waves, wave)
		remaining = next
	}
	return waves, total, nil
}

// recordStatus maps the agent contract's five-way status (which
// distinguishes timed-out and cancelled for scheduler bookkeeping) onto
// the per-agent output record's three-way status (§3 "status ∈ {ok,
// warning, error}"): timeouts and cancellations are both recorded as
// error outcomes.
func recordStatus(s agent.Status) state.Status {
	switch s {
	case agent.StatusOK:
		return state.StatusOK
	case agent.StatusWarning:
		return state.StatusWarning
	default:
		return state.StatusError
	}
}

func hasAllInputs(required []string, available map[string]bool) bool {
	for _, in := range required {
		if !available[in] {
			return false
		}
	}
	return true
}
