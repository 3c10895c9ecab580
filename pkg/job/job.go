// Package job implements the Job Manager (§3 "Job", §4.1): creates,
// looks up, and holds jobs and their analysis state, and provides the
// cancellation registry the orchestrator checks at agent boundaries.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dealbench/dealbench/pkg/state"
)

// Status is a job's lifecycle position (§3).
type Status string

const (
	StatusQueued       Status = "queued"
	StatusRunning      Status = "running"
	StatusSynthesizing Status = "synthesizing"
	StatusValidating   Status = "validating"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// IsTerminal reports whether s is a status run() will not advance past.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

var (
	// ErrNotFound is returned when a job id is unknown to the Manager.
	ErrNotFound = errors.New("job: not found")
	// ErrEmptyTarget is returned by Create when the target identifier is empty.
	ErrEmptyTarget = errors.New("job: target identifier must not be empty")
)

// Params are the job parameters accepted by the submission API (§6
// "POST /analysis").
type Params struct {
	Target    string
	Acquirer  string
	DealValue *float64
	Thesis    string
}

// TerminalError names the failing agent or validator check and, where
// known, the remediation (§7 "User-visible failure").
type TerminalError struct {
	Kind        string // e.g. "agent_failure", "validator_blocker", "job_timeout"
	Agent       string
	Message     string
	Remediation string
}

func (e *TerminalError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Agent, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Job is one submitted analysis run (§3 "Job").
type Job struct {
	ID        string
	Params    Params
	State     *state.State
	CreatedAt time.Time

	mu            sync.RWMutex
	status        Status
	currentAgent  string
	completed     int
	total         int
	completedAt   time.Time
	terminalError *TerminalError
	artifactPaths []string

	// onMutate, when set by a Manager backed by a Store, is invoked after
	// every mutator below releases its lock, persisting the job's latest
	// snapshot (§6 "Persistence"). nil for an in-memory-only Manager.
	onMutate func(*Job)
}

func (j *Job) notify() {
	if j.onMutate != nil {
		j.onMutate(j)
	}
}

// Status returns the job's current lifecycle status.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Snapshot is a point-in-time view of a job's progress, returned by the
// status endpoint (§6 "GET /analysis/{job_id}").
type Snapshot struct {
	ID            string
	Status        Status
	Completed     int
	Total         int
	CurrentAgent  string
	TerminalError *TerminalError
	ArtifactPaths []string
	CreatedAt     time.Time
	CompletedAt   time.Time
}

// Snapshot returns the job's current progress.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Snapshot{
		ID:            j.ID,
		Status:        j.status,
		Completed:     j.completed,
		Total:         j.total,
		CurrentAgent:  j.currentAgent,
		TerminalError: j.terminalError,
		ArtifactPaths: j.artifactPaths,
		CreatedAt:     j.CreatedAt,
		CompletedAt:   j.completedAt,
	}
}

// SetStatus transitions the job to a non-terminal status. The
// orchestrator is the only caller (§3 "mutated only by the orchestrator
// and the progress channel").
func (j *Job) SetStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
	j.notify()
}

// SetCurrentAgent records which agent is presently running, for the
// status endpoint's current_agent field (§6).
func (j *Job) SetCurrentAgent(name string) {
	j.mu.Lock()
	j.currentAgent = name
	j.mu.Unlock()
	j.notify()
}

// AdvanceProgress sets completed/total; percent is derived by callers
// (Progress is monotonic non-decreasing, §4.1, §8).
func (j *Job) AdvanceProgress(completed, total int) {
	j.mu.Lock()
	if completed > j.completed {
		j.completed = completed
	}
	j.total = total
	j.mu.Unlock()
	j.notify()
}

// Fail transitions the job to failed with the given terminal error.
func (j *Job) Fail(termErr *TerminalError) {
	j.mu.Lock()
	j.status = StatusFailed
	j.terminalError = termErr
	j.completedAt = time.Now()
	j.mu.Unlock()
	j.notify()
}

// Cancel transitions the job to cancelled (§4.1 "cancel").
func (j *Job) Cancel() {
	j.mu.Lock()
	j.status = StatusCancelled
	j.completedAt = time.Now()
	j.mu.Unlock()
	j.notify()
}

// Complete transitions the job to completed with the rendered artifact
// paths (§4.1 stage 5).
func (j *Job) Complete(artifactPaths []string) {
	j.mu.Lock()
	j.status = StatusCompleted
	j.artifactPaths = artifactPaths
	j.completedAt = time.Now()
	j.mu.Unlock()
	j.notify()
}

// Record is the durable projection of a Job a Store persists, so that
// status and result endpoints keep answering after a process restart
// (§6 "Persistence"). The synthesized document travels alongside the
// lifecycle fields it was captured from, so a rehydrated Job can still
// serve GET /analysis/{id}/result once synthesis has completed.
type Record struct {
	ID              string
	Status          Status
	Completed       int
	Total           int
	CurrentAgent    string
	Params          Params
	TerminalError   *TerminalError
	ArtifactPaths   []string
	SynthesizedData map[string]any
	CreatedAt       time.Time
	CompletedAt     time.Time
}

// Store persists Records (§6 "Persistence"). Implemented by
// pkg/storage's Postgres-backed adapter. A Manager constructed without a
// Store (NewManager) behaves exactly as an in-memory-only manager, which
// is sufficient for tests and for local/dev runs without a database
// configured.
type Store interface {
	SaveJob(ctx context.Context, rec Record) error
	LoadJob(ctx context.Context, id string) (Record, bool, error)
	LoadAllJobs(ctx context.Context) ([]Record, error)
}

// Manager creates, looks up, and holds jobs (§2 "Job Manager"), and is
// the cancellation registry the orchestrator's cancel() operation uses.
// Grounded on the teacher's WorkerPool session-cancel registry: a
// sessionID→cancel map guarded by a single mutex.
//
// The registered cancellation callback only raises the cooperative flag
// the scheduler checks at wave boundaries (§5 "Cancellation semantics");
// it must never be a context.CancelFunc for a context handed to a
// running agent, or cancellation would propagate into an in-flight
// provider call, which §5 explicitly rules out.
type Manager struct {
	mu            sync.RWMutex
	jobs          map[string]*Job
	activeCancels map[string]func()
	store         Store
	logger        *slog.Logger
}

// NewManager constructs an empty in-memory-only Manager.
func NewManager() *Manager {
	return &Manager{
		jobs:          make(map[string]*Job),
		activeCancels: make(map[string]func()),
		logger:        slog.Default(),
	}
}

// NewManagerWithStore constructs a Manager backed by store, rehydrating
// every previously persisted job so the status and result endpoints keep
// answering across a process restart (§6 "Persistence"). Every
// subsequent lifecycle mutation on a job created or loaded through this
// Manager is persisted back to store.
func NewManagerWithStore(ctx context.Context, store Store) (*Manager, error) {
	m := NewManager()
	m.store = store
	records, err := store.LoadAllJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("job: loading persisted jobs: %w", err)
	}
	for _, rec := range records {
		m.jobs[rec.ID] = m.jobFromRecord(rec)
	}
	return m, nil
}

func (m *Manager) jobFromRecord(rec Record) *Job {
	st := state.New()
	if rec.SynthesizedData != nil {
		_ = st.CommitSynthesized(rec.SynthesizedData)
	}
	j := &Job{
		ID:            rec.ID,
		Params:        rec.Params,
		State:         st,
		CreatedAt:     rec.CreatedAt,
		status:        rec.Status,
		currentAgent:  rec.CurrentAgent,
		completed:     rec.Completed,
		total:         rec.Total,
		completedAt:   rec.CompletedAt,
		terminalError: rec.TerminalError,
		artifactPaths: rec.ArtifactPaths,
	}
	m.attachStore(j)
	return j
}

// attachStore wires j.onMutate so every lifecycle mutation persists, when
// m has a configured Store. A Manager with no Store leaves onMutate nil,
// so Job behaves exactly as it did before persistence existed.
func (m *Manager) attachStore(j *Job) {
	if m.store == nil {
		return
	}
	j.onMutate = func(jj *Job) {
		if err := m.store.SaveJob(context.Background(), m.toRecord(jj)); err != nil {
			m.logger.Error("persisting job record", "job_id", jj.ID, "error", err)
		}
	}
}

func (m *Manager) toRecord(j *Job) Record {
	snap := j.Snapshot()
	rec := Record{
		ID:            snap.ID,
		Status:        snap.Status,
		Completed:     snap.Completed,
		Total:         snap.Total,
		CurrentAgent:  snap.CurrentAgent,
		Params:        j.Params,
		TerminalError: snap.TerminalError,
		ArtifactPaths: snap.ArtifactPaths,
		CreatedAt:     snap.CreatedAt,
		CompletedAt:   snap.CompletedAt,
	}
	if doc, err := j.State.MustGetSynthesized(); err == nil {
		rec.SynthesizedData = doc
	}
	return rec
}

// Create validates params and creates a Job in status queued (§4.1 "submit").
func (m *Manager) Create(params Params) (*Job, error) {
	if params.Target == "" {
		return nil, ErrEmptyTarget
	}
	j := &Job{
		ID:        uuid.NewString(),
		Params:    params,
		State:     state.New(),
		CreatedAt: time.Now(),
		status:    StatusQueued,
	}
	m.attachStore(j)
	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()
	j.notify()
	return j, nil
}

// Get looks up a job by id.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, nil
}

// RegisterCancel stores the callback the running pipeline should invoke
// when cancel(job-id) is called (§4.1 "cancel"). The callback is
// expected to raise a cooperative flag the scheduler polls at wave
// boundaries, not to cancel a context passed into a running agent.
func (m *Manager) RegisterCancel(jobID string, cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeCancels[jobID] = cancel
}

// UnregisterCancel removes the cancel registration once the pipeline
// reaches a terminal state.
func (m *Manager) UnregisterCancel(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activeCancels, jobID)
}

// Cancel triggers cooperative cancellation for a running job. Returns
// false if the job is not currently registered (already terminal, or
// unknown).
func (m *Manager) Cancel(jobID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cancel, ok := m.activeCancels[jobID]
	if !ok {
		return false
	}
	cancel()
	return true
}
