// Package state implements the shared Analysis State document: a mapping
// from well-known keys to structured values, with a single-writer-per-key
// ownership discipline enforced by construction rather than convention.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotOwner indicates an agent attempted to write a key outside its
	// declared output set.
	ErrNotOwner = errors.New("state: agent does not own key")

	// ErrKeyOwnedByAnother indicates two different agents both declared
	// (or attempted) ownership of the same key. The scheduler is expected
	// to reject this statically before execution begins; this is the
	// runtime backstop.
	ErrKeyOwnedByAnother = errors.New("state: key already owned by another agent")

	// ErrSynthesizedAlreadyWritten indicates a second attempt to commit
	// the canonical synthesized document.
	ErrSynthesizedAlreadyWritten = errors.New("state: synthesized_data already written")

	// ErrSynthesizedMissing is returned by the access helper when a
	// downstream consumer asks for the synthesized document before it
	// has been committed.
	ErrSynthesizedMissing = errors.New("state: synthesized_data not yet available")
)

// SynthesizedKey is the well-known key for the canonical consolidated
// document. It is written exactly once, by the synthesis agent, via
// CommitSynthesized rather than through a Handle.
const SynthesizedKey = "synthesized_data"

// NormalizedFinancialsKey becomes read-only for all agents once the
// financial analyst has written it.
const NormalizedFinancialsKey = "normalized_financials"

// Status is the outcome of a single agent's execution.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// AgentOutputRecord is the immutable record of one agent's execution,
// appended once on completion and never mutated afterward.
type AgentOutputRecord struct {
	Agent     string
	StartTime time.Time
	EndTime   time.Time
	Status    Status
	Payload   map[string]any
	Warnings  []string
	Errors    []string
}

// AnomalyEntry is one append-only anomaly-log entry. Ordering across
// entries is not guaranteed and must not be relied upon; the log is
// interpreted as a multiset.
type AnomalyEntry struct {
	Agent       string
	Timestamp   time.Time
	Description string
	Severity    string
}

// State is one job's shared Analysis State. Safe for concurrent use by
// multiple agents within a scheduling wave.
type State struct {
	mu sync.RWMutex

	data    map[string]any
	writers map[string]string // key -> name of the agent that wrote it

	synthesizedWritten bool

	agentOutputs []AgentOutputRecord
	anomalyLog   []AnomalyEntry
}

// New creates an empty Analysis State.
func New() *State {
	return &State{
		data:    make(map[string]any),
		writers: make(map[string]string),
	}
}

// Get reads a key. Any agent may read any key that has already been
// committed; the caller is responsible for respecting declared
// dependencies (the scheduler guarantees upstream keys are committed
// before a dependent agent starts).
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// MustGetSynthesized is the access helper mandated by §4.4 step 7: it
// fails fast if the canonical document is absent instead of letting a
// renderer silently read partial lower-level keys.
func (s *State) MustGetSynthesized() (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.synthesizedWritten {
		return nil, ErrSynthesizedMissing
	}
	doc, _ := s.data[SynthesizedKey].(map[string]any)
	return doc, nil
}

// CommitSynthesized writes the canonical synthesized document exactly
// once. A second call returns ErrSynthesizedAlreadyWritten.
func (s *State) CommitSynthesized(doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synthesizedWritten {
		return ErrSynthesizedAlreadyWritten
	}
	s.data[SynthesizedKey] = doc
	s.writers[SynthesizedKey] = "synthesis"
	s.synthesizedWritten = true
	return nil
}

// SynthesizedWritten reports whether the canonical document has been committed.
func (s *State) SynthesizedWritten() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synthesizedWritten
}

// RecordAgentOutput appends a completed agent's output record. Safe for
// concurrent calls from agents within the same wave.
func (s *State) RecordAgentOutput(rec AgentOutputRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentOutputs = append(s.agentOutputs, rec)
}

// AgentOutputs returns a snapshot copy of all recorded outputs, in
// append order (which is completion order, not a semantic guarantee).
func (s *State) AgentOutputs() []AgentOutputRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentOutputRecord, len(s.agentOutputs))
	copy(out, s.agentOutputs)
	return out
}

// AgentOutput returns the most recent record for the named agent, if any.
func (s *State) AgentOutput(name string) (AgentOutputRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.agentOutputs) - 1; i >= 0; i-- {
		if s.agentOutputs[i].Agent == name {
			return s.agentOutputs[i], true
		}
	}
	return AgentOutputRecord{}, false
}

// AppendAnomaly appends an anomaly-log entry. Any agent may call this;
// it is the one exception to the single-writer rule (§3).
func (s *State) AppendAnomaly(agent, description, severity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalyLog = append(s.anomalyLog, AnomalyEntry{
		Agent:       agent,
		Timestamp:   time.Now(),
		Description: description,
		Severity:    severity,
	})
}

// AnomalyLog returns a snapshot copy of the anomaly log.
func (s *State) AnomalyLog() []AnomalyEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AnomalyEntry, len(s.anomalyLog))
	copy(out, s.anomalyLog)
	return out
}

// WriteAudit returns a snapshot of key -> owning-agent-name. Used by
// tests to verify the single-writer invariant holds for a completed run.
func (s *State) WriteAudit() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.writers))
	for k, v := range s.writers {
		out[k] = v
	}
	return out
}

// Handle is a narrow, per-agent write capability. An agent can only ever
// write the keys it declared in its produced_outputs() set — the
// ownership invariant of §3 becomes a property of construction rather
// than a convention agents must follow correctly.
type Handle struct {
	state   *State
	agent   string
	outputs map[string]struct{}
}

// HandleFor creates a write handle scoped to the given agent's declared
// output keys. The scheduler calls this once per agent invocation.
func (s *State) HandleFor(agentName string, declaredOutputs []string) *Handle {
	set := make(map[string]struct{}, len(declaredOutputs))
	for _, k := range declaredOutputs {
		set[k] = struct{}{}
	}
	return &Handle{state: s, agent: agentName, outputs: set}
}

// Set writes a key this agent owns. Returns ErrNotOwner if the key was
// not declared in the agent's produced_outputs, or ErrKeyOwnedByAnother
// if a different agent already wrote it (a runtime backstop — the
// scheduler should have rejected overlapping declarations before this
// agent ever ran).
func (h *Handle) Set(key string, value any) error {
	if _, ok := h.outputs[key]; !ok {
		return fmt.Errorf("%w: %s (agent %s)", ErrNotOwner, key, h.agent)
	}
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	if existing, ok := h.state.writers[key]; ok && existing != h.agent {
		return fmt.Errorf("%w: %s owned by %s, not %s", ErrKeyOwnedByAnother, key, existing, h.agent)
	}
	h.state.data[key] = value
	h.state.writers[key] = h.agent
	return nil
}

// Get reads any committed key, including keys the agent does not own.
func (h *Handle) Get(key string) (any, bool) {
	return h.state.Get(key)
}

// AppendAnomaly appends to the shared anomaly log, attributed to this handle's agent.
func (h *Handle) AppendAnomaly(description, severity string) {
	h.state.AppendAnomaly(h.agent, description, severity)
}

// Agent returns the name this handle was scoped to.
func (h *Handle) Agent() string {
	return h.agent
}
