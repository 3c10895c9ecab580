package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// historyLimit bounds how many past events a Publisher retains per job for
// clients that subscribe after the job has already started.
const historyLimit = 500

// Publisher publishes typed job events to subscribed WebSocket clients and
// retains a bounded in-memory history per job so a client that connects
// mid-job can catch up without a database to query.
type Publisher struct {
	manager *ConnectionManager

	mu      sync.Mutex
	history map[string][][]byte
}

// NewPublisher creates a Publisher backed by the given connection manager.
func NewPublisher(manager *ConnectionManager) *Publisher {
	return &Publisher{
		manager: manager,
		history: make(map[string][][]byte),
	}
}

// Replay returns the retained events for channel, in publish order. Passed
// as the replay callback to ConnectionManager.HandleConnection.
func (p *Publisher) Replay(channel string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := p.history[channel]
	out := make([][]byte, len(events))
	copy(out, events)
	return out
}

// DropJob discards retained history for a job once its events are no longer
// needed (result fetched, or the job's retention window elapsed).
func (p *Publisher) DropJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.history, JobChannel(jobID))
}

// PublishAgentStatus announces a running/ok/warning/error/timed_out/cancelled
// transition for one agent within jobID.
func (p *Publisher) PublishAgentStatus(jobID, agent, status string) {
	p.publish(jobID, AgentStatusPayload{
		Type:      EventTypeAgentStatus,
		JobID:     jobID,
		Agent:     agent,
		Status:    status,
		Timestamp: timestamp(),
	})
}

// PublishJobProgress announces how many of the job's agents have completed.
func (p *Publisher) PublishJobProgress(jobID string, completed, total int) {
	p.publish(jobID, JobProgressPayload{
		Type:            EventTypeJobProgress,
		JobID:           jobID,
		CompletedAgents: completed,
		TotalAgents:     total,
		Timestamp:       timestamp(),
	})
}

// PublishJobComplete announces successful job completion.
func (p *Publisher) PublishJobComplete(jobID string) {
	p.publish(jobID, JobCompletePayload{
		Type:      EventTypeJobComplete,
		JobID:     jobID,
		Timestamp: timestamp(),
	})
}

// PublishJobError announces terminal job failure.
func (p *Publisher) PublishJobError(jobID, errMsg string) {
	p.publish(jobID, JobErrorPayload{
		Type:      EventTypeJobError,
		JobID:     jobID,
		Error:     errMsg,
		Timestamp: timestamp(),
	})
}

func (p *Publisher) publish(jobID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal event payload", "job_id", jobID, "error", err)
		return
	}

	channel := JobChannel(jobID)
	p.mu.Lock()
	events := append(p.history[channel], data)
	if len(events) > historyLimit {
		events = events[len(events)-historyLimit:]
	}
	p.history[channel] = events
	p.mu.Unlock()

	p.manager.Broadcast(channel, data)
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
