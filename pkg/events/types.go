// Package events delivers real-time job progress over WebSocket (§6
// GET /analysis/{job_id}/events): per-agent status transitions, overall
// job progress, and the terminal completion/error event.
package events

// Event types (§3).
const (
	EventTypeAgentStatus  = "agent.status"
	EventTypeJobProgress  = "job.progress"
	EventTypeJobComplete  = "job.complete"
	EventTypeJobError     = "job.error"
)

// JobChannel returns the channel name a job's events are published on.
func JobChannel(jobID string) string {
	return "job:" + jobID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"` // e.g. "job:abc-123"
}
