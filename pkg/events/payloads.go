package events

// AgentStatusPayload is published whenever one agent's execution starts or
// finishes (§3 AgentStatus).
type AgentStatusPayload struct {
	Type      string `json:"type"` // always EventTypeAgentStatus
	JobID     string `json:"job_id"`
	Agent     string `json:"agent"`
	Status    string `json:"status"` // running, ok, warning, error, timed_out, cancelled
	Timestamp string `json:"timestamp"`
}

// JobProgressPayload summarizes how many of the job's agents have finished
// (§3 JobProgress).
type JobProgressPayload struct {
	Type            string `json:"type"` // always EventTypeJobProgress
	JobID           string `json:"job_id"`
	CompletedAgents int    `json:"completed_agents"`
	TotalAgents     int    `json:"total_agents"`
	Timestamp       string `json:"timestamp"`
}

// JobCompletePayload is the terminal success event (§3 JobComplete):
// synthesis and consistency validation both finished.
type JobCompletePayload struct {
	Type      string `json:"type"` // always EventTypeJobComplete
	JobID     string `json:"job_id"`
	Timestamp string `json:"timestamp"`
}

// JobErrorPayload is the terminal failure event (§3 JobError): a scheduling
// error, a failed required agent or stage (ingestion, synthesis, a validator
// blocker), or the hard timeout failed the job.
type JobErrorPayload struct {
	Type      string `json:"type"` // always EventTypeJobError
	JobID     string `json:"job_id"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}
