package core

import "time"

// AgentStatus is a point-in-time snapshot of an agent's lifecycle and
// throughput state. It is a value copy: mutating it has no effect on the
// agent, and successive calls may observe different values. Not a stream.
type AgentStatus struct {
	AgentID           string        `json:"agent_id"`
	Name              string        `json:"name"`
	Description       string        `json:"description"`
	Running           bool          `json:"running"`
	Initialized       bool          `json:"initialized"`
	QueueDepth        int           `json:"queue_depth"`
	Uptime            time.Duration `json:"uptime"`
	ProcessedMessages int64         `json:"processed_messages"`
	ErrorCount        int64         `json:"error_count"`
}
