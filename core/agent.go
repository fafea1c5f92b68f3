package core

// Agent defines the core interface that all agents in AgentHive must implement.
//
// Agents are the primary processing units in the runtime. Each agent owns an
// unbounded inbound message queue and a background consumption loop, and moves
// through the lifecycle Uninitialized → Initialized → Running ⇄ Stopped →
// Destroyed (terminal).
//
// Implementations must:
//   - Treat Initialize as idempotent (a repeated call is a logged no-op)
//   - Resolve concurrent Start/Stop races to exactly one winner
//   - Accept messages without blocking while live and fail fast once destroyed
//   - Emit lifecycle and processing events through their listener registry
type Agent interface {
	ID() string
	Name() string
	Description() string

	Initialize() error
	Start() error
	Stop() error
	Restart() error
	Destroy() error

	SendMessage(msg Message) error
	Status() AgentStatus
	IsHealthy() bool

	AddListener(l Listener) string
	RemoveListener(id string)
}

// Router delivers messages to named agents. It is implemented by the
// coordinator and injected into agents that need to reply to or notify other
// agents. Delivery is best-effort: unknown targets are dropped silently.
type Router interface {
	SendMessage(targetID string, msg Message) error
	Broadcast(msg Message, excludeID string) error
	Publish(publisherID string, msg Message) error
}
