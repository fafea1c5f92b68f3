// Package agent contains the agent lifecycle core and the first-class agent
// implementations shipped with AgentHive. The package focuses on three
// concerns:
//
//  1. Base lifecycle + queue plumbing (BaseAgent)
//  2. Concrete capability-bound agents (GeneratorAgent, AnalyzerAgent,
//     ExecutorAgent, StorageAgent)
//  3. The message-handling hook contract (Handler) concrete agents implement
//
// Design principles:
//   - Minimal hidden global state – explicit wiring via the manager/coordinator
//   - One lifecycle implementation – concrete agents embed BaseAgent and only
//     implement the message-handling hook plus any custom API
//   - Observability – lifecycle events and counters on every agent
//
// Execution Model:
//   - SendMessage enqueues on an unbounded FIFO inbox and returns immediately
//   - A background consumption loop drains the inbox one message at a time
//     while the agent is running; messages sent while stopped are retained
//   - Handler errors are absorbed into counters and events, never propagated
//     back to the sender, and never terminate the loop
//
// The package intentionally keeps routing, monitoring and capability
// implementations in their respective packages to avoid cyclic deps.
package agent
