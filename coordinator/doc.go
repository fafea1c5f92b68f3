// Package coordinator provides message routing between agents.
//
// The Coordinator owns the agent registry, the subscription graph and the
// workflow catalog. Every routing decision (register, unregister, subscribe,
// unsubscribe, direct send, broadcast, publish) flows through one internal
// ordered queue drained by a single consumer goroutine, giving all
// coordinator decisions a total order without a global lock. Delivery into
// the target agents stays asynchronous through each agent's own inbound
// queue.
//
// Workflows are sequences of timed command dispatches. They are registered
// once by id and executed any number of times with fresh seed data; each
// execution runs in a tracked goroutine so Close can wait for in-flight
// executions to finish.
package coordinator
