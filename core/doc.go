// Package core provides the foundational domain types and interfaces used by
// AgentHive. It defines the core abstractions for:
//
//   - Agents (independently lifecycled, message-driven workers)
//   - Messages (immutable typed payloads exchanged between agents)
//   - Events (lifecycle and processing notifications fanned out to listeners)
//   - AgentStatus (point-in-time lifecycle and throughput snapshots)
//   - Pluggable blob storage for agent persistence needs
//
// The package intentionally keeps implementation concerns (routing, monitoring,
// concrete agents) out of scope, exposing small interfaces to enable custom
// backends and extensions. All exported identifiers include concise
// documentation to aid discoverability and external consumption.
package core
